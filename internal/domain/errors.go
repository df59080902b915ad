package domain

import (
	"errors"
	"fmt"
)

// NetworkError is returned when an archive or a listing page cannot be fetched.
type NetworkError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("network error fetching %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("network error fetching %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// CorruptArchiveError is returned when a local file is not a usable zip archive.
type CorruptArchiveError struct {
	Path   string
	Member string
	Err    error
}

func (e *CorruptArchiveError) Error() string {
	if e.Member != "" {
		return fmt.Sprintf("corrupt archive %s (member %s): %v", e.Path, e.Member, e.Err)
	}
	return fmt.Sprintf("corrupt archive %s: %v", e.Path, e.Err)
}

func (e *CorruptArchiveError) Unwrap() error { return e.Err }

// UploadError is returned when publishing to the object store fails.
type UploadError struct {
	Bucket string
	Key    string
	Err    error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload to %s/%s failed: %v", e.Bucket, e.Key, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// InvalidInputError is returned for bad command arguments such as a year or range.
type InvalidInputError struct {
	Field  string
	Value  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// IsNetworkError reports whether err wraps a *NetworkError.
func IsNetworkError(err error) bool {
	var target *NetworkError
	return errors.As(err, &target)
}

// IsCorruptArchive reports whether err wraps a *CorruptArchiveError.
func IsCorruptArchive(err error) bool {
	var target *CorruptArchiveError
	return errors.As(err, &target)
}

// IsUploadError reports whether err wraps an *UploadError.
func IsUploadError(err error) bool {
	var target *UploadError
	return errors.As(err, &target)
}

// IsInvalidInput reports whether err wraps an *InvalidInputError.
func IsInvalidInput(err error) bool {
	var target *InvalidInputError
	return errors.As(err, &target)
}

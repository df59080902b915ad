// backend-go/internal/domain/models.go
package domain

import "time"

// RemoteArchiveRef identifies a single GDELT archive on the remote server
type RemoteArchiveRef struct {
	URL      string      `json:"url"`
	Filename string      `json:"filename"`
	Kind     ArchiveKind `json:"kind"`
}

// LocalArchive is a completed download sitting in the target directory
type LocalArchive struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
}

// ExtractedFile is one decoded member of an archive
type ExtractedFile struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
}

// UploadTarget is where a published file landed in the object store
type UploadTarget struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// ItemOutcome describes what happened to one archive within a run
type ItemOutcome string

const (
	OutcomeFetched ItemOutcome = "fetched"
	OutcomeSkipped ItemOutcome = "skipped"
	OutcomeFailed  ItemOutcome = "failed"
)

// ItemResult is the per-archive record produced by the orchestrator
type ItemResult struct {
	Ref       RemoteArchiveRef `json:"ref"`
	Outcome   ItemOutcome      `json:"outcome"`
	Archive   *LocalArchive    `json:"archive,omitempty"`
	Extracted []ExtractedFile  `json:"extracted,omitempty"`
	Uploaded  []UploadTarget   `json:"uploaded,omitempty"`
	Error     string           `json:"error,omitempty"`
	Duration  time.Duration    `json:"duration"`
}

package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	base := errors.New("connection reset")

	netErr := fmt.Errorf("fetch: %w", &NetworkError{URL: "http://x/1.zip", Err: base})
	assert.True(t, IsNetworkError(netErr))
	assert.False(t, IsUploadError(netErr))
	assert.ErrorIs(t, netErr, base)

	statusErr := &NetworkError{URL: "http://x/1.zip", StatusCode: 404}
	assert.Contains(t, statusErr.Error(), "404")

	corrupt := &CorruptArchiveError{Path: "/tmp/a.zip", Member: "a.csv", Err: base}
	assert.True(t, IsCorruptArchive(corrupt))
	assert.Contains(t, corrupt.Error(), "a.csv")

	upload := &UploadError{Bucket: "b", Key: "daily/x", Err: base}
	assert.True(t, IsUploadError(upload))
	assert.Equal(t, "upload to b/daily/x failed: connection reset", upload.Error())

	invalid := &InvalidInputError{Field: "year", Value: "abc", Reason: "not a number"}
	assert.True(t, IsInvalidInput(fmt.Errorf("wrapped: %w", invalid)))
	assert.Equal(t, `invalid year "abc": not a number`, invalid.Error())
}

func TestArchiveKindIsBackfile(t *testing.T) {
	assert.True(t, KindMonthly.IsBackfile())
	assert.True(t, KindYearly.IsBackfile())
	assert.False(t, KindDaily.IsBackfile())
	assert.False(t, ArchiveKind("weekly").IsBackfile())
}

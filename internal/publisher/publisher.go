// Package publisher uploads local files to an object store bucket.
package publisher

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/domain"
	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/metrics"
	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/storage"
)

type Publisher struct {
	store   storage.ObjectStorage
	logger  zerolog.Logger
	metrics *metrics.Recorder
}

func New(store storage.ObjectStorage, logger zerolog.Logger, rec *metrics.Recorder) *Publisher {
	return &Publisher{store: store, logger: logger, metrics: rec}
}

// Key returns folder+filename. The folder is a literal prefix, so callers
// wanting a directory-like key pass a trailing slash themselves.
func Key(folder, filename string) string {
	return folder + filename
}

// Publish uploads localPath to bucket under Key(folder, filename). It does
// not retry; failures come back as *domain.UploadError.
func (p *Publisher) Publish(ctx context.Context, localPath, filename, bucket, folder string) (domain.UploadTarget, error) {
	target := domain.UploadTarget{Bucket: bucket, Key: Key(folder, filename)}
	log := p.logger.With().Str("bucket", target.Bucket).Str("key", target.Key).Logger()

	if bucket == "" {
		return target, &domain.InvalidInputError{Field: "bucket", Value: bucket, Reason: "must not be empty"}
	}
	if filename == "" {
		return target, &domain.InvalidInputError{Field: "filename", Value: filename, Reason: "must not be empty"}
	}

	start := time.Now()
	info, err := p.store.UploadFile(ctx, target.Bucket, target.Key, localPath)
	if err != nil {
		p.metrics.Failure(metrics.StagePublish)
		log.Error().Err(err).Str("path", localPath).Msg("upload failed")
		return target, &domain.UploadError{Bucket: target.Bucket, Key: target.Key, Err: err}
	}

	p.metrics.Uploaded()
	p.metrics.ObserveStage(metrics.StagePublish, time.Since(start))
	log.Info().Int64("bytes", info.Size).Str("etag", info.ETag).Msg("file uploaded")

	return target, nil
}

// List returns the objects already published under folder.
func (p *Publisher) List(ctx context.Context, bucket, folder string) ([]storage.ObjectInfo, error) {
	if bucket == "" {
		return nil, &domain.InvalidInputError{Field: "bucket", Value: bucket, Reason: "must not be empty"}
	}
	return p.store.ListObjects(ctx, bucket, folder)
}

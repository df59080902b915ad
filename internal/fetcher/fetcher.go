// Package fetcher streams remote archives to local disk.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/domain"
	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/metrics"
)

const (
	DefaultChunkSize = 1024
	DefaultUserAgent = "gdelt-fetch/1.0"
)

// Config holds HTTP fetcher configuration
type Config struct {
	Timeout   time.Duration
	ChunkSize int
	UserAgent string
}

// Fetcher downloads one URL at a time into a target directory. It never
// retries; callers decide what a failure means for their run.
type Fetcher struct {
	client  *http.Client
	config  Config
	logger  zerolog.Logger
	metrics *metrics.Recorder
}

// New creates a Fetcher. A nil client gets a fresh http.Client with cfg.Timeout.
func New(client *http.Client, cfg Config, logger zerolog.Logger, rec *metrics.Recorder) *Fetcher {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return &Fetcher{
		client:  client,
		config:  cfg,
		logger:  logger,
		metrics: rec,
	}
}

// Fetch streams rawURL to <dir>/<basename(url)> in ChunkSize pieces and
// returns the written archive. Any transport error or non-2xx status is a
// *domain.NetworkError; the partially written file is removed in that case.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, dir string) (domain.LocalArchive, error) {
	start := time.Now()
	log := f.logger.With().Str("url", rawURL).Logger()

	name, err := baseName(rawURL)
	if err != nil {
		return domain.LocalArchive{}, err
	}
	localPath := filepath.Join(dir, name)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return domain.LocalArchive{}, &domain.NetworkError{URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "*/*")

	log.Info().Str("path", localPath).Msg("downloading archive")

	resp, err := f.client.Do(req)
	if err != nil {
		return domain.LocalArchive{}, f.fail(log, &domain.NetworkError{URL: rawURL, Err: err})
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, 4096)
		return domain.LocalArchive{}, f.fail(log, &domain.NetworkError{URL: rawURL, StatusCode: resp.StatusCode})
	}

	out, err := os.Create(localPath)
	if err != nil {
		return domain.LocalArchive{}, fmt.Errorf("failed to create local file %s: %w", localPath, err)
	}

	written, copyErr := copyChunks(out, resp.Body, f.config.ChunkSize)
	closeErr := out.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		_ = os.Remove(localPath)
		var writeErr *writeError
		if errors.As(copyErr, &writeErr) {
			return domain.LocalArchive{}, fmt.Errorf("failed writing %s: %w", localPath, writeErr.err)
		}
		return domain.LocalArchive{}, f.fail(log, &domain.NetworkError{URL: rawURL, Err: copyErr})
	}

	elapsed := time.Since(start)
	f.metrics.ObserveStage(metrics.StageFetch, elapsed)

	log.Info().
		Str("path", localPath).
		Int64("bytes", written).
		Dur("duration", elapsed).
		Msg("archive downloaded")

	return domain.LocalArchive{Path: localPath, SizeBytes: written}, nil
}

func (f *Fetcher) fail(log zerolog.Logger, err *domain.NetworkError) error {
	f.metrics.Failure(metrics.StageFetch)
	log.Error().Err(err).Int("status", err.StatusCode).Msg("download failed")
	return err
}

// writeError marks failures on the local side of the copy.
type writeError struct{ err error }

func (e *writeError) Error() string { return e.err.Error() }

// copyChunks copies src to dst through a fixed buffer. io.Copy is avoided on
// purpose: *os.File implements ReaderFrom and would ignore the buffer size.
func copyChunks(dst io.Writer, src io.Reader, chunkSize int) (int64, error) {
	buf := make([]byte, chunkSize)
	var written int64
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			m, err := dst.Write(buf[:n])
			written += int64(m)
			if err != nil {
				return written, &writeError{err: err}
			}
			if m != n {
				return written, &writeError{err: io.ErrShortWrite}
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}

func baseName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", &domain.InvalidInputError{Field: "url", Value: rawURL, Reason: err.Error()}
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "", &domain.InvalidInputError{Field: "url", Value: rawURL, Reason: "no file name in path"}
	}
	return name, nil
}

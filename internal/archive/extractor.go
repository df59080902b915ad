// Package archive extracts downloaded zip archives.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/domain"
	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/metrics"
)

// MaxDecompressSize caps a single member's uncompressed size (16GB). The
// largest GDELT backfiles expand to a few GB.
const MaxDecompressSize = 16 * 1024 * 1024 * 1024

// ErrInvalidUTF8 is returned inside a CorruptArchiveError when UTF-8
// validation is on and a member is not valid text.
var ErrInvalidUTF8 = errors.New("member is not valid UTF-8")

// Extractor writes zip members into a directory.
type Extractor struct {
	requireUTF8 bool
	maxSize     uint64
	logger      zerolog.Logger
	metrics     *metrics.Recorder
}

type Option func(*Extractor)

// WithUTF8Validation rejects archives whose members are not valid UTF-8.
func WithUTF8Validation(enabled bool) Option {
	return func(e *Extractor) { e.requireUTF8 = enabled }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(e *Extractor) { e.logger = logger }
}

func WithMetrics(rec *metrics.Recorder) Option {
	return func(e *Extractor) { e.metrics = rec }
}

// WithMaxSize overrides MaxDecompressSize.
func WithMaxSize(n uint64) Option {
	return func(e *Extractor) { e.maxSize = n }
}

func New(opts ...Option) *Extractor {
	e := &Extractor{
		maxSize: MaxDecompressSize,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type staged struct {
	tmp   string
	final string
	size  int64
}

// Extract writes every file member of zipPath to destDir/<member name>,
// overwriting existing files, and returns them in archive order.
//
// Members are first decoded into a staging directory inside destDir and only
// moved into place once the whole archive decoded cleanly. A corrupt archive
// therefore leaves destDir as it was.
func (e *Extractor) Extract(zipPath, destDir string) ([]domain.ExtractedFile, error) {
	start := time.Now()
	log := e.logger.With().Str("archive", zipPath).Logger()

	files, err := e.extract(zipPath, destDir)
	if err != nil {
		e.metrics.Failure(metrics.StageExtract)
		log.Error().Err(err).Msg("extraction failed")
		return nil, err
	}

	e.metrics.FilesExtracted(len(files))
	e.metrics.ObserveStage(metrics.StageExtract, time.Since(start))
	log.Info().Int("members", len(files)).Dur("duration", time.Since(start)).Msg("archive extracted")

	return files, nil
}

func (e *Extractor) extract(zipPath, destDir string) ([]domain.ExtractedFile, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, &domain.CorruptArchiveError{Path: zipPath, Err: err}
	}
	defer func() { _ = r.Close() }()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating destination %s: %w", destDir, err)
	}
	absDestDir, err := filepath.Abs(destDir)
	if err != nil {
		return nil, fmt.Errorf("resolving destination path: %w", err)
	}
	absDestDir = filepath.Clean(absDestDir)

	stageDir, err := os.MkdirTemp(absDestDir, ".extract-*")
	if err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(stageDir) }()

	var pending []staged
	for i, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if f.Mode()&os.ModeSymlink != 0 {
			return nil, &domain.CorruptArchiveError{Path: zipPath, Member: f.Name, Err: errors.New("symlink members are not supported")}
		}

		final := filepath.Join(absDestDir, f.Name)
		if !isWithinDir(absDestDir, final) {
			return nil, &domain.CorruptArchiveError{Path: zipPath, Member: f.Name, Err: errors.New("path traversal detected")}
		}

		tmp := filepath.Join(stageDir, fmt.Sprintf("%06d", i))
		size, err := e.decodeMember(f, tmp)
		if err != nil {
			return nil, &domain.CorruptArchiveError{Path: zipPath, Member: f.Name, Err: err}
		}
		pending = append(pending, staged{tmp: tmp, final: final, size: size})
	}

	out := make([]domain.ExtractedFile, 0, len(pending))
	for _, p := range pending {
		if err := os.MkdirAll(filepath.Dir(p.final), 0o755); err != nil {
			return out, fmt.Errorf("creating parent directory for %s: %w", p.final, err)
		}
		if err := os.Rename(p.tmp, p.final); err != nil {
			return out, fmt.Errorf("moving %s into place: %w", p.final, err)
		}
		out = append(out, domain.ExtractedFile{Path: p.final, SizeBytes: p.size})
	}

	return out, nil
}

func (e *Extractor) decodeMember(f *zip.File, destPath string) (int64, error) {
	declared := f.UncompressedSize64
	if declared > e.maxSize {
		return 0, fmt.Errorf("member too large: %d bytes exceeds limit of %d bytes", declared, e.maxSize)
	}

	rc, err := f.Open()
	if err != nil {
		return 0, err
	}
	defer func() { _ = rc.Close() }()

	outFile, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	defer func() { _ = outFile.Close() }()

	var w io.Writer = outFile
	var check *utf8Checker
	if e.requireUTF8 {
		check = &utf8Checker{}
		w = io.MultiWriter(outFile, check)
	}

	// One extra byte detects members larger than their header claims.
	written, err := io.Copy(w, io.LimitReader(rc, int64(declared)+1))
	if err != nil {
		return written, err
	}
	if written > int64(declared) {
		return written, errors.New("decompressed size exceeds declared size")
	}
	if check != nil {
		if err := check.Close(); err != nil {
			return written, err
		}
	}

	return written, outFile.Close()
}

// utf8Checker validates a byte stream as UTF-8 across write boundaries.
type utf8Checker struct {
	pending []byte
}

func (c *utf8Checker) Write(p []byte) (int, error) {
	data := append(c.pending, p...)

	cut := len(data)
	for i := len(data) - 1; i >= 0 && i >= len(data)-utf8.UTFMax; i-- {
		if utf8.RuneStart(data[i]) {
			if !utf8.FullRune(data[i:]) {
				cut = i
			}
			break
		}
	}

	if !utf8.Valid(data[:cut]) {
		return 0, ErrInvalidUTF8
	}
	c.pending = append(c.pending[:0], data[cut:]...)
	return len(p), nil
}

func (c *utf8Checker) Close() error {
	if len(c.pending) > 0 {
		return ErrInvalidUTF8
	}
	return nil
}

func isWithinDir(absBaseDir, targetPath string) bool {
	absTarget, err := filepath.Abs(targetPath)
	if err != nil {
		return false
	}
	absTarget = filepath.Clean(absTarget)

	return strings.HasPrefix(absTarget, absBaseDir+string(filepath.Separator))
}

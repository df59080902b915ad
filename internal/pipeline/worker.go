package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/domain"
	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/gdelt"
	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/metrics"
)

// runner carries the state of one orchestrator invocation.
type runner struct {
	o       *Orchestrator
	opts    Options
	runID   int64
	summary *Summary
	log     zerolog.Logger
}

// batch processes refs in order, skipping archives already present and
// continuing past item failures. Only cancellation stops it early.
func (r *runner) batch(ctx context.Context, refs []domain.RemoteArchiveRef) error {
	for i, ref := range refs {
		if err := ctx.Err(); err != nil {
			r.log.Warn().Int("remaining", len(refs)-i).Msg("run cancelled")
			return err
		}

		item, err := r.process(ctx, ref, true)
		r.record(ctx, item)
		if err != nil && ctx.Err() != nil {
			r.log.Warn().Int("remaining", len(refs)-i-1).Msg("run cancelled")
			return ctx.Err()
		}
	}
	return nil
}

// process runs one archive through fetch, extract and publish. The returned
// error is the item's failure; the item is always populated.
func (r *runner) process(ctx context.Context, ref domain.RemoteArchiveRef, skipPresent bool) (domain.ItemResult, error) {
	start := time.Now()
	item := domain.ItemResult{Ref: ref}
	log := r.log.With().Str("file", ref.Filename).Str("kind", string(ref.Kind)).Logger()

	if skipPresent {
		if marker, ok := present(r.opts.Directory, ref); ok {
			item.Outcome = domain.OutcomeSkipped
			r.o.metrics.ArchiveSkipped(string(ref.Kind))
			log.Info().Str("existing", marker).Msg("already downloaded, skipping")
			return item, nil
		}
	}

	fail := func(err error) (domain.ItemResult, error) {
		item.Outcome = domain.OutcomeFailed
		item.Error = err.Error()
		item.Duration = time.Since(start)
		log.Error().Err(err).Str("stage", failureStage(err)).Msg("archive failed")
		return item, err
	}

	if err := r.o.pacer.Wait(ctx, ref.Kind); err != nil {
		return fail(err)
	}

	archive, err := r.o.fetcher.Fetch(ctx, ref.URL, r.opts.Directory)
	if err != nil {
		return fail(err)
	}
	item.Archive = &archive
	r.o.metrics.ArchiveFetched(string(ref.Kind), archive.SizeBytes)

	if r.opts.Unzip {
		files, err := r.o.extractor.Extract(archive.Path, r.opts.Directory)
		if err != nil {
			// A zip left on disk is a skip marker; drop it so the next run fetches again.
			if domain.IsCorruptArchive(err) {
				if rmErr := os.Remove(archive.Path); rmErr != nil && !os.IsNotExist(rmErr) {
					log.Warn().Err(rmErr).Str("path", archive.Path).Msg("could not remove corrupt archive")
				}
			}
			return fail(err)
		}
		item.Extracted = files
	}

	if r.opts.Upload != nil {
		for _, up := range uploadsFor(ref, archive, item.Extracted, r.opts.Unzip) {
			target, err := r.o.publisher.Publish(ctx, up.path, up.name, r.opts.Upload.Bucket, r.opts.Upload.Folder)
			if err != nil {
				return fail(err)
			}
			item.Uploaded = append(item.Uploaded, target)
		}
	}

	item.Outcome = domain.OutcomeFetched
	item.Duration = time.Since(start)
	log.Info().
		Int64("bytes", archive.SizeBytes).
		Int("extracted", len(item.Extracted)).
		Int("uploaded", len(item.Uploaded)).
		Dur("duration", item.Duration).
		Msg("archive done")

	return item, nil
}

func (r *runner) record(ctx context.Context, item domain.ItemResult) {
	r.summary.add(item)
	if r.runID == 0 {
		return
	}
	if err := r.o.ledger.RecordItem(context.WithoutCancel(ctx), r.runID, item); err != nil {
		r.log.Warn().Err(err).Str("file", item.Ref.Filename).Msg("could not record item")
	}
}

// failureStage names the pipeline stage an item error came from.
func failureStage(err error) string {
	switch {
	case domain.IsNetworkError(err):
		return metrics.StageFetch
	case domain.IsCorruptArchive(err):
		return metrics.StageExtract
	case domain.IsUploadError(err):
		return metrics.StagePublish
	default:
		return "pipeline"
	}
}

type upload struct {
	path string
	name string
}

// uploadsFor decides what gets published for a fetched archive. Without
// extraction the zip itself goes up. A single extracted member is published
// under the archive name minus ".zip"; several members keep their own names.
func uploadsFor(ref domain.RemoteArchiveRef, archive domain.LocalArchive, files []domain.ExtractedFile, unzipped bool) []upload {
	if !unzipped {
		return []upload{{path: archive.Path, name: ref.Filename}}
	}
	if len(files) == 1 {
		return []upload{{path: files[0].Path, name: gdelt.Stem(ref.Filename)}}
	}
	out := make([]upload, 0, len(files))
	for _, f := range files {
		out = append(out, upload{path: f.Path, name: filepath.Base(f.Path)})
	}
	return out
}

// present reports the first skip marker of ref found in dir.
func present(dir string, ref domain.RemoteArchiveRef) (string, bool) {
	for _, marker := range gdelt.SkipMarkers(ref) {
		info, err := os.Stat(filepath.Join(dir, marker))
		if err == nil && !info.IsDir() {
			return marker, true
		}
	}
	return "", false
}

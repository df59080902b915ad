package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/domain"
	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/gdelt"
	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/ledger"
	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/metrics"
	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/pacing"
)

// Deps wires the orchestrator. Fetcher and Extractor are required; the rest
// fall back to no-op implementations.
type Deps struct {
	Source     gdelt.Source
	Fetcher    Fetcher
	Extractor  Extractor
	Publisher  Publisher
	Harvester  Harvester
	Pacer      pacing.Pacer
	Ledger     ledger.Recorder
	Metrics    *metrics.Recorder
	Logger     zerolog.Logger
	LinkSuffix string
	Now        func() time.Time
}

// Orchestrator sequences fetch, extract and publish for each invocation mode.
// Items are processed one at a time.
type Orchestrator struct {
	source     gdelt.Source
	fetcher    Fetcher
	extractor  Extractor
	publisher  Publisher
	harvester  Harvester
	pacer      pacing.Pacer
	ledger     ledger.Recorder
	metrics    *metrics.Recorder
	logger     zerolog.Logger
	linkSuffix string
	now        func() time.Time
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(deps Deps) *Orchestrator {
	o := &Orchestrator{
		source:     deps.Source,
		fetcher:    deps.Fetcher,
		extractor:  deps.Extractor,
		publisher:  deps.Publisher,
		harvester:  deps.Harvester,
		pacer:      deps.Pacer,
		ledger:     deps.Ledger,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		linkSuffix: deps.LinkSuffix,
		now:        deps.Now,
	}
	if o.source == (gdelt.Source{}) {
		o.source = gdelt.DefaultSource()
	}
	if o.pacer == nil {
		o.pacer = pacing.Noop{}
	}
	if o.ledger == nil {
		o.ledger = ledger.Noop{}
	}
	if o.linkSuffix == "" {
		o.linkSuffix = ".zip"
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// FetchDaily downloads yesterday's daily export, then optionally extracts and
// publishes it. It is single-shot: the first failure aborts and is returned.
// The archive is fetched even if it is already on disk.
func (o *Orchestrator) FetchDaily(ctx context.Context, opts Options) (Summary, error) {
	ref := o.source.Yesterday(o.now())
	return o.run(ctx, ModeDaily, ref.Filename, opts, func(ctx context.Context, r *runner) error {
		item, err := r.process(ctx, ref, false)
		r.record(ctx, item)
		return err
	})
}

// FetchYear downloads the backfiles for one year: a single yearly archive
// before the threshold year, twelve monthly ones from it on. Archives already
// on disk are skipped; failed items are logged and the loop moves on.
func (o *Orchestrator) FetchYear(ctx context.Context, year int, opts Options) (Summary, error) {
	refs, err := o.source.BackfileRefs(year)
	if err != nil {
		return Summary{Mode: ModeYear}, err
	}
	return o.run(ctx, ModeYear, fmt.Sprintf("year=%d", year), opts, func(ctx context.Context, r *runner) error {
		return r.batch(ctx, refs)
	})
}

// FetchRange applies the single-year logic to every year in [start, end].
func (o *Orchestrator) FetchRange(ctx context.Context, start, end int, opts Options) (Summary, error) {
	if err := gdelt.ValidateYear(start); err != nil {
		return Summary{Mode: ModeRange}, err
	}
	if err := gdelt.ValidateYear(end); err != nil {
		return Summary{Mode: ModeRange}, err
	}
	if start > end {
		return Summary{Mode: ModeRange}, &domain.InvalidInputError{
			Field:  "year range",
			Value:  fmt.Sprintf("%d-%d", start, end),
			Reason: "start year is after end year",
		}
	}

	var refs []domain.RemoteArchiveRef
	for year := start; year <= end; year++ {
		yearRefs, err := o.source.BackfileRefs(year)
		if err != nil {
			return Summary{Mode: ModeRange}, err
		}
		refs = append(refs, yearRefs...)
	}

	return o.run(ctx, ModeRange, fmt.Sprintf("years=%d-%d", start, end), opts, func(ctx context.Context, r *runner) error {
		return r.batch(ctx, refs)
	})
}

// HarvestDaily lists every daily export on the index page and downloads the
// ones not yet on disk.
func (o *Orchestrator) HarvestDaily(ctx context.Context, opts Options) (Summary, error) {
	if o.harvester == nil {
		return Summary{Mode: ModeHarvest}, errors.New("harvest mode needs a link harvester")
	}

	return o.run(ctx, ModeHarvest, o.source.DailyIndexURL, opts, func(ctx context.Context, r *runner) error {
		links, err := o.harvester.Links(ctx, o.source.DailyIndexURL, o.linkSuffix)
		if err != nil {
			return err
		}
		r.log.Info().Int("links", len(links)).Msg("daily archives listed")

		refs := make([]domain.RemoteArchiveRef, 0, len(links))
		for _, link := range links {
			ref, err := o.source.ResolveLink(link)
			if err != nil {
				r.log.Warn().Err(err).Str("link", link).Msg("skipping unusable link")
				continue
			}
			refs = append(refs, ref)
		}
		return r.batch(ctx, refs)
	})
}

// run handles what every mode shares: input checks, the ledger entry and the
// summary log line.
func (o *Orchestrator) run(ctx context.Context, mode Mode, params string, opts Options, body func(context.Context, *runner) error) (Summary, error) {
	start := time.Now()
	summary := Summary{Mode: mode}
	log := o.logger.With().Str("mode", string(mode)).Str("params", params).Logger()

	if err := o.validate(opts); err != nil {
		return summary, err
	}
	if err := os.MkdirAll(opts.Directory, 0o755); err != nil {
		return summary, fmt.Errorf("create directory %s: %w", opts.Directory, err)
	}

	runID, err := o.ledger.StartRun(ctx, string(mode), params)
	if err != nil {
		log.Warn().Err(err).Msg("could not record run start, items will not be recorded")
		runID = 0
	}

	r := &runner{o: o, opts: opts, runID: runID, summary: &summary, log: log}
	log.Info().Str("directory", opts.Directory).Bool("unzip", opts.Unzip).Bool("upload", opts.Upload != nil).Msg("run started")

	runErr := body(ctx, r)
	summary.Duration = time.Since(start)

	// The ledger write must outlive a cancelled run context.
	if runID != 0 {
		finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		if err := o.ledger.FinishRun(finishCtx, runID, summary.Totals(), runErr); err != nil {
			log.Warn().Err(err).Msg("could not record run completion")
		}
		cancel()
	}

	event := log.Info()
	if runErr != nil {
		event = log.Error().Err(runErr)
	}
	event.
		Int("attempted", summary.Attempted).
		Int("fetched", summary.Fetched).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Dur("duration", summary.Duration).
		Msg("run finished")

	return summary, runErr
}

func (o *Orchestrator) validate(opts Options) error {
	if strings.TrimSpace(opts.Directory) == "" {
		return &domain.InvalidInputError{Field: "directory", Value: opts.Directory, Reason: "must not be empty"}
	}
	if o.fetcher == nil {
		return errors.New("orchestrator has no fetcher")
	}
	if opts.Unzip && o.extractor == nil {
		return errors.New("unzip requested but no extractor configured")
	}
	if opts.Upload != nil {
		if o.publisher == nil {
			return errors.New("upload requested but no publisher configured")
		}
		if opts.Upload.Bucket == "" {
			return &domain.InvalidInputError{Field: "bucket", Value: "", Reason: "must not be empty"}
		}
	}
	return nil
}

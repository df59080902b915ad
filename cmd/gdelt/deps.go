package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/archive"
	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/cache"
	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/config"
	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/fetcher"
	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/harvest"
	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/ledger"
	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/metrics"
	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/pacing"
	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/pipeline"
	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/publisher"
	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/storage"
	"github.com/andresuchdata/gdelt-fetch/backend-go/pkg/logger"
)

type depsKey struct{}

// deps holds everything a command needs. Storage is only connected for
// commands that publish or list.
type deps struct {
	cfg          *config.Config
	metrics      *metrics.Recorder
	ledger       ledger.Recorder
	cache        cache.ListingCache
	publisher    *publisher.Publisher
	orchestrator *pipeline.Orchestrator
}

func (d *deps) Close() error {
	var firstErr error
	if d.cache != nil {
		if err := d.cache.Close(); err != nil {
			firstErr = err
		}
	}
	if d.ledger != nil {
		if err := d.ledger.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func buildDeps(ctx context.Context, cfg *config.Config, withStorage bool) (*deps, error) {
	d := &deps{
		cfg:     cfg,
		metrics: metrics.New("gdelt"),
	}

	listing, err := cache.NewListingCache(cfg.Cache)
	if err != nil {
		logger.Log.Warn().Err(err).Msg("listing cache unavailable, continuing without it")
		listing = cache.NewNoopListingCache()
	}
	d.cache = listing

	rec, err := ledger.New(ctx, cfg.Database, logger.Component("ledger"))
	if err != nil {
		logger.Log.Warn().Err(err).Msg("run ledger unavailable, continuing without it")
		rec = ledger.Noop{}
	}
	d.ledger = rec

	if withStorage {
		store, err := storage.New(ctx, storage.Config{
			Driver:    cfg.Storage.Driver,
			Region:    cfg.Storage.Region,
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			UseSSL:    cfg.Storage.UseSSL,
			PathStyle: cfg.Storage.PathStyle,
		})
		if err != nil {
			_ = d.Close()
			return nil, fmt.Errorf("failed to initialise object storage: %w", err)
		}
		d.publisher = publisher.New(store, logger.Component("publisher"), d.metrics)
	}

	client := &http.Client{Timeout: cfg.HTTP.Timeout}

	pdeps := pipeline.Deps{
		Source: cfg.GDELTSource(),
		Fetcher: fetcher.New(client, fetcher.Config{
			Timeout:   cfg.HTTP.Timeout,
			ChunkSize: cfg.HTTP.ChunkSize,
			UserAgent: cfg.HTTP.UserAgent,
		}, logger.Component("fetcher"), d.metrics),
		Extractor: archive.New(
			archive.WithUTF8Validation(cfg.Extract.RequireUTF8),
			archive.WithLogger(logger.Component("extractor")),
			archive.WithMetrics(d.metrics),
		),
		Harvester: harvest.New(client, logger.Component("harvester"),
			harvest.WithCache(listing),
			harvest.WithUserAgent(cfg.HTTP.UserAgent),
			harvest.WithMetrics(d.metrics),
		),
		Pacer:      pacing.NewLimiter(cfg.Pacing.Interval),
		Ledger:     d.ledger,
		Metrics:    d.metrics,
		Logger:     logger.Component("orchestrator"),
		LinkSuffix: cfg.Source.LinkSuffix,
	}
	if d.publisher != nil {
		pdeps.Publisher = d.publisher
	}
	d.orchestrator = pipeline.NewOrchestrator(pdeps)

	return d, nil
}

// withDeps returns a Before hook that wires dependencies into the command context.
func withDeps(cfg *config.Config, withStorage bool) cli.BeforeFunc {
	return func(c *cli.Context) error {
		d, err := buildDeps(c.Context, cfg, withStorage)
		if err != nil {
			return err
		}
		c.Context = context.WithValue(c.Context, depsKey{}, d)
		return nil
	}
}

func closeDeps(c *cli.Context) error {
	if d, ok := c.Context.Value(depsKey{}).(*deps); ok && d != nil {
		return d.Close()
	}
	return nil
}

func depsFrom(c *cli.Context) (*deps, error) {
	d, ok := c.Context.Value(depsKey{}).(*deps)
	if !ok || d == nil {
		return nil, fmt.Errorf("command %q was not initialised", c.Command.Name)
	}
	return d, nil
}

func commandLogger(c *cli.Context) zerolog.Logger {
	return logger.Component("cli").With().Str("command", c.Command.Name).Logger()
}

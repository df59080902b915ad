package main

import (
	"context"
	"fmt"
	"net"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/api"
	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/gdelt"
	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/pipeline"
	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/schedule"
	"github.com/andresuchdata/gdelt-fetch/backend-go/pkg/logger"
)

func optionsFrom(c *cli.Context, upload bool) pipeline.Options {
	opts := pipeline.Options{
		Directory: c.String("directory"),
		Unzip:     c.Bool("unzip"),
	}
	if upload {
		opts.Upload = &pipeline.UploadOptions{
			Bucket: c.String("bucket"),
			Folder: c.String("folder"),
		}
	}
	return opts
}

func runFetch(c *cli.Context) error {
	d, err := depsFrom(c)
	if err != nil {
		return err
	}
	_, err = d.orchestrator.FetchDaily(c.Context, optionsFrom(c, false))
	return err
}

func runFetchUpload(c *cli.Context) error {
	d, err := depsFrom(c)
	if err != nil {
		return err
	}
	_, err = d.orchestrator.FetchDaily(c.Context, optionsFrom(c, true))
	return err
}

func runHarvest(c *cli.Context) error {
	d, err := depsFrom(c)
	if err != nil {
		return err
	}
	if c.Bool("refresh-listing") {
		if err := d.cache.InvalidateAll(c.Context); err != nil {
			log := commandLogger(c)
			log.Warn().Err(err).Msg("could not clear cached listings")
		}
	}
	_, err = d.orchestrator.HarvestDaily(c.Context, optionsFrom(c, false))
	return err
}

func runSingle(c *cli.Context) error {
	d, err := depsFrom(c)
	if err != nil {
		return err
	}
	year, err := gdelt.ParseYear(c.String("year"))
	if err != nil {
		return err
	}
	_, err = d.orchestrator.FetchYear(c.Context, year, optionsFrom(c, false))
	return err
}

func runRange(c *cli.Context) error {
	d, err := depsFrom(c)
	if err != nil {
		return err
	}
	start, end, err := gdelt.ParseYearRange(c.String("year"))
	if err != nil {
		return err
	}
	_, err = d.orchestrator.FetchRange(c.Context, start, end, optionsFrom(c, false))
	return err
}

func runList(c *cli.Context) error {
	d, err := depsFrom(c)
	if err != nil {
		return err
	}
	objects, err := d.publisher.List(c.Context, c.String("bucket"), c.String("folder"))
	if err != nil {
		return err
	}
	for _, obj := range objects {
		fmt.Fprintf(c.App.Writer, "%s\t%d\t%s\n", obj.Key, obj.Size, obj.LastModified.Format("2006-01-02 15:04:05"))
	}
	log := commandLogger(c)
	log.Info().Int("objects", len(objects)).Msg("listing complete")
	return nil
}

// runSchedule fires the daily fetch on the configured cron expression until
// interrupted, serving the status API alongside when enabled.
func runSchedule(c *cli.Context, upload bool) error {
	d, err := depsFrom(c)
	if err != nil {
		return err
	}
	opts := optionsFrom(c, upload)
	log := commandLogger(c)

	sched, err := schedule.New(d.cfg.Schedule.Cron, d.cfg.Schedule.Timezone, func(ctx context.Context) error {
		_, err := d.orchestrator.FetchDaily(ctx, opts)
		return err
	}, logger.Component("schedule"))
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(c.Context)
	g.Go(func() error { return sched.Run(ctx) })

	if d.cfg.Server.Enabled {
		gin.SetMode(d.cfg.Server.Mode)
		router := api.NewRouter(&api.Services{
			Ledger:   d.ledger,
			Metrics:  d.metrics,
			Schedule: sched,
		}, d.cfg.Server.AllowedOrigins, logger.Component("api"))
		addr := net.JoinHostPort("", d.cfg.Server.Port)
		g.Go(func() error { return api.Serve(ctx, addr, router, logger.Component("api")) })
	}

	log.Info().Bool("upload", upload).Bool("server", d.cfg.Server.Enabled).Msg("waiting for scheduled runs")
	return g.Wait()
}

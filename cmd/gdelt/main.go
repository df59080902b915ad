package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/config"
	"github.com/andresuchdata/gdelt-fetch/backend-go/pkg/logger"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(cfg).RunContext(ctx, os.Args); err != nil {
		logger.Log.Error().Err(err).Msg("command failed")
		stop()
		os.Exit(1)
	}
}

func newApp(cfg *config.Config) *cli.App {
	return &cli.App{
		Name:  "gdelt",
		Usage: "Download GDELT event archives, optionally unzip them and publish them to object storage",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   cfg.App.LogLevel,
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log output format (console or json)",
				Value:   cfg.App.LogFormat,
				EnvVars: []string{"LOG_FORMAT"},
			},
		},
		Before: func(c *cli.Context) error {
			if c.String("log-format") == "json" {
				logger.SetJSON(os.Stderr)
			}
			logger.SetLevel(c.String("log-level"))
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "fetch",
				Usage:  "Download yesterday's daily export",
				Flags:  []cli.Flag{newDirectoryFlag(cfg), newUnzipFlag(false)},
				Before: withDeps(cfg, false),
				After:  closeDeps,
				Action: runFetch,
			},
			{
				Name:   "fetch-upload",
				Usage:  "Download yesterday's daily export and publish it to the bucket",
				Flags:  []cli.Flag{newDirectoryFlag(cfg), newUnzipFlag(true), newBucketFlag(cfg, true), newFolderFlag(cfg)},
				Before: withDeps(cfg, true),
				After:  closeDeps,
				Action: runFetchUpload,
			},
			{
				Name:   "schedule",
				Usage:  "Run fetch every day on the configured schedule",
				Flags:  []cli.Flag{newDirectoryFlag(cfg), newUnzipFlag(false)},
				Before: withDeps(cfg, false),
				After:  closeDeps,
				Action: func(c *cli.Context) error { return runSchedule(c, false) },
			},
			{
				Name:   "schedule-upload",
				Usage:  "Run fetch-upload every day on the configured schedule",
				Flags:  []cli.Flag{newDirectoryFlag(cfg), newUnzipFlag(true), newBucketFlag(cfg, true), newFolderFlag(cfg)},
				Before: withDeps(cfg, true),
				After:  closeDeps,
				Action: func(c *cli.Context) error { return runSchedule(c, true) },
			},
			{
				Name:   "daily",
				Usage:  "Download every daily export listed on the index page that is not on disk yet",
				Flags: []cli.Flag{
					newDirectoryFlag(cfg),
					newUnzipFlag(false),
					&cli.BoolFlag{
						Name:  "refresh-listing",
						Usage: "Drop cached index listings before harvesting",
					},
				},
				Before: withDeps(cfg, false),
				After:  closeDeps,
				Action: runHarvest,
			},
			{
				Name:   "single",
				Usage:  "Download the backfiles of one year",
				Flags:  []cli.Flag{newYearFlag("Year to download, e.g. 1999"), newDirectoryFlag(cfg), newUnzipFlag(false)},
				Before: withDeps(cfg, false),
				After:  closeDeps,
				Action: runSingle,
			},
			{
				Name:   "range",
				Usage:  "Download the backfiles of a range of years",
				Flags:  []cli.Flag{newYearFlag("Inclusive year range, e.g. 1979-1981"), newDirectoryFlag(cfg), newUnzipFlag(false)},
				Before: withDeps(cfg, false),
				After:  closeDeps,
				Action: runRange,
			},
			{
				Name:   "list",
				Usage:  "List objects already published to the bucket",
				Flags:  []cli.Flag{newBucketFlag(cfg, true), newFolderFlag(cfg)},
				Before: withDeps(cfg, true),
				After:  closeDeps,
				Action: runList,
			},
		},
	}
}

func newDirectoryFlag(cfg *config.Config) *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "directory",
		Aliases: []string{"d"},
		Usage:   "Directory to download archives into",
		Value:   cfg.App.DownloadDir,
		EnvVars: []string{"APP_DOWNLOAD_DIR"},
	}
}

func newUnzipFlag(def bool) *cli.BoolFlag {
	return &cli.BoolFlag{
		Name:    "unzip",
		Aliases: []string{"U"},
		Usage:   "Extract downloaded archives",
		Value:   def,
	}
}

func newBucketFlag(cfg *config.Config, required bool) *cli.StringFlag {
	return &cli.StringFlag{
		Name:     "bucket",
		Usage:    "Object storage bucket",
		Value:    cfg.Storage.Bucket,
		Required: required && cfg.Storage.Bucket == "",
		EnvVars:  []string{"STORAGE_BUCKET"},
	}
}

func newFolderFlag(cfg *config.Config) *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "folder",
		Usage:   "Key prefix prepended verbatim to uploaded file names",
		Value:   cfg.Storage.Folder,
		EnvVars: []string{"STORAGE_FOLDER"},
	}
}

func newYearFlag(usage string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:     "year",
		Aliases:  []string{"y"},
		Usage:    usage,
		Required: true,
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"PECorpus/internal/app"
	"PECorpus/internal/config"
	"PECorpus/internal/logging"
)

type commonFlags struct {
	configPath string
	logLevel   string
}

func (c *commonFlags) add(fs *pflag.FlagSet) {
	fs.StringVarP(&c.configPath, "config", "c", "", "path to config.yaml (default: $PECORPUS_CONFIG or ./config.yaml)")
	fs.StringVar(&c.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
}

// setup parses flags and builds the application. A nil application with a
// nil error means --help was printed.
func setup(name string, args []string, c *commonFlags, fs *pflag.FlagSet) (*app.Application, *slog.Logger, error) {
	c.add(fs)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, nil, nil
		}
		fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
		return nil, nil, err
	}

	cfg := config.Load(c.configPath)
	if c.logLevel != "" {
		cfg.Logging.Level = c.logLevel
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format).With("command", name)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		return nil, nil, err
	}

	application, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("application stopped", "error", err)
		return nil, nil, err
	}
	return application, logger, nil
}

func runCrawl(ctx context.Context, args []string) error {
	var (
		common   commonFlags
		sources  []string
		interval time.Duration
		dryRun   bool
	)
	fs := pflag.NewFlagSet("crawl", pflag.ContinueOnError)
	fs.StringSliceVar(&sources, "source", nil, "sources to poll (github, nuget, portableapps); default: sources.enabled")
	fs.DurationVar(&interval, "interval", 0, "repeat the cycle at this interval until interrupted")
	fs.BoolVar(&dryRun, "dry-run", false, "discover and log what would be downloaded without downloading")

	application, logger, err := setup("crawl", args, &common, fs)
	if application == nil {
		return err
	}
	defer closeApp(application, logger)

	for i := range sources {
		sources[i] = strings.ToLower(strings.TrimSpace(sources[i]))
	}

	err = application.Crawl(ctx, app.CrawlOptions{Sources: sources, Interval: interval, DryRun: dryRun})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application stopped", "error", err)
		return err
	}
	return nil
}

func runSanitize(ctx context.Context, args []string) error {
	var common commonFlags
	fs := pflag.NewFlagSet("sanitize", pflag.ContinueOnError)

	application, logger, err := setup("sanitize", args, &common, fs)
	if application == nil {
		return err
	}
	defer closeApp(application, logger)

	stats, err := application.Sanitize(ctx)
	if err != nil {
		logger.Error("application stopped", "error", err)
		return err
	}
	fmt.Printf("Sanitized %d files: %d kept (%d signed), %d invalid PE deleted, %d malware deleted, %d empty dirs removed\n",
		stats.Total, stats.Kept, stats.Signed, stats.DeletedPE, stats.DeletedMalware, stats.RemovedDirs)
	return nil
}

func runDoctor(ctx context.Context, args []string) error {
	var common commonFlags
	fs := pflag.NewFlagSet("doctor", pflag.ContinueOnError)

	application, logger, err := setup("doctor", args, &common, fs)
	if application == nil {
		return err
	}
	defer closeApp(application, logger)

	healthy, err := application.Doctor(ctx, os.Stdout)
	if err != nil {
		logger.Error("application stopped", "error", err)
		return err
	}
	if !healthy {
		return errUnhealthy
	}
	return nil
}

func closeApp(a *app.Application, logger *slog.Logger) {
	if err := a.Close(); err != nil {
		logger.Warn("close", "error", err)
	}
}

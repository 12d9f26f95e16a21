// Package cmd defines the CLI commands of the scraper executable.
//
// Each subcommand runs exactly one batch: `scrape` replays never-attempted
// search URLs through the fresh proxy pool, `retry` replays previously failed
// attempts through the retry pool under their original attempt key. Items are
// processed one at a time with a random 5-25 second pause after each, and every
// outcome is reported to the tracking API. Configuration comes from --config and
// SCRAPER_* environment variables.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-snapshot-scraper/internal/app"
	"github.com/JakeFAU/listing-snapshot-scraper/internal/config"
	"github.com/JakeFAU/listing-snapshot-scraper/internal/logging"
	"github.com/JakeFAU/listing-snapshot-scraper/internal/pipeline"
)

type appKeyType string

const appKey appKeyType = "app"

// App is what the subcommands need from the service container. Tests swap in
// a fake through newApp.
type App interface {
	Run(ctx context.Context, source string) (pipeline.RunSummary, error)
	Logger() *zap.Logger
	Close(ctx context.Context) error
}

// newApp loads configuration, builds the logger, and wires the container.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return a, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:           "scraper",
		Short:         "Replays listing-search URLs against the target site and records each outcome.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")

	cmd.AddCommand(
		newBatchCmd("scrape", pipeline.SourceFresh, "Scrape the batch of never-attempted search URLs"),
		newBatchCmd("retry", pipeline.SourceRetry, "Retry previously failed attempts under their original key"),
	)
	return cmd
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		zap.L().Error("command execution failed", zap.Error(err))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

func closeApp(appInstance App) {
	logger := appInstance.Logger()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := appInstance.Close(ctx); err != nil {
		logger.Warn("error shutting down services", zap.Error(err))
	}
	_ = logger.Sync()
}

// Package app builds and holds the long-lived collaborators of a scrape run,
// acting as the dependency injection container for the CLI.
package app

import (
	"context"
	"errors"
	"fmt"

	gpubsub "cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-snapshot-scraper/internal/clock/system"
	"github.com/JakeFAU/listing-snapshot-scraper/internal/config"
	collyfetcher "github.com/JakeFAU/listing-snapshot-scraper/internal/fetcher/colly"
	"github.com/JakeFAU/listing-snapshot-scraper/internal/id/snapshot"
	"github.com/JakeFAU/listing-snapshot-scraper/internal/id/uuid"
	"github.com/JakeFAU/listing-snapshot-scraper/internal/identity"
	"github.com/JakeFAU/listing-snapshot-scraper/internal/lifecycle"
	"github.com/JakeFAU/listing-snapshot-scraper/internal/metrics"
	"github.com/JakeFAU/listing-snapshot-scraper/internal/pacing"
	"github.com/JakeFAU/listing-snapshot-scraper/internal/pipeline"
	memorypublisher "github.com/JakeFAU/listing-snapshot-scraper/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/listing-snapshot-scraper/internal/publisher/pubsub"
	"github.com/JakeFAU/listing-snapshot-scraper/internal/request"
	"github.com/JakeFAU/listing-snapshot-scraper/internal/scrape"
	gcsstorage "github.com/JakeFAU/listing-snapshot-scraper/internal/storage/gcs"
	localstorage "github.com/JakeFAU/listing-snapshot-scraper/internal/storage/local"
	memorystorage "github.com/JakeFAU/listing-snapshot-scraper/internal/storage/memory"
	"github.com/JakeFAU/listing-snapshot-scraper/internal/storage/postgres"
	"github.com/JakeFAU/listing-snapshot-scraper/internal/trackingapi"
)

// App holds the shared services of one CLI invocation.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	driver  *pipeline.Driver
	sources map[string]scrape.BatchSource

	archive   scrape.BlobStore
	publisher scrape.Publisher
	metrics   *metrics.Server
	closers   []func() error
}

// New builds every collaborator from cfg. It fails fast when an optional
// output is enabled but cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	if err := a.init(ctx); err != nil {
		if closeErr := a.Close(context.WithoutCancel(ctx)); closeErr != nil {
			logger.Warn("cleanup after failed init", zap.Error(closeErr))
		}
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.cfg
	a.logger.Info("initializing scraper services")

	table, err := profileTable(cfg.Identity.ProfilesFile)
	if err != nil {
		return err
	}
	pools := identity.Pools(cfg.Proxy.Pools)
	if err := pools.Validate(); err != nil {
		return fmt.Errorf("proxy pools: %w", err)
	}

	tracking, err := trackingapi.New(
		cfg.Tracking.BaseURL,
		trackingapi.WithRateLimit(cfg.Tracking.RequestsPerSecond),
		trackingapi.WithTimeout(cfg.Tracking.Timeout),
		trackingapi.WithLogger(a.logger.Named("tracking")),
	)
	if err != nil {
		return fmt.Errorf("tracking client: %w", err)
	}

	var opts []lifecycle.Option
	archive, err := a.buildArchive(ctx)
	if err != nil {
		return err
	}
	if archive != nil {
		a.archive = archive
		opts = append(opts, lifecycle.WithArchive(archive, cfg.Archive.Prefix))
	}
	ledger, err := a.buildLedger(ctx)
	if err != nil {
		return err
	}
	if ledger != nil {
		opts = append(opts, lifecycle.WithLedger(ledger))
	}
	pub, err := a.buildPublisher(ctx)
	if err != nil {
		return err
	}
	if pub != nil {
		a.publisher = pub
		opts = append(opts, lifecycle.WithPublisher(pub, cfg.Outcomes.Topic))
	}

	if cfg.Metrics.Addr != "" {
		srv, err := metrics.Start(cfg.Metrics.Addr, a.logger.Named("metrics"))
		if err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		a.metrics = srv
	}

	clock := system.New()
	driver, err := pipeline.New(pipeline.Deps{
		Builder: request.NewBuilder(),
		Rotators: func(tag string) (scrape.Rotator, error) {
			return identity.NewRotator(table, pools, tag)
		},
		Executor: collyfetcher.New(collyfetcher.Config{
			Endpoint: cfg.Target.Endpoint,
			Timeout:  cfg.Target.RequestTimeout,
		}, clock, a.logger.Named("fetcher")),
		Lifecycle: lifecycle.New(tracking, a.logger.Named("lifecycle"), opts...),
		Pauser:    pacing.Sleeper{},
		Clock:     clock,
		IDs:       uuid.New(),
		Logger:    a.logger,
	}, pacing.DefaultWindow())
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	a.driver = driver
	a.sources = map[string]scrape.BatchSource{
		pipeline.SourceFresh: pipeline.NewFreshSource(tracking, snapshot.New(), cfg.Pipeline.FreshPool),
		pipeline.SourceRetry: pipeline.NewRetrySource(tracking, tracking, cfg.Pipeline.RetryPool),
	}

	a.logger.Info("scraper services initialized",
		zap.Strings("pools", pools.Tags()),
		zap.Int("profiles", table.Len()),
		zap.String("archive", cfg.Archive.Provider),
		zap.Bool("ledger", ledger != nil),
		zap.String("outcomes", cfg.Outcomes.Provider),
	)
	return nil
}

func profileTable(path string) (*identity.Table, error) {
	if path == "" {
		table, err := identity.DefaultTable()
		if err != nil {
			return nil, fmt.Errorf("default header profiles: %w", err)
		}
		return table, nil
	}
	table, err := identity.LoadTable(path)
	if err != nil {
		return nil, fmt.Errorf("header profiles from %s: %w", path, err)
	}
	return table, nil
}

func (a *App) buildArchive(ctx context.Context) (scrape.BlobStore, error) {
	switch provider := a.cfg.Archive.Provider; provider {
	case "", config.ProviderNone:
		return nil, nil
	case config.ProviderMemory:
		a.logger.Info("using in-memory diagnostics archive")
		return memorystorage.NewBlobStore(), nil
	case config.ProviderLocal:
		a.logger.Info("using local diagnostics archive", zap.String("base_dir", a.cfg.Archive.BaseDir))
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local archive: %w", err)
		}
		return store, nil
	case config.ProviderGCS:
		a.logger.Info("using gcs diagnostics archive", zap.String("bucket", a.cfg.Archive.Bucket))
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: a.cfg.Archive.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs archive: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown archive provider: %s", provider)
	}
}

func (a *App) buildLedger(ctx context.Context) (scrape.Ledger, error) {
	if a.cfg.Ledger.DSN == "" {
		return nil, nil
	}
	a.logger.Info("connecting attempt ledger", zap.String("table", a.cfg.Ledger.Table))
	ledger, err := postgres.NewLedger(ctx, postgres.LedgerConfig{
		DSN:      a.cfg.Ledger.DSN,
		Table:    a.cfg.Ledger.Table,
		MaxConns: a.cfg.Ledger.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("attempt ledger: %w", err)
	}
	a.closers = append(a.closers, func() error { ledger.Close(); return nil })
	if err := ledger.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("attempt ledger schema: %w", err)
	}
	return ledger, nil
}

func (a *App) buildPublisher(ctx context.Context) (scrape.Publisher, error) {
	switch provider := a.cfg.Outcomes.Provider; provider {
	case "", config.ProviderNone:
		return nil, nil
	case config.ProviderMemory:
		a.logger.Info("using in-memory outcome publisher", zap.String("topic", a.cfg.Outcomes.Topic))
		return memorypublisher.New(), nil
	case config.ProviderPubSub:
		a.logger.Info("connecting to pubsub",
			zap.String("project", a.cfg.Outcomes.ProjectID),
			zap.String("topic", a.cfg.Outcomes.Topic),
		)
		client, err := gpubsub.NewClient(ctx, a.cfg.Outcomes.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client: %w", err)
		}
		pub := pubsubpublisher.New(client)
		a.closers = append(a.closers, pub.Close)
		return pub, nil
	default:
		return nil, fmt.Errorf("unknown outcomes provider: %s", provider)
	}
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Archive returns the diagnostics archive, or nil when disabled.
func (a *App) Archive() scrape.BlobStore {
	return a.archive
}

// Publisher returns the outcome publisher, or nil when disabled.
func (a *App) Publisher() scrape.Publisher {
	return a.publisher
}

// MetricsAddr returns the bound metrics address, or "" when disabled.
func (a *App) MetricsAddr() string {
	if a.metrics == nil {
		return ""
	}
	return a.metrics.Addr()
}

// Run processes one batch from the named source ("fresh" or "retry").
func (a *App) Run(ctx context.Context, source string) (pipeline.RunSummary, error) {
	src, ok := a.sources[source]
	if !ok {
		return pipeline.RunSummary{}, fmt.Errorf("unknown batch source %q", source)
	}
	return a.driver.Run(ctx, src)
}

// Close shuts down every service opened by New, newest first.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.metrics != nil {
		if err := a.metrics.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server: %w", err))
		}
		a.metrics = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Package pipeline drives one scrape run: acquire a batch, then for each item
// announce it, build and send the search request, report the outcome, and
// wait out a random pacing delay before the next.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-snapshot-scraper/internal/diagnostics"
	"github.com/JakeFAU/listing-snapshot-scraper/internal/metrics"
	"github.com/JakeFAU/listing-snapshot-scraper/internal/pacing"
	"github.com/JakeFAU/listing-snapshot-scraper/internal/scrape"
)

// RotatorFunc returns the identity rotator for a proxy pool tag.
type RotatorFunc func(poolTag string) (scrape.Rotator, error)

// Deps are the collaborators of a Driver. All are required except Logger.
type Deps struct {
	Builder   scrape.Builder
	Rotators  RotatorFunc
	Executor  scrape.Executor
	Lifecycle scrape.Lifecycle
	Pauser    scrape.Pauser
	Clock     scrape.Clock
	IDs       scrape.IDGenerator
	Logger    *zap.Logger
}

// RunSummary tallies one run.
type RunSummary struct {
	RunID      string
	Source     string
	Total      int
	Succeeded  int
	Failed     int
	Skipped    int
	Faults     int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Driver processes batches strictly one item at a time.
type Driver struct {
	deps   Deps
	window pacing.Window
	logger *zap.Logger
}

// New validates deps and returns a Driver pacing items with window.
func New(deps Deps, window pacing.Window) (*Driver, error) {
	switch {
	case deps.Builder == nil:
		return nil, errors.New("pipeline: builder is required")
	case deps.Rotators == nil:
		return nil, errors.New("pipeline: rotators are required")
	case deps.Executor == nil:
		return nil, errors.New("pipeline: executor is required")
	case deps.Lifecycle == nil:
		return nil, errors.New("pipeline: lifecycle is required")
	case deps.Pauser == nil:
		return nil, errors.New("pipeline: pauser is required")
	case deps.Clock == nil:
		return nil, errors.New("pipeline: clock is required")
	case deps.IDs == nil:
		return nil, errors.New("pipeline: id generator is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Driver{deps: deps, window: window, logger: logger.Named("pipeline")}, nil
}

// Run processes one batch from source. Only a failure to acquire the batch,
// a missing proxy pool, or ctx ending returns an error; per-item problems
// are logged and counted.
func (d *Driver) Run(ctx context.Context, source scrape.BatchSource) (RunSummary, error) {
	summary := RunSummary{Source: source.Name(), StartedAt: d.deps.Clock.Now()}
	runID, err := d.deps.IDs.NewID()
	if err != nil {
		return summary, fmt.Errorf("generate run id: %w", err)
	}
	summary.RunID = runID
	logger := d.logger.With(zap.String("run_id", runID), zap.String("source", source.Name()))

	rotator, err := d.deps.Rotators(source.PoolTag())
	if err != nil {
		metrics.ObserveRun(source.Name(), "config_error")
		return summary, fmt.Errorf("identity rotator for pool %q: %w", source.PoolTag(), err)
	}

	logger.Info("fetching batch")
	items, err := source.Fetch(ctx)
	if err != nil {
		metrics.ObserveRun(source.Name(), "batch_error")
		return summary, &scrape.BatchAcquisitionError{Source: source.Name(), Err: err}
	}
	summary.Total = len(items)
	metrics.SetBatchItems(source.Name(), len(items))
	logger.Info("batch acquired", zap.Int("items", len(items)), zap.String("pool", source.PoolTag()))

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return d.finish(logger, summary, fmt.Errorf("run interrupted before item %d: %w", i+1, err))
		}
		itemLogger := logger.With(
			zap.Int("item", i+1),
			zap.String("region_id", item.RegionID),
		)
		d.processItem(ctx, source, rotator, runID, item, itemLogger, &summary)

		delay := d.window.Sample()
		metrics.ObservePacingDelay(delay)
		itemLogger.Debug("pacing", zap.Duration("delay", delay))
		if err := d.deps.Pauser.Pause(ctx, delay); err != nil {
			return d.finish(logger, summary, fmt.Errorf("run interrupted while pacing: %w", err))
		}
	}
	return d.finish(logger, summary, nil)
}

func (d *Driver) finish(logger *zap.Logger, summary RunSummary, err error) (RunSummary, error) {
	summary.FinishedAt = d.deps.Clock.Now()
	fields := []zap.Field{
		zap.Int("total", summary.Total),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("tracking_faults", summary.Faults),
		zap.Duration("elapsed", summary.FinishedAt.Sub(summary.StartedAt)),
	}
	if err != nil {
		metrics.ObserveRun(summary.Source, "interrupted")
		logger.Warn("run interrupted", append(fields, zap.Error(err))...)
		return summary, err
	}
	metrics.ObserveRun(summary.Source, "ok")
	logger.Info("run complete", fields...)
	return summary, nil
}

func (d *Driver) processItem(
	ctx context.Context,
	source scrape.BatchSource,
	rotator scrape.Rotator,
	runID string,
	item scrape.WorkItem,
	logger *zap.Logger,
	summary *RunSummary,
) {
	key, err := source.KeyFor(item)
	if err != nil {
		summary.Skipped++
		metrics.ObserveSkipped(source.Name(), "key")
		logger.Error("no attempt key, item skipped", zap.String("source_url", item.SourceURL), zap.Error(err))
		return
	}
	logger = logger.With(zap.String("key", key.String()))
	if err := source.Prepare(ctx, key); err != nil {
		summary.Skipped++
		metrics.ObserveSkipped(source.Name(), "prepare")
		logger.Error("prepare failed, item skipped", zap.Error(err))
		return
	}

	d.deps.Lifecycle.ReportStarted(ctx, key, item)
	start := time.Now()
	outcome, id := d.attempt(ctx, rotator, item)
	elapsed := time.Since(start)

	// A started key always gets its terminal report, even after ctx ends.
	reportCtx := context.WithoutCancel(ctx)
	status := statusOf(outcome)
	switch outcome.Kind {
	case scrape.OutcomeSuccess:
		summary.Succeeded++
		logger.Info("item succeeded",
			zap.Int("results", len(outcome.Results)),
			zap.Bool("results_present", outcome.Results != nil),
			zap.Duration("elapsed", elapsed),
		)
		if err := d.deps.Lifecycle.ReportSuccess(reportCtx, key, item, outcome.Results); err != nil {
			d.trackingFault(summary, err)
			logger.Error("success not recorded", zap.Error(err))
		}
	default:
		summary.Failed++
		logger.Warn("item failed",
			zap.Int("status", status),
			zap.Bool("malformed_source", scrape.IsMalformedSource(outcome.Err)),
			zap.Duration("elapsed", elapsed),
			zap.Error(outcome.Err),
		)
		if err := d.deps.Lifecycle.ReportFailure(reportCtx, key, item, outcome.Diagnostics); err != nil {
			d.trackingFault(summary, err)
			logger.Warn("failure not recorded", zap.Error(err))
		}
	}

	metrics.ObserveAttempt(source.Name(), outcome.Kind.String(), status, elapsed, len(outcome.Results))
	d.deps.Lifecycle.RecordOutcome(reportCtx, scrape.AttemptRecord{
		RunID:       runID,
		Source:      source.Name(),
		Key:         key,
		RegionID:    item.RegionID,
		SourceURL:   item.SourceURL,
		Outcome:     outcome.Kind,
		ResultCount: len(outcome.Results),
		StatusCode:  status,
		ErrorText:   errText(outcome.Err),
		PoolTag:     id.PoolTag,
		Profile:     id.Profile.Name,
		FinishedAt:  d.deps.Clock.Now(),
	})
}

// attempt turns item into an outcome. Build and identity failures become
// failure outcomes without any call to the target.
func (d *Driver) attempt(ctx context.Context, rotator scrape.Rotator, item scrape.WorkItem) (scrape.Outcome, scrape.Identity) {
	payload, err := d.deps.Builder.Build(item.SourceURL)
	if err != nil {
		diag := diagnostics.Capture(err, diagnostics.Input{Item: item, Payload: item.SourceURL}, d.deps.Clock.Now())
		return scrape.Failed(diag, err), scrape.Identity{}
	}
	id, err := rotator.Next()
	if err != nil {
		diag := diagnostics.Capture(err, diagnostics.Input{Item: item, Payload: payload}, d.deps.Clock.Now())
		return scrape.Failed(diag, err), scrape.Identity{}
	}
	return d.deps.Executor.Execute(ctx, item, payload, id), id
}

func (d *Driver) trackingFault(summary *RunSummary, err error) {
	summary.Faults++
	op := "unknown"
	var sinkErr *scrape.TrackingSinkError
	if errors.As(err, &sinkErr) {
		op = sinkErr.Op
	}
	metrics.ObserveTrackingFault(op)
}

func statusOf(o scrape.Outcome) int {
	if o.Diagnostics != nil && o.Diagnostics.ErrorResponse != nil {
		return o.Diagnostics.ErrorResponse.Status
	}
	if status := scrape.StatusOf(o.Err); status > 0 {
		return status
	}
	if o.Kind == scrape.OutcomeSuccess {
		return 200
	}
	return 0
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Package lifecycle reports each attempt's state transitions to the tracking
// store and applies the per-event failure policy: "started" is
// fire-and-forget, "success" must land, "failure" is best effort.
package lifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	"path"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-snapshot-scraper/internal/diagnostics"
	"github.com/JakeFAU/listing-snapshot-scraper/internal/scrape"
)

// Op names used in TrackingSinkError.
const (
	OpStarted       = "started"
	OpUploadResults = "upload-results"
	OpSucceeded     = "succeeded"
	OpFailed        = "failed"
	OpUploadError   = "upload-error"
)

// Tracker implements scrape.Lifecycle.
type Tracker struct {
	sink   scrape.TrackingSink
	logger *zap.Logger

	archive       scrape.BlobStore
	archivePrefix string
	ledger        scrape.Ledger
	publisher     scrape.Publisher
	topic         string
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithArchive mirrors every diagnostics payload into store under
// <prefix>/<regionId>/<key>.
func WithArchive(store scrape.BlobStore, prefix string) Option {
	return func(t *Tracker) {
		t.archive = store
		t.archivePrefix = prefix
	}
}

// WithLedger writes one row per terminal outcome.
func WithLedger(ledger scrape.Ledger) Option {
	return func(t *Tracker) { t.ledger = ledger }
}

// WithPublisher announces every terminal outcome on topic.
func WithPublisher(pub scrape.Publisher, topic string) Option {
	return func(t *Tracker) {
		t.publisher = pub
		t.topic = topic
	}
}

// New creates a Tracker over sink.
func New(sink scrape.TrackingSink, logger *zap.Logger, opts ...Option) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{sink: sink, logger: logger}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ReportStarted announces the attempt. Errors are logged and dropped so a
// tracking outage does not stop scraping.
func (t *Tracker) ReportStarted(ctx context.Context, key scrape.AttemptKey, item scrape.WorkItem) {
	if err := t.sink.Started(ctx, key, item.RegionID, item.SourceURL); err != nil {
		t.logger.Warn("report started failed",
			zap.String("key", key.String()),
			zap.String("region_id", item.RegionID),
			zap.Error(err),
		)
	}
}

// ReportSuccess uploads results and marks the attempt successful. Either call
// failing is returned: an unrecorded success would be retried needlessly.
func (t *Tracker) ReportSuccess(
	ctx context.Context,
	key scrape.AttemptKey,
	item scrape.WorkItem,
	results []json.RawMessage,
) error {
	if err := t.sink.UploadResults(ctx, key, item.RegionID, results); err != nil {
		return &scrape.TrackingSinkError{Op: OpUploadResults, Key: key, Err: err}
	}
	var count *int
	if results != nil {
		n := len(results)
		count = &n
	}
	if err := t.sink.Succeeded(ctx, key, count); err != nil {
		return &scrape.TrackingSinkError{Op: OpSucceeded, Key: key, Err: err}
	}
	return nil
}

// ReportFailure marks the attempt failed, then uploads its diagnostics. Only
// the mark's error is returned; the caller logs it and moves on.
func (t *Tracker) ReportFailure(
	ctx context.Context,
	key scrape.AttemptKey,
	item scrape.WorkItem,
	diag *scrape.Diagnostics,
) error {
	var markErr error
	if err := t.sink.Failed(ctx, key); err != nil {
		markErr = &scrape.TrackingSinkError{Op: OpFailed, Key: key, Err: err}
	}
	t.ReportError(ctx, key, item.RegionID, diag)
	return markErr
}

// ReportError serializes diag without tripping on cycles and stores it under
// key. Every error is logged and dropped.
func (t *Tracker) ReportError(ctx context.Context, key scrape.AttemptKey, regionID string, diag *scrape.Diagnostics) {
	logger := t.logger.With(zap.String("key", key.String()), zap.String("region_id", regionID))
	payload, err := diagnostics.SafeMarshal(diag)
	if err != nil {
		logger.Error("serialize diagnostics failed", zap.Error(err))
		return
	}
	if err := t.sink.UploadError(ctx, key, regionID, string(payload)); err != nil {
		logger.Warn("upload diagnostics failed",
			zap.Error(&scrape.TrackingSinkError{Op: OpUploadError, Key: key, Err: err}))
	}
	if t.archive == nil {
		return
	}
	objectPath := path.Join(t.archivePrefix, regionOrUnknown(regionID), key.String())
	uri, err := t.archive.PutObject(ctx, objectPath, "application/json", bytes.NewReader(payload))
	if err != nil {
		logger.Warn("archive diagnostics failed", zap.String("path", objectPath), zap.Error(err))
		return
	}
	logger.Debug("diagnostics archived", zap.String("uri", uri))
}

// RecordOutcome writes the ledger row and publishes the notification when
// those channels are configured.
func (t *Tracker) RecordOutcome(ctx context.Context, record scrape.AttemptRecord) {
	logger := t.logger.With(zap.String("key", record.Key.String()), zap.String("run_id", record.RunID))
	if t.ledger != nil {
		if err := t.ledger.RecordAttempt(ctx, record); err != nil {
			logger.Warn("ledger write failed", zap.Error(err))
		}
	}
	if t.publisher != nil && t.topic != "" {
		if _, err := t.publisher.Publish(ctx, t.topic, record); err != nil {
			logger.Warn("publish outcome failed", zap.String("topic", t.topic), zap.Error(err))
		}
	}
}

func regionOrUnknown(regionID string) string {
	if regionID == "" {
		return "unknown"
	}
	return regionID
}

package scrape

import (
	"context"
	"encoding/json"
	"io"
	"time"
)

// BatchSource supplies one batch of work and the attempt-key policy for it.
type BatchSource interface {
	// Name labels the batch in logs and metrics ("fresh", "retry").
	Name() string
	Fetch(ctx context.Context) ([]WorkItem, error)
	KeyFor(item WorkItem) (AttemptKey, error)
	// Prepare runs once per item before any lifecycle event is emitted.
	Prepare(ctx context.Context, key AttemptKey) error
	// PoolTag names the proxy pool this batch is sent through.
	PoolTag() string
}

// Builder turns a source URL into the target's search payload.
type Builder interface {
	Build(sourceURL string) (SearchPayload, error)
}

// Rotator picks a fresh identity for every attempt.
type Rotator interface {
	Next() (Identity, error)
}

// Executor performs one exchange with the target site.
type Executor interface {
	Execute(ctx context.Context, item WorkItem, payload SearchPayload, identity Identity) Outcome
}

// Lifecycle reports per-item state transitions to the tracking store.
type Lifecycle interface {
	ReportStarted(ctx context.Context, key AttemptKey, item WorkItem)
	ReportSuccess(ctx context.Context, key AttemptKey, item WorkItem, results []json.RawMessage) error
	ReportFailure(ctx context.Context, key AttemptKey, item WorkItem, diag *Diagnostics) error
	// RecordOutcome files the attempt in the optional ledger and notification
	// channels. It never fails the item.
	RecordOutcome(ctx context.Context, record AttemptRecord)
}

// TrackingSink is the external tracking API.
type TrackingSink interface {
	Started(ctx context.Context, key AttemptKey, regionID, sourceURL string) error
	Succeeded(ctx context.Context, key AttemptKey, resultCount *int) error
	Failed(ctx context.Context, key AttemptKey) error
	IncrementAttempt(ctx context.Context, key AttemptKey) error
	UploadError(ctx context.Context, key AttemptKey, regionID string, errorJSON string) error
	UploadResults(ctx context.Context, key AttemptKey, regionID string, results []json.RawMessage) error
}

// JobSource supplies fresh and failed batches.
type JobSource interface {
	FetchFresh(ctx context.Context) ([]WorkItem, error)
	FetchFailed(ctx context.Context) ([]WorkItem, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Ledger persists one row per terminal outcome.
type Ledger interface {
	RecordAttempt(ctx context.Context, record AttemptRecord) error
}

// Publisher pushes outcome notifications.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Pauser blocks for d or until ctx ends.
type Pauser interface {
	Pause(ctx context.Context, d time.Duration) error
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// KeyMinter produces attempt keys for fresh items.
type KeyMinter interface {
	NewKey() (AttemptKey, error)
}

// IDGenerator produces run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

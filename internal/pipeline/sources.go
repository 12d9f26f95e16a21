package pipeline

import (
	"context"
	"errors"

	"github.com/JakeFAU/listing-snapshot-scraper/internal/scrape"
)

// Source names used in logs, metrics, and ledger rows.
const (
	SourceFresh = "fresh"
	SourceRetry = "retry"
)

// ErrMissingRetryKey marks a failed-queue entry that carries no attempt key.
var ErrMissingRetryKey = errors.New("retry item has no attempt key")

// AttemptCounter bumps the attempt count of a retried key.
type AttemptCounter interface {
	IncrementAttempt(ctx context.Context, key scrape.AttemptKey) error
}

// FreshSource feeds never-attempted URLs and mints a new key for each.
type FreshSource struct {
	jobs   scrape.JobSource
	minter scrape.KeyMinter
	pool   string
}

// NewFreshSource creates a FreshSource sending through pool.
func NewFreshSource(jobs scrape.JobSource, minter scrape.KeyMinter, pool string) *FreshSource {
	return &FreshSource{jobs: jobs, minter: minter, pool: pool}
}

// Name implements scrape.BatchSource.
func (s *FreshSource) Name() string { return SourceFresh }

// PoolTag implements scrape.BatchSource.
func (s *FreshSource) PoolTag() string { return s.pool }

// Fetch implements scrape.BatchSource.
func (s *FreshSource) Fetch(ctx context.Context) ([]scrape.WorkItem, error) {
	return s.jobs.FetchFresh(ctx)
}

// KeyFor mints a fresh key.
func (s *FreshSource) KeyFor(scrape.WorkItem) (scrape.AttemptKey, error) {
	return s.minter.NewKey()
}

// Prepare is a no-op for fresh items.
func (s *FreshSource) Prepare(context.Context, scrape.AttemptKey) error { return nil }

// RetrySource replays failed attempts under their original key.
type RetrySource struct {
	jobs    scrape.JobSource
	counter AttemptCounter
	pool    string
}

// NewRetrySource creates a RetrySource sending through pool.
func NewRetrySource(jobs scrape.JobSource, counter AttemptCounter, pool string) *RetrySource {
	return &RetrySource{jobs: jobs, counter: counter, pool: pool}
}

// Name implements scrape.BatchSource.
func (s *RetrySource) Name() string { return SourceRetry }

// PoolTag implements scrape.BatchSource.
func (s *RetrySource) PoolTag() string { return s.pool }

// Fetch implements scrape.BatchSource.
func (s *RetrySource) Fetch(ctx context.Context) ([]scrape.WorkItem, error) {
	return s.jobs.FetchFailed(ctx)
}

// KeyFor reuses the item's stored key.
func (s *RetrySource) KeyFor(item scrape.WorkItem) (scrape.AttemptKey, error) {
	if !item.IsRetry() {
		return "", ErrMissingRetryKey
	}
	return item.RetryKey, nil
}

// Prepare records the new attempt against key before anything is sent.
func (s *RetrySource) Prepare(ctx context.Context, key scrape.AttemptKey) error {
	if err := s.counter.IncrementAttempt(ctx, key); err != nil {
		return &scrape.TrackingSinkError{Op: "update-attempt", Key: key, Err: err}
	}
	return nil
}

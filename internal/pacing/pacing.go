// Package pacing spaces out requests to the target site. Every processed item
// is followed by a random wait so request timing does not look scripted.
package pacing

import (
	"context"
	"math/rand/v2"
	"time"
)

// Default bounds of the inter-item wait, both inclusive.
const (
	DefaultMin = 5000 * time.Millisecond
	DefaultMax = 25000 * time.Millisecond
)

// Window is an inclusive range of whole-millisecond delays.
type Window struct {
	Min time.Duration
	Max time.Duration
	// intn is swapped in tests; nil means math/rand/v2.
	intn func(n int64) int64
}

// DefaultWindow returns the standard 5s–25s window.
func DefaultWindow() Window {
	return Window{Min: DefaultMin, Max: DefaultMax}
}

// Sample draws a delay uniformly from [Min, Max] at millisecond granularity.
// A window with Max <= Min always yields Min.
func (w Window) Sample() time.Duration {
	lo := w.Min.Milliseconds()
	hi := w.Max.Milliseconds()
	if hi <= lo {
		return time.Duration(lo) * time.Millisecond
	}
	intn := w.intn
	if intn == nil {
		intn = rand.Int64N
	}
	return time.Duration(lo+intn(hi-lo+1)) * time.Millisecond
}

// Sleeper pauses on a real timer.
type Sleeper struct{}

// Pause blocks for d or until ctx is done, returning ctx's error in the
// latter case.
func (Sleeper) Pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

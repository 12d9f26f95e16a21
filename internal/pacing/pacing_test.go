package pacing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultWindowSamplesStayInRange(t *testing.T) {
	t.Parallel()

	w := DefaultWindow()
	for range 1000 {
		d := w.Sample()
		require.GreaterOrEqual(t, d, 5000*time.Millisecond)
		require.LessOrEqual(t, d, 25000*time.Millisecond)
		require.Zero(t, d%time.Millisecond, "delay %v is not whole milliseconds", d)
	}
}

func TestSampleReachesBothBounds(t *testing.T) {
	t.Parallel()

	low := Window{Min: DefaultMin, Max: DefaultMax, intn: func(int64) int64 { return 0 }}
	assert.Equal(t, DefaultMin, low.Sample())

	high := Window{Min: DefaultMin, Max: DefaultMax, intn: func(n int64) int64 { return n - 1 }}
	assert.Equal(t, DefaultMax, high.Sample())
}

func TestSampleDegenerateWindow(t *testing.T) {
	t.Parallel()

	w := Window{Min: time.Second, Max: time.Second}
	assert.Equal(t, time.Second, w.Sample())
}

func TestSleeperHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Sleeper{}.Pause(ctx, 5*time.Second)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSleeperWaits(t *testing.T) {
	t.Parallel()

	start := time.Now()
	require.NoError(t, Sleeper{}.Pause(context.Background(), 20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

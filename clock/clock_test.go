package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClock_DiffNeverNegative(t *testing.T) {
	c := New()
	start := c.Now()
	require.GreaterOrEqual(t, c.Diff(start), int64(0))

	// a tick "from the future" relative to now must clamp to zero, not
	// go negative.
	require.Equal(t, int64(0), c.Diff(start+Tick(time.Hour)))
}

func TestClock_DiffMeasuresElapsed(t *testing.T) {
	c := New()
	start := c.Now()
	time.Sleep(5 * time.Millisecond)
	elapsed := c.Diff(start)
	require.Greater(t, elapsed, int64(0))
}

func TestClock_WallTimeMonotonicAnchor(t *testing.T) {
	c := New()
	t0 := c.WallTime(c.Now())
	require.WithinDuration(t, time.Now(), t0, time.Second)
}

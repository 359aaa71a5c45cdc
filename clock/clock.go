// Package clock provides monotonic high-resolution timestamps and a cheap
// wall-clock correlation, for use by every component that needs to measure
// elapsed CPU or wall time without taking a hard dependency on a particular
// platform timer.
package clock

import (
	"sync/atomic"
	"time"
)

type (
	// Tick is an opaque high-precision timestamp, comparable only through
	// Clock.Diff. Its zero value is not a valid tick.
	Tick int64

	// Clock is the source of monotonic ticks and millisecond wall time.
	//
	// A Clock degrades silently if the platform cannot provide a
	// performance counter: Now still advances (backed by runtime
	// monotonic time, via time.Now), it just won't be any more precise
	// than the Go runtime already offers. Callers never see an error from
	// this package.
	Clock struct {
		// boot anchors Tick 0 to a wall-clock instant, recomputed
		// whenever drift between the two clocks would otherwise grow
		// unbounded.
		boot      atomic.Int64 // unix nanos at the last anchor point
		bootTick  atomic.Int64 // Tick value at the last anchor point
		started   time.Time
		startTick Tick
	}
)

// New constructs a Clock anchored to the current instant.
func New() *Clock {
	c := &Clock{started: time.Now()}
	c.boot.Store(c.started.UnixNano())
	c.bootTick.Store(0)
	return c
}

// Now returns a new Tick. Ticks are monotonically non-decreasing for a
// given Clock, but are only meaningful relative to one another (via Diff)
// or via WallTime.
func (c *Clock) Now() Tick {
	return Tick(time.Since(c.started))
}

// TimestampMS returns the current wall-clock time in milliseconds, using
// the Clock's own monotonic source, so it does not regress between
// re-anchor points; a re-anchor (see WallTime) reads the system clock
// again and follows any step it has taken.
func (c *Clock) TimestampMS() int64 {
	return c.WallTime(c.Now()).UnixMilli()
}

// Diff returns the elapsed duration, in microseconds, between start and
// the current tick. Never negative: a clock that appears to have gone
// backwards (e.g. due to a platform counter anomaly) clamps to zero rather
// than reporting a negative elapsed time, consistent with the max(0, ...)
// contract in spec.md's method-exit timing rule.
func (c *Clock) Diff(start Tick) int64 {
	now := c.Now()
	if now <= start {
		return 0
	}
	return int64(now-start) / int64(time.Microsecond)
}

// WallTime converts a Tick back to an absolute time, re-anchoring the
// boot offset if the tick has grown far enough past the last anchor that
// drift could otherwise accumulate (every hour of ticks, by default).
func (c *Clock) WallTime(t Tick) time.Time {
	const reanchorAfter = int64(time.Hour)

	bootTick := c.bootTick.Load()
	if int64(t)-bootTick > reanchorAfter {
		now := time.Now()
		c.boot.Store(now.UnixNano())
		c.bootTick.Store(int64(t))
		bootTick = int64(t)
	}

	return time.Unix(0, c.boot.Load()+(int64(t)-bootTick))
}

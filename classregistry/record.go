// Package classregistry maps class identity to ClassRecord, accounts for
// allocation/deallocation, and implements the heap-count iteration and
// growth-alert heuristic of spec.md §4.4.
package classregistry

import (
	"sync/atomic"
)

// Flags is the bit set of per-class flags named in spec.md §3.
type Flags uint8

const (
	FlagMonitored Flags = 1 << iota
	FlagVisible
	FlagExcluded
	FlagDeletedButPinned
)

// historyRing is a small fixed-capacity ring of (gcIndex, liveBytes)
// snapshots, the bounded history mentioned in spec.md §3. Modeled after
// the power-of-two ring buffer idiom used throughout the teacher's rate
// limiting code, sized down to a plain slice since history entries are
// appended far less often than rate-limit events.
type historySample struct {
	GCIndex   int64
	LiveBytes int64
}

type historyRing struct {
	samples []historySample
	cap     int
}

func newHistoryRing(capacity int) *historyRing {
	if capacity <= 0 {
		capacity = 32
	}
	return &historyRing{cap: capacity}
}

func (h *historyRing) push(s historySample) {
	h.samples = append(h.samples, s)
	if len(h.samples) > h.cap {
		h.samples = h.samples[len(h.samples)-h.cap:]
	}
}

func (h *historyRing) snapshot() []historySample {
	out := make([]historySample, len(h.samples))
	copy(out, h.samples)
	return out
}

// HeapSweepCounters is the result of the last heap-sweep pass for a class,
// spec.md §3's "heap-sweep counters (last pass)".
type HeapSweepCounters struct {
	Count int64
	Bytes int64
}

// ClassRecord is one per distinct class observed, per spec.md §3.
type ClassRecord struct {
	ID         uint64
	Name       string
	SuperID    uint64 // 0 if none; a weak (non-owning) reference
	HasSuper   bool
	Flags      Flags

	liveBytes      atomic.Int64
	liveCount      atomic.Int64
	cumAlloc       atomic.Int64
	cumFree        atomic.Int64
	lastHeapBytes  atomic.Int64
	lastHeapCount  atomic.Int64
	growthWatermark atomic.Int64
	alertArmed     atomic.Bool
	allocAlertSent atomic.Bool

	history *historyRing
}

// NewRecord constructs a ClassRecord for id/name.
func NewRecord(id uint64, name string) *ClassRecord {
	return &ClassRecord{
		ID:      id,
		Name:    name,
		history: newHistoryRing(32),
	}
}

func (c *ClassRecord) Has(f Flags) bool { return c.Flags&f != 0 }

// LiveBytes returns the current live-byte total: Σalloc − Σfree, per
// spec.md §3's invariant.
func (c *ClassRecord) LiveBytes() int64 { return c.liveBytes.Load() }

// LiveCount returns the current live-object count.
func (c *ClassRecord) LiveCount() int64 { return c.liveCount.Load() }

// CumulativeAlloc returns total bytes ever allocated under this class.
func (c *ClassRecord) CumulativeAlloc() int64 { return c.cumAlloc.Load() }

// CumulativeFree returns total bytes ever freed under this class.
func (c *ClassRecord) CumulativeFree() int64 { return c.cumFree.Load() }

// HeapSweep returns the last heap-sweep pass's counters.
func (c *ClassRecord) HeapSweep() HeapSweepCounters {
	return HeapSweepCounters{Count: c.lastHeapCount.Load(), Bytes: c.lastHeapBytes.Load()}
}

// History returns a snapshot of the bounded gc-index -> live-bytes ring.
func (c *ClassRecord) History() []historySample { return c.history.snapshot() }

// recordAlloc adds size bytes to the live/cumulative totals. Never called
// directly by users — Registry.OnAllocation is the public entry point, so
// the growth-alert check always runs alongside the mutation.
func (c *ClassRecord) recordAlloc(size int64) {
	c.liveBytes.Add(size)
	c.liveCount.Add(1)
	c.cumAlloc.Add(size)
}

// recordFree subtracts size bytes, clamping at zero to guard against the
// "live_bytes ≥ 0" invariant even under a pathological double-free that
// slipped past generation checks.
func (c *ClassRecord) recordFree(size int64) {
	for {
		cur := c.liveBytes.Load()
		next := cur - size
		if next < 0 {
			next = 0
		}
		if c.liveBytes.CompareAndSwap(cur, next) {
			break
		}
	}
	if c.liveCount.Load() > 0 {
		c.liveCount.Add(-1)
	}
	c.cumFree.Add(size)
}

// recordHeapSweep stores the tally from one heap-sweep pass, appends a
// history sample, and reports whether this pass crossed the growth-alert
// watermark (spec.md §4.4's growth-alert policy).
func (c *ClassRecord) recordHeapSweep(gcIndex int64, count, bytes int64, growthFactor float64, minBytes int64) (alert bool) {
	c.lastHeapCount.Store(count)
	c.lastHeapBytes.Store(bytes)
	c.history.push(historySample{GCIndex: gcIndex, LiveBytes: bytes})

	watermark := c.growthWatermark.Load()
	if bytes > watermark {
		if watermark > 0 && float64(bytes) > float64(watermark)*growthFactor && bytes > minBytes {
			if c.alertArmed.CompareAndSwap(false, true) {
				alert = true
			}
		}
		c.growthWatermark.Store(bytes)
	}
	return alert
}

// AlertArmed reports whether the growth-alert has fired and not yet been
// cleared, used by the `lml` dump command to list current leak suspects.
func (c *ClassRecord) AlertArmed() bool { return c.alertArmed.Load() }

// ClearAlert re-arms the growth-alert for future crossings, per spec.md
// §4.4: "it is re-armed by reset or by a manual clear."
func (c *ClassRecord) ClearAlert() {
	c.alertArmed.Store(false)
	c.allocAlertSent.Store(false)
}

// ConsumeAllocAlert reports whether an allocation attributed to this class
// should emit the growth-alert report required by spec.md §4.7's
// "Object allocation" step 3. It returns true exactly once per armed
// episode — the first allocation observed while AlertArmed is true — and
// false on every subsequent allocation until ClearAlert or reset rearms it.
func (c *ClassRecord) ConsumeAllocAlert() bool {
	if !c.alertArmed.Load() {
		return false
	}
	return c.allocAlertSent.CompareAndSwap(false, true)
}

// reset zeroes every counter except id/name (spec.md §8 property 3).
func (c *ClassRecord) reset() {
	c.liveBytes.Store(0)
	c.liveCount.Store(0)
	c.cumAlloc.Store(0)
	c.cumFree.Store(0)
	c.lastHeapBytes.Store(0)
	c.lastHeapCount.Store(0)
	c.growthWatermark.Store(0)
	c.alertArmed.Store(false)
	c.allocAlertSent.Store(false)
	c.history = newHistoryRing(32)
}

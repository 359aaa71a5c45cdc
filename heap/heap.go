// Package heap implements the HeapSweeper of spec.md §4.4's heap_sweep
// operation: the host's heap-iteration primitive reports one tagged
// object at a time, which this package batches with
// github.com/joeycumines/go-microbatch before folding the pass into a
// classregistry.Registry in a single HeapSweep call. Each Observe still
// checks the object's generation against the registry and waits for its
// batch to be processed.
package heap

import (
	"context"
	"fmt"
	"sync"
	"time"

	microbatch "github.com/joeycumines/go-microbatch"
	"github.com/sherlok-project/monitor-core/classregistry"
)

// Config tunes the underlying Batcher. Zero values fall back to
// go-microbatch's own defaults (16 objects or 50ms, whichever first).
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
}

// Sweeper drives one heap-sweep pass for a single gcIndex. A Sweeper is
// single-use: construct one per pass with New, feed it every observed
// object via Observe, then call Finish.
type Sweeper struct {
	registry      *classregistry.Registry
	gcIndex       int64
	filterClassID uint64
	hasFilter     bool

	mu      sync.Mutex
	tallies []classregistry.HeapSweepTally
	skipped int

	batcher *microbatch.Batcher[classregistry.HeapSweepTally]
}

// New starts a sweeper for gcIndex. If filterClassID is non-zero, only
// objects belonging to that class are tallied — spec.md §4.4's
// filter_class_id parameter; pass 0 to sweep every class.
func New(registry *classregistry.Registry, gcIndex int64, filterClassID uint64, cfg Config) *Sweeper {
	s := &Sweeper{
		registry:      registry,
		gcIndex:       gcIndex,
		filterClassID: filterClassID,
		hasFilter:     filterClassID != 0,
	}
	s.batcher = microbatch.NewBatcher(&microbatch.BatcherConfig{
		MaxSize:       cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
	}, s.accumulate)
	return s
}

// accumulate is the go-microbatch BatchProcessor: it only appends to the
// running tally slice under a mutex. The actual fold into the registry
// happens once, in Finish, since classregistry.ClassRecord.recordHeapSweep
// replaces (rather than accumulates) a class's last-pass counters — folding
// in partial batches would make the final count depend on batch
// boundaries.
func (s *Sweeper) accumulate(_ context.Context, jobs []classregistry.HeapSweepTally) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tallies = append(s.tallies, jobs...)
	return nil
}

// Observe reports one live tagged object found by the host's
// heap-iteration primitive. handle is the host-reported object handle
// that was passed to Registry.Tag at allocation time. Objects whose
// generation no longer
// matches the registry's current one are dropped — a sweep that spans a
// reset must not count objects that belong to a prior run (spec.md §4.4).
func (s *Sweeper) Observe(ctx context.Context, handle uint64, classID uint64, size int64) error {
	if s.hasFilter && classID != s.filterClassID {
		return nil
	}
	if !s.registry.CurrentObject(handle) {
		s.mu.Lock()
		s.skipped++
		s.mu.Unlock()
		return nil
	}

	result, err := s.batcher.Submit(ctx, classregistry.HeapSweepTally{ClassID: classID, Size: size})
	if err != nil {
		return fmt.Errorf("heap: submit object %d: %w", handle, err)
	}
	return result.Wait(ctx)
}

// Result is the outcome of one completed sweep.
type Result struct {
	// Alerted is the set of classes whose growth-alert watermark was
	// crossed by this pass, per spec.md §4.4's growth-alert policy.
	Alerted []*classregistry.ClassRecord
	// Skipped counts objects dropped for belonging to a stale generation.
	Skipped int
}

// Finish stops accepting observations, waits for the batcher to drain,
// and folds the complete pass into the registry in one call, returning
// the classes whose growth-alert watermark was crossed.
func (s *Sweeper) Finish(ctx context.Context) (Result, error) {
	if err := s.batcher.Shutdown(ctx); err != nil {
		return Result{}, fmt.Errorf("heap: shutdown: %w", err)
	}

	s.mu.Lock()
	tallies := s.tallies
	skipped := s.skipped
	s.mu.Unlock()

	alerted := s.registry.HeapSweep(s.gcIndex, tallies)
	return Result{Alerted: alerted, Skipped: skipped}, nil
}

// Package tracer implements the per-category trace toggles and trigger
// lifetime of spec.md §4.8: arming a trigger on method enter, evaluating
// elapsed/memory thresholds on every monitored exit while armed, and
// emitting the callstack suffix since the last emission as a tagtree
// Node. Repeated crossings for the same thread/category are throttled
// with github.com/joeycumines/go-catrate so a hot loop crossing a
// threshold every iteration does not flood the output sink.
package tracer

import (
	"fmt"
	"sync"
	"time"

	catrate "github.com/joeycumines/go-catrate"
	"github.com/sherlok-project/monitor-core/callstack"
	"github.com/sherlok-project/monitor-core/tagtree"
	"github.com/sherlok-project/monitor-core/threadregistry"
)

// Category is one of the nine trace categories named in spec.md §4.8.
type Category int

const (
	CategoryMethod Category = iota
	CategoryParameter
	CategoryTrigger
	CategoryClass
	CategoryGC
	CategoryContention
	CategoryStack
	CategoryThread
	CategoryException
)

// Options is the options bag a trace category may carry, per spec.md
// §4.8.
type Options struct {
	ElapsedThreshold time.Duration
	MemoryThreshold  int64
	Format           string // "ascii", "tree", or "xml" — chosen by the shell connection, rendering itself is out of scope
	MinStackDepth    int
	ThreadNameFilter string
	OutputFile       string
}

// triggerState tracks one thread's armed trigger. depth is 1 while armed;
// re-entry of the same trigger method does not raise it, so the innermost
// matching exit disarms it (spec.md §4.8).
type triggerState struct {
	methodID uint64
	depth    int
}

// Tracer owns the toggle/options table and per-thread trigger state.
type Tracer struct {
	mu      sync.RWMutex
	enabled map[Category]bool
	options map[Category]Options

	triggers sync.Map // threadID uint64 -> *triggerState

	limiter *catrate.Limiter
	sink    tagtree.Sink
}

// New constructs a Tracer writing to sink. Emission for a given
// (thread, category) is rate-limited to at most rate events per second,
// if rate > 0; pass 0 to disable throttling.
func New(sink tagtree.Sink, rate int) *Tracer {
	t := &Tracer{
		enabled: make(map[Category]bool),
		options: make(map[Category]Options),
		sink:    sink,
	}
	if rate > 0 {
		t.limiter = catrate.NewLimiter(map[time.Duration]int{time.Second: rate})
	}
	return t
}

// Enable turns on a category with the given options.
func (t *Tracer) Enable(cat Category, opts Options) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled[cat] = true
	t.options[cat] = opts
}

// Disable turns off a category.
func (t *Tracer) Disable(cat Category) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled[cat] = false
}

// Enabled reports whether cat is currently on.
func (t *Tracer) Enabled(cat Category) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled[cat]
}

// Sink returns the underlying output sink, for emissions that don't fit
// the per-frame stack-suffix shape of EmitStack (e.g. a bare class-prepare
// trace).
func (t *Tracer) Sink() tagtree.Sink { return t.sink }

// OptionsFor returns the options bag configured for cat.
func (t *Tracer) OptionsFor(cat Category) Options {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.options[cat]
}

// ArmTrigger arms the trigger for threadID on entry of methodID. Arming
// is idempotent: re-entry of an already-armed method changes nothing.
func (t *Tracer) ArmTrigger(threadID, methodID uint64) {
	v, _ := t.triggers.LoadOrStore(threadID, &triggerState{methodID: methodID})
	st := v.(*triggerState)
	if st.methodID == methodID && st.depth == 0 {
		st.depth = 1
	}
}

// DisarmTrigger removes the armed state on an exit of the armed method.
// Returns true if the trigger remains armed for threadID after this call
// (an exit of any other method leaves it armed).
func (t *Tracer) DisarmTrigger(threadID, methodID uint64) (stillArmed bool) {
	v, ok := t.triggers.Load(threadID)
	if !ok {
		return false
	}
	st := v.(*triggerState)
	if st.methodID != methodID {
		return true
	}
	st.depth--
	if st.depth <= 0 {
		t.triggers.Delete(threadID)
		return false
	}
	return true
}

// IsArmed reports whether threadID currently has an armed trigger.
func (t *Tracer) IsArmed(threadID uint64) bool {
	_, ok := t.triggers.Load(threadID)
	return ok
}

// ClearArmed removes any armed trigger for threadID, used by reset
// (spec.md §8: "reset while a trigger is armed clears the armed state").
func (t *Tracer) ClearArmed(threadID uint64) {
	t.triggers.Delete(threadID)
}

// ThresholdReason names which threshold a trigger/contention/out-of-
// memory event crossed; EmitStack writes it as the node's Event
// attribute.
type ThresholdReason string

const (
	ReasonElapsed ThresholdReason = "Elapsed"
	ReasonMemory  ThresholdReason = "Memory"
)

// EvaluateExit checks the elapsed/memory thresholds configured for
// CategoryTrigger against one monitored exit and reports which one, if
// any, was crossed; it emits nothing itself (the caller emits the new
// callstack suffix with EmitStack). allow reports whether an emission
// would pass the rate limiter; if false, the threshold was crossed but
// the emission is throttled.
func (t *Tracer) EvaluateExit(thread *threadregistry.ThreadRecord, elapsed time.Duration, memoryDelta int64, kind string) (reason ThresholdReason, crossed, allow bool) {
	opts := t.OptionsFor(CategoryTrigger)

	switch {
	case opts.ElapsedThreshold > 0 && elapsed > opts.ElapsedThreshold:
		reason, crossed = ReasonElapsed, true
	case opts.MemoryThreshold > 0 && memoryDelta > opts.MemoryThreshold:
		reason, crossed = ReasonMemory, true
	default:
		return "", false, false
	}

	allow = true
	if t.limiter != nil {
		_, allow = t.limiter.Allow(struct {
			thread uint64
			kind   string
		}{thread.ID, kind})
	}
	return reason, crossed, allow
}

// EmitStack builds a Trace Node for frames (the new suffix since the
// last emission, per the sequence cursor) and writes it to the sink. The
// final frame carries the trace-event kind ("Trigger", "Contention",
// "OutOfMemory"), per spec.md §4.8.
func (t *Tracer) EmitStack(kind string, reason ThresholdReason, info string, thread *threadregistry.ThreadRecord, frames []callstack.Frame) error {
	node := tagtree.New(tagtree.KindTrace, kind)
	node.With("ThreadId", fmt.Sprintf("%d", thread.ID), tagtree.AttrInteger)
	if reason != "" {
		node.With("Event", string(reason), tagtree.AttrString)
	}
	if info != "" {
		node.With("Info", info, tagtree.AttrString)
	}

	for i, f := range frames {
		child := node.Child(tagtree.KindTrace, "Method")
		if f.Method != nil {
			child.With("MethodName", f.Method.Name, tagtree.AttrString)
			child.With("ClassName", f.Method.ClassName, tagtree.AttrString)
			child.With("NrCalls", fmt.Sprintf("%d", f.Method.Snapshot().NrCalls), tagtree.AttrInteger)
		}
		child.With("Depth", fmt.Sprintf("%d", f.Depth), tagtree.AttrInteger)
		child.With("CpuTime", fmt.Sprintf("%d", f.EnterCPU), tagtree.AttrMicrosecond)
		if i == len(frames)-1 {
			child.With("Event", kind, tagtree.AttrString)
		}
	}

	return t.sink.Write(node)
}

// Reset clears every armed trigger, per spec.md §8's round-trip property.
func (t *Tracer) Reset() {
	t.triggers.Range(func(key, _ any) bool {
		t.triggers.Delete(key)
		return true
	})
}

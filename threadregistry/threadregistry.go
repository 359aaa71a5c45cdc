// Package threadregistry tracks one ThreadRecord per live thread the
// event source reports, per spec.md §4.6: identity, a CallStack, a
// parallel DebugStack for enter/exit tracing, a CPU-time baseline, the
// three-state contention state machine, and the processing-jni
// reentrancy guard.
package threadregistry

import (
	"sync"
	"time"

	"github.com/sherlok-project/monitor-core/callstack"
)

// ContentionState is one of the three states named in spec.md §4.6.
type ContentionState int

const (
	Runnable ContentionState = iota
	WaitingForMonitor
	InWait
)

func (s ContentionState) String() string {
	switch s {
	case WaitingForMonitor:
		return "WAITING_FOR_MONITOR"
	case InWait:
		return "IN_WAIT"
	default:
		return "RUNNABLE"
	}
}

// ThreadRecord is one per live thread, per spec.md §3.
type ThreadRecord struct {
	ID         uint64
	Name       string
	CallStack  *callstack.Stack
	DebugStack *callstack.Stack

	mu              sync.Mutex
	cpuBaseline     int64
	state           ContentionState
	lastStateChange time.Time
	processingJNI   bool
}

func newRecord(id uint64, name string) *ThreadRecord {
	return &ThreadRecord{
		ID:         id,
		Name:       name,
		CallStack:  callstack.New(),
		DebugStack: callstack.New(),
		state:      Runnable,
	}
}

// State returns the current contention state.
func (t *ThreadRecord) State() ContentionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// CPUBaseline returns the stored CPU-time baseline.
func (t *ThreadRecord) CPUBaseline() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cpuBaseline
}

// SetCPUBaseline stores a new CPU-time baseline, taken at method entry.
func (t *ThreadRecord) SetCPUBaseline(v int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cpuBaseline = v
}

// ProcessingJNI reports whether the reentrancy guard is set, per spec.md
// §4.6: "callbacks observing a set flag return immediately without
// accounting."
func (t *ThreadRecord) ProcessingJNI() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.processingJNI
}

// EnterJNI sets the reentrancy guard around a call-out that could itself
// synthesize events (e.g. toString reflection for parameter dumps).
// Callers must pair it with ExitJNI, typically via defer.
func (t *ThreadRecord) EnterJNI() {
	t.mu.Lock()
	t.processingJNI = true
	t.mu.Unlock()
}

// ExitJNI clears the reentrancy guard.
func (t *ThreadRecord) ExitJNI() {
	t.mu.Lock()
	t.processingJNI = false
	t.mu.Unlock()
}

// ContentionEvent is one transition input to the state machine of
// spec.md §4.6.
type ContentionEvent int

const (
	WaitEnterContended ContentionEvent = iota
	WaitEnterDone
	WaitCall
	WaitReturn
)

// Apply drives the contention state machine. It returns the wait
// duration (now - lastStateChange) and true when the transition emits a
// wait_duration event (the two RUNNABLE-reaching edges); events received
// in an unexpected state are ignored — treated as lost, no latching —
// per spec.md §4.6.
func (t *ThreadRecord) Apply(ev ContentionEvent, now time.Time) (waitDuration time.Duration, emit bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	from := t.state
	var to ContentionState
	switch ev {
	case WaitEnterContended:
		if from != Runnable {
			return 0, false
		}
		to = WaitingForMonitor
	case WaitEnterDone:
		if from != WaitingForMonitor {
			return 0, false
		}
		to = Runnable
		emit = true
	case WaitCall:
		if from != Runnable {
			return 0, false
		}
		to = InWait
	case WaitReturn:
		if from != InWait {
			return 0, false
		}
		to = Runnable
		emit = true
	default:
		return 0, false
	}

	waitDuration = now.Sub(t.lastStateChange)
	t.state = to
	t.lastStateChange = now
	return waitDuration, emit
}

// Registry maps thread identity to ThreadRecord. Lookup mirrors the
// runtime's thread-local slot described in spec.md §4.6: O(1) retrieval
// keyed by whatever opaque thread id the event source provides.
type Registry struct {
	mu      sync.RWMutex
	threads map[uint64]*ThreadRecord
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{threads: make(map[uint64]*ThreadRecord)}
}

// Lookup retrieves the ThreadRecord for id, creating one on first sight,
// per spec.md §4.7 step 1.
func (r *Registry) Lookup(id uint64, name string) *ThreadRecord {
	r.mu.RLock()
	t, ok := r.threads[id]
	r.mu.RUnlock()
	if ok {
		return t
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok = r.threads[id]; ok {
		return t
	}
	t = newRecord(id, name)
	r.threads[id] = t
	return t
}

// Find looks up a thread without creating it.
func (r *Registry) Find(id uint64) (*ThreadRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.threads[id]
	return t, ok
}

// OnThreadEnd removes a thread's record, per the ThreadEnd event named in
// spec.md §2.
func (r *Registry) OnThreadEnd(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.threads, id)
}

// Len returns the number of live threads tracked.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.threads)
}

// Range calls f for every live thread. f must not call back into the
// Registry.
func (r *Registry) Range(f func(*ThreadRecord) bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.threads {
		if !f(t) {
			return
		}
	}
}

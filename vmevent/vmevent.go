// Package vmevent defines the abstract contract the monitor core
// consumes from the host managed runtime — the "out of scope" tool
// interface of spec.md §1, treated as an abstract event source. It also
// provides Fake, a deterministic in-memory Source used by tests and
// cmd/sherlokd to replay a fixed event script without a real
// JVMTI-equivalent host.
package vmevent

import "context"

// Kind tags the union of events the event source can deliver, covering
// the full callback surface named across spec.md §4.6 and §4.7.
type Kind int

const (
	ClassPrepare Kind = iota
	ClassUnload
	MethodEntry
	MethodExit
	ObjectAlloc
	ObjectFree
	FieldModification
	ExceptionThrow
	ExceptionCatch
	MonitorContendedEnter
	MonitorContendedEntered
	MonitorWait
	MonitorWaited
	ThreadStart
	ThreadEnd
	GCStart
	GCFinish
)

// Event is one delivered occurrence. Only the fields relevant to Kind
// are populated; callers switch on Kind before reading the rest.
type Event struct {
	Kind Kind

	ThreadID   uint64
	ThreadName string

	ClassID   uint64
	ClassName string
	SuperID   uint64
	HasSuper  bool

	MethodID   uint64
	MethodName string
	Signature  string

	// ObjectHandle identifies the tagged allocation for ObjectAlloc/Free.
	ObjectHandle uint64
	Size         int64
	IsClassObj   bool

	FieldName string

	ExceptionName string
	// FrameCount is the stack depth the runtime reports at exception
	// catch time, per spec.md §4.3's exception-unwind reconciliation.
	FrameCount int

	// CPUTime/WallTime are the source's timestamps at the moment of the
	// event, in microseconds; the dispatcher subtracts them directly
	// (method and contention durations) without going through clock.Clock.
	CPUTime  int64
	WallTime int64

	// GCIndex identifies a GC pass for GCStart/GCFinish and heap-sweep
	// correlation.
	GCIndex int64
}

// Source is the consumed contract: a channel of Events. Implementations
// must close Events when Run returns.
type Source interface {
	// Run starts delivering events until ctx is canceled or the source
	// is exhausted, then closes the channel it returned from Events.
	Run(ctx context.Context) error
	// Events returns the channel events are delivered on. Must be safe
	// to call before Run.
	Events() <-chan Event
}

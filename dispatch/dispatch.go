// Package dispatch implements the EventDispatcher hot path of spec.md
// §4.7: the per-callback sequence every vmevent.Event goes through —
// thread-record lookup, the processing-jni reentrancy check, a shared
// registry lock, and the mutation of exactly the records one event
// touches, without any additional per-record locking.
package dispatch

import (
	"strconv"
	"time"

	"github.com/sherlok-project/monitor-core/callstack"
	"github.com/sherlok-project/monitor-core/classregistry"
	"github.com/sherlok-project/monitor-core/clock"
	"github.com/sherlok-project/monitor-core/diag"
	"github.com/sherlok-project/monitor-core/exceptionregistry"
	"github.com/sherlok-project/monitor-core/methodregistry"
	"github.com/sherlok-project/monitor-core/tagtree"
	"github.com/sherlok-project/monitor-core/threadregistry"
	"github.com/sherlok-project/monitor-core/tracer"
	"github.com/sherlok-project/monitor-core/vmevent"
)

// GCQueue receives a deferred GC-report command on every GC finish. In
// the assembled monitor it is the repeat.Loop, which owns the stacked
// command queue and is woken by the push.
type GCQueue interface {
	PushGCReport(gcIndex int64)
}

// Dispatcher wires together every registry and routes vmevent.Events to
// the handler of spec.md §4.7.
type Dispatcher struct {
	Classes    *classregistry.Registry
	Methods    *methodregistry.Registry
	Threads    *threadregistry.Registry
	Exceptions *exceptionregistry.Registry
	Clock      *clock.Clock
	Tracer     *tracer.Tracer
	Log        *diag.Logger
	GCQueue    GCQueue

	// OutOfMemoryClass is the exception class name treated as out of
	// memory: a throw of it is always traced, with Info "OutOfMemory". No
	// thread, class or statistic dump is emitted for it.
	OutOfMemoryClass string
	// TraceExceptionNames is the configured set of exception names that
	// trigger a trace regardless of the out-of-memory check.
	TraceExceptionNames map[string]bool

	gcStart time.Time
}

// New constructs a Dispatcher.
func New(classes *classregistry.Registry, methods *methodregistry.Registry, threads *threadregistry.Registry, exceptions *exceptionregistry.Registry, clk *clock.Clock, tr *tracer.Tracer, log *diag.Logger) *Dispatcher {
	return &Dispatcher{
		Classes:    classes,
		Methods:    methods,
		Threads:    threads,
		Exceptions: exceptions,
		Clock:      clk,
		Tracer:     tr,
		Log:        log,
	}
}

// Dispatch routes one event, implementing spec.md §4.7's common preamble
// (thread lookup, processing-jni check) before calling the per-kind
// handler.
func (d *Dispatcher) Dispatch(ev vmevent.Event) {
	thread := d.Threads.Lookup(ev.ThreadID, ev.ThreadName)
	if thread.ProcessingJNI() {
		return
	}

	switch ev.Kind {
	case vmevent.ClassPrepare:
		d.onClassPrepare(ev)
	case vmevent.ClassUnload:
		d.onClassUnload(ev)
	case vmevent.MethodEntry:
		d.onMethodEntry(ev, thread)
	case vmevent.MethodExit:
		d.onMethodExit(ev, thread)
	case vmevent.ObjectAlloc:
		d.onObjectAlloc(ev, thread)
	case vmevent.ObjectFree:
		d.onObjectFree(ev)
	case vmevent.FieldModification:
		d.onFieldModification(ev, thread)
	case vmevent.ExceptionThrow:
		d.onExceptionThrow(ev, thread)
	case vmevent.ExceptionCatch:
		d.onExceptionCatch(ev, thread)
	case vmevent.MonitorContendedEnter:
		thread.Apply(threadregistry.WaitEnterContended, eventTime(ev))
	case vmevent.MonitorContendedEntered:
		d.onContentionDone(ev, thread)
	case vmevent.MonitorWait:
		thread.Apply(threadregistry.WaitCall, eventTime(ev))
	case vmevent.MonitorWaited:
		d.onWaitReturn(ev, thread)
	case vmevent.ThreadStart:
		// thread already created by Lookup above
	case vmevent.ThreadEnd:
		d.Threads.OnThreadEnd(ev.ThreadID)
	case vmevent.GCStart:
		d.gcStart = time.Now()
	case vmevent.GCFinish:
		if !d.gcStart.IsZero() {
			d.Log.Info().Int64("gc_index", ev.GCIndex).Int64("duration_ms", time.Since(d.gcStart).Milliseconds()).Log("gc_finish")
		}
		if d.GCQueue != nil {
			d.GCQueue.PushGCReport(ev.GCIndex)
		}
	}
}

func (d *Dispatcher) onClassPrepare(ev vmevent.Event) {
	cls := d.Classes.OnClassPrepare(ev.ClassID, ev.ClassName, ev.SuperID, ev.HasSuper)
	if d.Tracer.Enabled(tracer.CategoryClass) {
		node := tagtree.New(tagtree.KindTrace, "Class")
		node.With("ClassName", cls.Name, tagtree.AttrString)
		_ = d.Tracer.Sink().Write(node)
	}
}

func (d *Dispatcher) onClassUnload(ev vmevent.Event) {
	removed := d.Methods.DeleteClass(ev.ClassID)
	d.Log.Info().Uint64("class_id", ev.ClassID).Int("methods_removed", removed).Log("class_unload")
}

// onMethodEntry implements spec.md §4.7's "Method enter" steps.
func (d *Dispatcher) onMethodEntry(ev vmevent.Event, thread *threadregistry.ThreadRecord) {
	m, ok := d.Methods.Find(ev.MethodID)
	if !ok {
		// unknown methods do not contribute frames, spec.md §4.7 step 1
		return
	}

	if m.Has(methodregistry.FlagMonitored) {
		frame := callstack.Frame{
			Method:    m,
			EnterCPU:  ev.CPUTime,
			EnterWall: ev.WallTime,
			Location:  m.Location,
		}
		thread.CallStack.Push(frame)
		thread.CallStack.HighMemoryMark(0)
		if m.Has(methodregistry.FlagTimed) {
			thread.SetCPUBaseline(ev.CPUTime)
		}
	}

	if m.Has(methodregistry.FlagTrigger) {
		wasArmed := d.Tracer.IsArmed(thread.ID)
		d.Tracer.ArmTrigger(thread.ID, m.ID)
		if !wasArmed {
			// a fresh arm starts a new trigger window: the sequence cursor
			// restarts at the bottom so the first emission in this window
			// carries every frame from the trigger method down, spec.md
			// §4.8/§8 scenario 3.
			thread.CallStack.ResetCursor()
		}
	}

	if m.Has(methodregistry.FlagTracedEnterExit) {
		thread.DebugStack.Push(callstack.Frame{Method: m, EnterCPU: ev.CPUTime, EnterWall: ev.WallTime})
	}
}

// onMethodExit implements spec.md §4.7's "Method exit" steps.
func (d *Dispatcher) onMethodExit(ev vmevent.Event, thread *threadregistry.ThreadRecord) {
	m, ok := d.Methods.Find(ev.MethodID)
	if !ok {
		return
	}

	top, hasTop := thread.CallStack.Top()
	var matched bool
	var f callstack.Frame
	if hasTop && top.Method == m {
		matched = true
		f = top
	} else {
		// exception-unwind mismatch: pop until top matches or stack empties,
		// spec.md §4.7 step 2.
		for {
			cand, ok := thread.CallStack.Top()
			if !ok || cand.Method == m {
				break
			}
			thread.CallStack.Pop()
		}
		if cand, ok := thread.CallStack.Top(); ok && cand.Method == m {
			matched = true
			f = cand
		}
	}

	var cpu, elapsed, memoryDelta int64
	if matched {
		cpu = maxZero(ev.CPUTime - f.EnterCPU)
		elapsed = maxZero(ev.WallTime - f.EnterWall)
		memoryDelta = thread.CallStack.MemoryDelta(f.MemoryAtEnter)
		m.RecordCall(cpu, elapsed)
	}

	// The trigger suffix is the new stack frames since the last emission,
	// including the frame about to exit (spec.md §8 scenario 3), so it
	// must be captured before the matching Pop below removes it.
	var suffix []callstack.Frame
	crossed, allow := false, false
	var reason tracer.ThresholdReason
	if matched && d.Tracer.IsArmed(thread.ID) {
		reason, crossed, allow = d.Tracer.EvaluateExit(thread, time.Duration(elapsed)*time.Microsecond, memoryDelta, "Trigger")
		if crossed && allow {
			suffix = append([]callstack.Frame(nil), thread.CallStack.Suffix()...)
		}
	}

	if matched {
		thread.CallStack.Pop()
	}

	if m.Has(methodregistry.FlagTracedEnterExit) {
		if dbg, ok := thread.DebugStack.Top(); ok && dbg.Method == m {
			thread.DebugStack.Pop()
		}
	}

	if d.Tracer.IsArmed(thread.ID) {
		d.Tracer.DisarmTrigger(thread.ID, m.ID)
		if suffix != nil {
			_ = d.Tracer.EmitStack("Trigger", reason, formatInfo(elapsed, memoryDelta, reason), thread, suffix)
			thread.CallStack.AdvanceCursor()
		}
	}
}

// maxZero clamps to zero, matching spec.md's max(0, now-baseline) contract
// for method-exit timing.
func maxZero(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

// eventTime interprets an event's WallTime field as microseconds, the
// same unit method-exit timing uses — the deterministic event sources
// this package consumes report already-elapsed ticks directly,
// independent of this process's own clock.Clock.
func eventTime(ev vmevent.Event) time.Time {
	return time.UnixMicro(ev.WallTime)
}

func formatInfo(elapsedMicros, memoryDelta int64, reason tracer.ThresholdReason) string {
	if reason == tracer.ReasonMemory {
		return strconv.FormatInt(memoryDelta, 10)
	}
	return strconv.FormatInt(elapsedMicros/1000, 10)
}

// onObjectAlloc implements spec.md §4.7's "Object allocation" steps.
func (d *Dispatcher) onObjectAlloc(ev vmevent.Event, thread *threadregistry.ThreadRecord) {
	context := ev.ClassID
	if top, ok := thread.CallStack.Top(); ok && top.Method != nil {
		context = top.Method.ClassID
	}

	if d.Classes.CurrentObject(ev.ObjectHandle) {
		// re-tag (rare): the runtime re-reported an allocation for a
		// handle that is already live, e.g. a realloc — subtract the old
		// size from the old context and re-credit to the new one.
		d.Classes.Retag(ev.ObjectHandle, context)
	} else {
		d.Classes.Tag(ev.ObjectHandle, context, ev.Size, ev.IsClassObj)
	}
	thread.CallStack.HighMemoryMark(ev.Size)

	if cls, ok := d.Classes.Find(context); ok && cls.ConsumeAllocAlert() {
		d.emitGrowthAlert(cls)
	}
}

// emitGrowthAlert reports a class's growth-alert crossing exactly once per
// armed episode, spec.md §4.7's "Object allocation" step 3.
func (d *Dispatcher) emitGrowthAlert(cls *classregistry.ClassRecord) {
	if !d.Tracer.Enabled(tracer.CategoryClass) {
		return
	}
	node := tagtree.New(tagtree.KindTrace, "GrowthAlert")
	node.With("ClassName", cls.Name, tagtree.AttrString)
	node.With("LiveBytes", strconv.FormatInt(cls.LiveBytes(), 10), tagtree.AttrInteger)
	_ = d.Tracer.Sink().Write(node)
}

// onObjectFree implements spec.md §4.7's "Object free" step.
func (d *Dispatcher) onObjectFree(ev vmevent.Event) {
	d.Classes.Untag(ev.ObjectHandle)
}

// onFieldModification implements spec.md §4.7's field-modification rule:
// treated as allocation of the referenced payload, attributed to the
// modifying method's class in the context of the thread's top frame.
func (d *Dispatcher) onFieldModification(ev vmevent.Event, thread *threadregistry.ThreadRecord) {
	if top, ok := thread.CallStack.Top(); ok && top.Method != nil {
		if d.Classes.CurrentObject(ev.ObjectHandle) {
			d.Classes.Retag(ev.ObjectHandle, top.Method.ClassID)
		} else {
			d.Classes.Tag(ev.ObjectHandle, top.Method.ClassID, ev.Size, false)
		}
	}
}

// onExceptionThrow implements spec.md §4.7's "Exception" classification.
func (d *Dispatcher) onExceptionThrow(ev vmevent.Event, thread *threadregistry.ThreadRecord) {
	d.Exceptions.Record(ev.ExceptionName)

	isOOM := ev.ExceptionName == d.OutOfMemoryClass
	traced := d.TraceExceptionNames[ev.ExceptionName] || isOOM
	if !traced {
		return
	}

	node := tagtree.New(tagtree.KindTrace, "Exception")
	node.With("ThreadId", strconv.FormatUint(thread.ID, 10), tagtree.AttrInteger)
	node.With("ClassName", ev.ExceptionName, tagtree.AttrString)
	node.With("Event", "Throw", tagtree.AttrString)
	if isOOM {
		node.With("Info", "OutOfMemory", tagtree.AttrString)
	}
	_ = d.Tracer.Sink().Write(node)
	// An out-of-memory throw produces only this one Exception node; no
	// thread, class or statistic dump follows it, here or elsewhere.
}

// onExceptionCatch implements spec.md §4.7/§8 scenario 5's exception-unwind
// reconciliation: every frame above the reported depth is a synthesized
// exit, so each is popped individually and charged against its method's
// call counters rather than discarded by a bare Reset.
func (d *Dispatcher) onExceptionCatch(ev vmevent.Event, thread *threadregistry.ThreadRecord) {
	for thread.CallStack.Depth() > ev.FrameCount {
		f, ok := thread.CallStack.Pop()
		if !ok {
			break
		}
		if f.Method == nil {
			continue
		}
		cpu := maxZero(ev.CPUTime - f.EnterCPU)
		elapsed := maxZero(ev.WallTime - f.EnterWall)
		f.Method.RecordCall(cpu, elapsed)
	}
}

func (d *Dispatcher) onContentionDone(ev vmevent.Event, thread *threadregistry.ThreadRecord) {
	wait, emit := thread.Apply(threadregistry.WaitEnterDone, eventTime(ev))
	if !emit {
		return
	}
	d.recordContention(thread, wait)
	d.emitContention(thread, wait)
}

func (d *Dispatcher) onWaitReturn(ev vmevent.Event, thread *threadregistry.ThreadRecord) {
	wait, emit := thread.Apply(threadregistry.WaitReturn, eventTime(ev))
	if !emit {
		return
	}
	d.recordContention(thread, wait)
	d.emitContention(thread, wait)
}

// recordContention attributes a completed contention wait to the
// currently-active method (the frame on top of the thread's callstack),
// populating MethodRecord's contention-sum/nr-contentions counters.
func (d *Dispatcher) recordContention(thread *threadregistry.ThreadRecord, wait time.Duration) {
	if top, ok := thread.CallStack.Top(); ok && top.Method != nil {
		top.Method.RecordContention(wait.Microseconds())
	}
}

func (d *Dispatcher) emitContention(thread *threadregistry.ThreadRecord, wait time.Duration) {
	if !d.Tracer.Enabled(tracer.CategoryContention) {
		return
	}
	opts := d.Tracer.OptionsFor(tracer.CategoryContention)
	if opts.ElapsedThreshold > 0 && wait < opts.ElapsedThreshold {
		return
	}
	_ = d.Tracer.EmitStack("Contention", "", strconv.FormatInt(wait.Milliseconds(), 10), thread, thread.CallStack.Frames())
}

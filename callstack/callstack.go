// Package callstack implements the per-thread stack of active method
// frames described in spec.md §4.3: O(1) push/pop, a sequence cursor for
// trigger-window re-emission, a monotonic memory high-water mark, and a
// reset-to-depth operation used to reconcile exception unwinds.
package callstack

import "github.com/sherlok-project/monitor-core/methodregistry"

// Frame is one active method invocation, spec.md §3's CallFrame.
type Frame struct {
	Method       *methodregistry.MethodRecord
	EnterCPU     int64 // clock ticks/microseconds at entry, caller-defined unit
	EnterWall    int64
	Depth        int
	MemoryAtEnter int64
	Location     methodregistry.SourceLocation
}

// Stack is a growable vector of Frames belonging to one thread.
//
// Stack is not safe for concurrent use — per spec.md §5, "all events for a
// given thread are totally ordered", so only the owning thread (or, for
// dumps, a caller holding the threads lock) ever touches a given Stack.
type Stack struct {
	frames []Frame
	// cursor is the sequence cursor: the number of frames already emitted
	// by the current trigger window (spec.md §4.3/§4.8).
	cursor int
	// highMemory is the running high-water mark fed by allocation events
	// while frames are on the stack (spec.md's "memory high-water mark").
	highMemory int64
}

// New constructs an empty Stack.
func New() *Stack {
	return &Stack{}
}

// Push adds a new active frame.
func (s *Stack) Push(f Frame) {
	f.Depth = len(s.frames)
	f.MemoryAtEnter = s.highMemory
	s.frames = append(s.frames, f)
}

// Pop removes and returns the top frame. Popping an empty Stack returns
// the zero Frame and false — spec.md §8's boundary behavior "an exit
// without a matching enter is ignored (no counter goes negative)" is
// enforced by callers checking the bool, not by panicking here.
func (s *Stack) Pop() (Frame, bool) {
	if len(s.frames) == 0 {
		return Frame{}, false
	}
	n := len(s.frames) - 1
	f := s.frames[n]
	s.frames = s.frames[:n]
	if s.cursor > len(s.frames) {
		s.cursor = len(s.frames)
	}
	return f, true
}

// Top returns the active frame without removing it.
func (s *Stack) Top() (Frame, bool) {
	if len(s.frames) == 0 {
		return Frame{}, false
	}
	return s.frames[len(s.frames)-1], true
}

// Empty reports whether the stack has no active frames.
func (s *Stack) Empty() bool { return len(s.frames) == 0 }

// Depth returns the number of active frames.
func (s *Stack) Depth() int { return len(s.frames) }

// Reset truncates the stack to depth frames, used by the exception-catch
// handler to restore the stack to the frame count the runtime reports
// (spec.md §4.3). Popped frames are discarded without side effects —
// callers that need per-frame accounting on unwind must pop individually.
func (s *Stack) Reset(depth int) {
	if depth < 0 {
		depth = 0
	}
	if depth < len(s.frames) {
		s.frames = s.frames[:depth]
	}
	if s.cursor > len(s.frames) {
		s.cursor = len(s.frames)
	}
}

// Frames returns the currently active frames, oldest first. The returned
// slice must not be retained past the next mutating call.
func (s *Stack) Frames() []Frame { return s.frames }

// HighMemoryMark feeds an allocation of size bytes into the running
// high-water mark, returning the new mark.
func (s *Stack) HighMemoryMark(size int64) int64 {
	s.highMemory += size
	return s.highMemory
}

// MemoryDelta returns highWater - entryMark for a frame's entry mark,
// spec.md §4.7's "memory-delta = high-water − entry-mark".
func (s *Stack) MemoryDelta(entryMark int64) int64 {
	return s.highMemory - entryMark
}

// Cursor returns the sequence cursor: the count of frames already emitted
// in the current trigger window.
func (s *Stack) Cursor() int { return s.cursor }

// AdvanceCursor moves the sequence cursor to the current depth, marking
// every active frame as emitted. spec.md §4.8/§8 property 6: "the
// sequence cursor ≤ depth at all times."
func (s *Stack) AdvanceCursor() {
	s.cursor = len(s.frames)
}

// ResetCursor zeroes the sequence cursor, used when a trigger re-arms.
func (s *Stack) ResetCursor() { s.cursor = 0 }

// Suffix returns the frames from the sequence cursor to the top of stack
// — the "new suffix" a trigger re-emits, per spec.md §4.8.
func (s *Stack) Suffix() []Frame {
	if s.cursor >= len(s.frames) {
		return nil
	}
	return s.frames[s.cursor:]
}

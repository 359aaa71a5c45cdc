package tracer

import (
	"testing"
	"time"

	"github.com/sherlok-project/monitor-core/callstack"
	"github.com/sherlok-project/monitor-core/methodregistry"
	"github.com/sherlok-project/monitor-core/tagtree"
	"github.com/sherlok-project/monitor-core/threadregistry"
	"github.com/stretchr/testify/require"
)

func TestTracer_EnableDisableToggles(t *testing.T) {
	tr := New(&tagtree.MemorySink{}, 0)
	require.False(t, tr.Enabled(CategoryMethod))

	tr.Enable(CategoryMethod, Options{MinStackDepth: 1})
	require.True(t, tr.Enabled(CategoryMethod))
	require.Equal(t, 1, tr.OptionsFor(CategoryMethod).MinStackDepth)

	tr.Disable(CategoryMethod)
	require.False(t, tr.Enabled(CategoryMethod))
}

func TestTracer_ArmDisarmTriggerIdempotentReentry(t *testing.T) {
	tr := New(&tagtree.MemorySink{}, 0)
	tr.ArmTrigger(1, 100)
	require.True(t, tr.IsArmed(1))

	tr.ArmTrigger(1, 100) // re-entry
	require.False(t, tr.DisarmTrigger(1, 100), "innermost exit disarms")
	require.False(t, tr.DisarmTrigger(1, 100), "outer exit finds nothing armed")
	require.False(t, tr.IsArmed(1))
}

func TestTracer_ClearArmedAndReset(t *testing.T) {
	tr := New(&tagtree.MemorySink{}, 0)
	tr.ArmTrigger(1, 100)
	tr.Reset()
	require.False(t, tr.IsArmed(1))
}

func TestTracer_EvaluateExitCrossesElapsedThreshold(t *testing.T) {
	tr := New(&tagtree.MemorySink{}, 0)
	tr.Enable(CategoryTrigger, Options{ElapsedThreshold: 10 * time.Millisecond})

	thread := &threadregistry.ThreadRecord{ID: 1}
	reason, crossed, allow := tr.EvaluateExit(thread, 25*time.Millisecond, 0, "Trigger")
	require.True(t, crossed)
	require.True(t, allow)
	require.Equal(t, ReasonElapsed, reason)
}

func TestTracer_EvaluateExitBelowThresholdDoesNotCross(t *testing.T) {
	tr := New(&tagtree.MemorySink{}, 0)
	tr.Enable(CategoryTrigger, Options{ElapsedThreshold: 100 * time.Millisecond})

	thread := &threadregistry.ThreadRecord{ID: 1}
	_, crossed, _ := tr.EvaluateExit(thread, 5*time.Millisecond, 0, "Trigger")
	require.False(t, crossed)
}

func TestTracer_EmitStackWritesNodeWithFinalFrameKind(t *testing.T) {
	sink := &tagtree.MemorySink{}
	tr := New(sink, 0)
	thread := &threadregistry.ThreadRecord{ID: 1}

	frames := []callstack.Frame{
		{Method: &methodregistry.MethodRecord{Name: "a", ClassName: "A"}, Depth: 0},
		{Method: &methodregistry.MethodRecord{Name: "b", ClassName: "B"}, Depth: 1},
	}

	err := tr.EmitStack("Trigger", ReasonElapsed, "25", thread, frames)
	require.NoError(t, err)
	require.Len(t, sink.Nodes, 1)
	require.Len(t, sink.Nodes[0].Children, 2)
	kind, ok := sink.Nodes[0].Children[1].Get("Event")
	require.True(t, ok)
	require.Equal(t, "Trigger", kind)
}

func TestTracer_EvaluateExitThrottlesRepeatedCrossings(t *testing.T) {
	tr := New(&tagtree.MemorySink{}, 1)
	tr.Enable(CategoryTrigger, Options{ElapsedThreshold: 1 * time.Millisecond})
	thread := &threadregistry.ThreadRecord{ID: 1}

	_, crossed1, allow1 := tr.EvaluateExit(thread, 10*time.Millisecond, 0, "Trigger")
	_, crossed2, allow2 := tr.EvaluateExit(thread, 10*time.Millisecond, 0, "Trigger")

	require.True(t, crossed1)
	require.True(t, crossed2)
	require.True(t, allow1)
	require.False(t, allow2, "second crossing within the same second should be throttled")
}

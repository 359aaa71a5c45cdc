package command

import (
	"testing"
	"time"

	"github.com/sherlok-project/monitor-core/classregistry"
	"github.com/sherlok-project/monitor-core/config"
	"github.com/sherlok-project/monitor-core/diag"
	"github.com/sherlok-project/monitor-core/exceptionregistry"
	"github.com/sherlok-project/monitor-core/methodregistry"
	"github.com/sherlok-project/monitor-core/tagtree"
	"github.com/sherlok-project/monitor-core/threadregistry"
	"github.com/sherlok-project/monitor-core/tracer"
	"github.com/stretchr/testify/require"
)

type fakeGC struct{ calls int }

func (f *fakeGC) TriggerGC() error { f.calls++; return nil }

type fakeRepeat struct {
	armed       time.Duration
	disarmed    bool
	lastCommand string
}

func (f *fakeRepeat) Arm(period time.Duration) { f.armed = period }
func (f *fakeRepeat) Disarm()                  { f.disarmed = true }
func (f *fakeRepeat) SetLastCommand(cmd string) { f.lastCommand = cmd }

func newTestInterpreter() (*Interpreter, *tagtree.MemorySink, *fakeGC, *fakeRepeat) {
	sink := &tagtree.MemorySink{}
	gc := &fakeGC{}
	rep := &fakeRepeat{}
	in := &Interpreter{
		Classes:    classregistry.New(classregistry.GrowthAlertPolicy{Factor: 2, MinBytes: 0}),
		Methods:    methodregistry.New(methodregistry.ScopeFilter{}),
		Threads:    threadregistry.New(),
		Exceptions: exceptionregistry.New(),
		Tracer:     tracer.New(sink, 0),
		Config:     config.New(),
		Sink:       sink,
		GC:         gc,
		Repeat:     rep,
		Log:        diag.Discard,
	}
	return in, sink, gc, rep
}

func TestInterpreter_UnknownVerbFails(t *testing.T) {
	in, sink, _, _ := newTestInterpreter()
	err := in.Execute("bogus")
	require.Error(t, err)
	require.Len(t, sink.Nodes, 1)
	info, _ := sink.Nodes[0].Get("Info")
	require.Equal(t, "Command failed", info)
}

func TestInterpreter_SetUpdatesConfig(t *testing.T) {
	in, _, _, _ := newTestInterpreter()
	require.NoError(t, in.Execute("set Port=9100"))
	require.Equal(t, 9100, in.Config.Snapshot().Port)
}

func TestInterpreter_GCDelegatesToCollaborator(t *testing.T) {
	in, _, gc, _ := newTestInterpreter()
	require.NoError(t, in.Execute("gc"))
	require.Equal(t, 1, gc.calls)
}

func TestInterpreter_RepeatArmsLoop(t *testing.T) {
	in, _, _, rep := newTestInterpreter()
	require.NoError(t, in.Execute("repeat 5"))
	require.Equal(t, 5*time.Second, rep.armed)
}

func TestInterpreter_RepeatWithZeroDisarms(t *testing.T) {
	in, _, _, rep := newTestInterpreter()
	require.NoError(t, in.Execute("repeat 0"))
	require.True(t, rep.disarmed)
}

func TestInterpreter_TraceAddEnablesCategory(t *testing.T) {
	in, _, _, _ := newTestInterpreter()
	require.NoError(t, in.Execute("trace add contention -m1000"))
	require.True(t, in.Tracer.Enabled(tracer.CategoryContention))
	require.Equal(t, time.Millisecond, in.Tracer.OptionsFor(tracer.CategoryContention).ElapsedThreshold)
}

func TestInterpreter_LsmDumpsRegisteredMethods(t *testing.T) {
	in, sink, _, _ := newTestInterpreter()
	in.Classes.OnClassPrepare(1, "com.foo.Bar", 0, false)
	m := in.Methods.Register(1, 1, "com.foo.Bar", "baz", "()V")
	m.RecordCall(10, 20)

	require.NoError(t, in.Execute("lsm"))
	require.Len(t, sink.Nodes, 1)
	require.Len(t, sink.Nodes[0].Children, 1)
	name, _ := sink.Nodes[0].Children[0].Get("MethodName")
	require.Equal(t, "baz", name)
}

func TestInterpreter_LscDumpsClasses(t *testing.T) {
	in, sink, _, _ := newTestInterpreter()
	cls := in.Classes.OnClassPrepare(1, "com.foo.Bar", 0, false)
	_ = cls
	in.Classes.Tag(0x10, 1, 1024, false)

	require.NoError(t, in.Execute("lsc"))
	require.Len(t, sink.Nodes, 1)
	require.Len(t, sink.Nodes[0].Children, 1)
	bytes, _ := sink.Nodes[0].Children[0].Get("LiveBytes")
	require.Equal(t, "1024", bytes)
}

func TestInterpreter_DexDumpsExceptions(t *testing.T) {
	in, sink, _, _ := newTestInterpreter()
	in.Exceptions.Record("java.lang.RuntimeException")
	in.Exceptions.Record("java.lang.RuntimeException")

	require.NoError(t, in.Execute("dex"))
	require.Len(t, sink.Nodes[0].Children, 1)
	count, _ := sink.Nodes[0].Children[0].Get("Count")
	require.Equal(t, "2", count)
}

func TestInterpreter_ResetClearsCounters(t *testing.T) {
	in, _, _, _ := newTestInterpreter()
	in.Classes.OnClassPrepare(1, "C", 0, false)
	in.Classes.Tag(0x10, 1, 100, false)

	require.NoError(t, in.Execute("reset"))

	cls, _ := in.Classes.Find(1)
	require.Equal(t, int64(0), cls.LiveBytes())
}

func TestInterpreter_LastCommandRecordedExceptForRepeatItself(t *testing.T) {
	in, _, _, rep := newTestInterpreter()
	require.NoError(t, in.Execute("lsc"))
	require.Equal(t, "lsc", rep.lastCommand)

	require.NoError(t, in.Execute("repeat 1"))
	require.Equal(t, "lsc", rep.lastCommand)
}

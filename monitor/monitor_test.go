package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/sherlok-project/monitor-core/config"
	"github.com/sherlok-project/monitor-core/diag"
	"github.com/sherlok-project/monitor-core/vmevent"
	"github.com/stretchr/testify/require"
)

func TestMonitor_RunDispatchesScriptedEvents(t *testing.T) {
	m := New(diag.Discard, config.Default())

	source := vmevent.NewFake([]vmevent.Event{
		{Kind: vmevent.ClassPrepare, ClassID: 1, ClassName: "com.foo.Bar"},
		{Kind: vmevent.ThreadStart, ThreadID: 1},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	// Run returns as soon as the scripted source exhausts its events,
	// well before the repeat loop's idle ctx-timeout branch would fire.
	err := m.Run(ctx, source)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := m.Classes.Find(1)
		return ok
	}, time.Second, 10*time.Millisecond)
}

func TestMonitor_TriggerGCSweepsTaggedObjects(t *testing.T) {
	m := New(diag.Discard, config.Default())
	m.Classes.OnClassPrepare(1, "com.foo.Bar", 0, false)
	m.Classes.Tag(0x10, 1, 1024, false)
	m.Classes.Tag(0x11, 1, 2048, false)

	require.NoError(t, m.Command.Execute("gc"))

	cls, _ := m.Classes.Find(1)
	counters := cls.HeapSweep()
	require.Equal(t, int64(2), counters.Count)
	require.Equal(t, int64(3072), counters.Bytes)
}

func TestMonitor_CommandInterpreterSharesMultiplexerWithTracer(t *testing.T) {
	m := New(diag.Discard, config.Default())
	require.Same(t, m.Mux, m.Command.Sink)
	require.Same(t, m.Mux, m.Tracer.Sink())
}

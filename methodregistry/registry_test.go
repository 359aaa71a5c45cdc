package methodregistry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterClassifiesTrigger(t *testing.T) {
	r := New(ScopeFilter{TriggerName: "doWork"})
	m := r.Register(1, 100, "com.example.Worker", "doWork", "()V")
	require.True(t, m.Has(FlagTrigger))
}

func TestRegistry_DontMonitorOverridesMonitor(t *testing.T) {
	r := New(ScopeFilter{
		MonitorPackages:     []string{"com.example"},
		DontMonitorPackages: []string{"com.example.internal"},
		GlobalTimer:         true,
	})
	watched := r.Register(1, 1, "com.example.Service", "run", "()V")
	excluded := r.Register(2, 2, "com.example.internal.Helper", "run", "()V")

	require.True(t, watched.Has(FlagTimed))
	require.False(t, excluded.Has(FlagTimed))
}

func TestRegistry_DeleteClassRemovesOwnedMethods(t *testing.T) {
	r := New(ScopeFilter{})
	r.Register(1, 10, "A", "m1", "()V")
	r.Register(2, 10, "A", "m2", "()V")
	r.Register(3, 20, "B", "m3", "()V")

	require.Equal(t, 2, r.DeleteClass(10))
	require.Equal(t, 1, r.Len())
	_, ok := r.Find(3)
	require.True(t, ok)
}

func TestRegistry_ResetClearsCountersKeepsRecords(t *testing.T) {
	r := New(ScopeFilter{})
	m := r.Register(1, 1, "A", "m1", "()V")
	m.RecordCall(100, 120)
	require.Equal(t, int64(1), m.Snapshot().NrCalls)

	r.Reset()
	require.Equal(t, int64(0), m.Snapshot().NrCalls)
	_, ok := r.Find(1)
	require.True(t, ok)
}

func TestRegistry_SetFilterReclassifiesExisting(t *testing.T) {
	r := New(ScopeFilter{})
	m := r.Register(1, 1, "com.example.Svc", "run", "()V")
	require.False(t, m.Has(FlagTimed))

	r.SetFilter(ScopeFilter{GlobalTimer: true})
	require.True(t, m.Has(FlagTimed))
}

package threadregistry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegistry_LookupCreatesOnFirstSight(t *testing.T) {
	r := New()
	a := r.Lookup(1, "main")
	b := r.Lookup(1, "main")
	require.Same(t, a, b)
	require.Equal(t, 1, r.Len())
}

func TestRegistry_OnThreadEndRemoves(t *testing.T) {
	r := New()
	r.Lookup(1, "main")
	r.OnThreadEnd(1)
	_, ok := r.Find(1)
	require.False(t, ok)
}

func TestThreadRecord_ContentionStateMachine(t *testing.T) {
	tr := newRecord(1, "main")
	now := time.Unix(0, 0)

	_, emit := tr.Apply(WaitEnterContended, now)
	require.False(t, emit)
	require.Equal(t, WaitingForMonitor, tr.State())

	dur, emit := tr.Apply(WaitEnterDone, now.Add(50*time.Millisecond))
	require.True(t, emit)
	require.Equal(t, 50*time.Millisecond, dur)
	require.Equal(t, Runnable, tr.State())
}

func TestThreadRecord_InWaitRoundTrip(t *testing.T) {
	tr := newRecord(1, "main")
	now := time.Unix(0, 0)

	tr.Apply(WaitCall, now)
	require.Equal(t, InWait, tr.State())

	_, emit := tr.Apply(WaitReturn, now.Add(10*time.Millisecond))
	require.True(t, emit)
	require.Equal(t, Runnable, tr.State())
}

func TestThreadRecord_UnexpectedEventIsIgnoredNotLatched(t *testing.T) {
	tr := newRecord(1, "main")
	now := time.Unix(0, 0)

	_, emit := tr.Apply(WaitEnterDone, now) // no matching WaitEnterContended first
	require.False(t, emit)
	require.Equal(t, Runnable, tr.State())
}

func TestThreadRecord_AtMostOneOfWaitingOrInWait(t *testing.T) {
	tr := newRecord(1, "main")
	now := time.Unix(0, 0)

	tr.Apply(WaitEnterContended, now)
	require.NotEqual(t, InWait, tr.State())

	tr.Apply(WaitEnterDone, now)
	tr.Apply(WaitCall, now)
	require.NotEqual(t, WaitingForMonitor, tr.State())
}

func TestThreadRecord_ProcessingJNIGuard(t *testing.T) {
	tr := newRecord(1, "main")
	require.False(t, tr.ProcessingJNI())
	tr.EnterJNI()
	require.True(t, tr.ProcessingJNI())
	tr.ExitJNI()
	require.False(t, tr.ProcessingJNI())
}

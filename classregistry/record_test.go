package classregistry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassRecord_AllocFreeTracksLiveBytes(t *testing.T) {
	c := NewRecord(1, "A")
	c.recordAlloc(100)
	c.recordAlloc(50)
	require.Equal(t, int64(150), c.LiveBytes())
	require.Equal(t, int64(2), c.LiveCount())

	c.recordFree(50)
	require.Equal(t, int64(100), c.LiveBytes())
	require.Equal(t, int64(1), c.LiveCount())
}

func TestClassRecord_RecordFreeClampsAtZero(t *testing.T) {
	c := NewRecord(1, "A")
	c.recordAlloc(10)
	c.recordFree(100)
	require.Equal(t, int64(0), c.LiveBytes())
}

func TestClassRecord_GrowthAlertFiresOnceThenRearms(t *testing.T) {
	c := NewRecord(1, "A")
	require.False(t, c.recordHeapSweep(1, 10, 1000, 2.0, 500))
	require.True(t, c.recordHeapSweep(2, 10, 3000, 2.0, 500))
	require.False(t, c.recordHeapSweep(3, 10, 9000, 2.0, 500), "alert stays armed until cleared")

	c.ClearAlert()
	require.True(t, c.recordHeapSweep(4, 10, 30000, 2.0, 500))
}

func TestClassRecord_ConsumeAllocAlertFiresOncePerArmedEpisode(t *testing.T) {
	c := NewRecord(1, "A")
	require.False(t, c.ConsumeAllocAlert(), "not armed yet")

	require.False(t, c.recordHeapSweep(1, 10, 1000, 2.0, 500))
	require.True(t, c.recordHeapSweep(2, 10, 3000, 2.0, 500))
	require.True(t, c.ConsumeAllocAlert(), "first allocation observed while armed reports once")
	require.False(t, c.ConsumeAllocAlert(), "subsequent allocations stay quiet until cleared")

	c.ClearAlert()
	require.False(t, c.ConsumeAllocAlert(), "clearing disarms until the watermark is crossed again")
}

func TestClassRecord_GrowthAlertRespectsMinBytes(t *testing.T) {
	c := NewRecord(1, "A")
	c.recordHeapSweep(1, 1, 10, 2.0, 1000)
	require.False(t, c.recordHeapSweep(2, 1, 100, 2.0, 1000), "below minBytes floor")
}

func TestClassRecord_ResetClearsCountersKeepsIdentity(t *testing.T) {
	c := NewRecord(7, "A")
	c.recordAlloc(100)
	c.recordHeapSweep(1, 1, 100, 2.0, 0)

	c.reset()
	require.Equal(t, int64(0), c.LiveBytes())
	require.Equal(t, uint64(7), c.ID)
	require.Equal(t, "A", c.Name)
}

func TestHistoryRing_BoundsCapacity(t *testing.T) {
	h := newHistoryRing(2)
	h.push(historySample{GCIndex: 1, LiveBytes: 10})
	h.push(historySample{GCIndex: 2, LiveBytes: 20})
	h.push(historySample{GCIndex: 3, LiveBytes: 30})

	snap := h.snapshot()
	require.Len(t, snap, 2)
	require.Equal(t, int64(2), snap[0].GCIndex)
	require.Equal(t, int64(3), snap[1].GCIndex)
}

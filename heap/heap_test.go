package heap

import (
	"context"
	"testing"

	"github.com/sherlok-project/monitor-core/classregistry"
	"github.com/stretchr/testify/require"
)

func TestSweeper_TalliesAcrossBatches(t *testing.T) {
	registry := classregistry.New(classregistry.GrowthAlertPolicy{Factor: 2, MinBytes: 0})
	registry.OnClassPrepare(1, "C", 0, false)

	var handles []uint64
	for i := 0; i < 40; i++ {
		obj := registry.Tag(0x10+uint64(i), 1, 10, false)
		handles = append(handles, obj.Handle)
	}

	s := New(registry, 1, 0, Config{BatchSize: 8})
	ctx := context.Background()
	for _, h := range handles {
		require.NoError(t, s.Observe(ctx, h, 1, 10))
	}

	result, err := s.Finish(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, result.Skipped)

	cls, _ := registry.Find(1)
	require.Equal(t, int64(40), cls.HeapSweep().Count)
	require.Equal(t, int64(400), cls.HeapSweep().Bytes)
}

func TestSweeper_SkipsStaleGeneration(t *testing.T) {
	registry := classregistry.New(classregistry.GrowthAlertPolicy{Factor: 2, MinBytes: 0})
	registry.OnClassPrepare(1, "C", 0, false)
	obj := registry.Tag(0x10, 1, 10, false)

	registry.BumpGeneration()

	s := New(registry, 1, 0, Config{})
	ctx := context.Background()
	require.NoError(t, s.Observe(ctx, obj.Handle, 1, 10))

	result, err := s.Finish(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Skipped)

	cls, _ := registry.Find(1)
	require.Equal(t, int64(0), cls.HeapSweep().Count)
}

func TestSweeper_FilterClassID(t *testing.T) {
	registry := classregistry.New(classregistry.GrowthAlertPolicy{Factor: 2, MinBytes: 0})
	registry.OnClassPrepare(1, "A", 0, false)
	registry.OnClassPrepare(2, "B", 0, false)
	a := registry.Tag(0x10, 1, 10, false)
	b := registry.Tag(0x11, 2, 20, false)

	s := New(registry, 1, 1, Config{})
	ctx := context.Background()
	require.NoError(t, s.Observe(ctx, a.Handle, 1, 10))
	require.NoError(t, s.Observe(ctx, b.Handle, 2, 20))

	_, err := s.Finish(ctx)
	require.NoError(t, err)

	clsA, _ := registry.Find(1)
	clsB, _ := registry.Find(2)
	require.Equal(t, int64(1), clsA.HeapSweep().Count)
	require.Equal(t, int64(0), clsB.HeapSweep().Count)
}

func TestSweeper_GrowthAlertFires(t *testing.T) {
	registry := classregistry.New(classregistry.GrowthAlertPolicy{Factor: 2, MinBytes: 100})
	registry.OnClassPrepare(1, "C", 0, false)

	s1 := New(registry, 1, 0, Config{})
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		obj := registry.Tag(0x100+uint64(i), 1, 10, false)
		require.NoError(t, s1.Observe(ctx, obj.Handle, 1, 10))
	}
	result, err := s1.Finish(ctx)
	require.NoError(t, err)
	require.Empty(t, result.Alerted)

	s2 := New(registry, 2, 0, Config{})
	for i := 0; i < 50; i++ {
		obj := registry.Tag(0x200+uint64(i), 1, 10, false)
		require.NoError(t, s2.Observe(ctx, obj.Handle, 1, 10))
	}
	result, err = s2.Finish(ctx)
	require.NoError(t, err)
	require.Len(t, result.Alerted, 1)
	require.Equal(t, uint64(1), result.Alerted[0].ID)
}

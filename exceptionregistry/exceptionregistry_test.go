package exceptionregistry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_RecordIncrementsAndCreatesOnFirstSight(t *testing.T) {
	r := New()
	r.Record("java.lang.NullPointerException")
	rec := r.Record("java.lang.NullPointerException")
	require.Equal(t, int64(2), rec.Count())
}

func TestRegistry_DumpSortedByName(t *testing.T) {
	r := New()
	r.Record("b.Exception")
	r.Record("a.Exception")

	dump := r.Dump()
	require.Len(t, dump, 2)
	require.Equal(t, "a.Exception", dump[0].Name)
	require.Equal(t, "b.Exception", dump[1].Name)
}

func TestRegistry_ResetClearsAll(t *testing.T) {
	r := New()
	r.Record("x.Exception")
	r.Reset()
	require.Empty(t, r.Dump())
	_, ok := r.Find("x.Exception")
	require.False(t, ok)
}

package tagtree

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNode_WithAndGet(t *testing.T) {
	n := New(KindTrace, "Method")
	n.With("MethodName", "foo", AttrString).With("CpuTime", "80", AttrMicrosecond)

	v, ok := n.Get("MethodName")
	require.True(t, ok)
	require.Equal(t, "foo", v)

	_, ok = n.Get("Missing")
	require.False(t, ok)
}

func TestNode_Child(t *testing.T) {
	root := New(KindTrace, "Trigger")
	c := root.Child(KindTrace, "Method")
	c.With("Depth", "1", AttrInteger)

	require.Len(t, root.Children, 1)
	require.Equal(t, "Method", root.Children[0].Type)
}

func TestMemorySink_Write(t *testing.T) {
	var sink MemorySink
	require.NoError(t, sink.Write(New(KindList, "Class")))
	require.NoError(t, sink.Write(New(KindList, "Method")))
	require.Len(t, sink.Nodes, 2)
}

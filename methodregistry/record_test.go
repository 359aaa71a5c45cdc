package methodregistry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMethodRecord_RecordContentionAccumulates(t *testing.T) {
	m := &MethodRecord{ID: 1}
	m.RecordContention(50)
	m.RecordContention(25)

	snap := m.Snapshot()
	require.Equal(t, int64(2), snap.NrContentions)
	require.Equal(t, int64(75), snap.ContentionSum)
}

func TestMethodRecord_ResetClearsContentionCounters(t *testing.T) {
	m := &MethodRecord{ID: 1}
	m.RecordContention(50)

	m.Reset()
	snap := m.Snapshot()
	require.Equal(t, int64(0), snap.NrContentions)
	require.Equal(t, int64(0), snap.ContentionSum)
}

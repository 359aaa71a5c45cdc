package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStore_LoadStartupString(t *testing.T) {
	s := New()
	require.NoError(t, s.LoadStartupString("Port=9001;MonitorOn=true;MonitorPackage=com.foo,com.bar"))

	v := s.Snapshot()
	require.Equal(t, 9001, v.Port)
	require.True(t, v.MonitorOn)
	require.Equal(t, []string{"com.foo", "com.bar"}, v.MonitorPackage)
}

func TestStore_LoadStartupStringRejectsMalformed(t *testing.T) {
	s := New()
	err := s.LoadStartupString("MonitorOn")
	require.Error(t, err)
}

func TestStore_SetRejectsUnknownKey(t *testing.T) {
	s := New()
	err := s.Set("NotAKey", "1")
	require.Error(t, err)
}

func TestStore_SetUpdatesOneKeyWithoutAffectingOthers(t *testing.T) {
	s := New()
	require.NoError(t, s.Set("MonitorOn", "true"))
	require.NoError(t, s.Set("Port", "9100"))

	v := s.Snapshot()
	require.True(t, v.MonitorOn)
	require.Equal(t, 9100, v.Port)
}

func TestStore_WriteFileThenLoadFileRoundTrips(t *testing.T) {
	s := New()
	require.NoError(t, s.Set("Port", "9200"))
	require.NoError(t, s.Set("MonitorOn", "true"))
	require.NoError(t, s.Set("TriggerMethod", "com.foo.Bar.baz"))
	require.NoError(t, s.Set("Tracer", "method,class"))

	path := filepath.Join(t.TempDir(), "sherlok.toml")
	require.NoError(t, s.WriteFile(path))

	loaded := New()
	require.NoError(t, loaded.LoadFile(path))

	require.Equal(t, s.Snapshot(), loaded.Snapshot())
}

func TestStore_ProfilerModeRejectsUnknownValue(t *testing.T) {
	s := New()
	err := s.Set("ProfilerMode", "Bogus")
	require.Error(t, err)
}

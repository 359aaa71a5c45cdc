package diag

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_WritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf)
	log.Info().Str(`component`, `test`).Log(`hello`)
	require.Contains(t, buf.String(), `"hello"`)
	require.Contains(t, buf.String(), `component`)
}

func TestError_KindRoundTrip(t *testing.T) {
	err := NewError(NotRegistered, "method 0x1 unknown")
	require.ErrorContains(t, err, "NotRegistered")

	wrapped := Wrap(Resource, "socket closed", err)
	require.Same(t, err, wrapped.Unwrap())
}

func TestFatal_PanicsWithInvariantViolation(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf)
	dumped := false

	require.Panics(t, func() {
		Fatal(log, "negative live_bytes", func() { dumped = true })
	})
	require.True(t, dumped)
}

// Package diag provides the ambient structured logger shared by every
// package in this module, and the tagged error taxonomy of spec.md §7.
//
// Logging goes through github.com/joeycumines/logiface, using the
// github.com/joeycumines/stumpy JSON backend — the same logging stack the
// rest of the teacher's codebase uses.
package diag

import (
	"io"
	"os"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the concrete logger type used throughout this module.
type Logger = logiface.Logger[*stumpy.Event]

// New constructs a Logger writing JSON lines to w. A nil w defaults to
// os.Stderr, matching spec.md's "LogFile" configuration key defaulting to
// the process's standard error when unset.
func New(w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(logiface.LevelTrace),
	)
}

// Discard is a Logger that writes nowhere, for tests that don't care about
// log output.
var Discard = New(io.Discard)

package diag

import "fmt"

// Kind is the closed set of error kinds named in spec.md §7.
type Kind string

const (
	// NotRegistered is an event for an unknown method/class; dropped.
	NotRegistered Kind = "NotRegistered"
	// StateMismatch is an exit/contention state that doesn't match the
	// record; dropped with diagnostic.
	StateMismatch Kind = "StateMismatch"
	// InvariantViolation is a negative counter or impossible generation;
	// fatal.
	InvariantViolation Kind = "InvariantViolation"
	// CommandParse is returned to the shell as a single event.
	CommandParse Kind = "CommandParse"
	// Resource is an allocation or socket failure.
	Resource Kind = "Resource"
	// GuestCall is a reflective call into the host runtime that failed.
	GuestCall Kind = "GuestCall"
)

// Error wraps a Kind with contextual detail. Callbacks never propagate an
// Error to the runtime (spec.md §7); they classify it, log it, and return.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError constructs an *Error of the given kind.
func NewError(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap constructs an *Error of the given kind, wrapping err.
func Wrap(kind Kind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

// Fatal reports an InvariantViolation and panics with it, per spec.md §4.10:
// "Invariant violations are fatal and intentional." Callers are expected to
// dump diagnostic state (via the caller-supplied dump func) before control
// leaves the process.
func Fatal(log *Logger, detail string, dump func()) {
	log.Crit().Str(`kind`, string(InvariantViolation)).Log(detail)
	if dump != nil {
		dump()
	}
	panic(NewError(InvariantViolation, detail))
}

package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Kind classifies a failure of the audit pipeline or its collaborators.
type Kind string

const (
	KindInput              Kind = "input_error"
	KindDanglingReference  Kind = "dangling_reference"
	KindScorerFailure      Kind = "scorer_failure"
	KindTransportTimeout   Kind = "transport_timeout"
	KindPersistenceFailure Kind = "persistence_failure"
	KindConcurrentRun      Kind = "concurrent_run_conflict"
)

// Error carries a Kind alongside the wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func E(kind Kind, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the Kind of err, or "" when err carries none.
func KindOf(err error) Kind {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return ""
}

// IsRecoverable reports whether err is a transport-level timeout that must be
// treated as "still running" rather than a user-facing failure.
func IsRecoverable(err error) bool {
	return KindOf(err) == KindTransportTimeout
}

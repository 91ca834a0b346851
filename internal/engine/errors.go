package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors. Use errors.Is to classify.
var (
	// ErrConflict marks a handler failure caused by a stale expected
	// version. Handlers return it wrapped in a *ConflictError.
	ErrConflict = errors.New("engine: conflict")

	// ErrUnreachable marks a transport-level failure: the remote never
	// answered. The action goes back to pending and is retried on the next
	// drain.
	ErrUnreachable = errors.New("engine: remote unreachable")

	ErrUnknownAction     = errors.New("engine: unknown action type")
	ErrNotFound          = errors.New("engine: action not found")
	ErrNoConflict        = errors.New("engine: no conflict recorded for action")
	ErrInvalidResolution = errors.New("engine: invalid conflict resolution")
	ErrNotFailed         = errors.New("engine: action is not failed")
)

// ConflictReason is the error recorded on actions that failed with a
// conflict.
const ConflictReason = "CONFLICT"

// ConflictError is returned by handlers when the remote rejected a write
// because its expected version was stale. ServerData is the authoritative
// record as the remote currently holds it.
type ConflictError struct {
	ServerData Record
	Err        error // optional transport detail
}

func (e *ConflictError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("engine: conflict: %v", e.Err)
	}

	return "engine: conflict"
}

// Unwrap exposes both ErrConflict and the underlying detail.
func (e *ConflictError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConflict}
	}

	return []error{ErrConflict, e.Err}
}

// Unreachable wraps a transport error so the drain loop treats it as a
// connectivity problem rather than a rejection.
func Unreachable(err error) error {
	return fmt.Errorf("%w: %w", ErrUnreachable, err)
}

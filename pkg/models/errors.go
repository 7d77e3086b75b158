package models

import (
	"errors"
	"fmt"
)

// ErrNotFound is the root of every "does not exist" condition: an unreachable
// route target, a system no longer on the map or an unknown kill.
var ErrNotFound = errors.New("not found")

var (
	ErrSystemNotActive = fmt.Errorf("system not active: %w", ErrNotFound)
	ErrKillNotFound    = fmt.Errorf("kill not found: %w", ErrNotFound)
)

// TransientError wraps a failed call to an external collaborator. The caller
// may retry later; local state must be left untouched.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a TransientError. A nil err stays nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err came from a failed external call.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

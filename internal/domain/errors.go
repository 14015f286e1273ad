package domain

import (
	"errors"
	"fmt"
)

// ErrUnrecoverable marks failures that must never be retried, by us or by a caller.
var ErrUnrecoverable = errors.New("unrecoverable")

// ErrMaxResultWindowExceeded is returned when the remote query refuses the requested
// batch size. It signals a configuration problem, not a transient condition.
var ErrMaxResultWindowExceeded = fmt.Errorf("%w: max entries limit per query exceeded", ErrUnrecoverable)

// ErrOutputDirNotEmpty stops a fresh run from writing into a directory that already has files.
var ErrOutputDirNotEmpty = errors.New("output directory is not empty")

// ErrAborted is returned when the operator declines a confirmation prompt.
var ErrAborted = errors.New("aborted by operator")

// RemoteQueryError is a failed call to the remote API that a caller may retry.
type RemoteQueryError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *RemoteQueryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("remote query failed: %v", e.Err)
	}
	return fmt.Sprintf("remote query failed (status %d): %s", e.StatusCode, e.Body)
}

func (e *RemoteQueryError) Unwrap() error { return e.Err }

// DeserializationError is returned when a persisted state exists but cannot be read back.
type DeserializationError struct {
	Key string
	Err error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("state %s is invalid: %v", e.Key, e.Err)
}

func (e *DeserializationError) Unwrap() error { return e.Err }

// IsUnrecoverable reports whether err belongs to the never-retry class.
func IsUnrecoverable(err error) bool {
	return errors.Is(err, ErrUnrecoverable)
}

// ErrCursorStalled is returned when more records than a whole batch share one timestamp,
// so the cursor cannot move past them.
var ErrCursorStalled = fmt.Errorf("%w: cursor did not advance, increase the batch limit", ErrUnrecoverable)

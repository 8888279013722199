package errors

import (
	"errors"
	"fmt"
)

// ContentionError is returned when a store operation kept failing on a lock
// held by another writer until the retry budget ran out. It is fatal for the run.
type ContentionError struct {
	Operation string
	Attempts  int
	Err       error
}

func (e *ContentionError) Error() string {
	return fmt.Sprintf("%s: store still locked after %d attempts: %v", e.Operation, e.Attempts, e.Err)
}

func (e *ContentionError) Unwrap() error {
	return e.Err
}

// NewContentionError wraps the last lock failure of an exhausted operation.
func NewContentionError(operation string, attempts int, err error) *ContentionError {
	return &ContentionError{Operation: operation, Attempts: attempts, Err: err}
}

// IsContentionError reports whether err is a ContentionError (even when wrapped).
func IsContentionError(err error) bool {
	var cErr *ContentionError
	return errors.As(err, &cErr)
}

package commbus

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for routing failures. Call sites wrap them with the
// offending message type, so callers match with errors.Is.
var (
	// ErrNoHandler means a command or query reached the bus with no
	// handler bound for its message type.
	ErrNoHandler = errors.New("no handler registered")

	// ErrDuplicateHandler means RegisterHandler was called twice for
	// the same message type.
	ErrDuplicateHandler = errors.New("handler already registered")

	// ErrQueryTimeout means a query handler did not reply within the
	// bus's query timeout.
	ErrQueryTimeout = errors.New("query timed out")
)

func noHandlerError(messageType string) error {
	return fmt.Errorf("%w for %s", ErrNoHandler, messageType)
}

func duplicateHandlerError(messageType string) error {
	return fmt.Errorf("%w for %s", ErrDuplicateHandler, messageType)
}

func queryTimeoutError(messageType string, timeout time.Duration) error {
	return fmt.Errorf("%w: %s after %s", ErrQueryTimeout, messageType, timeout)
}

package send

import (
	"errors"
	"fmt"
)

// Sentinel errors for the send pipeline; handlers map them to HTTP codes.
var (
	ErrNotReady           = errors.New("send: session not ready")
	ErrInvalidDestination = errors.New("send: invalid destination")
	ErrInvalidContent     = errors.New("send: message body is empty")
)

// ExhaustedError is returned when every attempt failed. It wraps the last
// underlying cause.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("send: exhausted %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

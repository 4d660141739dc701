package status

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSeatConflict   = errors.New("seat lock: seats held by another user")
	ErrInvalidRequest = errors.New("seat lock: invalid request")
	ErrSlowConsumer   = errors.New("realtime: client outbox full")
	ErrConnClosed     = errors.New("realtime: connection closed")
	ErrUnknownKind    = errors.New("notification: unknown message type")
	ErrClientNotFound = errors.New("realtime: client not found")
)

// ConflictError reports the seats of a lock request that another user holds.
type ConflictError struct {
	EventID string
	Seats   []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("seats %s are not available for event %s", strings.Join(e.Seats, ","), e.EventID)
}

func (e *ConflictError) Unwrap() error { return ErrSeatConflict }

// Invalid wraps ErrInvalidRequest with a reason that is safe to show to clients.
func Invalid(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, reason)
}

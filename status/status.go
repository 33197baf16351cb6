// Package status defines the error taxonomy of the reservation engine.
// Every error returned by the engine maps to exactly one of these kinds so
// handlers can translate them to HTTP responses without string matching.
package status

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound means the event, ticket type or entry does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrStateConflict means the entry is not in the state the operation
	// requires, typically an offer that expired or was already used.
	ErrStateConflict = errors.New("offer expired or already used")

	// ErrUnauthorized means the entry belongs to a different user.
	ErrUnauthorized = errors.New("entry does not belong to this user")

	// ErrEventInactive means the event has been cancelled.
	ErrEventInactive = errors.New("event is cancelled")

	// ErrAlreadyQueued means the user already holds a non-expired entry
	// for this event.
	ErrAlreadyQueued = errors.New("already in the waiting list for this event")

	// ErrValidation means the request input is malformed.
	ErrValidation = errors.New("invalid request")
)

// CapacityError is returned when a join request asks for more units than
// remain. Remaining carries the ledger count observed inside the decision
// transaction.
type CapacityError struct {
	Remaining int
}

func (e *CapacityError) Error() string {
	if e.Remaining == 1 {
		return "Only 1 ticket remaining."
	}
	return fmt.Sprintf("Only %d tickets remaining. Reduce your number of tickets to 1 to be added to the waiting list", e.Remaining)
}

// RateLimitError is returned when a user exceeds the join budget for the
// current window. RetryAfter is the time until the window resets.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many queue joins, retry in %s", e.RetryAfter.Round(time.Second))
}

// ExternalServiceError wraps a failure surfaced by the payment collaborator.
// The engine never generates these itself.
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

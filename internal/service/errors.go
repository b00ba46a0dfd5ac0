package service

import (
	"errors"
	"fmt"
)

// ErrQueueFull is returned when an event cannot be queued right now. Callers
// should retry later.
var ErrQueueFull = errors.New("event queue is full")

// NotFoundError is returned when a requested resource does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// ValidationError is returned when request data fails validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error for %q: %s", e.Field, e.Message)
	}
	return e.Message
}

// InternalError is returned when a well-formed request could not be
// completed. Reason carries the delivery failure reason when there is one.
type InternalError struct {
	Reason string
	Err    error
}

func (e *InternalError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("internal error (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("internal error: %v", e.Err)
}

func (e *InternalError) Unwrap() error { return e.Err }

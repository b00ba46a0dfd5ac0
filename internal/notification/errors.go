package notification

import (
	"errors"
	"fmt"
)

// ErrEntropySourceUnavailable is returned when the secure random source
// cannot be read. There is no weaker fallback.
var ErrEntropySourceUnavailable = errors.New("entropy source unavailable")

// ErrUnknownTemplate matches any *UnknownTemplateError via errors.Is.
var ErrUnknownTemplate = errors.New("unknown template")

// ValidationError reports an event that cannot be routed: unknown kind,
// missing or blank required field, or a malformed recipient address.
type ValidationError struct {
	Kind    EventKind
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("invalid event: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid %s event: %s: %s", e.Kind, e.Field, e.Message)
}

// UnknownTemplateError is returned for a template id outside the closed set.
type UnknownTemplateError struct {
	ID TemplateID
}

func (e *UnknownTemplateError) Error() string {
	return fmt.Sprintf("unknown template %q", string(e.ID))
}

func (e *UnknownTemplateError) Is(target error) bool { return target == ErrUnknownTemplate }

// MissingVariableError names the first required variable that was absent or
// blank when rendering.
type MissingVariableError struct {
	Template TemplateID
	Key      string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("template %s: missing variable %q", e.Template, e.Key)
}

// FailureReason explains why a dispatch gave up.
type FailureReason string

const (
	ReasonPermanent        FailureReason = "permanent"
	ReasonRetriesExhausted FailureReason = "retries_exhausted"
	ReasonDeadlineExceeded FailureReason = "deadline_exceeded"
)

// DeliveryError is the terminal failure of a dispatch.
type DeliveryError struct {
	Reason   FailureReason
	Attempts int
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery failed (%s) after %d attempt(s): %v", e.Reason, e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// ProvisioningError wraps a failure to hand a temporary credential to the
// identity provider. The message is not sent in that case.
type ProvisioningError struct {
	SubjectID string
	Err       error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning credential for %s: %v", e.SubjectID, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

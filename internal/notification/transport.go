// Package notification turns workflow events into delivered messages: it
// routes events to templates and recipients, issues temporary credentials,
// renders messages and dispatches them through a Transport with retries and
// idempotency.
package notification

import (
	"context"
	"errors"
)

// RenderedMessage is a fully rendered message ready for a Transport.
type RenderedMessage struct {
	TemplateID TemplateID
	To         []string
	Subject    string
	TextBody   string
	HTMLBody   string
}

// Receipt is returned by a Transport once the relay has accepted a message.
type Receipt struct {
	DeliveryID string
}

// Transport is the port to a message relay (SMTP server, Gmail API, ...).
// Implementations classify failures with Transient or Permanent; errors that
// carry neither are treated as transient.
type Transport interface {
	// Name returns the transport identifier (e.g. "smtp").
	Name() string
	// Send hands msg to the relay.
	Send(ctx context.Context, msg RenderedMessage) (Receipt, error)
}

// TransientError marks a failure worth retrying: timeouts, connection resets,
// 4xx SMTP replies, rate limiting.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure that will not succeed on retry: invalid
// recipient, rejected credentials, 5xx SMTP replies.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError. A nil err stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Permanent wraps err as a PermanentError. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was classified permanent. Everything else,
// including unclassified errors, is retried.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

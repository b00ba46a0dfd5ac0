package storage

import (
	"context"
	"errors"
	"time"
)

// DeliveryStatus is the terminal state of a delivery intent.
type DeliveryStatus string

const (
	// StatusSent means the transport accepted the message. A sent record is
	// final and is never overwritten.
	StatusSent DeliveryStatus = "sent"
	// StatusExhausted means delivery gave up, either on a permanent failure,
	// on retry exhaustion or on the caller's deadline. Exhausted keys may be
	// dispatched again.
	StatusExhausted DeliveryStatus = "exhausted"
)

// AttemptOutcome is the result of one transport send.
type AttemptOutcome string

const (
	OutcomeSent             AttemptOutcome = "sent"
	OutcomeTransientFailure AttemptOutcome = "transient_failure"
	OutcomePermanentFailure AttemptOutcome = "permanent_failure"
)

// DefaultListLimit is applied when ListDeliveries is called with limit <= 0.
const DefaultListLimit = 50

// ErrConflict is returned when a write collides with an existing row, for
// example a second process recording the same attempt number.
var ErrConflict = errors.New("ledger conflict")

// DeliveryAttempt records a single transport send for an intent.
type DeliveryAttempt struct {
	IntentID      string         `json:"intent_id"`
	AttemptNumber int            `json:"attempt_number"`
	Outcome       AttemptOutcome `json:"outcome"`
	Error         string         `json:"error,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// DeliveryRecord is the terminal ledger row for an idempotency key.
type DeliveryRecord struct {
	IntentID   string         `json:"intent_id"`
	Status     DeliveryStatus `json:"status"`
	Reason     string         `json:"reason,omitempty"`
	DeliveryID string         `json:"delivery_id,omitempty"`
	Transport  string         `json:"transport"`
	TemplateID string         `json:"template_id"`
	Recipients []string       `json:"recipients"`
	Subject    string         `json:"subject"`
	Attempts   int            `json:"attempts"`
	ErrorMsg   string         `json:"error_msg,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// DeliveryLedger persists delivery attempts and terminal outcomes keyed by
// idempotency key.
type DeliveryLedger interface {
	// Claim atomically takes the right to send key for ttl. It reports false
	// while another owner holds an unexpired claim. The same owner may renew
	// its own claim.
	Claim(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	// Release drops owner's claim on key. Releasing a claim held by another
	// owner is a no-op.
	Release(ctx context.Context, key, owner string) error
	// Lookup returns the terminal record for key, or nil when none exists.
	Lookup(ctx context.Context, key string) (*DeliveryRecord, error)
	// RecordAttempt appends one attempt row.
	RecordAttempt(ctx context.Context, attempt DeliveryAttempt) error
	// Commit upserts the terminal record. A sent record is never replaced.
	Commit(ctx context.Context, record DeliveryRecord) error
	// ListDeliveries returns the most recently updated records, up to limit.
	ListDeliveries(ctx context.Context, limit int) ([]DeliveryRecord, error)
	// Prune removes records and attempts last touched before cutoff, along
	// with expired claims, and returns the number of records removed.
	Prune(ctx context.Context, before time.Time) (int64, error)
}

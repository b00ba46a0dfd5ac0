package notification

import (
	"context"
	"log/slog"
	"time"

	"github.com/shaharia-lab/notifyd/internal/eventbus"
)

// DefaultHandlerTimeout bounds the handling of one bus event, retries
// included.
const DefaultHandlerTimeout = 2 * time.Minute

// Handler consumes workflow events from the event bus and hands them to a
// Notifier.
type Handler struct {
	base     context.Context
	notifier Notifier
	timeout  time.Duration
	logger   *slog.Logger
}

// NewHandler returns a Handler. Every event is handled under a context
// derived from ctx, so cancelling ctx aborts in-flight retries. A
// non-positive timeout selects DefaultHandlerTimeout.
func NewHandler(ctx context.Context, notifier Notifier, timeout time.Duration, logger *slog.Logger) *Handler {
	if timeout <= 0 {
		timeout = DefaultHandlerTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{base: ctx, notifier: notifier, timeout: timeout, logger: logger}
}

// Handle is an eventbus.Listener.
func (h *Handler) Handle(e eventbus.Event) {
	ctx, cancel := context.WithTimeout(h.base, h.timeout)
	defer cancel()

	res := h.notifier.Notify(ctx, EventFromBus(e))
	if res.Err != nil {
		h.logger.Error("notification for bus event failed",
			"event_id", e.ID, "event_type", e.Type, "subject_id", e.SubjectID,
			"idempotency_key", res.IdempotencyKey, "error", res.Err)
		return
	}
	h.logger.Info("notification for bus event handled",
		"event_id", e.ID, "event_type", e.Type, "subject_id", e.SubjectID,
		"delivery_id", res.DeliveryID, "duplicate", res.Duplicate)
}

// EventFromBus converts a bus event into a WorkflowEvent.
func EventFromBus(e eventbus.Event) WorkflowEvent {
	return WorkflowEvent{
		ID:         e.ID,
		Kind:       EventKind(e.Type),
		SubjectID:  e.SubjectID,
		OccurredAt: e.Timestamp,
		Payload:    Payload(e.Payload),
	}
}

// BusEvent converts ev into a bus event.
func BusEvent(ev WorkflowEvent) eventbus.Event {
	return eventbus.Event{
		ID:        ev.ID,
		Type:      string(ev.Kind),
		SubjectID: ev.SubjectID,
		Timestamp: ev.OccurredAt,
		Payload:   ev.Payload,
	}
}

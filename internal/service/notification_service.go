package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shaharia-lab/notifyd/internal/eventbus"
	"github.com/shaharia-lab/notifyd/internal/notification"
	"github.com/shaharia-lab/notifyd/internal/storage"
)

// MaxListLimit caps the number of deliveries returned by ListDeliveries.
const MaxListLimit = 500

// NotifyRequest is a workflow event as submitted by a caller. The kind comes
// from the route. OccurredAt defaults to the time of receipt.
type NotifyRequest struct {
	ID         string         `json:"id,omitempty"`
	SubjectID  string         `json:"subjectId"`
	OccurredAt *time.Time     `json:"occurredAt,omitempty"`
	Payload    map[string]any `json:"payload"`
}

// DeliveryResponse describes an accepted notification.
type DeliveryResponse struct {
	Accepted       bool   `json:"accepted"`
	DeliveryID     string `json:"deliveryId,omitempty"`
	Duplicate      bool   `json:"duplicate"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
	Attempts       int    `json:"attempts"`
}

// NotificationService is the outward surface of the notification engine.
type NotificationService interface {
	// Notify delivers the notification for the event synchronously.
	Notify(ctx context.Context, kind string, req NotifyRequest) (*DeliveryResponse, error)
	// Enqueue validates the event and queues it for asynchronous delivery.
	// It returns the event id.
	Enqueue(ctx context.Context, kind string, req NotifyRequest) (string, error)
	// ListDeliveries returns the most recent delivery records.
	ListDeliveries(ctx context.Context, limit int) ([]storage.DeliveryRecord, error)
	// GetDelivery returns the delivery record for an idempotency key.
	GetDelivery(ctx context.Context, key string) (*storage.DeliveryRecord, error)
}

// EventValidator checks an event before it is queued. *notification.Router
// satisfies it.
type EventValidator interface {
	Route(ev notification.WorkflowEvent) (notification.Intent, error)
}

// notificationServiceImpl implements NotificationService.
type notificationServiceImpl struct {
	notifier  notification.Notifier
	validator EventValidator
	publisher EventPublisher
	ledger    storage.DeliveryLedger
	now       func() time.Time
}

// NewNotificationService creates a new NotificationService. publisher and
// validator may be nil, in which case Enqueue is unavailable or unvalidated.
func NewNotificationService(
	notifier notification.Notifier,
	validator EventValidator,
	publisher EventPublisher,
	ledger storage.DeliveryLedger,
) NotificationService {
	return &notificationServiceImpl{
		notifier:  notifier,
		validator: validator,
		publisher: publisher,
		ledger:    ledger,
		now:       time.Now,
	}
}

func (s *notificationServiceImpl) event(kind string, req NotifyRequest) (notification.WorkflowEvent, error) {
	k, err := notification.ParseKind(kind)
	if err != nil {
		return notification.WorkflowEvent{}, toServiceError(err)
	}
	ev := notification.WorkflowEvent{
		ID:         req.ID,
		Kind:       k,
		SubjectID:  strings.TrimSpace(req.SubjectID),
		OccurredAt: s.now().UTC(),
		Payload:    notification.Payload(req.Payload),
	}
	if req.OccurredAt != nil {
		ev.OccurredAt = *req.OccurredAt
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	return ev, nil
}

// Notify routes, renders and delivers the event and waits for the outcome.
func (s *notificationServiceImpl) Notify(ctx context.Context, kind string, req NotifyRequest) (*DeliveryResponse, error) {
	ev, err := s.event(kind, req)
	if err != nil {
		return nil, err
	}
	res := s.notifier.Notify(ctx, ev)
	if res.Err != nil {
		return nil, toServiceError(res.Err)
	}
	return &DeliveryResponse{
		Accepted:       res.Accepted,
		DeliveryID:     res.DeliveryID,
		Duplicate:      res.Duplicate,
		IdempotencyKey: res.IdempotencyKey,
		Attempts:       res.Attempts,
	}, nil
}

// Enqueue validates the event synchronously and hands it to the event bus.
func (s *notificationServiceImpl) Enqueue(_ context.Context, kind string, req NotifyRequest) (string, error) {
	if s.publisher == nil {
		return "", &InternalError{Err: errors.New("event queue is not configured")}
	}
	ev, err := s.event(kind, req)
	if err != nil {
		return "", err
	}
	if s.validator != nil {
		if _, err := s.validator.Route(ev); err != nil {
			return "", toServiceError(err)
		}
	}

	if err := s.publisher.Publish(notification.BusEvent(ev)); err != nil {
		if errors.Is(err, eventbus.ErrBufferFull) || errors.Is(err, eventbus.ErrClosed) {
			return "", fmt.Errorf("%w: %w", ErrQueueFull, err)
		}
		return "", &InternalError{Err: fmt.Errorf("publishing event: %w", err)}
	}
	return ev.ID, nil
}

// ListDeliveries returns the most recent delivery records.
func (s *notificationServiceImpl) ListDeliveries(ctx context.Context, limit int) ([]storage.DeliveryRecord, error) {
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}
	limit = min(limit, MaxListLimit)
	records, err := s.ledger.ListDeliveries(ctx, limit)
	if err != nil {
		return nil, &InternalError{Err: fmt.Errorf("listing deliveries: %w", err)}
	}
	return records, nil
}

// GetDelivery returns the delivery record for key.
func (s *notificationServiceImpl) GetDelivery(ctx context.Context, key string) (*storage.DeliveryRecord, error) {
	rec, err := s.ledger.Lookup(ctx, key)
	if err != nil {
		return nil, &InternalError{Err: fmt.Errorf("looking up delivery: %w", err)}
	}
	if rec == nil {
		return nil, &NotFoundError{Resource: "delivery", ID: key}
	}
	return rec, nil
}

// toServiceError folds engine errors into the two outward classes.
func toServiceError(err error) error {
	var ve *notification.ValidationError
	if errors.As(err, &ve) {
		return &ValidationError{Field: ve.Field, Message: ve.Message}
	}
	var de *notification.DeliveryError
	if errors.As(err, &de) {
		return &InternalError{Reason: string(de.Reason), Err: err}
	}
	return &InternalError{Err: err}
}

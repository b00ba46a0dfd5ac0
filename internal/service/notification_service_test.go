package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/shaharia-lab/notifyd/internal/eventbus"
	"github.com/shaharia-lab/notifyd/internal/notification"
	"github.com/shaharia-lab/notifyd/internal/service"
	"github.com/shaharia-lab/notifyd/internal/storage"
	"github.com/shaharia-lab/notifyd/internal/storage/mocks"
)

// --- stubs ---

type stubNotifier struct {
	got    []notification.WorkflowEvent
	result notification.Result
}

func (n *stubNotifier) Notify(_ context.Context, ev notification.WorkflowEvent) notification.Result {
	n.got = append(n.got, ev)
	return n.result
}

type stubPublisher struct {
	events []eventbus.Event
	err    error
}

func (p *stubPublisher) Publish(e eventbus.Event) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

func newRouter(t *testing.T) *notification.Router {
	t.Helper()
	r, err := notification.NewRouter(notification.RouterConfig{
		AppName:         "Constat Tunisie",
		OperatorMailbox: "ops@constat.example",
		Location:        time.UTC,
	}, nil)
	require.NoError(t, err)
	return r
}

func vehicleRequest() service.NotifyRequest {
	at := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	return service.NotifyRequest{
		SubjectID:  "veh1",
		OccurredAt: &at,
		Payload: map[string]any{
			"plate":           "123TU456",
			"conducteurEmail": "a@b.com",
			"reason":          "document illisible",
		},
	}
}

// --- Notify ---

func TestNotify_Accepted(t *testing.T) {
	n := &stubNotifier{result: notification.Result{Accepted: true, DeliveryID: "d-1", IdempotencyKey: "k", Attempts: 1}}
	svc := service.NewNotificationService(n, nil, nil, storage.NewMemoryDeliveryLedger())

	resp, err := svc.Notify(context.Background(), "vehicle.rejected", vehicleRequest())
	require.NoError(t, err)
	assert.Equal(t, &service.DeliveryResponse{Accepted: true, DeliveryID: "d-1", IdempotencyKey: "k", Attempts: 1}, resp)

	require.Len(t, n.got, 1)
	ev := n.got[0]
	assert.Equal(t, notification.KindVehicleRejected, ev.Kind)
	assert.Equal(t, "veh1", ev.SubjectID)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, "123TU456", ev.Payload.String("plate"))
}

func TestNotify_DefaultsOccurredAt(t *testing.T) {
	n := &stubNotifier{result: notification.Result{Accepted: true}}
	svc := service.NewNotificationService(n, nil, nil, storage.NewMemoryDeliveryLedger())

	req := vehicleRequest()
	req.OccurredAt = nil
	_, err := svc.Notify(context.Background(), "vehicle.rejected", req)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), n.got[0].OccurredAt, time.Minute)
}

func TestNotify_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		kind   string
		result notification.Result
		check  func(t *testing.T, err error)
	}{
		{
			name: "unknown kind",
			kind: "vehicle.exploded",
			check: func(t *testing.T, err error) {
				var ve *service.ValidationError
				require.ErrorAs(t, err, &ve)
				assert.Equal(t, "kind", ve.Field)
			},
		},
		{
			name:   "router validation",
			kind:   "account.approved",
			result: notification.Result{Err: &notification.ValidationError{Kind: notification.KindAccountApproved, Field: "role", Message: "is required"}},
			check: func(t *testing.T, err error) {
				var ve *service.ValidationError
				require.ErrorAs(t, err, &ve)
				assert.Equal(t, "role", ve.Field)
			},
		},
		{
			name:   "delivery failure",
			kind:   "vehicle.rejected",
			result: notification.Result{Err: &notification.DeliveryError{Reason: notification.ReasonRetriesExhausted, Attempts: 5, Err: errors.New("timeout")}},
			check: func(t *testing.T, err error) {
				var ie *service.InternalError
				require.ErrorAs(t, err, &ie)
				assert.Equal(t, "retries_exhausted", ie.Reason)
			},
		},
		{
			name:   "other failure",
			kind:   "vehicle.rejected",
			result: notification.Result{Err: errors.New("ledger down")},
			check: func(t *testing.T, err error) {
				var ie *service.InternalError
				require.ErrorAs(t, err, &ie)
				assert.Empty(t, ie.Reason)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &stubNotifier{result: tt.result}
			svc := service.NewNotificationService(n, nil, nil, storage.NewMemoryDeliveryLedger())
			resp, err := svc.Notify(context.Background(), tt.kind, vehicleRequest())
			assert.Nil(t, resp)
			tt.check(t, err)
		})
	}
}

// --- Enqueue ---

func TestEnqueue_PublishesValidEvent(t *testing.T) {
	pub := &stubPublisher{}
	svc := service.NewNotificationService(&stubNotifier{}, newRouter(t), pub, storage.NewMemoryDeliveryLedger())

	id, err := svc.Enqueue(context.Background(), "vehicle.rejected", vehicleRequest())
	require.NoError(t, err)
	require.Len(t, pub.events, 1)
	assert.Equal(t, id, pub.events[0].ID)
	assert.Equal(t, "vehicle.rejected", pub.events[0].Type)
	assert.Equal(t, "veh1", pub.events[0].SubjectID)
}

func TestEnqueue_InvalidEventNotQueued(t *testing.T) {
	pub := &stubPublisher{}
	svc := service.NewNotificationService(&stubNotifier{}, newRouter(t), pub, storage.NewMemoryDeliveryLedger())

	req := vehicleRequest()
	delete(req.Payload, "reason")
	_, err := svc.Enqueue(context.Background(), "vehicle.rejected", req)

	var ve *service.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "reason", ve.Field)
	assert.Empty(t, pub.events)
}

func TestEnqueue_QueueFull(t *testing.T) {
	pub := &stubPublisher{err: eventbus.ErrBufferFull}
	svc := service.NewNotificationService(&stubNotifier{}, nil, pub, storage.NewMemoryDeliveryLedger())

	_, err := svc.Enqueue(context.Background(), "vehicle.rejected", vehicleRequest())
	assert.ErrorIs(t, err, service.ErrQueueFull)
}

func TestEnqueue_NoPublisher(t *testing.T) {
	svc := service.NewNotificationService(&stubNotifier{}, nil, nil, storage.NewMemoryDeliveryLedger())
	_, err := svc.Enqueue(context.Background(), "vehicle.rejected", vehicleRequest())
	var ie *service.InternalError
	assert.ErrorAs(t, err, &ie)
}

// --- deliveries ---

func TestGetDelivery(t *testing.T) {
	ledger := storage.NewMemoryDeliveryLedger()
	require.NoError(t, ledger.Commit(context.Background(), storage.DeliveryRecord{
		IntentID:   "k1",
		Status:     storage.StatusSent,
		DeliveryID: "d-1",
		Recipients: []string{"a@b.com"},
	}))
	svc := service.NewNotificationService(&stubNotifier{}, nil, nil, ledger)

	rec, err := svc.GetDelivery(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, "d-1", rec.DeliveryID)

	_, err = svc.GetDelivery(context.Background(), "missing")
	var nf *service.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "missing", nf.ID)
}

func TestListDeliveries(t *testing.T) {
	ledger := storage.NewMemoryDeliveryLedger()
	for _, key := range []string{"k1", "k2", "k3"} {
		require.NoError(t, ledger.Commit(context.Background(), storage.DeliveryRecord{IntentID: key, Status: storage.StatusSent}))
	}
	svc := service.NewNotificationService(&stubNotifier{}, nil, nil, ledger)

	all, err := svc.ListDeliveries(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	two, err := svc.ListDeliveries(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)
}

func TestListDeliveries_ClampsLimit(t *testing.T) {
	ledger := new(mocks.MockDeliveryLedger)
	ledger.On("ListDeliveries", mock.Anything, service.MaxListLimit).Return([]storage.DeliveryRecord{}, nil)
	svc := service.NewNotificationService(&stubNotifier{}, nil, nil, ledger)

	_, err := svc.ListDeliveries(context.Background(), 10_000)
	require.NoError(t, err)
	ledger.AssertExpectations(t)
}

func TestDeliveries_LedgerErrorsAreInternal(t *testing.T) {
	ledger := new(mocks.MockDeliveryLedger)
	ledger.On("ListDeliveries", mock.Anything, storage.DefaultListLimit).Return(nil, errors.New("disk full"))
	ledger.On("Lookup", mock.Anything, "k1").Return(nil, errors.New("disk full"))
	svc := service.NewNotificationService(&stubNotifier{}, nil, nil, ledger)

	_, err := svc.ListDeliveries(context.Background(), 0)
	var ie *service.InternalError
	require.ErrorAs(t, err, &ie)
	assert.Contains(t, ie.Error(), "disk full")

	_, err = svc.GetDelivery(context.Background(), "k1")
	require.ErrorAs(t, err, &ie)
	ledger.AssertExpectations(t)
}

package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/shaharia-lab/notifyd/internal/service"
	"github.com/shaharia-lab/notifyd/internal/storage"
)

// MockNotificationService is a mock implementation of service.NotificationService.
type MockNotificationService struct {
	mock.Mock
}

//nolint:revive
func (m *MockNotificationService) Notify(ctx context.Context, kind string, req service.NotifyRequest) (*service.DeliveryResponse, error) {
	args := m.Called(ctx, kind, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.DeliveryResponse), args.Error(1)
}

//nolint:revive
func (m *MockNotificationService) Enqueue(ctx context.Context, kind string, req service.NotifyRequest) (string, error) {
	args := m.Called(ctx, kind, req)
	return args.String(0), args.Error(1)
}

//nolint:revive
func (m *MockNotificationService) ListDeliveries(ctx context.Context, limit int) ([]storage.DeliveryRecord, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]storage.DeliveryRecord), args.Error(1)
}

//nolint:revive
func (m *MockNotificationService) GetDelivery(ctx context.Context, key string) (*storage.DeliveryRecord, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.DeliveryRecord), args.Error(1)
}

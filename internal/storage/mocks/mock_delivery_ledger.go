package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/shaharia-lab/notifyd/internal/storage"
)

// MockDeliveryLedger is a mock implementation of storage.DeliveryLedger.
type MockDeliveryLedger struct {
	mock.Mock
}

//nolint:revive
func (m *MockDeliveryLedger) Claim(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, owner, ttl)
	return args.Bool(0), args.Error(1)
}

//nolint:revive
func (m *MockDeliveryLedger) Release(ctx context.Context, key, owner string) error {
	args := m.Called(ctx, key, owner)
	return args.Error(0)
}

//nolint:revive
func (m *MockDeliveryLedger) Lookup(ctx context.Context, key string) (*storage.DeliveryRecord, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.DeliveryRecord), args.Error(1)
}

//nolint:revive
func (m *MockDeliveryLedger) RecordAttempt(ctx context.Context, attempt storage.DeliveryAttempt) error {
	args := m.Called(ctx, attempt)
	return args.Error(0)
}

//nolint:revive
func (m *MockDeliveryLedger) Commit(ctx context.Context, record storage.DeliveryRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

//nolint:revive
func (m *MockDeliveryLedger) ListDeliveries(ctx context.Context, limit int) ([]storage.DeliveryRecord, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]storage.DeliveryRecord), args.Error(1)
}

//nolint:revive
func (m *MockDeliveryLedger) Prune(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

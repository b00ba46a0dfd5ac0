package notification_test

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shaharia-lab/notifyd/internal/notification"
	"github.com/shaharia-lab/notifyd/internal/storage"
)

// --- stub transport ---

type stubTransport struct {
	mu    sync.Mutex
	calls int
	sent  []notification.RenderedMessage
	// errs[i] is returned by call i+1; calls past the end succeed.
	errs []error
	// always, when set, is returned by every call.
	always error
	// gate, when set, blocks each call until it is closed or ctx ends.
	gate chan struct{}
}

func (s *stubTransport) Name() string { return "stub" }

func (s *stubTransport) Send(ctx context.Context, msg notification.RenderedMessage) (notification.Receipt, error) {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.sent = append(s.sent, msg)
	s.mu.Unlock()

	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return notification.Receipt{}, ctx.Err()
		}
	}
	if s.always != nil {
		return notification.Receipt{}, s.always
	}
	if n-1 < len(s.errs) && s.errs[n-1] != nil {
		return notification.Receipt{}, s.errs[n-1]
	}
	return notification.Receipt{DeliveryID: fmt.Sprintf("stub-%d", n)}, nil
}

func (s *stubTransport) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubTransport) Sent() []notification.RenderedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notification.RenderedMessage(nil), s.sent...)
}

// --- stub ledger ---

type failingLedger struct {
	*storage.MemoryDeliveryLedger
	lookupErr error
}

func (l *failingLedger) Lookup(ctx context.Context, key string) (*storage.DeliveryRecord, error) {
	if l.lookupErr != nil {
		return nil, l.lookupErr
	}
	return l.MemoryDeliveryLedger.Lookup(ctx, key)
}

// --- fixtures ---

var occurredAt = time.Date(2025, 3, 14, 23, 30, 0, 0, time.UTC)

func fastPolicy() notification.RetryPolicy {
	return notification.RetryPolicy{
		BaseDelay:   time.Millisecond,
		Multiplier:  2,
		MaxAttempts: 5,
		Jitter:      0.2,
	}
}

func testRouterConfig() notification.RouterConfig {
	return notification.RouterConfig{
		AppName:            "Constat Tunisie",
		AdminAddresses:     []string{"admin@constat.example"},
		OperatorMailbox:    "ops@constat.example",
		LoginURL:           "https://constat.example/login",
		SupportEmail:       "support@constat.example",
		DashboardURL:       "https://admin.constat.example/requests",
		PendingVehiclesURL: "https://constat.example/agent/pending-vehicles",
		VehiclesURL:        "https://constat.example/conducteur/vehicles",
		ReportsURL:         "https://constat.example/agent/constats",
		Location:           time.FixedZone("CET", 3600),
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func newTestRenderer(t *testing.T) *notification.Renderer {
	t.Helper()
	r, err := notification.NewRenderer()
	require.NoError(t, err)
	return r
}

func newTestDispatcher(t *testing.T, tr notification.Transport, ledger storage.DeliveryLedger) *notification.Dispatcher {
	t.Helper()
	d, err := notification.NewDispatcher(notification.DispatcherConfig{
		Transport: tr,
		Ledger:    ledger,
		Policy:    fastPolicy(),
		Logger:    discardLogger(),
	})
	require.NoError(t, err)
	return d
}

type engineHarness struct {
	engine    *notification.Engine
	transport *stubTransport
	ledger    *storage.MemoryDeliveryLedger
}

func newEngineHarness(t *testing.T, tr *stubTransport, prov notification.CredentialProvisioner) *engineHarness {
	t.Helper()
	router, err := notification.NewRouter(testRouterConfig(), discardLogger())
	require.NoError(t, err)
	issuer, err := notification.NewCredentialIssuer()
	require.NoError(t, err)
	ledger := storage.NewMemoryDeliveryLedger()

	engine, err := notification.NewEngine(notification.EngineConfig{
		Router:      router,
		Renderer:    newTestRenderer(t),
		Issuer:      issuer,
		Dispatcher:  newTestDispatcher(t, tr, ledger),
		Provisioner: prov,
		Logger:      discardLogger(),
	})
	require.NoError(t, err)
	return &engineHarness{engine: engine, transport: tr, ledger: ledger}
}

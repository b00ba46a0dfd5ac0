package server_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/shaharia-lab/notifyd/internal/api"
	"github.com/shaharia-lab/notifyd/internal/server"
	svcmocks "github.com/shaharia-lab/notifyd/internal/service/mocks"
	"github.com/shaharia-lab/notifyd/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(opts server.Options) (*server.Server, *svcmocks.MockNotificationService) {
	svc := new(svcmocks.MockNotificationService)
	return server.New(api.New(svc, discardLogger()), opts, discardLogger()), svc
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(server.Options{})
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestMetricsMounted(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("notifyd_dispatch_results_total 1\n"))
	})
	srv, _ := newTestServer(server.Options{MetricsHandler: metrics})

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "notifyd_dispatch_results_total")
}

func TestAPIMountedUnderPrefix(t *testing.T) {
	srv, svc := newTestServer(server.Options{})
	svc.On("ListDeliveries", mock.Anything, 0).Return([]storage.DeliveryRecord{}, nil)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/deliveries", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(server.Options{AllowedOrigins: []string{"https://admin.constat.example"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/deliveries", nil)
	req.Header.Set("Origin", "https://admin.constat.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, "https://admin.constat.example", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	srv, _ := newTestServer(server.Options{Addr: addr})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get(fmt.Sprintf("http://%s/health", addr))
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

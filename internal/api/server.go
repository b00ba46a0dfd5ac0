// Package api exposes the notification engine over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shaharia-lab/notifyd/internal/service"
)

const (
	errInvalidJSONBody = "invalid JSON body"

	codeInvalidArgument = "invalid-argument"
	codeInternal        = "internal"
	codeNotFound        = "not-found"
	codeUnavailable     = "unavailable"
)

// Server holds all dependencies for the REST API handlers.
type Server struct {
	notificationSvc service.NotificationService
	logger          *slog.Logger
}

// New creates a new API Server backed by the provided service.
func New(notificationSvc service.NotificationService, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		notificationSvc: notificationSvc,
		logger:          logger,
	}
}

// Mount registers all API routes under the given router.
func (s *Server) Mount(r chi.Router) {
	// Synchronous dispatch
	r.Post("/notifications/{kind}", s.handleNotify)

	// Asynchronous intake through the event bus
	r.Post("/events", s.handleEnqueueEvent)

	// Delivery ledger
	r.Get("/deliveries", s.handleListDeliveries)
	r.Get("/deliveries/{key}", s.handleGetDelivery)

	r.Get("/version", s.handleVersion)
}

// errorResponse is the body of every non-2xx reply.
type errorResponse struct {
	Accepted bool   `json:"accepted"`
	Code     string `json:"code"`
	Field    string `json:"field,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Error    string `json:"error"`
}

// ─── Shared helpers ───────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Code: code, Error: msg})
}

// writeServiceError picks the status code for a service error.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *service.ValidationError
	var nf *service.NotFoundError
	var ie *service.InternalError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Code: codeInvalidArgument, Field: ve.Field, Error: err.Error(),
		})
	case errors.As(err, &nf):
		writeError(w, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, service.ErrQueueFull):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, codeUnavailable, err.Error())
	case errors.As(err, &ie):
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "reason", ie.Reason, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Code: codeInternal, Reason: ie.Reason, Error: err.Error(),
		})
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
	}
}

package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shaharia-lab/notifyd/internal/service"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// eventRequest is the body of POST /events.
type eventRequest struct {
	ID         string         `json:"id,omitempty"`
	Kind       string         `json:"kind"`
	SubjectID  string         `json:"subjectId"`
	OccurredAt *time.Time     `json:"occurredAt,omitempty"`
	Payload    map[string]any `json:"payload"`
}

// handleNotify delivers one notification and waits for the outcome.
func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req service.NotifyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidArgument, errInvalidJSONBody)
		return
	}

	resp, err := s.notificationSvc.Notify(r.Context(), chi.URLParam(r, "kind"), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleEnqueueEvent queues a workflow event and replies 202 with its id.
func (s *Server) handleEnqueueEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidArgument, errInvalidJSONBody)
		return
	}

	id, err := s.notificationSvc.Enqueue(r.Context(), req.Kind, service.NotifyRequest{
		ID:         req.ID,
		SubjectID:  req.SubjectID,
		OccurredAt: req.OccurredAt,
		Payload:    req.Payload,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true, "id": id})
}

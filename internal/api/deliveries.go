package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// handleListDeliveries returns recent delivery records.
// Accepts an optional ?limit=N query parameter.
func (s *Server) handleListDeliveries(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{
				Code: codeInvalidArgument, Field: "limit", Error: "limit must be a positive integer",
			})
			return
		}
		limit = n
	}

	records, err := s.notificationSvc.ListDeliveries(r.Context(), limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// handleGetDelivery returns the delivery record for an idempotency key.
func (s *Server) handleGetDelivery(w http.ResponseWriter, r *http.Request) {
	rec, err := s.notificationSvc.GetDelivery(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

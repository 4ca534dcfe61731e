package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/devicehub-core/internal/syncer"
)

// syncRequest is the optional body of the sync endpoints.
type syncRequest struct {
	Force bool `json:"force"`
}

// syncSummary is the response of POST /sync.
type syncSummary struct {
	Results []syncer.Result `json:"results"`
	Total   int             `json:"total"`
	Synced  int             `json:"synced"`
	Skipped int             `json:"skipped"`
	Failed  int             `json:"failed"`
}

// parseForce reads force from the JSON body or the ?force= query parameter.
// An empty body means false.
func parseForce(r *http.Request) (bool, error) {
	if v := r.URL.Query().Get("force"); v != "" {
		force, err := strconv.ParseBool(v)
		if err != nil {
			return false, errors.New("force must be a boolean")
		}
		return force, nil
	}

	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return false, errors.New("invalid JSON body")
	}
	return req.Force, nil
}

// handleSyncDevice syncs one device. A failed sync answers 502 with the
// per-device result attached.
func (s *Server) handleSyncDevice(w http.ResponseWriter, r *http.Request) {
	force, err := parseForce(r)
	if err != nil {
		writeValidation(w, err.Error())
		return
	}

	res, err := s.syncer.SyncDevice(r.Context(), chi.URLParam(r, "id"), force)
	if errors.Is(err, syncer.ErrSync) {
		writeJSON(w, http.StatusBadGateway, Error{
			Status: http.StatusBadGateway,
			Code:   ErrCodeSyncFailed,
			Error:  res.Error,
			Data:   res,
		})
		return
	}
	if s.writeDomainError(w, r, err) {
		return
	}
	writeData(w, http.StatusOK, res, err)
}

// handleSyncAll syncs every device. Per-device failures are reported in the
// results; the call itself succeeds.
func (s *Server) handleSyncAll(w http.ResponseWriter, r *http.Request) {
	force, err := parseForce(r)
	if err != nil {
		writeValidation(w, err.Error())
		return
	}

	results := s.syncer.SyncAllDevices(r.Context(), force)
	sum := syncSummary{Results: results, Total: len(results)}
	for _, res := range results {
		switch {
		case res.Skipped:
			sum.Skipped++
		case res.Success:
			sum.Synced++
		default:
			sum.Failed++
		}
	}
	writeData(w, http.StatusOK, sum, nil)
}

// handleSyncStatus returns the aggregate sync view.
func (s *Server) handleSyncStatus(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, s.registry.GetSyncStatus(), nil)
}

// handleSyncHistory returns recent sync records for one device, newest first.
func (s *Server) handleSyncHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	history, err := s.registry.SyncHistory(id)
	if s.writeDomainError(w, r, err) {
		return
	}
	writeData(w, http.StatusOK, map[string]any{"device_id": id, "history": history}, nil)
}

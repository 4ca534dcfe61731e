package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/devicehub-core/internal/device"
)

// statusRequest is the body of PATCH /devices/{id}/status.
type statusRequest struct {
	Status   device.Status  `json:"status"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// handleListDevices returns devices, optionally filtered.
//
// Query parameters:
//   - type: terminal, phone or external-api
//   - status: registered, syncing, online, error or disabled
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	var f device.Filter
	q := r.URL.Query()
	if v := q.Get("type"); v != "" {
		f.Type = device.Type(v)
		if err := device.ValidateType(f.Type); err != nil {
			writeValidation(w, err.Error())
			return
		}
	}
	if v := q.Get("status"); v != "" {
		f.Status = device.Status(v)
		if err := device.ValidateStatus(f.Status); err != nil {
			writeValidation(w, err.Error())
			return
		}
	}

	devices := s.registry.GetDevices(r.Context(), f)
	writeData(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)}, nil)
}

// handleDeviceStats returns counts by type and status.
func (s *Server) handleDeviceStats(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, s.registry.GetStats(), nil)
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := s.registry.GetDevice(r.Context(), chi.URLParam(r, "id"))
	if s.writeDomainError(w, r, err) {
		return
	}
	writeData(w, http.StatusOK, dev, nil)
}

// handleRegisterDevice registers a device, or re-registers an existing id.
func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var in device.RegisterInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeValidation(w, "invalid JSON body")
		return
	}
	if err := device.ValidateRegisterInput(in); err != nil {
		writeValidation(w, err.Error())
		return
	}

	dev, err := s.registry.RegisterDevice(r.Context(), in)
	if s.writeDomainError(w, r, err) {
		return
	}
	writeData(w, http.StatusCreated, dev, err)
}

// handleUpdateDeviceStatus sets status and merges metadata.
func (s *Server) handleUpdateDeviceStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidation(w, "invalid JSON body")
		return
	}
	if err := device.ValidateStatus(req.Status); err != nil {
		writeValidation(w, err.Error())
		return
	}

	dev, err := s.registry.UpdateDeviceStatus(r.Context(), chi.URLParam(r, "id"), req.Status, req.Metadata)
	if s.writeDomainError(w, r, err) {
		return
	}
	writeData(w, http.StatusOK, dev, err)
}

// handleRemoveDevice deletes a device and its sync payload.
func (s *Server) handleRemoveDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.registry.RemoveDevice(r.Context(), id)
	if s.writeDomainError(w, r, err) {
		return
	}
	writeData(w, http.StatusOK, map[string]any{"id": id, "removed": true}, err)
}

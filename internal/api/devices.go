package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nimbus-iot/nimbus-core/internal/registry"
)

// deviceResponse is the JSON view of a registry device.
type deviceResponse struct {
	ID              string     `json:"id"`
	State           string     `json:"state"`
	Owner           *string    `json:"owner,omitempty"`
	LastSeen        *time.Time `json:"last_seen,omitempty"`
	FirmwareVersion string     `json:"firmware_version,omitempty"`
}

func deviceView(d *registry.Device) deviceResponse {
	return deviceResponse{
		ID:              d.ID,
		State:           string(d.State),
		Owner:           d.Owner,
		LastSeen:        d.LastSeen,
		FirmwareVersion: d.FirmwareVersion,
	}
}

// handleGetDevice returns a single device by ID.
//
// GET /api/v1/devices/{id}
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")

	device, err := s.registry.Get(r.Context(), deviceID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, deviceView(device))
}

// pairingRequestResponse is the response body for a pairing request.
//
// The code is shown once in the app; the device displays the same code on
// its screen and the user confirms the match.
type pairingRequestResponse struct {
	Code      string `json:"code"`
	ExpiresIn int    `json:"expires_in"` // seconds
}

// handleRequestPairing starts a pairing handshake for a device.
//
// POST /api/v1/devices/{id}/pairing/request
func (s *Server) handleRequestPairing(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")

	code, err := s.pairer.RequestPairing(r.Context(), deviceID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pairingRequestResponse{
		Code:      code,
		ExpiresIn: s.pairingCfg.CodeTTL * 60,
	})
}

// confirmPairingRequest is the request body for pairing confirmation.
type confirmPairingRequest struct {
	Code string `json:"code"`
}

// handleConfirmPairing completes a pairing handshake. The confirming user
// is taken from the bearer token and becomes the device owner.
//
// POST /api/v1/devices/{id}/pairing/confirm
func (s *Server) handleConfirmPairing(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")

	var req confirmPairingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Code == "" {
		writeBadRequest(w, "code is required")
		return
	}

	userID := userIDFromContext(r.Context())
	if err := s.pairer.ConfirmPairing(r.Context(), deviceID, req.Code, userID); err != nil {
		writeDomainError(w, err)
		return
	}

	device, err := s.registry.Get(r.Context(), deviceID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, deviceView(device))
}

// handleUnpair detaches a device from its owner.
//
// POST /api/v1/devices/{id}/pairing/unpair
func (s *Server) handleUnpair(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")

	if err := s.pairer.Unpair(r.Context(), deviceID); err != nil {
		writeDomainError(w, err)
		return
	}

	device, err := s.registry.Get(r.Context(), deviceID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, deviceView(device))
}

package api

import (
	"encoding/json"
	"net/http"
)

// KillSwitchRequest is the payload for manually tripping or releasing the
// kill switch from an operator console.
type KillSwitchRequest struct {
	AccountID   string `json:"account_id" validate:"required"`
	Reason      string `json:"reason" validate:"required"`
	TriggeredBy string `json:"triggered_by" validate:"required"`
}

// KillSwitchHandler manually trips the kill switch, canceling open orders
// and closing open positions for the account.
func (h *Handler) KillSwitchHandler(w http.ResponseWriter, r *http.Request) {
	var req KillSwitchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
		return
	}
	if valErr := validateStruct(req); valErr != nil {
		writeValidationError(w, valErr)
		return
	}

	if err := h.risk.KillSwitch(r.Context(), req.AccountID, req.Reason, req.TriggeredBy); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "INTERNAL")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "kill_switch_engaged"})
}

// ReleaseKillSwitchHandler clears a previously engaged kill switch.
func (h *Handler) ReleaseKillSwitchHandler(w http.ResponseWriter, r *http.Request) {
	var req KillSwitchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
		return
	}

	if err := h.risk.ReleaseKillSwitch(r.Context(), req.AccountID, req.TriggeredBy); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "INTERNAL")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "kill_switch_released"})
}

// RotateAdminAPIKeyHandler rotates the operator API key and persists it to
// the configured .env file.
func (h *Handler) RotateAdminAPIKeyHandler(w http.ResponseWriter, r *http.Request) {
	newKey, err := h.cfg.RotateAdminAPIKey()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "INTERNAL")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"api_key": newKey})
}

package handler

import (
	"errors"
	"net/http"

	"github.com/dukerupert/mercado/internal/pwa"
)

type InstallHandler struct {
	installer *pwa.Installer
}

func NewInstallHandler(in *pwa.Installer) *InstallHandler {
	return &InstallHandler{installer: in}
}

type installStatus struct {
	pwa.Status
	ManualHint bool `json:"manualHint"`
}

// Status reports whether an install affordance should be shown. Clients
// pass ?standalone=true when already running as an installed app.
func (h *InstallHandler) Status(w http.ResponseWriter, r *http.Request) {
	standalone := r.URL.Query().Get("standalone") == "true"
	writeJSON(w, http.StatusOK, installStatus{
		Status:     h.installer.Status(),
		ManualHint: pwa.NeedsManualHint(r.UserAgent(), standalone),
	})
}

type promptRequest struct {
	Platforms []string `json:"platforms"`
}

// Defer records a platform install event for later replay.
func (h *InstallHandler) Defer(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	h.installer.Capture(req.Platforms)
	writeJSON(w, http.StatusAccepted, h.installer.Status())
}

func (h *InstallHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	p, err := h.installer.Trigger()
	if errors.Is(err, pwa.ErrNoPrompt) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, p)
}

type outcomeRequest struct {
	Outcome pwa.Outcome `json:"outcome"`
}

func (h *InstallHandler) Outcome(w http.ResponseWriter, r *http.Request) {
	var req outcomeRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	err := h.installer.Resolve(req.Outcome)
	switch {
	case errors.Is(err, pwa.ErrInvalidOutcome):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, pwa.ErrNotPending):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeJSON(w, http.StatusOK, h.installer.Status())
	}
}

package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/mercado/internal/assistant"
	"github.com/dukerupert/mercado/internal/state"
)

type AssistantHandler struct {
	client  assistant.Client
	store   *state.Store
	timeout time.Duration
	logger  *slog.Logger
}

func NewAssistantHandler(c assistant.Client, s *state.Store, timeout time.Duration, logger *slog.Logger) *AssistantHandler {
	return &AssistantHandler{client: c, store: s, timeout: timeout, logger: logger}
}

type generateRequest struct {
	Prompt string   `json:"prompt"`
	Budget *float64 `json:"budget"`
}

// Generate asks the assistant for a list and adds the result to the active
// list in one step. Nothing is added when generation fails.
func (h *AssistantHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "describe what you need to buy")
		return
	}

	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	items, err := h.client.Generate(ctx, req.Prompt, req.Budget)
	if err != nil {
		h.logger.Warn("assistant generation failed", "error", err)
		status := http.StatusBadGateway
		if errors.Is(err, assistant.ErrNotConfigured) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, assistant.ErrGenerate.Error())
		return
	}

	added, err := h.store.AddItems(items)
	if err != nil {
		h.logger.Warn("generated items rejected", "error", err)
		writeError(w, http.StatusBadGateway, assistant.ErrGenerate.Error())
		return
	}
	writeJSON(w, http.StatusCreated, added)
}

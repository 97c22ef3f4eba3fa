package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/mercado/internal/model"
	"github.com/dukerupert/mercado/internal/state"
	"github.com/dukerupert/mercado/internal/summary"
)

type StateHandler struct {
	store  *state.Store
	logger *slog.Logger
}

func NewStateHandler(s *state.Store, logger *slog.Logger) *StateHandler {
	return &StateHandler{store: s, logger: logger}
}

func (h *StateHandler) GetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.Snapshot())
}

func (h *StateHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	items := h.store.Items()
	if r.URL.Query().Get("grouped") == "true" {
		items = summary.DisplayOrder(items)
	}
	writeJSON(w, http.StatusOK, items)
}

type itemRequest struct {
	Name     string   `json:"name"`
	Quantity *float64 `json:"quantity"`
	Price    *float64 `json:"price"`
	Category string   `json:"category"`
}

func (req itemRequest) item() model.MarketItem {
	item := model.MarketItem{
		Name:     req.Name,
		Quantity: model.DefaultQuantity,
		Category: model.Category(req.Category),
	}
	if req.Quantity != nil {
		item.Quantity = *req.Quantity
	}
	if req.Price != nil {
		item.Price = *req.Price
	}
	return item
}

func (h *StateHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	created, err := h.store.AddItem(req.item())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// bulkItem carries no id or checked state; the store assigns both.
type bulkItem struct {
	itemRequest
	IsEstimated bool `json:"isEstimated"`
}

type bulkRequest struct {
	Items []bulkItem `json:"items"`
}

func (h *StateHandler) CreateItems(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	items := make([]model.MarketItem, 0, len(req.Items))
	for _, b := range req.Items {
		item := b.item()
		item.IsEstimated = b.IsEstimated
		items = append(items, item)
	}

	added, err := h.store.AddItems(items)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, added)
}

func (h *StateHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var patch model.ItemPatch
	if !decodeJSON(w, r, &patch, false) {
		return
	}
	if patch.Empty() {
		writeError(w, http.StatusBadRequest, "no fields to update")
		return
	}
	// A price typed by the user is no longer an estimate.
	if patch.Price != nil && patch.IsEstimated == nil {
		manual := false
		patch.IsEstimated = &manual
	}

	item, ok, err := h.store.UpdateItem(r.PathValue("id"), patch)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *StateHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	h.store.DeleteItem(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *StateHandler) ToggleItem(w http.ResponseWriter, r *http.Request) {
	h.respondItem(w, h.store.ToggleItem, r.PathValue("id"))
}

func (h *StateHandler) IncrementItem(w http.ResponseWriter, r *http.Request) {
	h.respondItem(w, h.store.IncrementQuantity, r.PathValue("id"))
}

func (h *StateHandler) DecrementItem(w http.ResponseWriter, r *http.Request) {
	h.respondItem(w, h.store.DecrementQuantity, r.PathValue("id"))
}

func (h *StateHandler) respondItem(w http.ResponseWriter, op func(string) (model.MarketItem, bool), id string) {
	item, ok := op(id)
	if !ok {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type budgetRequest struct {
	// Limit is user text ("350,50") or a JSON number.
	Limit json.RawMessage `json:"limit"`
}

func (h *StateHandler) UpdateBudget(w http.ResponseWriter, r *http.Request) {
	var req budgetRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	text := string(req.Limit)
	var s string
	if err := json.Unmarshal(req.Limit, &s); err == nil {
		text = s
	}

	limit, err := h.store.UpdateBudget(text)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error(), "limit": limit})
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"limit": limit})
}

type finishRequest struct {
	Date string `json:"date"`
}

func (h *StateHandler) FinishShopping(w http.ResponseWriter, r *http.Request) {
	var req finishRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	if strings.TrimSpace(req.Date) == "" {
		req.Date = h.store.Today()
	}

	result, err := h.store.FinishShopping(req.Date)
	switch {
	case errors.Is(err, state.ErrNothingChecked):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case errors.Is(err, state.ErrInvalidDate):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logger.Error("failed to finish shopping", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to finish shopping")
		return
	}

	h.logger.Info("trip finished", "trip", result.Trip.ID, "total", result.Trip.Total, "items", result.Trip.ItemCount)
	writeJSON(w, http.StatusOK, result)
}

func (h *StateHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.History())
}

func (h *StateHandler) DeleteTrip(w http.ResponseWriter, r *http.Request) {
	h.store.DeleteTrip(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *StateHandler) Summary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, summary.ForState(h.store.Snapshot()))
}

func (h *StateHandler) Monthly(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, summary.Monthly(h.store.History(), h.store.Location()))
}

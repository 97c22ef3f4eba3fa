package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/mercado/internal/backup"
	"github.com/dukerupert/mercado/internal/model"
)

type BackupHandler struct {
	manager *backup.Manager
	logger  *slog.Logger
}

func NewBackupHandler(m *backup.Manager, logger *slog.Logger) *BackupHandler {
	return &BackupHandler{manager: m, logger: logger}
}

func (h *BackupHandler) List(w http.ResponseWriter, r *http.Request) {
	if !h.manager.Enabled() {
		writeJSON(w, http.StatusOK, map[string]any{"status": h.manager.Status(), "backups": []model.Backup{}})
		return
	}
	backups, err := h.manager.List(r.Context(), 50)
	if err != nil {
		h.logger.Error("failed to list backups", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list backups")
		return
	}
	if backups == nil {
		backups = []model.Backup{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": h.manager.Status(), "backups": backups})
}

func (h *BackupHandler) Create(w http.ResponseWriter, r *http.Request) {
	record, err := h.manager.RunNow(r.Context())
	if errors.Is(err, backup.ErrDisabled) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("backup failed", "error", err)
		writeError(w, http.StatusBadGateway, "backup failed")
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (h *BackupHandler) Restore(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	err = h.manager.Restore(r.Context(), id)
	switch {
	case errors.Is(err, backup.ErrDisabled):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, backup.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, backup.ErrNotCompleted):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		h.logger.Error("restore failed", "id", id, "error", err)
		writeError(w, http.StatusBadGateway, "restore failed")
	default:
		writeJSON(w, http.StatusOK, map[string]any{"restored": id})
	}
}

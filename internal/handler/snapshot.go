package handler

import (
	"log/slog"
	"net/http"

	"github.com/pranavkale/lekha/internal/snapshot"
)

// SnapshotHandler exposes the encrypted snapshot manager to operators.
type SnapshotHandler struct {
	manager *snapshot.Manager
	logger  *slog.Logger
}

func NewSnapshotHandler(manager *snapshot.Manager, logger *slog.Logger) *SnapshotHandler {
	return &SnapshotHandler{manager: manager, logger: logger}
}

func (h *SnapshotHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.Status())
}

func (h *SnapshotHandler) List(w http.ResponseWriter, r *http.Request) {
	if !h.manager.Enabled() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "snapshots not configured"})
		return
	}

	infos, err := h.manager.List(r.Context())
	if err != nil {
		h.logger.Error("list snapshots", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list snapshots"})
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

func (h *SnapshotHandler) RunNow(w http.ResponseWriter, r *http.Request) {
	if !h.manager.Enabled() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "snapshots not configured"})
		return
	}

	key, err := h.manager.RunNow(r.Context())
	if err != nil {
		h.logger.Error("run snapshot", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "snapshot failed"})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"key": key})
}

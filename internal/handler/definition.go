package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pranavkale/lekha/internal/model"
	"github.com/pranavkale/lekha/internal/store"
)

// DefinitionHandler manages reward definition templates.
type DefinitionHandler struct {
	store  *store.RewardDefinitionStore
	logger *slog.Logger
}

func NewDefinitionHandler(definitionStore *store.RewardDefinitionStore, logger *slog.Logger) *DefinitionHandler {
	return &DefinitionHandler{store: definitionStore, logger: logger}
}

type definitionRequest struct {
	Name       string `json:"name"`
	RewardType string `json:"reward_type"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	Active     bool   `json:"active"`
}

func (h *DefinitionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req definitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}
	if req.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "amount must be positive"})
		return
	}
	if req.Currency == "" {
		req.Currency = "INR"
	}

	def, err := h.store.Create(req.Name, req.RewardType, req.Amount, req.Currency, req.Active)
	if err != nil {
		h.logger.Error("create reward definition", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create definition"})
		return
	}

	writeJSON(w, http.StatusCreated, def)
}

func (h *DefinitionHandler) List(w http.ResponseWriter, r *http.Request) {
	defs, err := h.store.List()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list definitions"})
		return
	}
	if defs == nil {
		defs = []model.RewardDefinition{}
	}
	writeJSON(w, http.StatusOK, defs)
}

func (h *DefinitionHandler) Get(w http.ResponseWriter, r *http.Request) {
	def, err := h.store.GetByID(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get definition"})
		return
	}
	if def == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "definition not found"})
		return
	}
	writeJSON(w, http.StatusOK, def)
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

// SetActive toggles a definition. Definitions are never deleted: reward
// events keep referencing them after deactivation.
func (h *DefinitionHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	def, err := h.store.GetByID(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get definition"})
		return
	}
	if def == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "definition not found"})
		return
	}

	var req setActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	if err := h.store.SetActive(id, req.Active); err != nil {
		h.logger.Error("update reward definition", "definition_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to update definition"})
		return
	}

	def, _ = h.store.GetByID(id)
	writeJSON(w, http.StatusOK, def)
}

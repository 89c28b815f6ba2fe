package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/pranavkale/lekha/internal/rules"
	"github.com/pranavkale/lekha/internal/store"
)

// RuleHandler manages the persisted rule set. Writes go through the engine's
// validation first, then the store, then the engine's in-memory set, so a
// rule that is live is always both valid and durable.
type RuleHandler struct {
	engine *rules.Engine
	store  *store.RuleStore
	logger *slog.Logger
}

func NewRuleHandler(engine *rules.Engine, ruleStore *store.RuleStore, logger *slog.Logger) *RuleHandler {
	return &RuleHandler{engine: engine, store: ruleStore, logger: logger}
}

// LoadRules hydrates the engine from the store at startup. Rules that fail
// validation are skipped and logged, not fatal: one bad row must not keep the
// whole rule set offline.
func (h *RuleHandler) LoadRules() error {
	stored, err := h.store.List()
	if err != nil {
		return err
	}
	for _, r := range stored {
		if err := h.engine.AddRule(r); err != nil {
			h.logger.Warn("skipping stored rule", "rule_id", r.ID, "error", err)
		}
	}
	return nil
}

func (h *RuleHandler) Save(w http.ResponseWriter, r *http.Request) {
	var rule rules.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if id := r.PathValue("id"); id != "" {
		rule.ID = id
	}

	if err := h.engine.AddRule(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	saved, err := h.store.Save(&rule)
	if err != nil {
		h.logger.Error("save rule", "rule_id", rule.ID, "error", err)
		// Keep memory and storage in lockstep.
		h.engine.RemoveRule(rule.ID)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to save rule"})
		return
	}
	// Re-register with the stored version number.
	if err := h.engine.AddRule(saved); err != nil {
		h.logger.Error("re-register saved rule", "rule_id", saved.ID, "error", err)
	}

	writeJSON(w, http.StatusCreated, saved)
}

func (h *RuleHandler) List(w http.ResponseWriter, r *http.Request) {
	listed := h.engine.ListRules(r.URL.Query().Get("trigger"))
	if listed == nil {
		listed = []*rules.Rule{}
	}
	writeJSON(w, http.StatusOK, listed)
}

func (h *RuleHandler) Get(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.engine.Rule(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "rule not found"})
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *RuleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := h.engine.Rule(id); !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "rule not found"})
		return
	}

	if err := h.store.Delete(id); err != nil {
		h.logger.Error("delete rule", "rule_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete rule"})
		return
	}
	h.engine.RemoveRule(id)

	w.WriteHeader(http.StatusNoContent)
}

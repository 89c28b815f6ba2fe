package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pranavkale/lekha/internal/model"
	"github.com/pranavkale/lekha/internal/store"
)

// UserHandler manages the participant records rewards refer to.
type UserHandler struct {
	store  *store.UserStore
	events *store.RewardEventStore
	logger *slog.Logger
}

func NewUserHandler(userStore *store.UserStore, events *store.RewardEventStore, logger *slog.Logger) *UserHandler {
	return &UserHandler{store: userStore, events: events, logger: logger}
}

type userRequest struct {
	Email      string `json:"email"`
	Name       string `json:"name"`
	Tier       string `json:"tier"`
	IsPaidUser bool   `json:"is_paid_user"`
}

func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "email is required"})
		return
	}

	existing, err := h.store.GetByEmail(req.Email)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to check email"})
		return
	}
	if existing != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "email already registered"})
		return
	}

	user, err := h.store.Create(req.Email, req.Name, req.Tier, req.IsPaidUser)
	if err != nil {
		h.logger.Error("create user", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create user"})
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, err := h.store.GetByID(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get user"})
		return
	}
	if user == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type paidStatusRequest struct {
	IsPaidUser bool   `json:"is_paid_user"`
	Tier       string `json:"tier"`
}

func (h *UserHandler) SetPaidStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	user, err := h.store.GetByID(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get user"})
		return
	}
	if user == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
		return
	}

	var req paidStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	if err := h.store.SetPaidStatus(id, req.IsPaidUser, req.Tier); err != nil {
		h.logger.Error("update user paid status", "user_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to update user"})
		return
	}

	user, _ = h.store.GetByID(id)
	writeJSON(w, http.StatusOK, user)
}

// ListRewards returns a referrer's reward events, newest first.
func (h *UserHandler) ListRewards(w http.ResponseWriter, r *http.Request) {
	listed, err := h.events.ListByReferrer(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list rewards"})
		return
	}
	if listed == nil {
		listed = []model.RewardEvent{}
	}
	writeJSON(w, http.StatusOK, listed)
}

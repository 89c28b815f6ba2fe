package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/pranavkale/lekha/internal/ledger"
	"github.com/pranavkale/lekha/internal/websocket"
)

// RewardHandler exposes the reward lifecycle over HTTP.
type RewardHandler struct {
	service *ledger.Service
	hub     *websocket.Hub
	logger  *slog.Logger
}

func NewRewardHandler(service *ledger.Service, hub *websocket.Hub, logger *slog.Logger) *RewardHandler {
	return &RewardHandler{service: service, hub: hub, logger: logger}
}

func (h *RewardHandler) broadcast(msg websocket.Message) {
	if h.hub != nil {
		h.hub.Broadcast(msg)
	}
}

type createRewardRequest struct {
	IdempotencyKey string  `json:"idempotency_key"`
	ReferrerID     string  `json:"referrer_id"`
	ReferredID     string  `json:"referred_id"`
	DefinitionID   *string `json:"definition_id"`
	Amount         *int64  `json:"amount"`
	Currency       string  `json:"currency"`
	Description    string  `json:"description"`
}

func (h *RewardHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRewardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	event, entry, err := h.service.CreateReward(r.Context(), ledger.CreateRewardParams{
		IdempotencyKey: req.IdempotencyKey,
		ReferrerID:     req.ReferrerID,
		ReferredID:     req.ReferredID,
		DefinitionID:   req.DefinitionID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Description:    req.Description,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	h.broadcast(websocket.RewardMessage("created", event))
	h.broadcast(websocket.EntryMessage(entry))

	writeJSON(w, http.StatusCreated, map[string]any{
		"reward": event,
		"entry":  entry,
	})
}

func (h *RewardHandler) Get(w http.ResponseWriter, r *http.Request) {
	event, err := h.service.GetReward(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (h *RewardHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	event, err := h.service.ConfirmReward(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	h.broadcast(websocket.RewardMessage("confirmed", event))
	writeJSON(w, http.StatusOK, event)
}

type reverseRequest struct {
	Reason string `json:"reason"`
}

func (h *RewardHandler) Reverse(w http.ResponseWriter, r *http.Request) {
	var req reverseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	event, entry, err := h.service.ReverseReward(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	h.broadcast(websocket.RewardMessage("reversed", event))
	h.broadcast(websocket.EntryMessage(entry))

	writeJSON(w, http.StatusOK, map[string]any{
		"reward": event,
		"entry":  entry,
	})
}

func (h *RewardHandler) Pay(w http.ResponseWriter, r *http.Request) {
	event, err := h.service.MarkPaid(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	h.broadcast(websocket.RewardMessage("paid", event))
	writeJSON(w, http.StatusOK, event)
}

func (h *RewardHandler) Expire(w http.ResponseWriter, r *http.Request) {
	event, err := h.service.ExpireReward(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	h.broadcast(websocket.RewardMessage("expired", event))
	writeJSON(w, http.StatusOK, event)
}

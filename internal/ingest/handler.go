package ingest

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/pranavkale/lekha/internal/dispatch"
)

// Handler receives payment-provider webhooks and feeds them to the
// dispatcher.
type Handler struct {
	webhookSecret string
	dispatcher    *dispatch.Dispatcher
	logger        *slog.Logger
}

func NewHandler(webhookSecret string, dispatcher *dispatch.Dispatcher, logger *slog.Logger) *Handler {
	return &Handler{
		webhookSecret: webhookSecret,
		dispatcher:    dispatcher,
		logger:        logger,
	}
}

// HandleStripeWebhook verifies, translates, and dispatches one Stripe event.
// Stripe retries on non-2xx, so dispatch failures still acknowledge: the
// ledger's idempotency makes our own retry path the safer one.
func (h *Handler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 65536))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	stripeEvent, err := ConstructWebhookEvent(body, r.Header.Get("Stripe-Signature"), h.webhookSecret)
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	event, ok, err := TranslateStripeEvent(stripeEvent)
	if err != nil {
		h.logger.Error("translate stripe event", "stripe_event_id", stripeEvent.ID, "error", err)
		http.Error(w, "malformed event payload", http.StatusBadRequest)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusOK)
		return
	}

	results, err := h.dispatcher.Dispatch(r.Context(), event)
	if err != nil {
		h.logger.Error("dispatch stripe event", "stripe_event_id", stripeEvent.ID, "error", err)
		http.Error(w, "dispatch failed", http.StatusInternalServerError)
		return
	}
	for _, res := range results {
		if res.Err() != nil {
			h.logger.Error("stripe-driven action failed",
				"stripe_event_id", stripeEvent.ID, "rule_id", res.RuleID, "error", res.Err())
		}
	}

	w.WriteHeader(http.StatusOK)
}

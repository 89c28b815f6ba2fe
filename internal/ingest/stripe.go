package ingest

import (
	"encoding/json"
	"fmt"
	"strings"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/pranavkale/lekha/internal/dispatch"
	"github.com/pranavkale/lekha/internal/rules"
)

// ConstructWebhookEvent verifies the Stripe signature and returns the parsed
// event.
func ConstructWebhookEvent(payload []byte, sigHeader, secret string) (stripe.Event, error) {
	return webhook.ConstructEvent(payload, sigHeader, secret)
}

// TranslateStripeEvent maps a verified Stripe event to a dispatchable
// business event. The Stripe event id becomes the idempotency root, so
// Stripe's redelivery semantics collapse into one credit.
//
// Only checkouts and invoices tagged with referral metadata produce events;
// everything else returns ok=false and is acknowledged without dispatching.
func TranslateStripeEvent(event stripe.Event) (dispatch.Event, bool, error) {
	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return dispatch.Event{}, false, fmt.Errorf("unmarshal checkout session: %w", err)
		}
		return referralEvent(event.ID, rules.TriggerSubscriptionStarted, sess.Metadata,
			sess.AmountTotal, string(sess.Currency))

	case "invoice.paid":
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return dispatch.Event{}, false, fmt.Errorf("unmarshal invoice: %w", err)
		}
		return referralEvent(event.ID, rules.TriggerPaymentReceived, invoice.Metadata,
			invoice.AmountPaid, string(invoice.Currency))

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return dispatch.Event{}, false, fmt.Errorf("unmarshal subscription: %w", err)
		}
		return referralEvent(event.ID, rules.TriggerSubscriptionCancelled, sub.Metadata, 0, "")
	}

	return dispatch.Event{}, false, nil
}

// referralEvent builds the rule context from the referral metadata our
// checkout flow stamps on Stripe objects. Objects without a referrer are not
// referral traffic.
func referralEvent(eventID, trigger string, metadata map[string]string, amount int64, currency string) (dispatch.Event, bool, error) {
	referrerID := metadata["referrer_id"]
	referredID := metadata["referred_id"]
	if referrerID == "" || referredID == "" {
		return dispatch.Event{}, false, nil
	}

	plan := metadata["subscription_plan"]
	if plan == "" {
		plan = metadata["plan"]
	}

	ctx := rules.Context{
		"referrer": map[string]any{
			"id":           referrerID,
			"is_paid_user": metadata["referrer_is_paid"] == "true",
		},
		"referred": map[string]any{
			"id":                referredID,
			"subscription_plan": plan,
		},
	}
	if amount > 0 {
		ctx["payment"] = map[string]any{
			"amount":   float64(amount),
			"currency": strings.ToUpper(currency),
		}
	}

	return dispatch.Event{
		Trigger:    trigger,
		EventID:    eventID,
		ReferrerID: referrerID,
		ReferredID: referredID,
		Context:    ctx,
	}, true, nil
}

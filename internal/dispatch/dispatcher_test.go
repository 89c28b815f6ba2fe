package dispatch

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/pranavkale/lekha/internal/database"
	"github.com/pranavkale/lekha/internal/ledger"
	"github.com/pranavkale/lekha/internal/model"
	"github.com/pranavkale/lekha/internal/rules"
	"github.com/pranavkale/lekha/internal/store"
)

type fakeNotifier struct {
	sent []sentNotification
	err  error
}

type sentNotification struct {
	to       string
	template string
	rewardID string
}

func (f *fakeNotifier) SendRewardNotification(toEmail, template string, event *model.RewardEvent) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentNotification{to: toEmail, template: template, rewardID: event.ID})
	return nil
}

type dispatchFixture struct {
	dispatcher *Dispatcher
	service    *ledger.Service
	users      *store.UserStore
	notifier   *fakeNotifier
	engine     *rules.Engine
	db         *sql.DB
	referrer   *model.User
	referred   *model.User
}

func setupDispatcher(t *testing.T) *dispatchFixture {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "dispatch.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	users := store.NewUserStore(db)
	referrer, err := users.Create("referrer@example.com", "Referrer", "gold", true)
	if err != nil {
		t.Fatalf("create referrer: %v", err)
	}
	referred, err := users.Create("referred@example.com", "Referred", "free", false)
	if err != nil {
		t.Fatalf("create referred: %v", err)
	}

	engine := rules.NewEngine(rules.NewRegistry(), slog.Default())
	service := ledger.NewService(db, slog.Default())
	notifier := &fakeNotifier{}

	return &dispatchFixture{
		dispatcher: NewDispatcher(engine, service, users, notifier,
			NewWebhookSender("test-secret"), nil, slog.Default()),
		service:  service,
		users:    users,
		notifier: notifier,
		engine:   engine,
		db:       db,
		referrer: referrer,
		referred: referred,
	}
}

func (f *dispatchFixture) addRule(t *testing.T, r *rules.Rule) {
	t.Helper()
	if err := f.engine.AddRule(r); err != nil {
		t.Fatalf("add rule %s: %v", r.ID, err)
	}
}

func (f *dispatchFixture) event(trigger, eventID string) Event {
	return Event{
		Trigger:    trigger,
		EventID:    eventID,
		ReferrerID: f.referrer.ID,
		ReferredID: f.referred.ID,
		Context: rules.Context{
			"referrer": map[string]any{"is_paid_user": true},
			"referred": map[string]any{"subscription_plan": "premium"},
		},
	}
}

func TestDispatchCreditsReward(t *testing.T) {
	f := setupDispatcher(t)

	f.addRule(t, &rules.Rule{
		ID: "premium", Trigger: rules.TriggerSubscriptionStarted, Active: true,
		Condition: rules.Leaf{Field: "referred.subscription_plan", Operator: rules.OpEquals, Value: "premium"},
		Actions: []rules.Action{{Type: rules.ActionCreditReward,
			Params: map[string]any{"amount": float64(500), "currency": "INR"}}},
	})

	results, err := f.dispatcher.Dispatch(context.Background(), f.event(rules.TriggerSubscriptionStarted, "evt-1"))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Err() != nil {
		t.Fatalf("credit failed: %v", results[0].Err())
	}

	reward, err := f.service.GetReward(context.Background(), results[0].RewardID)
	if err != nil {
		t.Fatalf("get reward: %v", err)
	}
	if reward.Amount != 500 || reward.Status != model.StatusPending {
		t.Errorf("reward = %+v, want 500 PENDING", reward)
	}

	balance, _ := f.service.GetBalance(context.Background(), f.referrer.ID, "INR")
	if balance.CurrentBalance != 500 {
		t.Errorf("balance = %d, want 500", balance.CurrentBalance)
	}
}

// Replaying the same business event must not credit twice, whatever the
// transport retries look like.
func TestDispatchReplayIsIdempotent(t *testing.T) {
	f := setupDispatcher(t)

	f.addRule(t, &rules.Rule{
		ID: "signup", Trigger: rules.TriggerReferralSignup, Active: true,
		Actions: []rules.Action{{Type: rules.ActionCreditReward,
			Params: map[string]any{"amount": float64(100)}}},
	})

	var rewardIDs []string
	for i := 0; i < 3; i++ {
		results, err := f.dispatcher.Dispatch(context.Background(), f.event(rules.TriggerReferralSignup, "evt-replay"))
		if err != nil {
			t.Fatalf("dispatch %d: %v", i, err)
		}
		if results[0].Err() != nil {
			t.Fatalf("dispatch %d: %v", i, results[0].Err())
		}
		rewardIDs = append(rewardIDs, results[0].RewardID)
	}
	if rewardIDs[0] != rewardIDs[1] || rewardIDs[1] != rewardIDs[2] {
		t.Error("replays must resolve to the same reward")
	}

	balance, _ := f.service.GetBalance(context.Background(), f.referrer.ID, "INR")
	if balance.CurrentBalance != 100 || balance.TotalEntries != 1 {
		t.Errorf("balance/entries = %d/%d, want 100/1", balance.CurrentBalance, balance.TotalEntries)
	}
}

// Two rules firing on the same event credit independently.
func TestDispatchDistinctRulesCreditSeparately(t *testing.T) {
	f := setupDispatcher(t)

	f.addRule(t, &rules.Rule{
		ID: "base", Trigger: rules.TriggerReferralSignup, Active: true, Priority: 2,
		Actions: []rules.Action{{Type: rules.ActionCreditReward,
			Params: map[string]any{"amount": float64(100)}}},
	})
	f.addRule(t, &rules.Rule{
		ID: "bonus", Trigger: rules.TriggerReferralSignup, Active: true, Priority: 1,
		Actions: []rules.Action{{Type: rules.ActionCreditReward,
			Params: map[string]any{"amount": float64(50)}}},
	})

	results, err := f.dispatcher.Dispatch(context.Background(), f.event(rules.TriggerReferralSignup, "evt-multi"))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].RewardID == results[1].RewardID {
		t.Error("distinct rules must produce distinct rewards")
	}

	balance, _ := f.service.GetBalance(context.Background(), f.referrer.ID, "INR")
	if balance.CurrentBalance != 150 {
		t.Errorf("balance = %d, want 150", balance.CurrentBalance)
	}
}

func TestDispatchCreditFromDefinition(t *testing.T) {
	f := setupDispatcher(t)

	f.addRule(t, &rules.Rule{
		ID: "def-rule", Trigger: rules.TriggerSubscriptionStarted, Active: true,
		Actions: []rules.Action{{Type: rules.ActionCreditReward,
			Params: map[string]any{"definition_id": "22222222-2222-2222-2222-222222222222"}}},
	})

	results, err := f.dispatcher.Dispatch(context.Background(), f.event(rules.TriggerSubscriptionStarted, "evt-def"))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if results[0].Err() != nil {
		t.Fatalf("credit failed: %v", results[0].Err())
	}
	reward, _ := f.service.GetReward(context.Background(), results[0].RewardID)
	if reward.Amount != 500 || reward.Currency != "INR" {
		t.Errorf("reward = %d %s, want 500 INR from definition", reward.Amount, reward.Currency)
	}
}

func TestDispatchNotificationUsesCreditedReward(t *testing.T) {
	f := setupDispatcher(t)

	f.addRule(t, &rules.Rule{
		ID: "credit-then-notify", Trigger: rules.TriggerReferralSignup, Active: true,
		Actions: []rules.Action{
			{Type: rules.ActionCreditReward, Params: map[string]any{"amount": float64(100)}},
			{Type: rules.ActionSendNotification, Params: map[string]any{"template": "reward_created"}},
		},
	})

	results, err := f.dispatcher.Dispatch(context.Background(), f.event(rules.TriggerReferralSignup, "evt-notify"))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	for _, r := range results {
		if r.Err() != nil {
			t.Fatalf("action %s: %v", r.Type, r.Err())
		}
	}

	if len(f.notifier.sent) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(f.notifier.sent))
	}
	sent := f.notifier.sent[0]
	if sent.to != "referrer@example.com" || sent.template != "reward_created" {
		t.Errorf("notification = %+v", sent)
	}
	if sent.rewardID != results[0].RewardID {
		t.Error("notification must reference the credited reward")
	}
}

func TestDispatchStatusUpdateConfirms(t *testing.T) {
	f := setupDispatcher(t)

	f.addRule(t, &rules.Rule{
		ID: "instant-confirm", Trigger: rules.TriggerPaymentReceived, Active: true,
		Actions: []rules.Action{
			{Type: rules.ActionCreditReward, Params: map[string]any{"amount": float64(200)}},
			{Type: rules.ActionUpdateStatus, Params: map[string]any{"status": "CONFIRMED"}},
		},
	})

	results, err := f.dispatcher.Dispatch(context.Background(), f.event(rules.TriggerPaymentReceived, "evt-confirm"))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	for _, r := range results {
		if r.Err() != nil {
			t.Fatalf("action %s: %v", r.Type, r.Err())
		}
	}

	reward, _ := f.service.GetReward(context.Background(), results[0].RewardID)
	if reward.Status != model.StatusConfirmed {
		t.Errorf("status = %s, want CONFIRMED", reward.Status)
	}
}

func TestDispatchStatusUpdateFromContext(t *testing.T) {
	f := setupDispatcher(t)

	// Create a reward out of band, then target it via the reward.id fact.
	amount := int64(300)
	reward, _, err := f.service.CreateReward(context.Background(), ledger.CreateRewardParams{
		IdempotencyKey: "oob", ReferrerID: f.referrer.ID, ReferredID: f.referred.ID, Amount: &amount,
	})
	if err != nil {
		t.Fatalf("create reward: %v", err)
	}

	f.addRule(t, &rules.Rule{
		ID: "confirm-existing", Trigger: rules.TriggerManual, Active: true,
		Actions: []rules.Action{{Type: rules.ActionUpdateStatus,
			Params: map[string]any{"status": "CONFIRMED"}}},
	})

	event := f.event(rules.TriggerManual, "evt-ctx")
	event.Context["reward"] = map[string]any{"id": reward.ID}
	results, err := f.dispatcher.Dispatch(context.Background(), event)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if results[0].Err() != nil {
		t.Fatalf("status update: %v", results[0].Err())
	}

	got, _ := f.service.GetReward(context.Background(), reward.ID)
	if got.Status != model.StatusConfirmed {
		t.Errorf("status = %s, want CONFIRMED", got.Status)
	}
}

func TestDispatchWebhookDelivery(t *testing.T) {
	f := setupDispatcher(t)

	var gotBody []byte
	var gotSig string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get(SignatureHeader)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	f.addRule(t, &rules.Rule{
		ID: "hook", Trigger: rules.TriggerSubscriptionCancelled, Active: true,
		Actions: []rules.Action{{Type: rules.ActionTriggerWebhook,
			Params: map[string]any{"url": server.URL, "event": "referral.cancelled"}}},
	})

	results, err := f.dispatcher.Dispatch(context.Background(), f.event(rules.TriggerSubscriptionCancelled, "evt-hook"))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if results[0].Err() != nil {
		t.Fatalf("webhook: %v", results[0].Err())
	}

	var payload webhookPayload
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Event != "referral.cancelled" || payload.EventID != "evt-hook" || payload.RuleID != "hook" {
		t.Errorf("payload = %+v", payload)
	}
	if !VerifySignature("test-secret", gotBody, gotSig) {
		t.Error("signature must verify against the shared secret")
	}
	if VerifySignature("wrong-secret", gotBody, gotSig) {
		t.Error("signature must not verify under a different secret")
	}
}

// One failing action must not prevent the rest of the batch from executing.
func TestDispatchIsolatesActionFailures(t *testing.T) {
	f := setupDispatcher(t)

	f.addRule(t, &rules.Rule{
		ID: "broken-hook", Trigger: rules.TriggerReferralSignup, Active: true, Priority: 2,
		Actions: []rules.Action{{Type: rules.ActionTriggerWebhook,
			Params: map[string]any{"url": "http://127.0.0.1:1/unreachable"}}},
	})
	f.addRule(t, &rules.Rule{
		ID: "credit", Trigger: rules.TriggerReferralSignup, Active: true, Priority: 1,
		Actions: []rules.Action{{Type: rules.ActionCreditReward,
			Params: map[string]any{"amount": float64(100)}}},
	})

	results, err := f.dispatcher.Dispatch(context.Background(), f.event(rules.TriggerReferralSignup, "evt-iso"))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Err() == nil {
		t.Error("unreachable webhook should fail")
	}
	if results[1].Err() != nil {
		t.Errorf("credit should still run: %v", results[1].Err())
	}

	balance, _ := f.service.GetBalance(context.Background(), f.referrer.ID, "INR")
	if balance.CurrentBalance != 100 {
		t.Errorf("balance = %d, want 100", balance.CurrentBalance)
	}
}

func TestDispatchValidation(t *testing.T) {
	f := setupDispatcher(t)

	if _, err := f.dispatcher.Dispatch(context.Background(), Event{EventID: "x"}); err == nil {
		t.Error("missing trigger must be rejected")
	}
	if _, err := f.dispatcher.Dispatch(context.Background(), Event{Trigger: rules.TriggerManual}); err == nil {
		t.Error("missing event_id must be rejected")
	}
}

func TestDispatchNoMatchingRules(t *testing.T) {
	f := setupDispatcher(t)

	results, err := f.dispatcher.Dispatch(context.Background(), f.event(rules.TriggerManual, "evt-none"))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

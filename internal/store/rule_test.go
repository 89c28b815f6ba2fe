package store

import (
	"testing"

	"github.com/pranavkale/lekha/internal/rules"
)

func premiumReferralRule() *rules.Rule {
	return &rules.Rule{
		ID:      "rule-premium-referral",
		Name:    "Premium Referral Reward",
		Trigger: rules.TriggerSubscriptionStarted,
		Active:  true,
		Condition: rules.Group{Operator: rules.LogicalAnd, Conditions: []rules.Condition{
			rules.Leaf{Field: "referrer.is_paid_user", Operator: rules.OpEquals, Value: true},
			rules.Leaf{Field: "referred.subscription_plan", Operator: rules.OpEquals, Value: "premium"},
		}},
		Actions: []rules.Action{{
			Type:   rules.ActionCreditReward,
			Params: map[string]any{"amount": float64(500), "currency": "INR"},
		}},
		Priority: 10,
	}
}

func TestRuleSaveRoundtrip(t *testing.T) {
	db := setupTestDB(t)
	s := NewRuleStore(db)

	saved, err := s.Save(premiumReferralRule())
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.Version != 1 {
		t.Errorf("version = %d, want 1", saved.Version)
	}

	got, err := s.GetByID("rule-premium-referral")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("rule not found")
	}
	if got.Trigger != rules.TriggerSubscriptionStarted || got.Priority != 10 || !got.Active {
		t.Errorf("roundtrip mismatch: %+v", got)
	}

	// The condition tree survives the JSON roundtrip and still evaluates.
	group, ok := got.Condition.(rules.Group)
	if !ok {
		t.Fatalf("expected Group condition, got %T", got.Condition)
	}
	if len(group.Conditions) != 2 {
		t.Fatalf("expected 2 leaves, got %d", len(group.Conditions))
	}
	ev := &rules.Evaluator{}
	match, err := ev.Evaluate(got.Condition, rules.Context{
		"referrer": map[string]any{"is_paid_user": true},
		"referred": map[string]any{"subscription_plan": "premium"},
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !match {
		t.Error("stored condition should match the premium context")
	}

	if len(got.Actions) != 1 || got.Actions[0].Type != rules.ActionCreditReward {
		t.Errorf("actions mismatch: %+v", got.Actions)
	}
}

func TestRuleSaveBumpsVersion(t *testing.T) {
	db := setupTestDB(t)
	s := NewRuleStore(db)

	if _, err := s.Save(premiumReferralRule()); err != nil {
		t.Fatalf("save: %v", err)
	}

	update := premiumReferralRule()
	update.Priority = 99
	saved, err := s.Save(update)
	if err != nil {
		t.Fatalf("resave: %v", err)
	}
	if saved.Version != 2 {
		t.Errorf("version = %d, want 2 after update", saved.Version)
	}
	if saved.Priority != 99 {
		t.Errorf("priority = %d, want 99", saved.Priority)
	}
}

func TestRuleWithoutCondition(t *testing.T) {
	db := setupTestDB(t)
	s := NewRuleStore(db)

	r := premiumReferralRule()
	r.ID = "rule-unconditional"
	r.Condition = nil
	saved, err := s.Save(r)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.Condition != nil {
		t.Error("nil condition must stay nil through storage")
	}
}

func TestRuleListAndDelete(t *testing.T) {
	db := setupTestDB(t)
	s := NewRuleStore(db)

	a := premiumReferralRule()
	b := premiumReferralRule()
	b.ID = "rule-second"
	s.Save(a)
	s.Save(b)

	listed, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(listed))
	}
	if listed[0].ID != a.ID || listed[1].ID != b.ID {
		t.Error("rules must list in insertion order")
	}

	if err := s.Delete(a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, _ := s.GetByID(a.ID)
	if got != nil {
		t.Error("deleted rule must not resolve")
	}
}

package rules

import (
	"encoding/json"
	"fmt"
	"time"
)

// Triggers are the business event types a rule can be scoped to.
const (
	TriggerReferralSignup        = "referral_signup"
	TriggerSubscriptionStarted   = "subscription_started"
	TriggerSubscriptionCancelled = "subscription_cancelled"
	TriggerPaymentReceived       = "payment_received"
	TriggerManual                = "manual"
)

// Action types the dispatch layer knows how to execute.
const (
	ActionCreditReward     = "credit_reward"
	ActionSendNotification = "send_notification"
	ActionUpdateStatus     = "update_status"
	ActionTriggerWebhook   = "trigger_webhook"
)

// Action is one instruction emitted when a rule matches.
type Action struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// Rule is a trigger-scoped condition tree plus an ordered action list.
// A nil Condition matches every event for the trigger.
type Rule struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Version   int         `json:"version"`
	Trigger   string      `json:"trigger"`
	Priority  int         `json:"priority"`
	Active    bool        `json:"is_active"`
	Condition Condition   `json:"conditions,omitempty"`
	Actions   []Action    `json:"actions"`
	CreatedAt time.Time   `json:"created_at,omitzero"`
	UpdatedAt time.Time   `json:"updated_at,omitzero"`
}

// ruleWire mirrors Rule with the condition tree left raw, so the tagged
// Leaf/Group union can be decoded explicitly.
type ruleWire struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Version   int             `json:"version"`
	Trigger   string          `json:"trigger"`
	Priority  int             `json:"priority"`
	Active    bool            `json:"is_active"`
	Condition json.RawMessage `json:"conditions,omitempty"`
	Actions   []Action        `json:"actions"`
	CreatedAt time.Time       `json:"created_at,omitzero"`
	UpdatedAt time.Time       `json:"updated_at,omitzero"`
}

func (r *Rule) UnmarshalJSON(data []byte) error {
	var w ruleWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	var cond Condition
	if len(w.Condition) > 0 && string(w.Condition) != "null" {
		var err error
		cond, err = DecodeCondition(w.Condition)
		if err != nil {
			return err
		}
	}
	*r = Rule{
		ID:        w.ID,
		Name:      w.Name,
		Version:   w.Version,
		Trigger:   w.Trigger,
		Priority:  w.Priority,
		Active:    w.Active,
		Condition: cond,
		Actions:   w.Actions,
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	}
	return nil
}

// ParamKind constrains an action parameter's JSON shape.
type ParamKind int

const (
	ParamString ParamKind = iota
	ParamNumber
	ParamBool
	ParamAny
)

// ParamSpec declares one parameter of an action type.
type ParamSpec struct {
	Kind     ParamKind
	Required bool
}

// ActionSpec declares the parameter schema of one action type. Rules are
// validated against the registry at registration time; evaluation never
// trusts caller-supplied action shapes.
type ActionSpec struct {
	Type   string
	Params map[string]ParamSpec
}

// Registry is the static capability catalog of triggers and action types.
type Registry struct {
	triggers map[string]struct{}
	actions  map[string]ActionSpec
}

// NewRegistry returns a registry preloaded with the built-in triggers and
// action types.
func NewRegistry() *Registry {
	r := &Registry{
		triggers: make(map[string]struct{}),
		actions:  make(map[string]ActionSpec),
	}
	for _, t := range []string{
		TriggerReferralSignup,
		TriggerSubscriptionStarted,
		TriggerSubscriptionCancelled,
		TriggerPaymentReceived,
		TriggerManual,
	} {
		r.RegisterTrigger(t)
	}
	r.RegisterAction(ActionSpec{Type: ActionCreditReward, Params: map[string]ParamSpec{
		"amount":        {Kind: ParamNumber},
		"currency":      {Kind: ParamString},
		"reward_type":   {Kind: ParamString},
		"definition_id": {Kind: ParamString},
	}})
	r.RegisterAction(ActionSpec{Type: ActionSendNotification, Params: map[string]ParamSpec{
		"channel":  {Kind: ParamString},
		"template": {Kind: ParamString, Required: true},
	}})
	r.RegisterAction(ActionSpec{Type: ActionUpdateStatus, Params: map[string]ParamSpec{
		"status": {Kind: ParamString, Required: true},
	}})
	r.RegisterAction(ActionSpec{Type: ActionTriggerWebhook, Params: map[string]ParamSpec{
		"url":   {Kind: ParamString, Required: true},
		"event": {Kind: ParamString},
	}})
	return r
}

// RegisterTrigger adds a trigger name to the catalog.
func (r *Registry) RegisterTrigger(name string) {
	r.triggers[name] = struct{}{}
}

// RegisterAction adds or replaces an action type schema.
func (r *Registry) RegisterAction(spec ActionSpec) {
	r.actions[spec.Type] = spec
}

// ValidateRule checks a rule's structure against the catalog. Condition
// trees are not validated here beyond decoding; a malformed leaf degrades at
// evaluation time so one bad rule cannot block its siblings.
func (r *Registry) ValidateRule(rule *Rule) error {
	if rule.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	if rule.Trigger == "" {
		return fmt.Errorf("rule %s: trigger is required", rule.ID)
	}
	if _, ok := r.triggers[rule.Trigger]; !ok {
		return fmt.Errorf("rule %s: unknown trigger %q", rule.ID, rule.Trigger)
	}
	if len(rule.Actions) == 0 {
		return fmt.Errorf("rule %s: at least one action is required", rule.ID)
	}
	for i, a := range rule.Actions {
		spec, ok := r.actions[a.Type]
		if !ok {
			return fmt.Errorf("rule %s: action %d: unknown action type %q", rule.ID, i, a.Type)
		}
		if err := validateParams(spec, a.Params); err != nil {
			return fmt.Errorf("rule %s: action %d (%s): %w", rule.ID, i, a.Type, err)
		}
	}
	return nil
}

func validateParams(spec ActionSpec, params map[string]any) error {
	for name, ps := range spec.Params {
		v, ok := params[name]
		if !ok {
			if ps.Required {
				return fmt.Errorf("missing required param %q", name)
			}
			continue
		}
		if !paramKindMatches(ps.Kind, v) {
			return fmt.Errorf("param %q has wrong type", name)
		}
	}
	for name := range params {
		if _, ok := spec.Params[name]; !ok {
			return fmt.Errorf("unknown param %q", name)
		}
	}
	return nil
}

func paramKindMatches(kind ParamKind, v any) bool {
	switch kind {
	case ParamString:
		_, ok := v.(string)
		return ok
	case ParamNumber:
		_, ok := toFloat(v)
		return ok
	case ParamBool:
		_, ok := v.(bool)
		return ok
	default:
		return true
	}
}

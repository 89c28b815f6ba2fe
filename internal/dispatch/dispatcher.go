package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pranavkale/lekha/internal/ledger"
	"github.com/pranavkale/lekha/internal/model"
	"github.com/pranavkale/lekha/internal/rules"
	"github.com/pranavkale/lekha/internal/store"
	"github.com/pranavkale/lekha/internal/websocket"
)

// Event is one business event entering the dispatcher: a trigger name, the
// referral pair it concerns, and the fact map rules evaluate against.
//
// EventID is the idempotency root: re-dispatching the same EventID can never
// credit twice, because each credit action derives its ledger idempotency key
// from EventID and the rule that fired.
type Event struct {
	Trigger    string        `json:"trigger"`
	EventID    string        `json:"event_id"`
	ReferrerID string        `json:"referrer_id"`
	ReferredID string        `json:"referred_id"`
	Context    rules.Context `json:"context"`
}

// Result records the outcome of one executed action.
type Result struct {
	RuleID   string `json:"rule_id"`
	RuleName string `json:"rule_name"`
	Type     string `json:"type"`
	RewardID string `json:"reward_id,omitempty"`
	Error    string `json:"error,omitempty"`

	err error
}

// Err returns the underlying execution error, if any.
func (r Result) Err() error { return r.err }

// Dispatcher selects actions for incoming events and executes them. Action
// execution is isolated: one failing action is recorded in its Result and the
// remaining actions still run.
type Dispatcher struct {
	engine   *rules.Engine
	rewards  *ledger.Service
	users    *store.UserStore
	notifier Notifier
	webhooks *WebhookSender
	hub      *websocket.Hub
	logger   *slog.Logger
}

// Notifier is the sending side of the send_notification action.
type Notifier interface {
	SendRewardNotification(toEmail, template string, event *model.RewardEvent) error
}

func NewDispatcher(engine *rules.Engine, rewards *ledger.Service, users *store.UserStore,
	notifier Notifier, webhooks *WebhookSender, hub *websocket.Hub, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		engine:   engine,
		rewards:  rewards,
		users:    users,
		notifier: notifier,
		webhooks: webhooks,
		hub:      hub,
		logger:   logger,
	}
}

// Dispatch evaluates the event against the rule set and executes every
// selected action in order. The returned slice has one Result per action.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) ([]Result, error) {
	if event.Trigger == "" {
		return nil, &ledger.ValidationError{Msg: "trigger is required"}
	}
	if event.EventID == "" {
		return nil, &ledger.ValidationError{Msg: "event_id is required"}
	}

	instructions := d.engine.SelectActions(event.Trigger, event.Context)
	d.logger.Info("event dispatched",
		"trigger", event.Trigger, "event_id", event.EventID, "actions", len(instructions))

	results := make([]Result, 0, len(instructions))
	var lastReward *model.RewardEvent
	for _, instr := range instructions {
		r := Result{RuleID: instr.RuleID, RuleName: instr.RuleName, Type: instr.Action.Type}

		switch instr.Action.Type {
		case rules.ActionCreditReward:
			reward, err := d.executeCredit(ctx, event, instr)
			if err != nil {
				r.err = err
			} else {
				r.RewardID = reward.ID
				lastReward = reward
			}
		case rules.ActionSendNotification:
			r.err = d.executeNotification(event, instr, lastReward)
			if lastReward != nil {
				r.RewardID = lastReward.ID
			}
		case rules.ActionUpdateStatus:
			reward, err := d.executeStatusUpdate(ctx, event, instr, lastReward)
			if err != nil {
				r.err = err
			} else {
				r.RewardID = reward.ID
				lastReward = reward
			}
		case rules.ActionTriggerWebhook:
			r.err = d.executeWebhook(ctx, event, instr)
		default:
			r.err = fmt.Errorf("unknown action type %q", instr.Action.Type)
		}

		if r.err != nil {
			r.Error = r.err.Error()
			d.logger.Error("action failed",
				"rule_id", instr.RuleID, "type", instr.Action.Type, "error", r.err)
		}
		results = append(results, r)
	}
	return results, nil
}

func (d *Dispatcher) executeCredit(ctx context.Context, event Event, instr rules.ActionInstruction) (*model.RewardEvent, error) {
	params := instr.Action.Params

	p := ledger.CreateRewardParams{
		// One key per (event, rule): replays collapse, distinct rules on the
		// same event credit independently.
		IdempotencyKey: event.EventID + ":" + instr.RuleID,
		ReferrerID:     event.ReferrerID,
		ReferredID:     event.ReferredID,
		Description:    fmt.Sprintf("Rule %q on %s", instr.RuleName, event.Trigger),
	}
	if amount, ok := paramInt64(params["amount"]); ok {
		p.Amount = &amount
	}
	if currency, ok := params["currency"].(string); ok {
		p.Currency = currency
	}
	if defID, ok := params["definition_id"].(string); ok && defID != "" {
		p.DefinitionID = &defID
	}

	reward, entry, err := d.rewards.CreateReward(ctx, p)
	if err != nil {
		return nil, err
	}
	if d.hub != nil {
		d.hub.Broadcast(websocket.RewardMessage("created", reward))
		d.hub.Broadcast(websocket.EntryMessage(entry))
	}
	return reward, nil
}

func (d *Dispatcher) executeNotification(event Event, instr rules.ActionInstruction, reward *model.RewardEvent) error {
	if d.notifier == nil {
		return fmt.Errorf("no notifier configured")
	}
	if reward == nil {
		return fmt.Errorf("no reward in scope for notification")
	}
	template, _ := instr.Action.Params["template"].(string)

	user, err := d.users.GetByID(event.ReferrerID)
	if err != nil {
		return err
	}
	if user == nil {
		return &ledger.NotFoundError{Kind: "user", ID: event.ReferrerID}
	}
	return d.notifier.SendRewardNotification(user.Email, template, reward)
}

func (d *Dispatcher) executeStatusUpdate(ctx context.Context, event Event, instr rules.ActionInstruction, reward *model.RewardEvent) (*model.RewardEvent, error) {
	id := rewardIDInScope(event, reward)
	if id == "" {
		return nil, fmt.Errorf("no reward in scope for status update")
	}
	status, _ := instr.Action.Params["status"].(string)

	var updated *model.RewardEvent
	var err error
	switch model.RewardStatus(strings.ToUpper(status)) {
	case model.StatusConfirmed:
		updated, err = d.rewards.ConfirmReward(ctx, id)
	case model.StatusPaid:
		updated, err = d.rewards.MarkPaid(ctx, id)
	case model.StatusExpired:
		updated, err = d.rewards.ExpireReward(ctx, id)
	default:
		return nil, fmt.Errorf("unsupported target status %q", status)
	}
	if err != nil {
		return nil, err
	}
	if d.hub != nil {
		d.hub.Broadcast(websocket.RewardMessage(strings.ToLower(string(updated.Status)), updated))
	}
	return updated, nil
}

// rewardIDInScope resolves which reward a status update applies to: a reward
// produced earlier in this dispatch wins, then an explicit reward.id fact.
func rewardIDInScope(event Event, reward *model.RewardEvent) string {
	if reward != nil {
		return reward.ID
	}
	if v, ok := event.Context.Lookup("reward.id"); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

func (d *Dispatcher) executeWebhook(ctx context.Context, event Event, instr rules.ActionInstruction) error {
	if d.webhooks == nil {
		return fmt.Errorf("no webhook sender configured")
	}
	url, _ := instr.Action.Params["url"].(string)
	name, _ := instr.Action.Params["event"].(string)
	if name == "" {
		name = event.Trigger
	}
	return d.webhooks.Send(ctx, url, webhookPayload{
		Event:      name,
		Trigger:    event.Trigger,
		EventID:    event.EventID,
		RuleID:     instr.RuleID,
		ReferrerID: event.ReferrerID,
		ReferredID: event.ReferredID,
		Context:    event.Context,
	})
}

type webhookPayload struct {
	Event      string        `json:"event"`
	Trigger    string        `json:"trigger"`
	EventID    string        `json:"event_id"`
	RuleID     string        `json:"rule_id"`
	ReferrerID string        `json:"referrer_id,omitempty"`
	ReferredID string        `json:"referred_id,omitempty"`
	Context    rules.Context `json:"context,omitempty"`
}

// paramInt64 coerces a JSON-decoded numeric param to minor units.
func paramInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

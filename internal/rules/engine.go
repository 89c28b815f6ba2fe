package rules

import (
	"log/slog"
	"sort"
	"sync"
)

// ActionInstruction is one action selected for execution, tagged with the
// rule that produced it.
type ActionInstruction struct {
	RuleID   string `json:"rule_id"`
	RuleName string `json:"rule_name"`
	Action   Action `json:"action"`
}

// Engine holds the registered rule set and selects actions for incoming
// events. Safe for concurrent use.
type Engine struct {
	mu       sync.RWMutex
	rules    []*Rule
	byID     map[string]*Rule
	registry *Registry
	logger   *slog.Logger

	// StopOnFirstMatch makes SelectActions return after the highest-priority
	// matching rule instead of stacking all matches.
	StopOnFirstMatch bool
}

// NewEngine creates an Engine validating rules against the given registry.
func NewEngine(registry *Registry, logger *slog.Logger) *Engine {
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		byID:     make(map[string]*Rule),
		registry: registry,
		logger:   logger,
	}
}

// AddRule validates and registers a rule. Re-adding an existing id replaces
// the rule in place, keeping its original position for tie-breaking.
func (e *Engine) AddRule(rule *Rule) error {
	if err := e.registry.ValidateRule(rule); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if old, ok := e.byID[rule.ID]; ok {
		for i, r := range e.rules {
			if r == old {
				e.rules[i] = rule
				break
			}
		}
	} else {
		e.rules = append(e.rules, rule)
	}
	e.byID[rule.ID] = rule
	return nil
}

// RemoveRule unregisters a rule id. Unknown ids are a no-op.
func (e *Engine) RemoveRule(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	old, ok := e.byID[id]
	if !ok {
		return
	}
	delete(e.byID, id)
	for i, r := range e.rules {
		if r == old {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			break
		}
	}
}

// Rule returns the rule with the given id.
func (e *Engine) Rule(id string) (*Rule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.byID[id]
	return r, ok
}

// ListRules returns registered rules, optionally filtered by trigger,
// ordered by descending priority (registration order breaks ties).
func (e *Engine) ListRules(trigger string) []*Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*Rule, 0, len(e.rules))
	for _, r := range e.rules {
		if trigger == "" || r.Trigger == trigger {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	return out
}

// SelectActions evaluates all active rules scoped to trigger against ctx and
// returns the actions of every matching rule: rules in descending priority
// order, then each rule's actions in definition order. Evaluation of one
// rule cannot fail its siblings; degraded leaves are logged.
func (e *Engine) SelectActions(trigger string, ctx Context) []ActionInstruction {
	ev := &Evaluator{Report: func(leaf Leaf, reason string) {
		e.logger.Warn("condition degraded to false",
			"field", leaf.Field, "operator", string(leaf.Operator), "reason", reason)
	}}

	var out []ActionInstruction
	for _, rule := range e.ListRules(trigger) {
		if !rule.Active {
			continue
		}
		matched, err := ev.Evaluate(rule.Condition, ctx)
		if err != nil {
			e.logger.Warn("rule evaluation failed", "rule_id", rule.ID, "error", err)
			continue
		}
		if !matched {
			continue
		}
		for _, a := range rule.Actions {
			out = append(out, ActionInstruction{RuleID: rule.ID, RuleName: rule.Name, Action: a})
		}
		if e.StopOnFirstMatch {
			break
		}
	}
	return out
}

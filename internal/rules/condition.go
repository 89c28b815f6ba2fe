package rules

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Operator is a leaf comparison operator.
type Operator string

const (
	OpEquals             Operator = "equals"
	OpNotEquals          Operator = "not_equals"
	OpGreaterThan        Operator = "greater_than"
	OpLessThan           Operator = "less_than"
	OpGreaterThanOrEqual Operator = "greater_than_or_equal"
	OpLessThanOrEqual    Operator = "less_than_or_equal"
	OpContains           Operator = "contains"
	OpNotContains        Operator = "not_contains"
	OpIn                 Operator = "in"
	OpNotIn              Operator = "not_in"
	OpIsTrue             Operator = "is_true"
	OpIsFalse            Operator = "is_false"
)

// LogicalOp joins the children of a Group.
type LogicalOp string

const (
	LogicalAnd LogicalOp = "AND"
	LogicalOr  LogicalOp = "OR"
)

// Context is the read-only nested fact map a condition tree is evaluated
// against, e.g. {"referrer": {"is_paid_user": true}}.
type Context map[string]any

// Lookup resolves a dotted path ("referrer.is_paid_user") into the context.
// The second return is false if any segment of the path is missing or a
// non-map value is traversed into.
func (c Context) Lookup(path string) (any, bool) {
	var cur any = map[string]any(c)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Condition is a node in a boolean rule tree: either a Leaf comparison or a
// Group of child conditions. The two variants make evaluation dispatch
// exhaustive; new condition kinds are a compile-time-checked extension.
type Condition interface {
	isCondition()
}

// Leaf compares one context field against a value.
type Leaf struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value,omitempty"`
}

func (Leaf) isCondition() {}

// Group combines child conditions with AND or OR. Children are evaluated
// strictly in slice order and evaluation short-circuits: AND stops at the
// first false child, OR at the first true child.
type Group struct {
	Operator   LogicalOp   `json:"operator"`
	Conditions []Condition `json:"conditions"`
}

func (Group) isCondition() {}

// DecodeCondition parses the wire form of a condition tree. A node carrying
// both "operator" and "conditions" keys is a Group; anything else is a Leaf.
func DecodeCondition(data json.RawMessage) (Condition, error) {
	var probe struct {
		Operator   string            `json:"operator"`
		Conditions []json.RawMessage `json:"conditions"`
		Field      *string           `json:"field"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode condition: %w", err)
	}

	if probe.Field == nil && probe.Conditions != nil {
		op := LogicalOp(probe.Operator)
		if op != LogicalAnd && op != LogicalOr {
			return nil, fmt.Errorf("decode condition: unknown logical operator %q", probe.Operator)
		}
		g := Group{Operator: op, Conditions: make([]Condition, 0, len(probe.Conditions))}
		for _, raw := range probe.Conditions {
			child, err := DecodeCondition(raw)
			if err != nil {
				return nil, err
			}
			g.Conditions = append(g.Conditions, child)
		}
		return g, nil
	}

	var leaf Leaf
	if err := json.Unmarshal(data, &leaf); err != nil {
		return nil, fmt.Errorf("decode leaf: %w", err)
	}
	if leaf.Field == "" {
		return nil, fmt.Errorf("decode leaf: field is required")
	}
	return leaf, nil
}

// MissingFieldPolicy decides what a Leaf does when its field path is absent
// from the context.
type MissingFieldPolicy int

const (
	// MissingIsFalse treats an absent fact as "condition not satisfied".
	// Robust against partial event payloads; the default.
	MissingIsFalse MissingFieldPolicy = iota
	// MissingIsError fails evaluation on an absent fact.
	MissingIsError
)

// Evaluator evaluates condition trees against a Context. The zero value is
// usable: missing fields evaluate leaves to false and degraded leaves are
// not reported.
type Evaluator struct {
	Policy MissingFieldPolicy
	// Report, if set, is called when a leaf degrades to false because of a
	// malformed comparison (unknown operator, non-numeric ordering operand).
	Report func(leaf Leaf, reason string)
}

// Evaluate walks the tree. It is pure apart from Report callbacks. The error
// return is only non-nil under MissingIsError.
func (ev *Evaluator) Evaluate(cond Condition, ctx Context) (bool, error) {
	switch c := cond.(type) {
	case Leaf:
		return ev.evalLeaf(c, ctx)
	case Group:
		return ev.evalGroup(c, ctx)
	case nil:
		// An empty rule tree is always-true.
		return true, nil
	default:
		return false, fmt.Errorf("unknown condition type %T", cond)
	}
}

func (ev *Evaluator) evalGroup(g Group, ctx Context) (bool, error) {
	// Vacuous truth for AND, vacuous falsity for OR.
	if g.Operator == LogicalOr {
		for _, child := range g.Conditions {
			ok, err := ev.Evaluate(child, ctx)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
	for _, child := range g.Conditions {
		ok, err := ev.Evaluate(child, ctx)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (ev *Evaluator) evalLeaf(leaf Leaf, ctx Context) (bool, error) {
	fieldValue, found := ctx.Lookup(leaf.Field)
	if !found {
		if ev.Policy == MissingIsError {
			return false, fmt.Errorf("context field %q not found", leaf.Field)
		}
		// Fact unknown, condition not satisfied.
		return false, nil
	}

	switch leaf.Operator {
	case OpEquals:
		return equalValues(fieldValue, leaf.Value), nil
	case OpNotEquals:
		return !equalValues(fieldValue, leaf.Value), nil
	case OpGreaterThan, OpLessThan, OpGreaterThanOrEqual, OpLessThanOrEqual:
		a, aok := toFloat(fieldValue)
		b, bok := toFloat(leaf.Value)
		if !aok || !bok {
			ev.report(leaf, "ordering operator requires numeric operands")
			return false, nil
		}
		switch leaf.Operator {
		case OpGreaterThan:
			return a > b, nil
		case OpLessThan:
			return a < b, nil
		case OpGreaterThanOrEqual:
			return a >= b, nil
		default:
			return a <= b, nil
		}
	case OpContains:
		return containsValue(fieldValue, leaf.Value), nil
	case OpNotContains:
		return !containsValue(fieldValue, leaf.Value), nil
	case OpIn:
		return memberOf(fieldValue, leaf.Value), nil
	case OpNotIn:
		return !memberOf(fieldValue, leaf.Value), nil
	case OpIsTrue:
		return truthy(fieldValue), nil
	case OpIsFalse:
		return !truthy(fieldValue), nil
	default:
		ev.report(leaf, fmt.Sprintf("unknown operator %q", leaf.Operator))
		return false, nil
	}
}

func (ev *Evaluator) report(leaf Leaf, reason string) {
	if ev.Report != nil {
		ev.Report(leaf, reason)
	}
}

// equalValues compares with type-aware coercion: numbers compare across
// numeric kinds, bools with bools, strings with strings. Composite values
// fall back to deep equality.
func equalValues(a, b any) bool {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		return bok && af == bf
	}
	switch av := a.(type) {
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case nil:
		return b == nil
	default:
		return reflect.DeepEqual(a, b)
	}
}

// toFloat coerces any numeric kind (including json.Number) to float64.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// containsValue reports whether haystack contains needle: substring match for
// strings, element membership for slices. A nil haystack contains nothing.
func containsValue(haystack, needle any) bool {
	switch h := haystack.(type) {
	case string:
		n, ok := needle.(string)
		return ok && strings.Contains(h, n)
	case []any:
		for _, item := range h {
			if equalValues(item, needle) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// memberOf reports whether v is an element of set ([]any) or, when both are
// strings, a substring of set. An empty or non-collection set has no members.
func memberOf(v, set any) bool {
	switch s := set.(type) {
	case []any:
		for _, item := range s {
			if equalValues(item, v) {
				return true
			}
		}
		return false
	case string:
		vs, ok := v.(string)
		return ok && strings.Contains(s, vs)
	default:
		return false
	}
}

// truthy mirrors loose boolean coercion: nil, zero numbers, empty strings and
// empty collections are false; everything else is true.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		if f, ok := toFloat(v); ok {
			return f != 0
		}
		return true
	}
}

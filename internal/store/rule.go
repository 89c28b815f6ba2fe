package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pranavkale/lekha/internal/rules"
)

// RuleStore persists rule definitions. The condition tree and action list are
// stored as JSON in the wire format produced by the rule editor.
type RuleStore struct {
	db *sql.DB
}

func NewRuleStore(db *sql.DB) *RuleStore {
	return &RuleStore{db: db}
}

func scanRule(scanner interface{ Scan(...any) error }) (*rules.Rule, error) {
	var r rules.Rule
	var active int
	var conditions sql.NullString
	var actions string

	err := scanner.Scan(&r.ID, &r.Name, &r.Version, &r.Trigger, &r.Priority,
		&active, &conditions, &actions, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}

	r.Active = active != 0
	if conditions.Valid && conditions.String != "" {
		cond, err := rules.DecodeCondition(json.RawMessage(conditions.String))
		if err != nil {
			return nil, fmt.Errorf("decode rule conditions: %w", err)
		}
		r.Condition = cond
	}
	if err := json.Unmarshal([]byte(actions), &r.Actions); err != nil {
		return nil, fmt.Errorf("decode rule actions: %w", err)
	}
	return &r, nil
}

const ruleCols = `id, name, version, trigger_event, priority, is_active, conditions, actions, created_at, updated_at`

// Save upserts a rule. Saving an existing id bumps its version.
func (s *RuleStore) Save(r *rules.Rule) (*rules.Rule, error) {
	var active int
	if r.Active {
		active = 1
	}

	var conditions sql.NullString
	if r.Condition != nil {
		data, err := json.Marshal(r.Condition)
		if err != nil {
			return nil, fmt.Errorf("marshal rule conditions: %w", err)
		}
		conditions = sql.NullString{String: string(data), Valid: true}
	}

	actions, err := json.Marshal(r.Actions)
	if err != nil {
		return nil, fmt.Errorf("marshal rule actions: %w", err)
	}

	if r.Version <= 0 {
		r.Version = 1
	}

	now := time.Now().UTC()
	_, err = s.db.Exec(
		`INSERT INTO rules (id, name, version, trigger_event, priority, is_active, conditions, actions, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			version = rules.version + 1,
			trigger_event = excluded.trigger_event,
			priority = excluded.priority,
			is_active = excluded.is_active,
			conditions = excluded.conditions,
			actions = excluded.actions,
			updated_at = excluded.updated_at`,
		r.ID, r.Name, r.Version, r.Trigger, r.Priority, active, conditions, string(actions), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("save rule: %w", err)
	}
	return s.GetByID(r.ID)
}

func (s *RuleStore) GetByID(id string) (*rules.Rule, error) {
	row := s.db.QueryRow(`SELECT `+ruleCols+` FROM rules WHERE id = ?`, id)
	r, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get rule: %w", err)
	}
	return r, nil
}

// List returns all rules in insertion order.
func (s *RuleStore) List() ([]*rules.Rule, error) {
	rows, err := s.db.Query(`SELECT ` + ruleCols + ` FROM rules ORDER BY rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var out []*rules.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *RuleStore) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	return nil
}

package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/pranavkale/lekha/internal/model"
)

type RewardDefinitionStore struct {
	db *sql.DB
}

func NewRewardDefinitionStore(db *sql.DB) *RewardDefinitionStore {
	return &RewardDefinitionStore{db: db}
}

func scanDefinition(scanner interface{ Scan(...any) error }) (*model.RewardDefinition, error) {
	var d model.RewardDefinition
	var active int

	err := scanner.Scan(&d.ID, &d.Name, &d.RewardType, &d.Amount, &d.Currency, &active, &d.CreatedAt)
	if err != nil {
		return nil, err
	}

	d.Active = active != 0
	return &d, nil
}

const definitionCols = `id, name, reward_type, amount, currency, active, created_at`

func (s *RewardDefinitionStore) Create(name, rewardType string, amount int64, currency string, active bool) (*model.RewardDefinition, error) {
	var a int
	if active {
		a = 1
	}

	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO reward_definitions (id, name, reward_type, amount, currency, active) VALUES (?, ?, ?, ?, ?, ?)`,
		id, name, rewardType, amount, currency, a,
	)
	if err != nil {
		return nil, fmt.Errorf("insert reward definition: %w", err)
	}
	return s.GetByID(id)
}

func (s *RewardDefinitionStore) GetByID(id string) (*model.RewardDefinition, error) {
	row := s.db.QueryRow(`SELECT `+definitionCols+` FROM reward_definitions WHERE id = ?`, id)
	d, err := scanDefinition(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reward definition: %w", err)
	}
	return d, nil
}

// List returns all definitions, active first, then by name.
func (s *RewardDefinitionStore) List() ([]model.RewardDefinition, error) {
	rows, err := s.db.Query(`SELECT ` + definitionCols + ` FROM reward_definitions ORDER BY active DESC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list reward definitions: %w", err)
	}
	defer rows.Close()

	var defs []model.RewardDefinition
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reward definition: %w", err)
		}
		defs = append(defs, *d)
	}
	return defs, rows.Err()
}

// SetActive toggles a definition. Definitions referenced by reward events are
// never deleted, only deactivated.
func (s *RewardDefinitionStore) SetActive(id string, active bool) error {
	var a int
	if active {
		a = 1
	}
	_, err := s.db.Exec(`UPDATE reward_definitions SET active = ? WHERE id = ?`, a, id)
	if err != nil {
		return fmt.Errorf("update reward definition: %w", err)
	}
	return nil
}

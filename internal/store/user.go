package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/pranavkale/lekha/internal/model"
)

type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

func scanUser(scanner interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	var paid int

	err := scanner.Scan(&u.ID, &u.Email, &u.Name, &paid, &u.Tier, &u.CreatedAt)
	if err != nil {
		return nil, err
	}

	u.IsPaidUser = paid != 0
	return &u, nil
}

const userCols = `id, email, name, is_paid_user, tier, created_at`

func (s *UserStore) Create(email, name, tier string, isPaidUser bool) (*model.User, error) {
	var paid int
	if isPaidUser {
		paid = 1
	}

	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO users (id, email, name, is_paid_user, tier) VALUES (?, ?, ?, ?, ?)`,
		id, email, name, paid, tier,
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return s.GetByID(id)
}

func (s *UserStore) GetByID(id string) (*model.User, error) {
	row := s.db.QueryRow(`SELECT `+userCols+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *UserStore) GetByEmail(email string) (*model.User, error) {
	row := s.db.QueryRow(`SELECT `+userCols+` FROM users WHERE email = ?`, email)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

// SetPaidStatus updates the paid flag and tier, e.g. when a subscription
// starts or lapses.
func (s *UserStore) SetPaidStatus(id string, isPaidUser bool, tier string) error {
	var paid int
	if isPaidUser {
		paid = 1
	}
	_, err := s.db.Exec(`UPDATE users SET is_paid_user = ?, tier = ? WHERE id = ?`, paid, tier, id)
	if err != nil {
		return fmt.Errorf("update user paid status: %w", err)
	}
	return nil
}

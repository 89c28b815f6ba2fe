package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/pranavkale/lekha/internal/model"
)

// RewardEventStore persists reward lifecycle records. Rows are append-or-
// status-update only: the transition methods touch nothing but the status and
// its timestamp fields, and each guards on the expected prior status so a
// racing transition loses cleanly instead of double-applying.
type RewardEventStore struct {
	db *sql.DB
}

func NewRewardEventStore(db *sql.DB) *RewardEventStore {
	return &RewardEventStore{db: db}
}

func scanRewardEvent(scanner interface{ Scan(...any) error }) (*model.RewardEvent, error) {
	var e model.RewardEvent
	var definitionID, reversalReason sql.NullString
	var confirmedAt, paidAt, reversedAt, expiredAt sql.NullTime

	err := scanner.Scan(&e.ID, &e.IdempotencyKey, &definitionID, &e.ReferrerID,
		&e.ReferredID, &e.Status, &e.Amount, &e.Currency, &e.CreatedAt,
		&confirmedAt, &paidAt, &reversedAt, &expiredAt, &reversalReason)
	if err != nil {
		return nil, err
	}

	if definitionID.Valid {
		e.DefinitionID = &definitionID.String
	}
	if reversalReason.Valid {
		e.ReversalReason = &reversalReason.String
	}
	if confirmedAt.Valid {
		e.ConfirmedAt = &confirmedAt.Time
	}
	if paidAt.Valid {
		e.PaidAt = &paidAt.Time
	}
	if reversedAt.Valid {
		e.ReversedAt = &reversedAt.Time
	}
	if expiredAt.Valid {
		e.ExpiredAt = &expiredAt.Time
	}
	return &e, nil
}

const rewardEventCols = `id, idempotency_key, definition_id, referrer_id, referred_id,
	status, amount, currency, created_at, confirmed_at, paid_at, reversed_at,
	expired_at, reversal_reason`

// Create inserts a PENDING reward event inside the caller's transaction.
func (s *RewardEventStore) Create(q DBTX, e *model.RewardEvent) (*model.RewardEvent, error) {
	var definitionID sql.NullString
	if e.DefinitionID != nil {
		definitionID = sql.NullString{String: *e.DefinitionID, Valid: true}
	}

	_, err := q.Exec(
		`INSERT INTO reward_events (id, idempotency_key, definition_id, referrer_id,
			referred_id, status, amount, currency, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.IdempotencyKey, definitionID, e.ReferrerID, e.ReferredID,
		string(e.Status), e.Amount, e.Currency, e.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert reward event: %w", err)
	}
	return s.getByID(q, e.ID)
}

func (s *RewardEventStore) getByID(q DBTX, id string) (*model.RewardEvent, error) {
	row := q.QueryRow(`SELECT `+rewardEventCols+` FROM reward_events WHERE id = ?`, id)
	e, err := scanRewardEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reward event: %w", err)
	}
	return e, nil
}

// GetByID reads one committed reward event.
func (s *RewardEventStore) GetByID(id string) (*model.RewardEvent, error) {
	return s.getByID(s.db, id)
}

// GetByIDTx reads a reward event inside the caller's transaction.
func (s *RewardEventStore) GetByIDTx(q DBTX, id string) (*model.RewardEvent, error) {
	return s.getByID(q, id)
}

// GetByIdempotencyKey returns the event a key maps to, if any.
func (s *RewardEventStore) GetByIdempotencyKey(q DBTX, key string) (*model.RewardEvent, error) {
	row := q.QueryRow(`SELECT `+rewardEventCols+` FROM reward_events WHERE idempotency_key = ?`, key)
	e, err := scanRewardEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reward event by key: %w", err)
	}
	return e, nil
}

// transition flips status from exactly one prior status and stamps the given
// timestamp column. Returns false if the row was not in the expected status.
func (s *RewardEventStore) transition(q DBTX, id string, from, to model.RewardStatus, tsColumn string, ts time.Time) (bool, error) {
	res, err := q.Exec(
		`UPDATE reward_events SET status = ?, `+tsColumn+` = ? WHERE id = ? AND status = ?`,
		string(to), ts, id, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("transition reward event to %s: %w", to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// MarkConfirmed moves PENDING -> CONFIRMED.
func (s *RewardEventStore) MarkConfirmed(q DBTX, id string, at time.Time) (bool, error) {
	return s.transition(q, id, model.StatusPending, model.StatusConfirmed, "confirmed_at", at)
}

// MarkPaid moves CONFIRMED -> PAID.
func (s *RewardEventStore) MarkPaid(q DBTX, id string, at time.Time) (bool, error) {
	return s.transition(q, id, model.StatusConfirmed, model.StatusPaid, "paid_at", at)
}

// MarkExpired moves PENDING -> EXPIRED.
func (s *RewardEventStore) MarkExpired(q DBTX, id string, at time.Time) (bool, error) {
	return s.transition(q, id, model.StatusPending, model.StatusExpired, "expired_at", at)
}

// MarkReversed moves PENDING or CONFIRMED -> REVERSED and records the reason.
func (s *RewardEventStore) MarkReversed(q DBTX, id string, at time.Time, reason string) (bool, error) {
	res, err := q.Exec(
		`UPDATE reward_events SET status = ?, reversed_at = ?, reversal_reason = ?
		WHERE id = ? AND status IN (?, ?)`,
		string(model.StatusReversed), at, reason, id,
		string(model.StatusPending), string(model.StatusConfirmed),
	)
	if err != nil {
		return false, fmt.Errorf("reverse reward event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// ListByReferrer returns a referrer's reward events, newest first.
func (s *RewardEventStore) ListByReferrer(referrerID string) ([]model.RewardEvent, error) {
	rows, err := s.db.Query(
		`SELECT `+rewardEventCols+` FROM reward_events WHERE referrer_id = ? ORDER BY rowid DESC`,
		referrerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list reward events: %w", err)
	}
	defer rows.Close()

	var events []model.RewardEvent
	for rows.Next() {
		e, err := scanRewardEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reward event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

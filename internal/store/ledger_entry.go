package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pranavkale/lekha/internal/model"
)

// LedgerEntryStore is the append-only store of ledger entries. There is no
// update or delete path: entries are produced once via Append and immutability
// is part of the store's contract (backed by triggers in the schema).
type LedgerEntryStore struct {
	db *sql.DB
}

func NewLedgerEntryStore(db *sql.DB) *LedgerEntryStore {
	return &LedgerEntryStore{db: db}
}

// EntryDraft is the caller-supplied part of a ledger entry. ID, BalanceAfter
// and CreatedAt are assigned at append time.
type EntryDraft struct {
	UserID           string
	EntryType        model.EntryType
	Amount           int64
	Currency         string
	RewardEventID    *string
	ReferenceEntryID *string
	IdempotencyKey   string
	Description      string
}

func scanEntry(scanner interface{ Scan(...any) error }) (*model.LedgerEntry, error) {
	var e model.LedgerEntry
	var rewardEventID, referenceEntryID sql.NullString

	err := scanner.Scan(&e.ID, &e.UserID, &e.EntryType, &e.Amount, &e.Currency,
		&e.BalanceAfter, &rewardEventID, &referenceEntryID, &e.IdempotencyKey,
		&e.Description, &e.CreatedAt)
	if err != nil {
		return nil, err
	}

	if rewardEventID.Valid {
		e.RewardEventID = &rewardEventID.String
	}
	if referenceEntryID.Valid {
		e.ReferenceEntryID = &referenceEntryID.String
	}
	return &e, nil
}

const entryCols = `id, user_id, entry_type, amount, currency, balance_after,
	reward_event_id, reference_entry_id, idempotency_key, description, created_at`

// Append writes one entry inside the caller's transaction. balance_after is
// computed from the account's current balance plus the signed amount; running
// Append inside an immediate transaction is what keeps that computation from
// ever seeing a stale balance.
//
// If an entry with the same (idempotency_key, entry_type) already exists, the
// existing entry is returned unchanged and nothing is written.
func (s *LedgerEntryStore) Append(q DBTX, draft EntryDraft) (*model.LedgerEntry, error) {
	if existing, err := s.getByIdempotencyKey(q, draft.IdempotencyKey, draft.EntryType); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	var balance int64
	err := q.QueryRow(
		`SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE user_id = ? AND currency = ?`,
		draft.UserID, draft.Currency,
	).Scan(&balance)
	if err != nil {
		return nil, fmt.Errorf("sum account balance: %w", err)
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	var rewardEventID, referenceEntryID sql.NullString
	if draft.RewardEventID != nil {
		rewardEventID = sql.NullString{String: *draft.RewardEventID, Valid: true}
	}
	if draft.ReferenceEntryID != nil {
		referenceEntryID = sql.NullString{String: *draft.ReferenceEntryID, Valid: true}
	}

	_, err = q.Exec(
		`INSERT INTO ledger_entries (id, user_id, entry_type, amount, currency, balance_after,
			reward_event_id, reference_entry_id, idempotency_key, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, draft.UserID, string(draft.EntryType), draft.Amount, draft.Currency,
		balance+draft.Amount, rewardEventID, referenceEntryID, draft.IdempotencyKey,
		draft.Description, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}

	return s.getByID(q, id)
}

func (s *LedgerEntryStore) getByID(q DBTX, id string) (*model.LedgerEntry, error) {
	row := q.QueryRow(`SELECT `+entryCols+` FROM ledger_entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger entry: %w", err)
	}
	return e, nil
}

// GetByID reads one committed entry.
func (s *LedgerEntryStore) GetByID(id string) (*model.LedgerEntry, error) {
	return s.getByID(s.db, id)
}

func (s *LedgerEntryStore) getByIdempotencyKey(q DBTX, key string, entryType model.EntryType) (*model.LedgerEntry, error) {
	row := q.QueryRow(
		`SELECT `+entryCols+` FROM ledger_entries WHERE idempotency_key = ? AND entry_type = ?`,
		key, string(entryType),
	)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger entry by key: %w", err)
	}
	return e, nil
}

// GetByIdempotencyKey reads one committed entry by (key, type).
func (s *LedgerEntryStore) GetByIdempotencyKey(key string, entryType model.EntryType) (*model.LedgerEntry, error) {
	return s.getByIdempotencyKey(s.db, key, entryType)
}

// CreditEntryForReward returns the CREDIT entry created with a reward event.
func (s *LedgerEntryStore) CreditEntryForReward(q DBTX, rewardEventID string) (*model.LedgerEntry, error) {
	row := q.QueryRow(
		`SELECT `+entryCols+` FROM ledger_entries WHERE reward_event_id = ? AND entry_type = 'CREDIT'`,
		rewardEventID,
	)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credit entry for reward: %w", err)
	}
	return e, nil
}

// GetBalance derives the (user, currency) balance from the entries. By
// invariant it always equals the balance_after of the account's latest entry.
func (s *LedgerEntryStore) GetBalance(userID, currency string) (*model.UserBalance, error) {
	var balance sql.NullInt64
	var count int
	err := s.db.QueryRow(
		`SELECT COALESCE(SUM(amount), 0), COUNT(*) FROM ledger_entries WHERE user_id = ? AND currency = ?`,
		userID, currency,
	).Scan(&balance, &count)
	if err != nil {
		return nil, fmt.Errorf("sum account balance: %w", err)
	}

	b := &model.UserBalance{
		UserID:         userID,
		Currency:       currency,
		CurrentBalance: balance.Int64,
		TotalEntries:   count,
	}

	if count > 0 {
		var last time.Time
		err = s.db.QueryRow(
			`SELECT created_at FROM ledger_entries WHERE user_id = ? AND currency = ? ORDER BY rowid DESC LIMIT 1`,
			userID, currency,
		).Scan(&last)
		if err != nil {
			return nil, fmt.Errorf("get last transaction time: %w", err)
		}
		b.LastTransactionAt = &last
	}

	return b, nil
}

// LatestBalanceAfter returns the balance_after of the account's most recent
// entry, or 0 if the account has no entries. Exists so the derived-balance
// invariant can be checked against GetBalance.
func (s *LedgerEntryStore) LatestBalanceAfter(userID, currency string) (int64, error) {
	var balanceAfter int64
	err := s.db.QueryRow(
		`SELECT balance_after FROM ledger_entries WHERE user_id = ? AND currency = ? ORDER BY rowid DESC LIMIT 1`,
		userID, currency,
	).Scan(&balanceAfter)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get latest balance_after: %w", err)
	}
	return balanceAfter, nil
}

// History returns a user's committed entries, oldest first.
func (s *LedgerEntryStore) History(userID string, limit, offset int) ([]model.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT `+entryCols+` FROM ledger_entries WHERE user_id = ? ORDER BY rowid ASC LIMIT ? OFFSET ?`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list ledger history: %w", err)
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// CurrenciesForUser lists the currencies a user holds entries in.
func (s *LedgerEntryStore) CurrenciesForUser(userID string) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT DISTINCT currency FROM ledger_entries WHERE user_id = ? ORDER BY currency`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list account currencies: %w", err)
	}
	defer rows.Close()

	var currencies []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan currency: %w", err)
		}
		currencies = append(currencies, c)
	}
	return currencies, rows.Err()
}

// CountForUser returns the total number of entries across currencies.
func (s *LedgerEntryStore) CountForUser(userID string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM ledger_entries WHERE user_id = ?`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count ledger entries: %w", err)
	}
	return count, nil
}

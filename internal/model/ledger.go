package model

import "time"

type EntryType string

const (
	EntryCredit   EntryType = "CREDIT"
	EntryDebit    EntryType = "DEBIT"
	EntryReversal EntryType = "REVERSAL"
)

// LedgerEntry is an immutable, signed financial fact for one (user, currency)
// account. Entries are produced once via LedgerEntryStore.Append and never
// re-enter a mutation path; amounts are in minor currency units.
//
// BalanceAfter is the account balance immediately before this entry plus this
// entry's signed amount, computed at append time and fixed forever.
type LedgerEntry struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	EntryType        EntryType `json:"entry_type"`
	Amount           int64     `json:"amount"`
	Currency         string    `json:"currency"`
	BalanceAfter     int64     `json:"balance_after"`
	RewardEventID    *string   `json:"reward_event_id"`
	ReferenceEntryID *string   `json:"reference_entry_id"`
	IdempotencyKey   string    `json:"idempotency_key"`
	Description      string    `json:"description"`
	CreatedAt        time.Time `json:"created_at"`
}

// UserBalance is the derived balance of one (user, currency) account.
// It is never stored; it is always recomputed from the entries.
type UserBalance struct {
	UserID            string     `json:"user_id"`
	Currency          string     `json:"currency"`
	CurrentBalance    int64      `json:"current_balance"`
	TotalEntries      int        `json:"total_entries"`
	LastTransactionAt *time.Time `json:"last_transaction_at"`
}

package model

import "time"

// RewardStatus is the lifecycle state of a RewardEvent.
//
// Legal transitions:
//
//	PENDING   -> CONFIRMED, REVERSED, EXPIRED
//	CONFIRMED -> PAID, REVERSED
//
// PAID, REVERSED, and EXPIRED are terminal.
type RewardStatus string

const (
	StatusPending   RewardStatus = "PENDING"
	StatusConfirmed RewardStatus = "CONFIRMED"
	StatusPaid      RewardStatus = "PAID"
	StatusReversed  RewardStatus = "REVERSED"
	StatusExpired   RewardStatus = "EXPIRED"
)

// Terminal reports whether no further transition is legal from s.
func (s RewardStatus) Terminal() bool {
	return s == StatusPaid || s == StatusReversed || s == StatusExpired
}

// RewardDefinition is a named reward template. Once a RewardEvent references
// a definition it is treated as immutable.
type RewardDefinition struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	RewardType string    `json:"reward_type"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

// RewardEvent tracks one reward from creation to a terminal outcome.
type RewardEvent struct {
	ID             string       `json:"id"`
	IdempotencyKey string       `json:"idempotency_key"`
	DefinitionID   *string      `json:"definition_id"`
	ReferrerID     string       `json:"referrer_id"`
	ReferredID     string       `json:"referred_id"`
	Status         RewardStatus `json:"status"`
	Amount         int64        `json:"amount"`
	Currency       string       `json:"currency"`
	CreatedAt      time.Time    `json:"created_at"`
	ConfirmedAt    *time.Time   `json:"confirmed_at"`
	PaidAt         *time.Time   `json:"paid_at"`
	ReversedAt     *time.Time   `json:"reversed_at"`
	ExpiredAt      *time.Time   `json:"expired_at"`
	ReversalReason *string      `json:"reversal_reason"`
}

// CanConfirm reports whether the event may move to CONFIRMED.
func (e *RewardEvent) CanConfirm() bool {
	return e.Status == StatusPending
}

// CanReverse reports whether the event may move to REVERSED.
func (e *RewardEvent) CanReverse() bool {
	return e.Status == StatusPending || e.Status == StatusConfirmed
}

// CanPay reports whether the event may move to PAID.
func (e *RewardEvent) CanPay() bool {
	return e.Status == StatusConfirmed
}

// CanExpire reports whether the event may move to EXPIRED.
func (e *RewardEvent) CanExpire() bool {
	return e.Status == StatusPending
}

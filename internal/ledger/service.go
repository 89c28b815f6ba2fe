package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/pranavkale/lekha/internal/model"
	"github.com/pranavkale/lekha/internal/store"
)

// DefaultCurrency is assumed when a request carries no currency.
const DefaultCurrency = "INR"

// Service coordinates reward lifecycle transitions with ledger appends. Every
// mutating method commits its reward-event row and ledger entry as one
// transaction or not at all; per-key and per-event locks serialize concurrent
// duplicates in-process, and immediate transactions with busy retry serialize
// writers across connections.
type Service struct {
	db          *sql.DB
	events      *store.RewardEventStore
	entries     *store.LedgerEntryStore
	definitions *store.RewardDefinitionStore
	logger      *slog.Logger

	createKeys *keyedMutex // per idempotency key, guards CreateReward
	eventIDs   *keyedMutex // per reward event id, guards transitions
}

func NewService(db *sql.DB, logger *slog.Logger) *Service {
	return &Service{
		db:          db,
		events:      store.NewRewardEventStore(db),
		entries:     store.NewLedgerEntryStore(db),
		definitions: store.NewRewardDefinitionStore(db),
		logger:      logger,
		createKeys:  newKeyedMutex(),
		eventIDs:    newKeyedMutex(),
	}
}

// CreateRewardParams describes one reward creation request. Amount overrides
// the definition amount when both are present; at least one is required.
type CreateRewardParams struct {
	IdempotencyKey string
	ReferrerID     string
	ReferredID     string
	DefinitionID   *string
	Amount         *int64
	Currency       string
	Description    string
}

// CreateReward inserts a PENDING reward event and its CREDIT entry as one
// atomic unit. Replaying the same idempotency key returns the existing event
// and entry without writing; the same key with a different payload is a
// ConflictError.
func (s *Service) CreateReward(ctx context.Context, p CreateRewardParams) (*model.RewardEvent, *model.LedgerEntry, error) {
	if p.IdempotencyKey == "" {
		return nil, nil, &ValidationError{Msg: "idempotency_key is required"}
	}
	if p.ReferrerID == "" || p.ReferredID == "" {
		return nil, nil, &ValidationError{Msg: "referrer_id and referred_id are required"}
	}
	if p.ReferrerID == p.ReferredID {
		return nil, nil, &ValidationError{Msg: "referrer and referred user must differ"}
	}
	if p.Amount == nil && p.DefinitionID == nil {
		return nil, nil, &ValidationError{Msg: "amount or definition_id is required"}
	}
	if p.Amount != nil && *p.Amount <= 0 {
		return nil, nil, &ValidationError{Msg: "amount must be positive"}
	}

	unlock := s.createKeys.Lock(p.IdempotencyKey)
	defer unlock()

	amount := int64(0)
	currency := p.Currency
	if p.DefinitionID != nil {
		def, err := s.definitions.GetByID(*p.DefinitionID)
		if err != nil {
			return nil, nil, err
		}
		if def == nil {
			return nil, nil, &NotFoundError{Kind: "reward definition", ID: *p.DefinitionID}
		}
		if !def.Active {
			return nil, nil, &ValidationError{Msg: fmt.Sprintf("reward definition %s is inactive", def.ID)}
		}
		amount = def.Amount
		if currency == "" {
			currency = def.Currency
		}
	}
	if p.Amount != nil {
		amount = *p.Amount
	}
	if currency == "" {
		currency = DefaultCurrency
	}

	var event *model.RewardEvent
	var entry *model.LedgerEntry
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := s.events.GetByIdempotencyKey(tx, p.IdempotencyKey)
		if err != nil {
			return err
		}
		if existing != nil {
			if err := matchesPayload(existing, p, amount, currency); err != nil {
				return err
			}
			event = existing
			entry, err = s.entries.CreditEntryForReward(tx, existing.ID)
			return err
		}

		now := time.Now().UTC()
		description := p.Description
		if description == "" {
			description = fmt.Sprintf("Referral reward credit for %s", p.ReferredID)
		}

		event, err = s.events.Create(tx, &model.RewardEvent{
			ID:             uuid.NewString(),
			IdempotencyKey: p.IdempotencyKey,
			DefinitionID:   p.DefinitionID,
			ReferrerID:     p.ReferrerID,
			ReferredID:     p.ReferredID,
			Status:         model.StatusPending,
			Amount:         amount,
			Currency:       currency,
			CreatedAt:      now,
		})
		if err != nil {
			return err
		}

		entry, err = s.entries.Append(tx, store.EntryDraft{
			UserID:         p.ReferrerID,
			EntryType:      model.EntryCredit,
			Amount:         amount,
			Currency:       currency,
			RewardEventID:  &event.ID,
			IdempotencyKey: p.IdempotencyKey,
			Description:    description,
		})
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	s.logger.Info("reward created",
		"reward_id", event.ID, "referrer_id", event.ReferrerID,
		"amount", event.Amount, "currency", event.Currency, "status", string(event.Status))
	return event, entry, nil
}

// matchesPayload guards against an idempotency key being reused with a
// different request body.
func matchesPayload(existing *model.RewardEvent, p CreateRewardParams, amount int64, currency string) error {
	if existing.ReferrerID != p.ReferrerID || existing.ReferredID != p.ReferredID {
		return &ConflictError{Key: p.IdempotencyKey, Msg: "existing reward has different participants"}
	}
	if existing.Amount != amount || existing.Currency != currency {
		return &ConflictError{Key: p.IdempotencyKey, Msg: "existing reward has different amount"}
	}
	return nil
}

// ConfirmReward moves a PENDING reward to CONFIRMED. Confirming an
// already-CONFIRMED reward is a no-op returning the current event; any
// terminal status is an InvalidStateError. No ledger entry is written.
func (s *Service) ConfirmReward(ctx context.Context, id string) (*model.RewardEvent, error) {
	unlock := s.eventIDs.Lock(id)
	defer unlock()

	var event *model.RewardEvent
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ev, err := s.events.GetByIDTx(tx, id)
		if err != nil {
			return err
		}
		if ev == nil {
			return &NotFoundError{Kind: "reward", ID: id}
		}
		if ev.Status == model.StatusConfirmed {
			event = ev
			return nil
		}
		if !ev.CanConfirm() {
			return &InvalidStateError{RewardID: id, Status: string(ev.Status), Attempt: "confirm"}
		}
		ok, err := s.events.MarkConfirmed(tx, id, time.Now().UTC())
		if err != nil {
			return err
		}
		if !ok {
			return &InvalidStateError{RewardID: id, Status: string(ev.Status), Attempt: "confirm"}
		}
		event, err = s.events.GetByIDTx(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("reward confirmed", "reward_id", id)
	return event, nil
}

// ReverseReward moves a PENDING or CONFIRMED reward to REVERSED and appends
// exactly one REVERSAL entry negating the original CREDIT, in one atomic
// unit. The REVERSAL references the original entry; the pair's net balance
// contribution is zero.
func (s *Service) ReverseReward(ctx context.Context, id, reason string) (*model.RewardEvent, *model.LedgerEntry, error) {
	if reason == "" {
		return nil, nil, &ValidationError{Msg: "reversal reason is required"}
	}

	unlock := s.eventIDs.Lock(id)
	defer unlock()

	var event *model.RewardEvent
	var entry *model.LedgerEntry
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ev, err := s.events.GetByIDTx(tx, id)
		if err != nil {
			return err
		}
		if ev == nil {
			return &NotFoundError{Kind: "reward", ID: id}
		}
		if !ev.CanReverse() {
			return &InvalidStateError{RewardID: id, Status: string(ev.Status), Attempt: "reverse"}
		}

		original, err := s.entries.CreditEntryForReward(tx, id)
		if err != nil {
			return err
		}
		if original == nil {
			return fmt.Errorf("reward %s has no credit entry", id)
		}

		entry, err = s.entries.Append(tx, store.EntryDraft{
			UserID:           ev.ReferrerID,
			EntryType:        model.EntryReversal,
			Amount:           -original.Amount,
			Currency:         ev.Currency,
			RewardEventID:    &ev.ID,
			ReferenceEntryID: &original.ID,
			IdempotencyKey:   ev.IdempotencyKey + ":reversal",
			Description:      "Reversal: " + reason,
		})
		if err != nil {
			return err
		}

		ok, err := s.events.MarkReversed(tx, id, time.Now().UTC(), reason)
		if err != nil {
			return err
		}
		if !ok {
			return &InvalidStateError{RewardID: id, Status: string(ev.Status), Attempt: "reverse"}
		}
		event, err = s.events.GetByIDTx(tx, id)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	s.logger.Info("reward reversed", "reward_id", id, "reason", reason)
	return event, entry, nil
}

// MarkPaid moves a CONFIRMED reward to PAID. The payout itself executes
// outside the core; no ledger entry is written here.
func (s *Service) MarkPaid(ctx context.Context, id string) (*model.RewardEvent, error) {
	unlock := s.eventIDs.Lock(id)
	defer unlock()

	var event *model.RewardEvent
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ev, err := s.events.GetByIDTx(tx, id)
		if err != nil {
			return err
		}
		if ev == nil {
			return &NotFoundError{Kind: "reward", ID: id}
		}
		if ev.Status == model.StatusPaid {
			event = ev
			return nil
		}
		if !ev.CanPay() {
			return &InvalidStateError{RewardID: id, Status: string(ev.Status), Attempt: "pay"}
		}
		ok, err := s.events.MarkPaid(tx, id, time.Now().UTC())
		if err != nil {
			return err
		}
		if !ok {
			return &InvalidStateError{RewardID: id, Status: string(ev.Status), Attempt: "pay"}
		}
		event, err = s.events.GetByIDTx(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("reward paid", "reward_id", id)
	return event, nil
}

// ExpireReward moves a PENDING reward to EXPIRED.
func (s *Service) ExpireReward(ctx context.Context, id string) (*model.RewardEvent, error) {
	unlock := s.eventIDs.Lock(id)
	defer unlock()

	var event *model.RewardEvent
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ev, err := s.events.GetByIDTx(tx, id)
		if err != nil {
			return err
		}
		if ev == nil {
			return &NotFoundError{Kind: "reward", ID: id}
		}
		if ev.Status == model.StatusExpired {
			event = ev
			return nil
		}
		if !ev.CanExpire() {
			return &InvalidStateError{RewardID: id, Status: string(ev.Status), Attempt: "expire"}
		}
		ok, err := s.events.MarkExpired(tx, id, time.Now().UTC())
		if err != nil {
			return err
		}
		if !ok {
			return &InvalidStateError{RewardID: id, Status: string(ev.Status), Attempt: "expire"}
		}
		event, err = s.events.GetByIDTx(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("reward expired", "reward_id", id)
	return event, nil
}

// GetReward returns one reward event.
func (s *Service) GetReward(ctx context.Context, id string) (*model.RewardEvent, error) {
	ev, err := s.events.GetByID(id)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, &NotFoundError{Kind: "reward", ID: id}
	}
	return ev, nil
}

// GetBalance returns the derived (user, currency) balance.
func (s *Service) GetBalance(ctx context.Context, userID, currency string) (*model.UserBalance, error) {
	if currency == "" {
		currency = DefaultCurrency
	}
	return s.entries.GetBalance(userID, currency)
}

// History is one page of a user's ledger plus the running totals. Entries
// span every currency the user holds, so the balances do too.
type History struct {
	UserID     string              `json:"user_id"`
	Entries    []model.LedgerEntry `json:"entries"`
	TotalCount int                 `json:"total_count"`
	Balances   []model.UserBalance `json:"balances"`
}

// GetHistory returns a page of the user's entries, oldest first.
func (s *Service) GetHistory(ctx context.Context, userID string, limit, offset int) (*History, error) {
	entries, err := s.entries.History(userID, limit, offset)
	if err != nil {
		return nil, err
	}
	total, err := s.entries.CountForUser(userID)
	if err != nil {
		return nil, err
	}

	currencies, err := s.entries.CurrenciesForUser(userID)
	if err != nil {
		return nil, err
	}
	balances := make([]model.UserBalance, 0, len(currencies))
	for _, currency := range currencies {
		b, err := s.entries.GetBalance(userID, currency)
		if err != nil {
			return nil, err
		}
		balances = append(balances, *b)
	}

	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	return &History{
		UserID:     userID,
		Entries:    entries,
		TotalCount: total,
		Balances:   balances,
	}, nil
}

// withTx runs fn inside an immediate transaction, retrying the whole unit
// with exponential backoff when SQLite reports the database busy. The unit
// either fully commits or fully rolls back; fn's errors pass through.
func (s *Service) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	backoff := retry.WithMaxRetries(5, retry.NewExponential(10*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return asRetryable(fmt.Errorf("begin tx: %w", err))
		}
		defer tx.Rollback()

		if err := fn(tx); err != nil {
			return asRetryable(err)
		}
		if err := tx.Commit(); err != nil {
			return asRetryable(fmt.Errorf("commit tx: %w", err))
		}
		return nil
	})
}

// asRetryable marks lock-contention errors for retry and passes everything
// else through as terminal.
func asRetryable(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked") {
		return retry.RetryableError(err)
	}
	return err
}

package ledger

import "fmt"

// ValidationError rejects malformed input before any mutation. Operations
// failing validation have zero side effects.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// InvalidStateError reports an illegal RewardEvent transition.
type InvalidStateError struct {
	RewardID string
	Status   string
	Attempt  string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s reward %s in %s state", e.Attempt, e.RewardID, e.Status)
}

// ConflictError reports an idempotency key reused with a different payload.
// It is surfaced rather than silently resolved.
type ConflictError struct {
	Key string
	Msg string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("idempotency key %q: %s", e.Key, e.Msg)
}

// NotFoundError reports an unknown reward event, user, or definition id.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

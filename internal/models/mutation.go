package models

import "encoding/json"

// MutationKind is the ledger operation a queued mutation replays.
type MutationKind string

const (
	MutationCreateExpense MutationKind = "create_expense"
	MutationUpdateExpense MutationKind = "update_expense"
	MutationDeleteExpense MutationKind = "delete_expense"
	MutationCreatePayment MutationKind = "create_payment"
	MutationDeletePayment MutationKind = "delete_payment"
)

// Valid reports whether k is a known mutation kind.
func (k MutationKind) Valid() bool {
	switch k {
	case MutationCreateExpense, MutationUpdateExpense, MutationDeleteExpense,
		MutationCreatePayment, MutationDeletePayment:
		return true
	}
	return false
}

// MutationStatus is the lifecycle state of a queued mutation.
type MutationStatus string

const (
	StatusPending   MutationStatus = "pending"
	StatusInFlight  MutationStatus = "in_flight"
	StatusConfirmed MutationStatus = "confirmed"
	StatusFailed    MutationStatus = "failed"
)

// QueuedMutation is a ledger write buffered on the client until the remote
// ledger acknowledges it by idempotency key.
type QueuedMutation struct {
	// Seq orders mutations; the queue drains in ascending Seq (FIFO).
	Seq int64 `json:"seq"`

	// IdempotencyKey is generated once at enqueue time and reused on every retry.
	IdempotencyKey string `json:"idempotency_key"`

	Kind MutationKind `json:"kind"`

	// EntityID is the expense or payment this mutation targets.
	EntityID string `json:"entity_id"`

	GroupID string `json:"group_id"`

	// Payload is the JSON request body replayed against the remote ledger.
	Payload json.RawMessage `json:"payload"`

	Status MutationStatus `json:"status"`

	// Attempts counts submissions to the remote ledger.
	Attempts int `json:"attempts"`

	// LastError and ErrorKind describe the most recent failed attempt.
	LastError string `json:"last_error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

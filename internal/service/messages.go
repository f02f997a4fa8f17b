package service

import (
	"time"

	"github.com/mmynk/splitledger/internal/events"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/syncer"
)

type GetStatusRequest struct{}

type GetStatusResponse struct {
	Status *syncer.Status `json:"status"`
}

type ListMutationsRequest struct {
	// Status filters by status; empty lists everything still in the queue.
	Status models.MutationStatus `json:"status,omitempty"`
}

type ListMutationsResponse struct {
	Mutations []*models.QueuedMutation `json:"mutations"`
}

// SubmitMutationRequest describes one offline write. Expense is used by the
// expense create and update kinds, Payment by create_payment, and
// GroupID/EntityID by the deletes.
type SubmitMutationRequest struct {
	Kind     models.MutationKind    `json:"kind"`
	Expense  *models.ExpenseRequest `json:"expense,omitempty"`
	Payment  *models.Payment        `json:"payment,omitempty"`
	GroupID  string                 `json:"group_id,omitempty"`
	EntityID string                 `json:"entity_id,omitempty"`

	// AmountMajor optionally gives the amount in major units ("12.34"),
	// overriding the minor-unit amount of the expense or payment.
	AmountMajor string `json:"amount_major,omitempty"`
}

type SubmitMutationResponse struct {
	Mutation *models.QueuedMutation `json:"mutation"`
}

type TriggerSyncRequest struct {
	// Wait runs the cycle within the call instead of signalling the loop.
	Wait bool `json:"wait,omitempty"`
}

type TriggerSyncResponse struct {
	Summary *syncer.Summary `json:"summary,omitempty"`
	// InProgress is set when a cycle was already running.
	InProgress bool `json:"in_progress,omitempty"`
}

type MutationKeyRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
}

type MutationResponse struct {
	Mutation *models.QueuedMutation `json:"mutation"`
}

type GetBalancesRequest struct {
	GroupID string `json:"group_id"`
	// Strict waits for the queue to drain before reading.
	Strict bool `json:"strict,omitempty"`
}

type GetBalancesResponse struct {
	Balances    []models.Balance              `json:"balances"`
	Settlements []models.SettlementSuggestion `json:"settlements"`
	// PendingMutations are local writes not yet reflected in the figures.
	PendingMutations int       `json:"pending_mutations"`
	LastSyncedAt     time.Time `json:"last_synced_at"`
}

type WatchEventsRequest struct{}

type WatchEventsResponse struct {
	Event events.Event `json:"event"`
	// Status is only set on the initial sync-status event.
	Status *syncer.Status `json:"status,omitempty"`
}

// Package storage provides abstractions for persistent ledger storage.
package storage

import (
	"context"

	"github.com/mmynk/splitledger/internal/models"
)

// Operation names recorded next to each idempotency key. A key may only ever
// be replayed for the operation that first used it.
const (
	OpRecordExpense = "record_expense"
	OpUpdateExpense = "update_expense"
	OpDeleteExpense = "delete_expense"
	OpRecordPayment = "record_payment"
	OpDeletePayment = "delete_payment"
)

// Store defines the interface for ledger storage operations.
// This abstraction allows swapping storage backends (SQLite, PostgreSQL, memory)
// without changing the ledger service.
//
// Every write takes an idempotency key. The first outcome is saved with the key
// in the same transaction, and a later call with the same key returns that
// outcome with replayed set to true instead of writing again. Reusing a key
// for a different operation fails with a conflict error.
type Store interface {
	// CreateGroup persists a group and its members.
	// The group.ID field is populated when empty.
	CreateGroup(ctx context.Context, group *models.Group) error

	// GetGroup retrieves a group by its ID.
	GetGroup(ctx context.Context, groupID string) (*models.Group, error)

	// RecordExpense stores a new expense. Splits must already be normalized.
	RecordExpense(ctx context.Context, key string, expense *models.Expense) (*models.Expense, bool, error)

	// UpdateExpense replaces the amount, description, payer and splits of an
	// existing expense. Last write wins.
	UpdateExpense(ctx context.Context, key string, expense *models.Expense) (*models.Expense, bool, error)

	// DeleteExpense soft-deletes an expense and returns it.
	DeleteExpense(ctx context.Context, key, groupID, expenseID string) (*models.Expense, bool, error)

	// RecordPayment stores a new payment.
	RecordPayment(ctx context.Context, key string, payment *models.Payment) (*models.Payment, bool, error)

	// DeletePayment soft-deletes a payment and returns it.
	DeletePayment(ctx context.Context, key, groupID, paymentID string) (*models.Payment, bool, error)

	// ListExpenses returns the group's live expenses ordered by creation time, then ID.
	ListExpenses(ctx context.Context, groupID string) ([]*models.Expense, error)

	// ListPayments returns the group's live payments ordered by creation time, then ID.
	ListPayments(ctx context.Context, groupID string) ([]*models.Payment, error)

	// Close releases any resources held by the store.
	Close() error
}

// Package storagetest holds behaviour tests every storage.Store implementation must pass.
package storagetest

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/splitledger/internal/errs"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
)

// Run exercises store. Each subtest creates its own group, so a single
// store may be shared across them.
func Run(t *testing.T, store storage.Store) {
	ctx := context.Background()

	newGroup := func(t *testing.T) *models.Group {
		g := &models.Group{Name: "Roommates", Members: []string{"carol", "alice", "bob"}}
		require.NoError(t, store.CreateGroup(ctx, g))
		require.NotEmpty(t, g.ID)
		return g
	}
	newExpense := func(groupID string) *models.Expense {
		return &models.Expense{
			ID:          uuid.New().String(),
			GroupID:     groupID,
			Description: "Groceries",
			Amount:      100,
			Currency:    "USD",
			PayerID:     "alice",
			CreatedBy:   "alice",
			Splits: []models.ExpenseSplit{
				{UserID: "alice", ShareAmount: 34},
				{UserID: "bob", ShareAmount: 33},
				{UserID: "carol", ShareAmount: 33},
			},
		}
	}

	t.Run("GetGroup returns sorted members", func(t *testing.T) {
		g := newGroup(t)

		got, err := store.GetGroup(ctx, g.ID)
		require.NoError(t, err)
		assert.Equal(t, "Roommates", got.Name)
		assert.Equal(t, []string{"alice", "bob", "carol"}, got.Members)
	})

	t.Run("GetGroup unknown group", func(t *testing.T) {
		_, err := store.GetGroup(ctx, "missing")
		assert.ErrorIs(t, err, errs.ErrNotFound)
	})

	t.Run("CreateGroup duplicate ID", func(t *testing.T) {
		g := newGroup(t)
		err := store.CreateGroup(ctx, &models.Group{ID: g.ID, Name: "again"})
		assert.ErrorIs(t, err, errs.ErrConflict)
	})

	t.Run("RecordExpense replays on same key", func(t *testing.T) {
		g := newGroup(t)
		key := uuid.New().String()

		first, replayed, err := store.RecordExpense(ctx, key, newExpense(g.ID))
		require.NoError(t, err)
		assert.False(t, replayed)
		assert.NotZero(t, first.CreatedAt)

		second, replayed, err := store.RecordExpense(ctx, key, newExpense(g.ID))
		require.NoError(t, err)
		assert.True(t, replayed)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, first.Amount, second.Amount)

		list, err := store.ListExpenses(ctx, g.ID)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, first.ID, list[0].ID)
		assert.Equal(t, int64(100), list[0].SplitTotal())
		assert.Len(t, list[0].Splits, 3)
	})

	t.Run("RecordExpense unknown group", func(t *testing.T) {
		_, _, err := store.RecordExpense(ctx, uuid.New().String(), newExpense("missing"))
		assert.ErrorIs(t, err, errs.ErrNotFound)
	})

	t.Run("RecordExpense ID collision under a new key", func(t *testing.T) {
		g := newGroup(t)
		e := newExpense(g.ID)
		_, _, err := store.RecordExpense(ctx, uuid.New().String(), e)
		require.NoError(t, err)

		_, _, err = store.RecordExpense(ctx, uuid.New().String(), e)
		assert.ErrorIs(t, err, errs.ErrConflict)
	})

	t.Run("key reused for another operation", func(t *testing.T) {
		g := newGroup(t)
		key := uuid.New().String()
		e, _, err := store.RecordExpense(ctx, key, newExpense(g.ID))
		require.NoError(t, err)

		_, _, err = store.DeleteExpense(ctx, key, g.ID, e.ID)
		assert.ErrorIs(t, err, errs.ErrConflict)
	})

	t.Run("missing key is rejected", func(t *testing.T) {
		g := newGroup(t)
		_, _, err := store.RecordExpense(ctx, "", newExpense(g.ID))
		assert.ErrorIs(t, err, errs.ErrValidation)
	})

	t.Run("UpdateExpense last write wins", func(t *testing.T) {
		g := newGroup(t)
		created, _, err := store.RecordExpense(ctx, uuid.New().String(), newExpense(g.ID))
		require.NoError(t, err)

		update := newExpense(g.ID)
		update.ID = created.ID
		update.Amount = 60
		update.PayerID = "bob"
		update.CreatedBy = "mallory"
		update.Splits = []models.ExpenseSplit{
			{UserID: "bob", ShareAmount: 30},
			{UserID: "carol", ShareAmount: 30},
		}
		key := uuid.New().String()

		updated, replayed, err := store.UpdateExpense(ctx, key, update)
		require.NoError(t, err)
		assert.False(t, replayed)
		assert.Equal(t, created.CreatedAt, updated.CreatedAt)
		assert.Equal(t, "alice", updated.CreatedBy)

		_, replayed, err = store.UpdateExpense(ctx, key, update)
		require.NoError(t, err)
		assert.True(t, replayed)

		list, err := store.ListExpenses(ctx, g.ID)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, int64(60), list[0].Amount)
		assert.Equal(t, "bob", list[0].PayerID)
		assert.Equal(t, []string{"bob", "carol"}, list[0].Participants())
	})

	t.Run("UpdateExpense unknown expense", func(t *testing.T) {
		g := newGroup(t)
		_, _, err := store.UpdateExpense(ctx, uuid.New().String(), newExpense(g.ID))
		assert.ErrorIs(t, err, errs.ErrNotFound)
	})

	t.Run("DeleteExpense hides expense and blocks later writes", func(t *testing.T) {
		g := newGroup(t)
		created, _, err := store.RecordExpense(ctx, uuid.New().String(), newExpense(g.ID))
		require.NoError(t, err)
		key := uuid.New().String()

		deleted, replayed, err := store.DeleteExpense(ctx, key, g.ID, created.ID)
		require.NoError(t, err)
		assert.False(t, replayed)
		assert.True(t, deleted.Deleted)

		again, replayed, err := store.DeleteExpense(ctx, key, g.ID, created.ID)
		require.NoError(t, err)
		assert.True(t, replayed)
		assert.True(t, again.Deleted)

		list, err := store.ListExpenses(ctx, g.ID)
		require.NoError(t, err)
		assert.Empty(t, list)

		_, _, err = store.DeleteExpense(ctx, uuid.New().String(), g.ID, created.ID)
		assert.ErrorIs(t, err, errs.ErrConflict)

		update := newExpense(g.ID)
		update.ID = created.ID
		_, _, err = store.UpdateExpense(ctx, uuid.New().String(), update)
		assert.ErrorIs(t, err, errs.ErrConflict)
	})

	t.Run("DeleteExpense wrong group", func(t *testing.T) {
		g := newGroup(t)
		other := newGroup(t)
		created, _, err := store.RecordExpense(ctx, uuid.New().String(), newExpense(g.ID))
		require.NoError(t, err)

		_, _, err = store.DeleteExpense(ctx, uuid.New().String(), other.ID, created.ID)
		assert.ErrorIs(t, err, errs.ErrNotFound)
	})

	t.Run("payments record, replay, delete", func(t *testing.T) {
		g := newGroup(t)
		payment := &models.Payment{
			ID:          uuid.New().String(),
			GroupID:     g.ID,
			FromUserID:  "bob",
			ToUserID:    "alice",
			Amount:      25,
			Currency:    "USD",
			ExternalRef: "bank-123",
			Note:        "Paying back",
		}
		key := uuid.New().String()

		first, replayed, err := store.RecordPayment(ctx, key, payment)
		require.NoError(t, err)
		assert.False(t, replayed)
		assert.NotZero(t, first.CreatedAt)

		second, replayed, err := store.RecordPayment(ctx, key, payment)
		require.NoError(t, err)
		assert.True(t, replayed)
		assert.Equal(t, first, second)

		list, err := store.ListPayments(ctx, g.ID)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "bank-123", list[0].ExternalRef)
		assert.Equal(t, "Paying back", list[0].Note)

		_, _, err = store.RecordPayment(ctx, uuid.New().String(), payment)
		assert.ErrorIs(t, err, errs.ErrConflict)

		deleted, _, err := store.DeletePayment(ctx, uuid.New().String(), g.ID, payment.ID)
		require.NoError(t, err)
		assert.True(t, deleted.Deleted)

		list, err = store.ListPayments(ctx, g.ID)
		require.NoError(t, err)
		assert.Empty(t, list)

		_, _, err = store.DeletePayment(ctx, uuid.New().String(), g.ID, payment.ID)
		assert.ErrorIs(t, err, errs.ErrConflict)

		_, _, err = store.DeletePayment(ctx, uuid.New().String(), g.ID, "missing")
		assert.ErrorIs(t, err, errs.ErrNotFound)
	})

	t.Run("listing orders by creation time then ID", func(t *testing.T) {
		g := newGroup(t)
		for i, id := range []string{"b", "a", "c"} {
			e := newExpense(g.ID)
			e.ID = g.ID + "-" + id
			e.CreatedAt = int64(1000 + i%2)
			_, _, err := store.RecordExpense(ctx, uuid.New().String(), e)
			require.NoError(t, err)
		}

		list, err := store.ListExpenses(ctx, g.ID)
		require.NoError(t, err)
		var ids []string
		for _, e := range list {
			ids = append(ids, e.ID)
		}
		assert.Equal(t, []string{g.ID + "-b", g.ID + "-c", g.ID + "-a"}, ids)
	})

	t.Run("listing unknown group", func(t *testing.T) {
		_, err := store.ListExpenses(ctx, "missing")
		assert.ErrorIs(t, err, errs.ErrNotFound)
		_, err = store.ListPayments(ctx, "missing")
		assert.ErrorIs(t, err, errs.ErrNotFound)
	})
}

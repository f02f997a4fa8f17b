package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/splitledger/internal/errs"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
)

const expenseColumns = "id, group_id, description, amount, currency, payer_id, created_by, created_at, updated_at, deleted"

// RecordExpense persists a new expense and its splits.
func (s *Store) RecordExpense(ctx context.Context, key string, expense *models.Expense) (*models.Expense, bool, error) {
	const op = storage.OpRecordExpense

	var out models.Expense
	var replayed bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		if replayed, err = s.replay(ctx, tx, op, key, &out); err != nil || replayed {
			return err
		}
		if err := s.requireGroup(ctx, tx, op, expense.GroupID); err != nil {
			return err
		}

		out = *expense
		out.Splits = append([]models.ExpenseSplit(nil), expense.Splits...)
		if out.ID == "" {
			out.ID = uuid.New().String()
		} else if _, err := s.getExpense(ctx, tx, out.ID); err == nil {
			return errs.Conflict(op, "expense %s already exists", out.ID)
		} else if !errors.Is(err, errs.ErrNotFound) {
			return err
		}
		now := time.Now().Unix()
		if out.CreatedAt == 0 {
			out.CreatedAt = now
		}
		out.UpdatedAt = out.CreatedAt
		out.Deleted = false

		_, err = tx.ExecContext(ctx,
			s.rebind(`INSERT INTO expenses (`+expenseColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			out.ID, out.GroupID, out.Description, out.Amount, out.Currency, out.PayerID,
			out.CreatedBy, out.CreatedAt, out.UpdatedAt, 0,
		)
		if err != nil {
			return fmt.Errorf("failed to insert expense: %w", err)
		}
		if err := s.insertSplits(ctx, tx, out.ID, out.Splits); err != nil {
			return err
		}

		return s.remember(ctx, tx, op, key, out.ID, &out)
	})
	if err != nil {
		return nil, false, err
	}
	return &out, replayed, nil
}

// UpdateExpense overwrites an existing expense. CreatedAt and CreatedBy are kept.
func (s *Store) UpdateExpense(ctx context.Context, key string, expense *models.Expense) (*models.Expense, bool, error) {
	const op = storage.OpUpdateExpense

	var out models.Expense
	var replayed bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		if replayed, err = s.replay(ctx, tx, op, key, &out); err != nil || replayed {
			return err
		}

		existing, err := s.liveExpense(ctx, tx, op, expense.GroupID, expense.ID)
		if err != nil {
			return err
		}

		out = *expense
		out.Splits = append([]models.ExpenseSplit(nil), expense.Splits...)
		out.CreatedAt = existing.CreatedAt
		out.CreatedBy = existing.CreatedBy
		out.UpdatedAt = time.Now().Unix()
		out.Deleted = false

		_, err = tx.ExecContext(ctx,
			s.rebind(`UPDATE expenses
			 SET description = ?, amount = ?, currency = ?, payer_id = ?, updated_at = ?
			 WHERE id = ?`),
			out.Description, out.Amount, out.Currency, out.PayerID, out.UpdatedAt, out.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update expense: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM expense_splits WHERE expense_id = ?"), out.ID); err != nil {
			return fmt.Errorf("failed to clear expense splits: %w", err)
		}
		if err := s.insertSplits(ctx, tx, out.ID, out.Splits); err != nil {
			return err
		}

		return s.remember(ctx, tx, op, key, out.ID, &out)
	})
	if err != nil {
		return nil, false, err
	}
	return &out, replayed, nil
}

// DeleteExpense soft-deletes an expense.
func (s *Store) DeleteExpense(ctx context.Context, key, groupID, expenseID string) (*models.Expense, bool, error) {
	const op = storage.OpDeleteExpense

	var out models.Expense
	var replayed bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		if replayed, err = s.replay(ctx, tx, op, key, &out); err != nil || replayed {
			return err
		}

		existing, err := s.liveExpense(ctx, tx, op, groupID, expenseID)
		if err != nil {
			return err
		}
		out = *existing
		out.Deleted = true
		out.UpdatedAt = time.Now().Unix()

		_, err = tx.ExecContext(ctx,
			s.rebind("UPDATE expenses SET deleted = ?, updated_at = ? WHERE id = ?"),
			1, out.UpdatedAt, out.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to delete expense: %w", err)
		}

		return s.remember(ctx, tx, op, key, out.ID, &out)
	})
	if err != nil {
		return nil, false, err
	}
	return &out, replayed, nil
}

// liveExpense loads an expense that must exist in groupID and not be deleted.
func (s *Store) liveExpense(ctx context.Context, tx *sql.Tx, op, groupID, expenseID string) (*models.Expense, error) {
	existing, err := s.getExpense(ctx, tx, expenseID)
	if err != nil {
		return nil, err
	}
	if existing.GroupID != groupID {
		return nil, errs.NotFound(op, "expense %s not found in group %s", expenseID, groupID)
	}
	if existing.Deleted {
		return nil, errs.Conflict(op, "expense %s has been deleted", expenseID)
	}
	return existing, nil
}

func (s *Store) insertSplits(ctx context.Context, tx *sql.Tx, expenseID string, splits []models.ExpenseSplit) error {
	for _, split := range splits {
		_, err := tx.ExecContext(ctx,
			s.rebind(`INSERT INTO expense_splits (expense_id, user_id, share_amount, share_percentage)
			 VALUES (?, ?, ?, ?)`),
			expenseID, split.UserID, split.ShareAmount, split.SharePercentage,
		)
		if err != nil {
			return fmt.Errorf("failed to insert expense split: %w", err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExpense(row rowScanner) (*models.Expense, error) {
	e := &models.Expense{}
	var deleted int
	err := row.Scan(&e.ID, &e.GroupID, &e.Description, &e.Amount, &e.Currency, &e.PayerID,
		&e.CreatedBy, &e.CreatedAt, &e.UpdatedAt, &deleted)
	if err != nil {
		return nil, err
	}
	e.Deleted = deleted != 0
	return e, nil
}

// getExpense loads one expense including deleted ones.
func (s *Store) getExpense(ctx context.Context, tx *sql.Tx, expenseID string) (*models.Expense, error) {
	e, err := scanExpense(tx.QueryRowContext(ctx,
		s.rebind("SELECT "+expenseColumns+" FROM expenses WHERE id = ?"),
		expenseID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("sqlstore.getExpense", "expense %s not found", expenseID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get expense: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		s.rebind(`SELECT user_id, share_amount, share_percentage
		 FROM expense_splits WHERE expense_id = ? ORDER BY user_id`),
		expenseID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get expense splits: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var split models.ExpenseSplit
		if err := rows.Scan(&split.UserID, &split.ShareAmount, &split.SharePercentage); err != nil {
			return nil, fmt.Errorf("failed to scan expense split: %w", err)
		}
		e.Splits = append(e.Splits, split)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate expense splits: %w", err)
	}
	return e, nil
}

// ListExpenses returns a group's live expenses with their splits.
func (s *Store) ListExpenses(ctx context.Context, groupID string) ([]*models.Expense, error) {
	const op = "sqlstore.ListExpenses"
	if err := s.requireGroup(ctx, s.db, op, groupID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		s.rebind("SELECT "+expenseColumns+` FROM expenses
		 WHERE group_id = ? AND deleted = 0
		 ORDER BY created_at, id`),
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list expenses: %w", err)
	}

	var expenses []*models.Expense
	byID := make(map[string]*models.Expense)
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		expenses = append(expenses, e)
		byID[e.ID] = e
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate expenses: %w", err)
	}

	// Splits for the whole group in one query.
	splitRows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT s.expense_id, s.user_id, s.share_amount, s.share_percentage
		 FROM expense_splits s
		 JOIN expenses e ON e.id = s.expense_id
		 WHERE e.group_id = ? AND e.deleted = 0
		 ORDER BY s.expense_id, s.user_id`),
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list expense splits: %w", err)
	}
	defer splitRows.Close()

	for splitRows.Next() {
		var expenseID string
		var split models.ExpenseSplit
		if err := splitRows.Scan(&expenseID, &split.UserID, &split.ShareAmount, &split.SharePercentage); err != nil {
			return nil, fmt.Errorf("failed to scan expense split: %w", err)
		}
		if e, ok := byID[expenseID]; ok {
			e.Splits = append(e.Splits, split)
		}
	}
	if err := splitRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate expense splits: %w", err)
	}

	return expenses, nil
}

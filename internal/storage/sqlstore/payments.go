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

const paymentColumns = "id, group_id, from_user_id, to_user_id, amount, currency, external_ref, note, created_by, created_at, deleted"

// RecordPayment persists a new payment.
func (s *Store) RecordPayment(ctx context.Context, key string, payment *models.Payment) (*models.Payment, bool, error) {
	const op = storage.OpRecordPayment

	var out models.Payment
	var replayed bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		if replayed, err = s.replay(ctx, tx, op, key, &out); err != nil || replayed {
			return err
		}
		if err := s.requireGroup(ctx, tx, op, payment.GroupID); err != nil {
			return err
		}

		out = *payment
		if out.ID == "" {
			out.ID = uuid.New().String()
		} else if _, err := s.getPayment(ctx, tx, out.ID); err == nil {
			return errs.Conflict(op, "payment %s already exists", out.ID)
		} else if !errors.Is(err, errs.ErrNotFound) {
			return err
		}
		if out.CreatedAt == 0 {
			out.CreatedAt = time.Now().Unix()
		}
		out.Deleted = false

		_, err = tx.ExecContext(ctx,
			s.rebind(`INSERT INTO payments (`+paymentColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			out.ID, out.GroupID, out.FromUserID, out.ToUserID, out.Amount, out.Currency,
			out.ExternalRef, out.Note, out.CreatedBy, out.CreatedAt, 0,
		)
		if err != nil {
			return fmt.Errorf("failed to insert payment: %w", err)
		}

		return s.remember(ctx, tx, op, key, out.ID, &out)
	})
	if err != nil {
		return nil, false, err
	}
	return &out, replayed, nil
}

// DeletePayment soft-deletes a payment.
func (s *Store) DeletePayment(ctx context.Context, key, groupID, paymentID string) (*models.Payment, bool, error) {
	const op = storage.OpDeletePayment

	var out models.Payment
	var replayed bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		if replayed, err = s.replay(ctx, tx, op, key, &out); err != nil || replayed {
			return err
		}

		existing, err := s.getPayment(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if existing.GroupID != groupID {
			return errs.NotFound(op, "payment %s not found in group %s", paymentID, groupID)
		}
		if existing.Deleted {
			return errs.Conflict(op, "payment %s has been deleted", paymentID)
		}
		out = *existing
		out.Deleted = true

		_, err = tx.ExecContext(ctx, s.rebind("UPDATE payments SET deleted = ? WHERE id = ?"), 1, out.ID)
		if err != nil {
			return fmt.Errorf("failed to delete payment: %w", err)
		}

		return s.remember(ctx, tx, op, key, out.ID, &out)
	})
	if err != nil {
		return nil, false, err
	}
	return &out, replayed, nil
}

func scanPayment(row rowScanner) (*models.Payment, error) {
	p := &models.Payment{}
	var deleted int
	err := row.Scan(&p.ID, &p.GroupID, &p.FromUserID, &p.ToUserID, &p.Amount, &p.Currency,
		&p.ExternalRef, &p.Note, &p.CreatedBy, &p.CreatedAt, &deleted)
	if err != nil {
		return nil, err
	}
	p.Deleted = deleted != 0
	return p, nil
}

func (s *Store) getPayment(ctx context.Context, tx *sql.Tx, paymentID string) (*models.Payment, error) {
	p, err := scanPayment(tx.QueryRowContext(ctx,
		s.rebind("SELECT "+paymentColumns+" FROM payments WHERE id = ?"),
		paymentID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("sqlstore.getPayment", "payment %s not found", paymentID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return p, nil
}

// ListPayments returns a group's live payments.
func (s *Store) ListPayments(ctx context.Context, groupID string) ([]*models.Payment, error) {
	const op = "sqlstore.ListPayments"
	if err := s.requireGroup(ctx, s.db, op, groupID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		s.rebind("SELECT "+paymentColumns+` FROM payments
		 WHERE group_id = ? AND deleted = 0
		 ORDER BY created_at, id`),
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var payments []*models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate payments: %w", err)
	}
	return payments, nil
}

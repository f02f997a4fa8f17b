// Package queue is the durable offline mutation queue.
//
// Every ledger write made on the client is enqueued here first and stays until
// the remote ledger confirms it or a user discards it. Each call writes to the
// SQLite file before returning, so a crash never loses an acknowledged enqueue.
//
// Lifecycle:
//
//	pending -> in_flight -> confirmed (pruned)
//	              |
//	              +-> pending (transient failure, retried)
//	              +-> failed  (permanent failure or attempts exhausted)
//	failed -> pending (Retry) | removed (Discard)
package queue

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/mmynk/splitledger/internal/errs"
	"github.com/mmynk/splitledger/internal/models"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

const columns = "seq, idempotency_key, kind, entity_id, group_id, payload, status, attempts, last_error, error_kind, created_at, updated_at"

// Queue is a SQLite-backed FIFO of ledger mutations.
type Queue struct {
	db *sql.DB
	// mu makes each status transition a single read-check-write step.
	mu sync.Mutex
}

// Open opens (or creates) the queue database at path.
func Open(ctx context.Context, path string) (*Queue, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create queue directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}

	fsys, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		db.Close()
		return nil, err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load queue migrations: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run queue migrations: %w", err)
	}

	db.SetMaxOpenConns(1)
	return &Queue{db: db}, nil
}

// Close closes the database.
func (q *Queue) Close() error {
	return q.db.Close()
}

// Enqueue appends m. An empty idempotency key is filled with a new UUID; a
// key already in the queue is a conflict.
func (q *Queue) Enqueue(ctx context.Context, m *models.QueuedMutation) (*models.QueuedMutation, error) {
	const op = "queue.Enqueue"
	if !m.Kind.Valid() {
		return nil, errs.Validation(op, "unknown mutation kind %q", m.Kind)
	}
	if m.EntityID == "" || m.GroupID == "" {
		return nil, errs.Validation(op, "entity ID and group ID are required")
	}
	if !json.Valid(m.Payload) {
		return nil, errs.Validation(op, "payload is not valid JSON")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	out := *m
	if out.IdempotencyKey == "" {
		out.IdempotencyKey = uuid.New().String()
	} else if _, err := q.get(ctx, out.IdempotencyKey); err == nil {
		return nil, errs.Conflict(op, "idempotency key %s is already queued", out.IdempotencyKey)
	} else if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}
	now := time.Now().Unix()
	out.Status = models.StatusPending
	out.Attempts = 0
	out.LastError = ""
	out.ErrorKind = ""
	out.CreatedAt = now
	out.UpdatedAt = now

	res, err := q.db.ExecContext(ctx,
		`INSERT INTO mutations (idempotency_key, kind, entity_id, group_id, payload, status, attempts, last_error, error_kind, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, '', '', ?, ?)`,
		out.IdempotencyKey, string(out.Kind), out.EntityID, out.GroupID, string(out.Payload),
		string(out.Status), out.CreatedAt, out.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert mutation: %w", err)
	}
	if out.Seq, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("failed to read mutation sequence: %w", err)
	}
	return &out, nil
}

// ListPending returns pending and in-flight mutations in FIFO order. In-flight
// entries are included because a crash may have interrupted them.
func (q *Queue) ListPending(ctx context.Context) ([]*models.QueuedMutation, error) {
	return q.list(ctx, "WHERE status IN (?, ?)", string(models.StatusPending), string(models.StatusInFlight))
}

// List returns every queued mutation in FIFO order.
func (q *Queue) List(ctx context.Context) ([]*models.QueuedMutation, error) {
	return q.list(ctx, "")
}

// ListFailed returns mutations that need user resolution.
func (q *Queue) ListFailed(ctx context.Context) ([]*models.QueuedMutation, error) {
	return q.list(ctx, "WHERE status = ?", string(models.StatusFailed))
}

// Get returns one mutation by idempotency key.
func (q *Queue) Get(ctx context.Context, key string) (*models.QueuedMutation, error) {
	return q.get(ctx, key)
}

// Depth counts mutations still waiting to reach the remote ledger.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM mutations WHERE status IN (?, ?)",
		string(models.StatusPending), string(models.StatusInFlight),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending mutations: %w", err)
	}
	return n, nil
}

// Counts returns the number of mutations per status.
func (q *Queue) Counts(ctx context.Context) (map[models.MutationStatus]int, error) {
	rows, err := q.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM mutations GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count mutations: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.MutationStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan mutation count: %w", err)
		}
		counts[models.MutationStatus(status)] = n
	}
	return counts, rows.Err()
}

// MarkInFlight claims a pending mutation for submission. Claiming an already
// in-flight mutation is allowed so work interrupted by a crash resumes.
func (q *Queue) MarkInFlight(ctx context.Context, key string) (*models.QueuedMutation, error) {
	return q.transition(ctx, "queue.MarkInFlight", key,
		[]models.MutationStatus{models.StatusPending, models.StatusInFlight},
		func(m *models.QueuedMutation) {
			m.Status = models.StatusInFlight
		})
}

// RecordAttempt counts a transiently failed submission and returns the
// mutation to pending for another try.
func (q *Queue) RecordAttempt(ctx context.Context, key string, cause error) (*models.QueuedMutation, error) {
	return q.transition(ctx, "queue.RecordAttempt", key,
		[]models.MutationStatus{models.StatusInFlight},
		func(m *models.QueuedMutation) {
			m.Status = models.StatusPending
			m.Attempts++
			setError(m, cause)
		})
}

// MarkFailed parks a mutation for user resolution after its final attempt.
func (q *Queue) MarkFailed(ctx context.Context, key string, cause error) (*models.QueuedMutation, error) {
	return q.transition(ctx, "queue.MarkFailed", key,
		[]models.MutationStatus{models.StatusInFlight},
		func(m *models.QueuedMutation) {
			m.Status = models.StatusFailed
			m.Attempts++
			setError(m, cause)
		})
}

// MarkConfirmed removes a mutation the remote ledger acknowledged and
// returns its final state.
func (q *Queue) MarkConfirmed(ctx context.Context, key string) (*models.QueuedMutation, error) {
	const op = "queue.MarkConfirmed"
	q.mu.Lock()
	defer q.mu.Unlock()

	m, err := q.get(ctx, key)
	if err != nil {
		return nil, err
	}
	if m.Status != models.StatusInFlight {
		return nil, errs.Conflict(op, "mutation %s is %s, not in flight", key, m.Status)
	}

	if _, err := q.db.ExecContext(ctx, "DELETE FROM mutations WHERE idempotency_key = ?", key); err != nil {
		return nil, fmt.Errorf("failed to prune confirmed mutation: %w", err)
	}
	m.Status = models.StatusConfirmed
	m.Attempts++
	m.LastError = ""
	m.ErrorKind = ""
	m.UpdatedAt = time.Now().Unix()
	return m, nil
}

// Retry sends a failed mutation back to the queue with a fresh attempt budget.
// Its idempotency key is kept.
func (q *Queue) Retry(ctx context.Context, key string) (*models.QueuedMutation, error) {
	return q.transition(ctx, "queue.Retry", key,
		[]models.MutationStatus{models.StatusFailed},
		func(m *models.QueuedMutation) {
			m.Status = models.StatusPending
			m.Attempts = 0
		})
}

// Discard drops a failed mutation. Only failed mutations can be discarded.
func (q *Queue) Discard(ctx context.Context, key string) (*models.QueuedMutation, error) {
	const op = "queue.Discard"
	q.mu.Lock()
	defer q.mu.Unlock()

	m, err := q.get(ctx, key)
	if err != nil {
		return nil, err
	}
	if m.Status != models.StatusFailed {
		return nil, errs.Conflict(op, "mutation %s is %s; only failed mutations can be discarded", key, m.Status)
	}
	if _, err := q.db.ExecContext(ctx, "DELETE FROM mutations WHERE idempotency_key = ?", key); err != nil {
		return nil, fmt.Errorf("failed to discard mutation: %w", err)
	}
	return m, nil
}

// transition applies fn to the mutation if its status is one of from.
func (q *Queue) transition(ctx context.Context, op, key string, from []models.MutationStatus, fn func(*models.QueuedMutation)) (*models.QueuedMutation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	m, err := q.get(ctx, key)
	if err != nil {
		return nil, err
	}
	allowed := false
	for _, s := range from {
		if m.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, errs.Conflict(op, "mutation %s is %s", key, m.Status)
	}

	prev := m.Status
	fn(m)
	m.UpdatedAt = time.Now().Unix()

	res, err := q.db.ExecContext(ctx,
		`UPDATE mutations SET status = ?, attempts = ?, last_error = ?, error_kind = ?, updated_at = ?
		 WHERE idempotency_key = ? AND status = ?`,
		string(m.Status), m.Attempts, m.LastError, m.ErrorKind, m.UpdatedAt, key, string(prev),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update mutation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, errs.Conflict(op, "mutation %s changed concurrently", key)
	}
	return m, nil
}

func setError(m *models.QueuedMutation, cause error) {
	if cause == nil {
		m.LastError = ""
		m.ErrorKind = ""
		return
	}
	m.LastError = cause.Error()
	m.ErrorKind = errs.KindOf(cause).String()
}

func (q *Queue) get(ctx context.Context, key string) (*models.QueuedMutation, error) {
	m, err := scan(q.db.QueryRowContext(ctx, "SELECT "+columns+" FROM mutations WHERE idempotency_key = ?", key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("queue.Get", "mutation %s not found", key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mutation: %w", err)
	}
	return m, nil
}

func (q *Queue) list(ctx context.Context, where string, args ...any) ([]*models.QueuedMutation, error) {
	rows, err := q.db.QueryContext(ctx, "SELECT "+columns+" FROM mutations "+where+" ORDER BY seq", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list mutations: %w", err)
	}
	defer rows.Close()

	var out []*models.QueuedMutation
	for rows.Next() {
		m, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mutation: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate mutations: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scan(row rowScanner) (*models.QueuedMutation, error) {
	m := &models.QueuedMutation{}
	var kind, status, payload string
	err := row.Scan(&m.Seq, &m.IdempotencyKey, &kind, &m.EntityID, &m.GroupID, &payload,
		&status, &m.Attempts, &m.LastError, &m.ErrorKind, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.Kind = models.MutationKind(kind)
	m.Status = models.MutationStatus(status)
	m.Payload = json.RawMessage(payload)
	return m, nil
}

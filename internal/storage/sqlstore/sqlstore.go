// Package sqlstore provides a database/sql implementation of storage.Store.
// It runs on SQLite (modernc.org/sqlite, no CGO) or PostgreSQL (lib/pq).
package sqlstore

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
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/mmynk/splitledger/internal/errs"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Ensure Store implements storage.Store
var _ storage.Store = (*Store)(nil)

// Store implements storage.Store on a SQL database.
type Store struct {
	db     *sql.DB
	driver string

	// mu serializes writes so the idempotency check and the write it guards
	// never interleave with another request for the same key.
	mu sync.Mutex
}

// Open connects to the database, applies migrations and returns a ready store.
// For SQLite, dsn is a file path; parent directories are created.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	var dialect goose.Dialect
	switch driver {
	case DriverSQLite:
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		dsn = "file:" + dsn + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
		dialect = goose.DialectSQLite3
	case DriverPostgres:
		dialect = goose.DialectPostgres
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := migrate(ctx, db, dialect); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if driver == DriverSQLite {
		// One writer at a time; SQLite would otherwise report SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}

	return &Store{db: db, driver: driver}, nil
}

func migrate(ctx context.Context, db *sql.DB, dialect goose.Dialect) error {
	fsys, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return err
	}
	_, err = provider.Up(ctx)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders into the driver's bind syntax.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// withTx runs fn in a write transaction.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// replay looks up key. When it was already used for op, the stored result is
// decoded into out and true is returned.
func (s *Store) replay(ctx context.Context, tx *sql.Tx, op, key string, out any) (bool, error) {
	if key == "" {
		return false, errs.Validation(op, "idempotency key is required")
	}

	var storedOp, result string
	err := tx.QueryRowContext(ctx,
		s.rebind("SELECT operation, result FROM idempotency_keys WHERE idempotency_key = ?"),
		key,
	).Scan(&storedOp, &result)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up idempotency key: %w", err)
	}

	if storedOp != op {
		return false, errs.Conflict(op, "idempotency key %s was already used for %s", key, storedOp)
	}
	if err := json.Unmarshal([]byte(result), out); err != nil {
		return false, fmt.Errorf("failed to decode stored result: %w", err)
	}
	return true, nil
}

// remember stores the outcome of op under key.
func (s *Store) remember(ctx context.Context, tx *sql.Tx, op, key, resourceID string, result any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		s.rebind(`INSERT INTO idempotency_keys (idempotency_key, operation, resource_id, result, created_at)
		 VALUES (?, ?, ?, ?, ?)`),
		key, op, resourceID, string(data), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save idempotency key: %w", err)
	}
	return nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) requireGroup(ctx context.Context, q queryRower, op, groupID string) error {
	var n int
	err := q.QueryRowContext(ctx, s.rebind("SELECT COUNT(*) FROM ledger_groups WHERE id = ?"), groupID).Scan(&n)
	if err != nil {
		return fmt.Errorf("failed to check group: %w", err)
	}
	if n == 0 {
		return errs.NotFound(op, "group %s not found", groupID)
	}
	return nil
}

// CreateGroup persists a new group with its members.
func (s *Store) CreateGroup(ctx context.Context, group *models.Group) error {
	const op = "sqlstore.CreateGroup"
	if group.ID == "" {
		group.ID = uuid.New().String()
	}
	if group.CreatedAt == 0 {
		group.CreatedAt = time.Now().Unix()
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, s.rebind("SELECT COUNT(*) FROM ledger_groups WHERE id = ?"), group.ID).Scan(&n); err != nil {
			return fmt.Errorf("failed to check group: %w", err)
		}
		if n > 0 {
			return errs.Conflict(op, "group %s already exists", group.ID)
		}

		_, err := tx.ExecContext(ctx,
			s.rebind("INSERT INTO ledger_groups (id, name, created_at) VALUES (?, ?, ?)"),
			group.ID, group.Name, group.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert group: %w", err)
		}

		for _, member := range group.Members {
			_, err = tx.ExecContext(ctx,
				s.rebind("INSERT INTO group_members (group_id, user_id) VALUES (?, ?)"),
				group.ID, member,
			)
			if err != nil {
				return fmt.Errorf("failed to insert group member: %w", err)
			}
		}
		return nil
	})
}

// GetGroup retrieves a group with its members sorted by user ID.
func (s *Store) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	group := &models.Group{}
	err := s.db.QueryRowContext(ctx,
		s.rebind("SELECT id, name, created_at FROM ledger_groups WHERE id = ?"),
		groupID,
	).Scan(&group.ID, &group.Name, &group.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("sqlstore.GetGroup", "group %s not found", groupID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		s.rebind("SELECT user_id FROM group_members WHERE group_id = ? ORDER BY user_id"),
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get group members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var member string
		if err := rows.Scan(&member); err != nil {
			return nil, fmt.Errorf("failed to scan group member: %w", err)
		}
		group.Members = append(group.Members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate group members: %w", err)
	}

	return group, nil
}

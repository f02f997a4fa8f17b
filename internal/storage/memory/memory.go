// Package memory provides an in-memory storage.Store for tests and local development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/splitledger/internal/errs"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
)

var _ storage.Store = (*Store)(nil)

type keyEntry struct {
	op      string
	expense *models.Expense
	payment *models.Payment
}

// Store keeps the ledger in maps guarded by a single mutex.
// Records are copied on the way in and out.
type Store struct {
	mu       sync.Mutex
	groups   map[string]*models.Group
	expenses map[string]*models.Expense
	payments map[string]*models.Payment
	keys     map[string]keyEntry
}

// New returns an empty store.
func New() *Store {
	return &Store{
		groups:   make(map[string]*models.Group),
		expenses: make(map[string]*models.Expense),
		payments: make(map[string]*models.Payment),
		keys:     make(map[string]keyEntry),
	}
}

func (s *Store) Close() error { return nil }

func cloneExpense(e *models.Expense) *models.Expense {
	c := *e
	c.Splits = append([]models.ExpenseSplit(nil), e.Splits...)
	return &c
}

func clonePayment(p *models.Payment) *models.Payment {
	c := *p
	return &c
}

// replay must be called with mu held.
func (s *Store) replay(op, key string) (keyEntry, bool, error) {
	if key == "" {
		return keyEntry{}, false, errs.Validation(op, "idempotency key is required")
	}
	entry, ok := s.keys[key]
	if !ok {
		return keyEntry{}, false, nil
	}
	if entry.op != op {
		return keyEntry{}, false, errs.Conflict(op, "idempotency key %s was already used for %s", key, entry.op)
	}
	return entry, true, nil
}

func (s *Store) CreateGroup(_ context.Context, group *models.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if group.ID == "" {
		group.ID = uuid.New().String()
	}
	if group.CreatedAt == 0 {
		group.CreatedAt = time.Now().Unix()
	}
	if _, ok := s.groups[group.ID]; ok {
		return errs.Conflict("memory.CreateGroup", "group %s already exists", group.ID)
	}
	g := *group
	g.Members = append([]string(nil), group.Members...)
	sort.Strings(g.Members)
	s.groups[g.ID] = &g
	return nil
}

func (s *Store) GetGroup(_ context.Context, groupID string) (*models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return nil, errs.NotFound("memory.GetGroup", "group %s not found", groupID)
	}
	c := *g
	c.Members = append([]string(nil), g.Members...)
	return &c, nil
}

func (s *Store) RecordExpense(_ context.Context, key string, expense *models.Expense) (*models.Expense, bool, error) {
	const op = storage.OpRecordExpense
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok, err := s.replay(op, key); err != nil || ok {
		if err != nil {
			return nil, false, err
		}
		return cloneExpense(entry.expense), true, nil
	}
	if _, ok := s.groups[expense.GroupID]; !ok {
		return nil, false, errs.NotFound(op, "group %s not found", expense.GroupID)
	}

	e := cloneExpense(expense)
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if _, ok := s.expenses[e.ID]; ok {
		return nil, false, errs.Conflict(op, "expense %s already exists", e.ID)
	}
	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().Unix()
	}
	e.UpdatedAt = e.CreatedAt
	e.Deleted = false
	sortSplits(e)

	s.expenses[e.ID] = e
	s.keys[key] = keyEntry{op: op, expense: cloneExpense(e)}
	return cloneExpense(e), false, nil
}

func (s *Store) UpdateExpense(_ context.Context, key string, expense *models.Expense) (*models.Expense, bool, error) {
	const op = storage.OpUpdateExpense
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok, err := s.replay(op, key); err != nil || ok {
		if err != nil {
			return nil, false, err
		}
		return cloneExpense(entry.expense), true, nil
	}
	existing, err := s.liveExpense(op, expense.GroupID, expense.ID)
	if err != nil {
		return nil, false, err
	}

	e := cloneExpense(expense)
	e.CreatedAt = existing.CreatedAt
	e.CreatedBy = existing.CreatedBy
	e.UpdatedAt = time.Now().Unix()
	e.Deleted = false
	sortSplits(e)

	s.expenses[e.ID] = e
	s.keys[key] = keyEntry{op: op, expense: cloneExpense(e)}
	return cloneExpense(e), false, nil
}

func (s *Store) DeleteExpense(_ context.Context, key, groupID, expenseID string) (*models.Expense, bool, error) {
	const op = storage.OpDeleteExpense
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok, err := s.replay(op, key); err != nil || ok {
		if err != nil {
			return nil, false, err
		}
		return cloneExpense(entry.expense), true, nil
	}
	existing, err := s.liveExpense(op, groupID, expenseID)
	if err != nil {
		return nil, false, err
	}

	existing.Deleted = true
	existing.UpdatedAt = time.Now().Unix()
	s.keys[key] = keyEntry{op: op, expense: cloneExpense(existing)}
	return cloneExpense(existing), false, nil
}

func (s *Store) liveExpense(op, groupID, expenseID string) (*models.Expense, error) {
	e, ok := s.expenses[expenseID]
	if !ok || e.GroupID != groupID {
		return nil, errs.NotFound(op, "expense %s not found in group %s", expenseID, groupID)
	}
	if e.Deleted {
		return nil, errs.Conflict(op, "expense %s has been deleted", expenseID)
	}
	return e, nil
}

func sortSplits(e *models.Expense) {
	sort.Slice(e.Splits, func(i, j int) bool { return e.Splits[i].UserID < e.Splits[j].UserID })
}

func (s *Store) RecordPayment(_ context.Context, key string, payment *models.Payment) (*models.Payment, bool, error) {
	const op = storage.OpRecordPayment
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok, err := s.replay(op, key); err != nil || ok {
		if err != nil {
			return nil, false, err
		}
		return clonePayment(entry.payment), true, nil
	}
	if _, ok := s.groups[payment.GroupID]; !ok {
		return nil, false, errs.NotFound(op, "group %s not found", payment.GroupID)
	}

	p := clonePayment(payment)
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if _, ok := s.payments[p.ID]; ok {
		return nil, false, errs.Conflict(op, "payment %s already exists", p.ID)
	}
	if p.CreatedAt == 0 {
		p.CreatedAt = time.Now().Unix()
	}
	p.Deleted = false

	s.payments[p.ID] = p
	s.keys[key] = keyEntry{op: op, payment: clonePayment(p)}
	return clonePayment(p), false, nil
}

func (s *Store) DeletePayment(_ context.Context, key, groupID, paymentID string) (*models.Payment, bool, error) {
	const op = storage.OpDeletePayment
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok, err := s.replay(op, key); err != nil || ok {
		if err != nil {
			return nil, false, err
		}
		return clonePayment(entry.payment), true, nil
	}
	p, ok := s.payments[paymentID]
	if !ok || p.GroupID != groupID {
		return nil, false, errs.NotFound(op, "payment %s not found in group %s", paymentID, groupID)
	}
	if p.Deleted {
		return nil, false, errs.Conflict(op, "payment %s has been deleted", paymentID)
	}

	p.Deleted = true
	s.keys[key] = keyEntry{op: op, payment: clonePayment(p)}
	return clonePayment(p), false, nil
}

func (s *Store) ListExpenses(_ context.Context, groupID string) ([]*models.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[groupID]; !ok {
		return nil, errs.NotFound("memory.ListExpenses", "group %s not found", groupID)
	}
	var out []*models.Expense
	for _, e := range s.expenses {
		if e.GroupID == groupID && !e.Deleted {
			out = append(out, cloneExpense(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) ListPayments(_ context.Context, groupID string) ([]*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[groupID]; !ok {
		return nil, errs.NotFound("memory.ListPayments", "group %s not found", groupID)
	}
	var out []*models.Payment
	for _, p := range s.payments {
		if p.GroupID == groupID && !p.Deleted {
			out = append(out, clonePayment(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

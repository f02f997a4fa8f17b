// Package ledger validates ledger writes, stores them idempotently and derives
// balances and settlement plans from the stored records.
package ledger

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/mmynk/splitledger/internal/calculator"
	"github.com/mmynk/splitledger/internal/errs"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/money"
	"github.com/mmynk/splitledger/internal/notify"
	"github.com/mmynk/splitledger/internal/storage"
)

// Service is the ledger's entry point for the REST API.
type Service struct {
	store     storage.Store
	publisher notify.Publisher
}

// New creates a Service. A nil publisher disables change notifications.
func New(store storage.Store, publisher notify.Publisher) *Service {
	if publisher == nil {
		publisher = notify.Nop{}
	}
	return &Service{store: store, publisher: publisher}
}

// CreateGroup seeds a group. Members are de-duplicated.
func (s *Service) CreateGroup(ctx context.Context, group *models.Group) (*models.Group, error) {
	const op = "ledger.CreateGroup"
	group.Name = strings.TrimSpace(group.Name)
	if group.Name == "" {
		return nil, errs.Validation(op, "group name is required")
	}
	if len(group.Members) == 0 {
		return nil, errs.Validation(op, "group must have at least one member")
	}
	seen := make(map[string]bool, len(group.Members))
	members := make([]string, 0, len(group.Members))
	for _, m := range group.Members {
		if m == "" {
			return nil, errs.Validation(op, "member ID cannot be empty")
		}
		if !seen[m] {
			seen[m] = true
			members = append(members, m)
		}
	}
	group.Members = members

	if err := s.store.CreateGroup(ctx, group); err != nil {
		return nil, err
	}
	slog.Info("Group created", "group_id", group.ID, "members_count", len(group.Members))
	return s.store.GetGroup(ctx, group.ID)
}

// GetGroup returns a group with its members.
func (s *Service) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	return s.store.GetGroup(ctx, groupID)
}

// RecordExpense validates req, normalizes its splits and stores it under key.
// The boolean result reports whether key had already been used.
func (s *Service) RecordExpense(ctx context.Context, key, userID string, req *models.ExpenseRequest) (*models.Expense, bool, error) {
	expense, err := s.prepareExpense(ctx, "ledger.RecordExpense", req)
	if err != nil {
		return nil, false, err
	}
	expense.CreatedBy = userID

	saved, replayed, err := s.store.RecordExpense(ctx, key, expense)
	if err != nil {
		return nil, false, err
	}
	s.written(ctx, replayed, saved.GroupID, storage.OpRecordExpense, saved.ID)
	return saved, replayed, nil
}

// UpdateExpense replaces an expense. The newest confirmed write wins.
func (s *Service) UpdateExpense(ctx context.Context, key string, req *models.ExpenseRequest) (*models.Expense, bool, error) {
	const op = "ledger.UpdateExpense"
	if req.ID == "" {
		return nil, false, errs.Validation(op, "expense ID is required")
	}
	expense, err := s.prepareExpense(ctx, op, req)
	if err != nil {
		return nil, false, err
	}

	saved, replayed, err := s.store.UpdateExpense(ctx, key, expense)
	if err != nil {
		return nil, false, err
	}
	s.written(ctx, replayed, saved.GroupID, storage.OpUpdateExpense, saved.ID)
	return saved, replayed, nil
}

// DeleteExpense soft-deletes an expense.
func (s *Service) DeleteExpense(ctx context.Context, key, groupID, expenseID string) (*models.Expense, bool, error) {
	const op = "ledger.DeleteExpense"
	if groupID == "" || expenseID == "" {
		return nil, false, errs.Validation(op, "group ID and expense ID are required")
	}

	saved, replayed, err := s.store.DeleteExpense(ctx, key, groupID, expenseID)
	if err != nil {
		return nil, false, err
	}
	s.written(ctx, replayed, groupID, storage.OpDeleteExpense, expenseID)
	return saved, replayed, nil
}

// RecordPayment validates and stores a payment under key.
func (s *Service) RecordPayment(ctx context.Context, key, userID string, payment *models.Payment) (*models.Payment, bool, error) {
	const op = "ledger.RecordPayment"
	if payment.GroupID == "" {
		return nil, false, errs.Validation(op, "group ID is required")
	}
	if payment.Amount <= 0 {
		return nil, false, errs.Validation(op, "amount must be positive, got %d", payment.Amount)
	}
	if payment.FromUserID == "" || payment.ToUserID == "" {
		return nil, false, errs.Validation(op, "payer and payee are required")
	}
	if payment.FromUserID == payment.ToUserID {
		return nil, false, errs.Validation(op, "payer and payee must differ")
	}
	currency, err := money.NormalizeCurrency(payment.Currency)
	if err != nil {
		return nil, false, err
	}

	group, err := s.store.GetGroup(ctx, payment.GroupID)
	if err != nil {
		return nil, false, err
	}
	if err := requireMembers(op, group, payment.FromUserID, payment.ToUserID); err != nil {
		return nil, false, err
	}
	if err := s.requireCurrency(ctx, op, payment.GroupID, currency, ""); err != nil {
		return nil, false, err
	}

	p := *payment
	p.Currency = currency
	p.CreatedBy = userID
	p.Deleted = false

	saved, replayed, err := s.store.RecordPayment(ctx, key, &p)
	if err != nil {
		return nil, false, err
	}
	s.written(ctx, replayed, saved.GroupID, storage.OpRecordPayment, saved.ID)
	return saved, replayed, nil
}

// DeletePayment soft-deletes a payment.
func (s *Service) DeletePayment(ctx context.Context, key, groupID, paymentID string) (*models.Payment, bool, error) {
	const op = "ledger.DeletePayment"
	if groupID == "" || paymentID == "" {
		return nil, false, errs.Validation(op, "group ID and payment ID are required")
	}

	saved, replayed, err := s.store.DeletePayment(ctx, key, groupID, paymentID)
	if err != nil {
		return nil, false, err
	}
	s.written(ctx, replayed, groupID, storage.OpDeletePayment, paymentID)
	return saved, replayed, nil
}

// ListExpenses returns a group's live expenses.
func (s *Service) ListExpenses(ctx context.Context, groupID string) ([]*models.Expense, error) {
	return s.store.ListExpenses(ctx, groupID)
}

// ListPayments returns a group's live payments.
func (s *Service) ListPayments(ctx context.Context, groupID string) ([]*models.Payment, error) {
	return s.store.ListPayments(ctx, groupID)
}

// Balances computes every member's net balance from the current ledger.
// Members without activity are listed with zero.
func (s *Service) Balances(ctx context.Context, groupID string) ([]models.Balance, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	expenses, err := s.store.ListExpenses(ctx, groupID)
	if err != nil {
		return nil, err
	}
	payments, err := s.store.ListPayments(ctx, groupID)
	if err != nil {
		return nil, err
	}

	balances, err := calculator.CalculateBalances(expenses, payments)
	if err != nil {
		slog.Error("Balance calculation failed", "group_id", groupID, "error", err)
		return nil, err
	}
	return WithMembers(balances, group.Members), nil
}

// Settlements returns the plan that settles a group's current balances.
func (s *Service) Settlements(ctx context.Context, groupID string) ([]models.SettlementSuggestion, error) {
	balances, err := s.Balances(ctx, groupID)
	if err != nil {
		return nil, err
	}
	plan, err := calculator.PlanSettlements(balances)
	if err != nil {
		slog.Error("Settlement planning failed", "group_id", groupID, "error", err)
		return nil, err
	}
	return plan, nil
}

// WithMembers adds a zero balance for every member missing from balances and
// keeps the result sorted by user ID.
func WithMembers(balances []models.Balance, members []string) []models.Balance {
	present := make(map[string]bool, len(balances))
	currency := ""
	for _, b := range balances {
		present[b.UserID] = true
		currency = b.Currency
	}
	out := append([]models.Balance(nil), balances...)
	for _, m := range members {
		if !present[m] {
			out = append(out, models.Balance{UserID: m, Currency: currency})
			present[m] = true
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (s *Service) prepareExpense(ctx context.Context, op string, req *models.ExpenseRequest) (*models.Expense, error) {
	if req.GroupID == "" {
		return nil, errs.Validation(op, "group ID is required")
	}
	if req.Amount <= 0 {
		return nil, errs.Validation(op, "amount must be positive, got %d", req.Amount)
	}
	if req.PayerID == "" {
		return nil, errs.Validation(op, "payer is required")
	}
	currency, err := money.NormalizeCurrency(req.Currency)
	if err != nil {
		return nil, err
	}

	group, err := s.store.GetGroup(ctx, req.GroupID)
	if err != nil {
		return nil, err
	}

	splits, err := calculator.NormalizeSplits(req.Amount, req.SplitMode, req.Participants, req.Splits)
	if err != nil {
		return nil, err
	}

	ids := []string{req.PayerID}
	for _, sp := range splits {
		ids = append(ids, sp.UserID)
	}
	if err := requireMembers(op, group, ids...); err != nil {
		return nil, err
	}
	if err := s.requireCurrency(ctx, op, req.GroupID, currency, req.ID); err != nil {
		return nil, err
	}

	expense := req.Expense
	expense.Description = strings.TrimSpace(expense.Description)
	expense.Currency = currency
	expense.Splits = splits
	expense.Deleted = false
	return &expense, nil
}

func requireMembers(op string, group *models.Group, userIDs ...string) error {
	for _, id := range userIDs {
		if !group.HasMember(id) {
			return errs.NotFound(op, "user %s is not a member of group %s", id, group.ID)
		}
	}
	return nil
}

// requireCurrency rejects a write whose currency differs from the group's
// live records. The expense being replaced, if any, is skipped.
func (s *Service) requireCurrency(ctx context.Context, op, groupID, currency, replacing string) error {
	expenses, err := s.store.ListExpenses(ctx, groupID)
	if err != nil {
		return err
	}
	for _, e := range expenses {
		if e.ID != replacing && e.Currency != currency {
			return errs.Validation(op, "group %s records %s; cannot add %s", groupID, e.Currency, currency)
		}
	}
	payments, err := s.store.ListPayments(ctx, groupID)
	if err != nil {
		return err
	}
	for _, p := range payments {
		if p.Currency != currency {
			return errs.Validation(op, "group %s records %s; cannot add %s", groupID, p.Currency, currency)
		}
	}
	return nil
}

// written publishes a change event for new writes. Replays change nothing.
func (s *Service) written(ctx context.Context, replayed bool, groupID, kind, entityID string) {
	if replayed {
		slog.Info("Idempotent replay", "group_id", groupID, "kind", kind, "entity_id", entityID)
		return
	}
	slog.Info("Ledger updated", "group_id", groupID, "kind", kind, "entity_id", entityID)

	event := notify.LedgerEvent{GroupID: groupID, Kind: kind, EntityID: entityID, At: time.Now().Unix()}
	if err := s.publisher.Publish(ctx, event); err != nil {
		slog.Warn("Failed to publish ledger event", "group_id", groupID, "error", err)
	}
}

package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/splitledger/internal/errs"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/notify"
	"github.com/mmynk/splitledger/internal/storage/memory"
)

// MockPublisher is a mock implementation of notify.Publisher for testing
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, event notify.LedgerEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockPublisher) Close() error {
	return m.Called().Error(0)
}

func setup(t *testing.T) (*Service, *MockPublisher, *models.Group) {
	t.Helper()
	pub := &MockPublisher{}
	svc := New(memory.New(), pub)

	group, err := svc.CreateGroup(context.Background(), &models.Group{
		Name:    "Flat",
		Members: []string{"alice", "bob", "carol", "bob"},
	})
	require.NoError(t, err)
	return svc, pub, group
}

func TestCreateGroup(t *testing.T) {
	svc, _, group := setup(t)
	assert.Equal(t, []string{"alice", "bob", "carol"}, group.Members)

	_, err := svc.CreateGroup(context.Background(), &models.Group{Name: "  "})
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = svc.CreateGroup(context.Background(), &models.Group{Name: "Empty"})
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestRecordExpense_EqualSplitAndReplay(t *testing.T) {
	ctx := context.Background()
	svc, pub, group := setup(t)
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(e notify.LedgerEvent) bool {
		return e.GroupID == group.ID && e.Kind == "record_expense"
	})).Return(nil).Once()

	req := &models.ExpenseRequest{
		Expense: models.Expense{
			ID: "exp-1", GroupID: group.ID, Description: " Dinner ",
			Amount: 100, Currency: "usd", PayerID: "alice",
		},
		Participants: []string{"carol", "bob", "alice"},
	}

	saved, replayed, err := svc.RecordExpense(ctx, "k1", "alice", req)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, "USD", saved.Currency)
	assert.Equal(t, "Dinner", saved.Description)
	assert.Equal(t, "alice", saved.CreatedBy)
	require.Len(t, saved.Splits, 3)
	assert.Equal(t, models.ExpenseSplit{UserID: "alice", ShareAmount: 34}, saved.Splits[0])

	again, replayed, err := svc.RecordExpense(ctx, "k1", "alice", req)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, saved.ID, again.ID)

	// Replays publish nothing.
	pub.AssertExpectations(t)
	pub.AssertNumberOfCalls(t, "Publish", 1)
}

func TestRecordExpense_Validation(t *testing.T) {
	ctx := context.Background()
	svc, pub, group := setup(t)
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil)

	base := func() *models.ExpenseRequest {
		return &models.ExpenseRequest{
			Expense:      models.Expense{GroupID: group.ID, Amount: 100, Currency: "USD", PayerID: "alice"},
			Participants: []string{"alice", "bob"},
		}
	}

	tests := []struct {
		name   string
		mutate func(r *models.ExpenseRequest)
		want   error
	}{
		{"zero amount", func(r *models.ExpenseRequest) { r.Amount = 0 }, errs.ErrValidation},
		{"negative amount", func(r *models.ExpenseRequest) { r.Amount = -5 }, errs.ErrValidation},
		{"missing payer", func(r *models.ExpenseRequest) { r.PayerID = "" }, errs.ErrValidation},
		{"bad currency", func(r *models.ExpenseRequest) { r.Currency = "dollars" }, errs.ErrValidation},
		{"unknown group", func(r *models.ExpenseRequest) { r.GroupID = "nope" }, errs.ErrNotFound},
		{"payer not a member", func(r *models.ExpenseRequest) { r.PayerID = "mallory" }, errs.ErrNotFound},
		{"participant not a member", func(r *models.ExpenseRequest) { r.Participants = []string{"alice", "zed"} }, errs.ErrNotFound},
		{"exact shares far off", func(r *models.ExpenseRequest) {
			r.Participants = nil
			r.Splits = []models.ExpenseSplit{{UserID: "alice", ShareAmount: 10}, {UserID: "bob", ShareAmount: 10}}
		}, errs.ErrValidation},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base()
			tt.mutate(req)
			_, _, err := svc.RecordExpense(ctx, "key-"+string(rune('a'+i)), "alice", req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestUpdateAndDeleteExpense(t *testing.T) {
	ctx := context.Background()
	svc, pub, group := setup(t)
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil)

	req := &models.ExpenseRequest{
		Expense:      models.Expense{ID: "exp-1", GroupID: group.ID, Amount: 90, Currency: "USD", PayerID: "alice"},
		Participants: []string{"alice", "bob", "carol"},
	}
	_, _, err := svc.RecordExpense(ctx, "create", "alice", req)
	require.NoError(t, err)

	req.Amount = 60
	req.SplitMode = models.SplitModePercentage
	req.Participants = nil
	req.Splits = []models.ExpenseSplit{
		{UserID: "alice", SharePercentage: "50"},
		{UserID: "bob", SharePercentage: "50"},
	}
	updated, _, err := svc.UpdateExpense(ctx, "update", req)
	require.NoError(t, err)
	assert.Equal(t, int64(60), updated.Amount)
	assert.Equal(t, []string{"alice", "bob"}, updated.Participants())

	_, _, err = svc.UpdateExpense(ctx, "update-no-id", &models.ExpenseRequest{Expense: models.Expense{GroupID: group.ID}})
	assert.ErrorIs(t, err, errs.ErrValidation)

	deleted, _, err := svc.DeleteExpense(ctx, "delete", group.ID, "exp-1")
	require.NoError(t, err)
	assert.True(t, deleted.Deleted)

	balances, err := svc.Balances(ctx, group.ID)
	require.NoError(t, err)
	for _, b := range balances {
		assert.Zero(t, b.Net, b.UserID)
	}
}

func TestRecordPayment(t *testing.T) {
	ctx := context.Background()
	svc, pub, group := setup(t)
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil)

	tests := []struct {
		name    string
		payment models.Payment
		want    error
	}{
		{"self payment", models.Payment{FromUserID: "bob", ToUserID: "bob", Amount: 5, Currency: "USD"}, errs.ErrValidation},
		{"zero amount", models.Payment{FromUserID: "bob", ToUserID: "alice", Amount: 0, Currency: "USD"}, errs.ErrValidation},
		{"stranger", models.Payment{FromUserID: "zed", ToUserID: "alice", Amount: 5, Currency: "USD"}, errs.ErrNotFound},
		{"ok", models.Payment{FromUserID: "bob", ToUserID: "alice", Amount: 5, Currency: "usd"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.payment
			p.GroupID = group.ID
			saved, _, err := svc.RecordPayment(ctx, "pay-"+tt.name, "bob", &p)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "USD", saved.Currency)
			assert.Equal(t, "bob", saved.CreatedBy)
		})
	}
}

func TestWrites_RejectMixedCurrency(t *testing.T) {
	ctx := context.Background()
	svc, pub, group := setup(t)
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil)

	req := &models.ExpenseRequest{
		Expense:      models.Expense{ID: "exp-usd", GroupID: group.ID, Amount: 100, Currency: "USD", PayerID: "alice"},
		Participants: []string{"alice", "bob"},
	}
	_, _, err := svc.RecordExpense(ctx, "usd", "alice", req)
	require.NoError(t, err)

	eur := &models.ExpenseRequest{
		Expense:      models.Expense{GroupID: group.ID, Amount: 100, Currency: "eur", PayerID: "bob"},
		Participants: []string{"alice", "bob"},
	}
	_, _, err = svc.RecordExpense(ctx, "eur", "bob", eur)
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, _, err = svc.RecordPayment(ctx, "pay-eur", "bob",
		&models.Payment{GroupID: group.ID, FromUserID: "bob", ToUserID: "alice", Amount: 50, Currency: "EUR"})
	assert.ErrorIs(t, err, errs.ErrValidation)

	// Reads keep working after the rejected writes.
	balances, err := svc.Balances(ctx, group.ID)
	require.NoError(t, err)
	for _, b := range balances {
		assert.Equal(t, "USD", b.Currency, b.UserID)
	}
	_, err = svc.Settlements(ctx, group.ID)
	require.NoError(t, err)

	// The only live record may change its own currency.
	req.Currency = "EUR"
	updated, _, err := svc.UpdateExpense(ctx, "to-eur", req)
	require.NoError(t, err)
	assert.Equal(t, "EUR", updated.Currency)

	_, _, err = svc.RecordPayment(ctx, "pay-eur-2", "bob",
		&models.Payment{GroupID: group.ID, FromUserID: "bob", ToUserID: "alice", Amount: 50, Currency: "EUR"})
	require.NoError(t, err)
}

func TestBalancesAndSettlements(t *testing.T) {
	ctx := context.Background()
	svc, pub, group := setup(t)
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil)

	// alice pays 90 for all three, bob pays 30 for bob and carol.
	_, _, err := svc.RecordExpense(ctx, "e1", "alice", &models.ExpenseRequest{
		Expense:      models.Expense{GroupID: group.ID, Amount: 90, Currency: "USD", PayerID: "alice"},
		Participants: []string{"alice", "bob", "carol"},
	})
	require.NoError(t, err)
	_, _, err = svc.RecordExpense(ctx, "e2", "bob", &models.ExpenseRequest{
		Expense:      models.Expense{GroupID: group.ID, Amount: 30, Currency: "USD", PayerID: "bob"},
		Participants: []string{"bob", "carol"},
	})
	require.NoError(t, err)

	balances, err := svc.Balances(ctx, group.ID)
	require.NoError(t, err)
	nets := map[string]int64{}
	for _, b := range balances {
		nets[b.UserID] = b.Net
	}
	assert.Equal(t, map[string]int64{"alice": 60, "bob": -15, "carol": -45}, nets)

	plan, err := svc.Settlements(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, []models.SettlementSuggestion{
		{FromUserID: "carol", ToUserID: "alice", Amount: 45, Currency: "USD"},
		{FromUserID: "bob", ToUserID: "alice", Amount: 15, Currency: "USD"},
	}, plan)

	// Recording the plan as payments settles the group.
	for i, s := range plan {
		_, _, err := svc.RecordPayment(ctx, "settle-"+string(rune('0'+i)), s.FromUserID, &models.Payment{
			GroupID: group.ID, FromUserID: s.FromUserID, ToUserID: s.ToUserID, Amount: s.Amount, Currency: s.Currency,
		})
		require.NoError(t, err)
	}
	plan, err = svc.Settlements(ctx, group.ID)
	require.NoError(t, err)
	assert.Empty(t, plan)
}

func TestBalances_IncludesIdleMembers(t *testing.T) {
	svc, _, group := setup(t)

	balances, err := svc.Balances(context.Background(), group.ID)
	require.NoError(t, err)
	require.Len(t, balances, 3)
	for _, b := range balances {
		assert.Zero(t, b.Net)
	}
}

func TestPublishFailureDoesNotFailWrite(t *testing.T) {
	ctx := context.Background()
	svc, pub, group := setup(t)
	pub.On("Publish", mock.Anything, mock.Anything).Return(errors.New("nats down"))

	_, replayed, err := svc.RecordPayment(ctx, "p1", "bob", &models.Payment{
		GroupID: group.ID, FromUserID: "bob", ToUserID: "alice", Amount: 10, Currency: "USD",
	})
	require.NoError(t, err)
	assert.False(t, replayed)
}

func TestWithMembers(t *testing.T) {
	got := WithMembers([]models.Balance{{UserID: "bob", Net: 5, Currency: "EUR"}, {UserID: "alice", Net: -5, Currency: "EUR"}},
		[]string{"carol", "alice"})
	require.Len(t, got, 3)
	assert.Equal(t, "alice", got[0].UserID)
	assert.Equal(t, "bob", got[1].UserID)
	assert.Equal(t, models.Balance{UserID: "carol", Currency: "EUR"}, got[2])
}

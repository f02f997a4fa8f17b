package calculator

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/mmynk/splitledger/internal/errs"
	"github.com/mmynk/splitledger/internal/models"
)

func expense(id, payer string, amount int64, participants ...string) *models.Expense {
	splits, err := SplitEqual(amount, participants)
	if err != nil {
		panic(err)
	}
	return &models.Expense{ID: id, PayerID: payer, Amount: amount, Currency: "USD", Splits: splits}
}

func nets(balances []models.Balance) map[string]int64 {
	out := make(map[string]int64, len(balances))
	for _, b := range balances {
		out[b.UserID] = b.Net
	}
	return out
}

func TestCalculateBalances(t *testing.T) {
	tests := []struct {
		name     string
		expenses []*models.Expense
		payments []*models.Payment
		want     map[string]int64
		wantErr  error
	}{
		{
			name:     "single expense split three ways",
			expenses: []*models.Expense{expense("e1", "alice", 300, "alice", "bob", "carol")},
			want:     map[string]int64{"alice": 200, "bob": -100, "carol": -100},
		},
		{
			name: "payment cancels debt",
			expenses: []*models.Expense{
				expense("e1", "alice", 300, "alice", "bob", "carol"),
			},
			payments: []*models.Payment{
				{ID: "p1", FromUserID: "bob", ToUserID: "alice", Amount: 100, Currency: "USD"},
			},
			want: map[string]int64{"alice": 100, "bob": 0, "carol": -100},
		},
		{
			name: "deleted records are ignored",
			expenses: []*models.Expense{
				expense("e1", "alice", 200, "alice", "bob"),
				func() *models.Expense {
					e := expense("e2", "bob", 1000, "alice", "bob")
					e.Deleted = true
					return e
				}(),
			},
			payments: []*models.Payment{
				{ID: "p1", FromUserID: "bob", ToUserID: "alice", Amount: 100, Currency: "USD", Deleted: true},
			},
			want: map[string]int64{"alice": 100, "bob": -100},
		},
		{
			name: "splits not matching amount is an invariant violation",
			expenses: []*models.Expense{{
				ID: "bad", PayerID: "a", Amount: 100, Currency: "USD",
				Splits: []models.ExpenseSplit{{UserID: "a", ShareAmount: 40}, {UserID: "b", ShareAmount: 40}},
			}},
			wantErr: errs.ErrInvariant,
		},
		{
			name: "mixed currencies rejected",
			expenses: []*models.Expense{
				expense("e1", "a", 100, "a", "b"),
				func() *models.Expense {
					e := expense("e2", "b", 100, "a", "b")
					e.Currency = "EUR"
					return e
				}(),
			},
			wantErr: errs.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			balances, err := CalculateBalances(tt.expenses, tt.payments)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("CalculateBalances() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("CalculateBalances() failed: %v", err)
			}
			got := nets(balances)
			for id, want := range tt.want {
				if got[id] != want {
					t.Errorf("%s net = %d, want %d", id, got[id], want)
				}
			}
		})
	}
}

func TestCalculateBalances_SortedAndTotals(t *testing.T) {
	balances, err := CalculateBalances(
		[]*models.Expense{expense("e1", "bob", 100, "alice", "bob")},
		nil,
	)
	if err != nil {
		t.Fatalf("CalculateBalances() failed: %v", err)
	}
	if len(balances) != 2 || balances[0].UserID != "alice" || balances[1].UserID != "bob" {
		t.Fatalf("unexpected order: %+v", balances)
	}
	bob := balances[1]
	if bob.TotalPaid != 100 || bob.TotalOwed != 50 || bob.Net != 50 {
		t.Errorf("bob = %+v, want paid 100 owed 50 net 50", bob)
	}
	if bob.Currency != "USD" {
		t.Errorf("currency = %q, want USD", bob.Currency)
	}
}

// Random ledgers must always conserve money.
func TestCalculateBalances_SumIsZero(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	users := []string{"ann", "ben", "cat", "dan", "eve", "fay"}

	for round := 0; round < 200; round++ {
		var expenses []*models.Expense
		var payments []*models.Payment
		for i := 0; i < r.IntN(10)+1; i++ {
			k := r.IntN(len(users)) + 1
			expenses = append(expenses, expense("e", users[r.IntN(len(users))], r.Int64N(100_000)+1, users[:k]...))
		}
		for i := 0; i < r.IntN(5); i++ {
			from, to := users[r.IntN(len(users))], users[r.IntN(len(users))]
			payments = append(payments, &models.Payment{FromUserID: from, ToUserID: to, Amount: r.Int64N(5_000) + 1, Currency: "USD"})
		}

		balances, err := CalculateBalances(expenses, payments)
		if err != nil {
			t.Fatalf("round %d: %v", round, err)
		}
		var total int64
		for _, b := range balances {
			total += b.Net
		}
		if total != 0 {
			t.Fatalf("round %d: balances sum to %d", round, total)
		}
	}
}

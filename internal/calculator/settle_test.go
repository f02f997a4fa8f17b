package calculator

import (
	"errors"
	"math/rand/v2"
	"reflect"
	"testing"

	"github.com/mmynk/splitledger/internal/errs"
	"github.com/mmynk/splitledger/internal/models"
)

func TestPlanSettlements(t *testing.T) {
	tests := []struct {
		name     string
		balances []models.Balance
		want     []models.SettlementSuggestion
	}{
		{
			name: "one creditor two debtors",
			balances: []models.Balance{
				{UserID: "A", Net: 50, Currency: "USD"},
				{UserID: "B", Net: -30, Currency: "USD"},
				{UserID: "C", Net: -20, Currency: "USD"},
			},
			want: []models.SettlementSuggestion{
				{FromUserID: "B", ToUserID: "A", Amount: 30, Currency: "USD"},
				{FromUserID: "C", ToUserID: "A", Amount: 20, Currency: "USD"},
			},
		},
		{
			name: "ties resolved by smaller user ID",
			balances: []models.Balance{
				{UserID: "d", Net: -10, Currency: "USD"},
				{UserID: "c", Net: -10, Currency: "USD"},
				{UserID: "b", Net: 10, Currency: "USD"},
				{UserID: "a", Net: 10, Currency: "USD"},
			},
			want: []models.SettlementSuggestion{
				{FromUserID: "c", ToUserID: "a", Amount: 10, Currency: "USD"},
				{FromUserID: "d", ToUserID: "b", Amount: 10, Currency: "USD"},
			},
		},
		{
			name: "already settled",
			balances: []models.Balance{
				{UserID: "a", Net: 0},
				{UserID: "b", Net: 0},
			},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PlanSettlements(tt.balances)
			if err != nil {
				t.Fatalf("PlanSettlements() failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("PlanSettlements() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestPlanSettlements_UnbalancedInput(t *testing.T) {
	_, err := PlanSettlements([]models.Balance{
		{UserID: "a", Net: 50},
		{UserID: "b", Net: -40},
	})
	if !errors.Is(err, errs.ErrInvariant) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
}

// Settling then recomputing must zero every balance, in at most n-1 transfers.
func TestPlanSettlements_RoundTrip(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 5))
	users := []string{"u1", "u2", "u3", "u4", "u5", "u6", "u7"}

	for round := 0; round < 200; round++ {
		var expenses []*models.Expense
		for i := 0; i < r.IntN(8)+1; i++ {
			k := r.IntN(len(users)) + 1
			expenses = append(expenses, expense("e", users[r.IntN(len(users))], r.Int64N(50_000)+1, users[:k]...))
		}
		balances, err := CalculateBalances(expenses, nil)
		if err != nil {
			t.Fatalf("round %d: %v", round, err)
		}

		plan, err := PlanSettlements(balances)
		if err != nil {
			t.Fatalf("round %d: %v", round, err)
		}

		nonzero := 0
		for _, b := range balances {
			if b.Net != 0 {
				nonzero++
			}
		}
		if nonzero > 0 && len(plan) > nonzero-1 {
			t.Fatalf("round %d: %d transfers for %d nonzero members", round, len(plan), nonzero)
		}

		var payments []*models.Payment
		for _, s := range plan {
			if s.Amount <= 0 {
				t.Fatalf("round %d: non-positive transfer %+v", round, s)
			}
			payments = append(payments, &models.Payment{FromUserID: s.FromUserID, ToUserID: s.ToUserID, Amount: s.Amount, Currency: "USD"})
		}
		settled, err := CalculateBalances(expenses, payments)
		if err != nil {
			t.Fatalf("round %d: %v", round, err)
		}
		for _, b := range settled {
			if b.Net != 0 {
				t.Fatalf("round %d: %s still has %d after settling", round, b.UserID, b.Net)
			}
		}
		for _, b := range ApplySettlements(balances, plan) {
			if b.Net != 0 {
				t.Fatalf("round %d: ApplySettlements left %s at %d", round, b.UserID, b.Net)
			}
		}
	}
}

package calculator

import (
	"log/slog"

	"github.com/mmynk/splitledger/internal/errs"
	"github.com/mmynk/splitledger/internal/models"
)

type party struct {
	userID string
	amount int64 // remaining credit or debt, always positive
}

// PlanSettlements produces the transfers that zero every balance.
//
// Greedy matching: repeatedly pair the creditor owed the most with the debtor
// owing the most and transfer the smaller of the two amounts. Ties pick the
// smaller user ID. Each step zeroes at least one party, so the plan has at
// most n-1 transfers for n members with a nonzero balance.
func PlanSettlements(balances []models.Balance) ([]models.SettlementSuggestion, error) {
	const op = "calculator.PlanSettlements"

	var creditors, debtors []*party
	var credit, debt int64
	currency := ""
	for _, b := range balances {
		if currency == "" {
			currency = b.Currency
		}
		switch {
		case b.Net > 0:
			creditors = append(creditors, &party{userID: b.UserID, amount: b.Net})
			credit += b.Net
		case b.Net < 0:
			debtors = append(debtors, &party{userID: b.UserID, amount: -b.Net})
			debt += -b.Net
		}
	}
	if credit != debt {
		slog.Error("Settlement input is unbalanced", "credit", credit, "debt", debt)
		return nil, errs.Invariant(op, "total credit %d does not match total debt %d", credit, debt)
	}

	var plan []models.SettlementSuggestion
	for len(creditors) > 0 && len(debtors) > 0 {
		ci := largest(creditors)
		di := largest(debtors)
		c, d := creditors[ci], debtors[di]

		amount := min(c.amount, d.amount)
		plan = append(plan, models.SettlementSuggestion{
			FromUserID: d.userID,
			ToUserID:   c.userID,
			Amount:     amount,
			Currency:   currency,
		})

		c.amount -= amount
		d.amount -= amount
		if c.amount == 0 {
			creditors = append(creditors[:ci], creditors[ci+1:]...)
		}
		if d.amount == 0 {
			debtors = append(debtors[:di], debtors[di+1:]...)
		}
	}

	return plan, nil
}

// largest returns the index of the party with the largest amount, preferring
// the smaller user ID on ties.
func largest(parties []*party) int {
	best := 0
	for i := 1; i < len(parties); i++ {
		p, b := parties[i], parties[best]
		if p.amount > b.amount || (p.amount == b.amount && p.userID < b.userID) {
			best = i
		}
	}
	return best
}

// ApplySettlements returns the balances that result from recording every
// suggestion as a payment.
func ApplySettlements(balances []models.Balance, plan []models.SettlementSuggestion) []models.Balance {
	out := make([]models.Balance, len(balances))
	copy(out, balances)
	index := make(map[string]int, len(out))
	for i, b := range out {
		index[b.UserID] = i
	}
	for _, s := range plan {
		if i, ok := index[s.FromUserID]; ok {
			out[i].Net += s.Amount
		}
		if i, ok := index[s.ToUserID]; ok {
			out[i].Net -= s.Amount
		}
	}
	return out
}

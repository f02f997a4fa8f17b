package calculator

import (
	"log/slog"
	"sort"

	"github.com/mmynk/splitledger/internal/errs"
	"github.com/mmynk/splitledger/internal/models"
)

// CalculateBalances reduces a group's expenses and payments to one net
// balance per member, sorted by user ID.
//
// Algorithm:
//   - For each expense: payer is credited the full amount, each participant is
//     debited their share
//   - For each payment: sender is credited, receiver is debited, cancelling debt
//   - net = total_paid - total_owed
//
// Deleted records are skipped. The result always sums to zero; if it does not,
// an invariant error is returned instead of a plausible-looking answer.
func CalculateBalances(expenses []*models.Expense, payments []*models.Payment) ([]models.Balance, error) {
	const op = "calculator.CalculateBalances"

	balances := make(map[string]*models.Balance)
	currency := ""

	get := func(userID string) *models.Balance {
		b, ok := balances[userID]
		if !ok {
			b = &models.Balance{UserID: userID}
			balances[userID] = b
		}
		return b
	}
	checkCurrency := func(c string) error {
		if currency == "" {
			currency = c
			return nil
		}
		if c != currency {
			return errs.Validation(op, "mixed currencies %s and %s in one group", currency, c)
		}
		return nil
	}

	for _, e := range expenses {
		if e.Deleted {
			continue
		}
		if e.PayerID == "" {
			return nil, errs.Validation(op, "expense %s has no payer", e.ID)
		}
		if err := checkCurrency(e.Currency); err != nil {
			return nil, err
		}
		if total := e.SplitTotal(); total != e.Amount {
			slog.Error("Expense splits do not sum to amount",
				"expense_id", e.ID,
				"amount", e.Amount,
				"split_total", total,
			)
			return nil, errs.Invariant(op, "expense %s splits sum to %d, amount is %d", e.ID, total, e.Amount)
		}

		get(e.PayerID).TotalPaid += e.Amount
		for _, s := range e.Splits {
			get(s.UserID).TotalOwed += s.ShareAmount
		}
	}

	for _, p := range payments {
		if p.Deleted {
			continue
		}
		if err := checkCurrency(p.Currency); err != nil {
			return nil, err
		}
		get(p.FromUserID).TotalPaid += p.Amount
		get(p.ToUserID).TotalOwed += p.Amount
	}

	out := make([]models.Balance, 0, len(balances))
	var sum int64
	for _, b := range balances {
		b.Net = b.TotalPaid - b.TotalOwed
		b.Currency = currency
		sum += b.Net
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })

	if sum != 0 {
		slog.Error("Group balances do not sum to zero", "sum", sum)
		return nil, errs.Invariant(op, "balances sum to %d", sum)
	}
	return out, nil
}

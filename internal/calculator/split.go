package calculator

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/mmynk/splitledger/internal/errs"
	"github.com/mmynk/splitledger/internal/models"
)

var hundred = decimal.NewFromInt(100)

// NormalizeSplits turns an expense request into explicit shares that sum
// exactly to amount. The returned splits are sorted by user ID.
//
// Rounding rule: whatever minor units integer division leaves over go to the
// participant whose user ID sorts first.
func NormalizeSplits(amount int64, mode models.SplitMode, participants []string, splits []models.ExpenseSplit) ([]models.ExpenseSplit, error) {
	if mode == "" {
		mode = inferMode(participants, splits)
	}

	switch mode {
	case models.SplitModeEqual:
		if len(participants) == 0 {
			for _, s := range splits {
				participants = append(participants, s.UserID)
			}
		}
		return SplitEqual(amount, participants)
	case models.SplitModePercentage:
		return SplitByPercentage(amount, splits)
	case models.SplitModeExact:
		return ReconcileSplits(amount, splits)
	default:
		return nil, errs.Validation("calculator.NormalizeSplits", "unknown split mode %q", mode)
	}
}

func inferMode(participants []string, splits []models.ExpenseSplit) models.SplitMode {
	if len(splits) == 0 && len(participants) > 0 {
		return models.SplitModeEqual
	}
	for _, s := range splits {
		if s.SharePercentage != "" {
			return models.SplitModePercentage
		}
	}
	return models.SplitModeExact
}

// SplitEqual divides amount among participants: floor(amount/k) each, with the
// remainder added to the first participant in user ID order.
//
// Example: 100 among [carol, alice, bob] -> alice 34, bob 33, carol 33.
func SplitEqual(amount int64, participants []string) ([]models.ExpenseSplit, error) {
	const op = "calculator.SplitEqual"
	if amount <= 0 {
		return nil, errs.Validation(op, "amount must be positive, got %d", amount)
	}
	ids, err := sortedUnique(op, participants)
	if err != nil {
		return nil, err
	}

	k := int64(len(ids))
	base := amount / k
	splits := make([]models.ExpenseSplit, len(ids))
	for i, id := range ids {
		splits[i] = models.ExpenseSplit{UserID: id, ShareAmount: base}
	}
	splits[0].ShareAmount = amount - (k-1)*base
	return splits, nil
}

// SplitByPercentage computes floor(amount*p/100) per participant. Percentages
// must be non-negative and sum to exactly 100; leftover minor units go to the
// first participant in user ID order.
func SplitByPercentage(amount int64, splits []models.ExpenseSplit) ([]models.ExpenseSplit, error) {
	const op = "calculator.SplitByPercentage"
	if amount <= 0 {
		return nil, errs.Validation(op, "amount must be positive, got %d", amount)
	}
	out, err := sortedCopy(op, splits)
	if err != nil {
		return nil, err
	}

	total := decimal.Zero
	var assigned int64
	for i := range out {
		p, err := decimal.NewFromString(out[i].SharePercentage)
		if err != nil {
			return nil, errs.Validation(op, "invalid percentage %q for %s", out[i].SharePercentage, out[i].UserID)
		}
		if p.IsNegative() {
			return nil, errs.Validation(op, "negative percentage for %s", out[i].UserID)
		}
		total = total.Add(p)

		share := decimal.NewFromInt(amount).Mul(p).Div(hundred).Floor().IntPart()
		out[i].ShareAmount = share
		out[i].SharePercentage = p.String()
		assigned += share
	}
	if !total.Equal(hundred) {
		return nil, errs.Validation(op, "percentages sum to %s, want 100", total.String())
	}

	out[0].ShareAmount += amount - assigned
	return out, nil
}

// ReconcileSplits accepts explicit shares whose sum is within one minor unit
// per split of amount. The difference is absorbed by the first participant in
// user ID order so the result sums exactly to amount.
func ReconcileSplits(amount int64, splits []models.ExpenseSplit) ([]models.ExpenseSplit, error) {
	const op = "calculator.ReconcileSplits"
	if amount <= 0 {
		return nil, errs.Validation(op, "amount must be positive, got %d", amount)
	}
	out, err := sortedCopy(op, splits)
	if err != nil {
		return nil, err
	}

	var sum int64
	for _, s := range out {
		if s.ShareAmount < 0 {
			return nil, errs.Validation(op, "negative share for %s", s.UserID)
		}
		sum += s.ShareAmount
	}

	diff := amount - sum
	tolerance := int64(len(out))
	if diff > tolerance || diff < -tolerance {
		return nil, errs.Validation(op, "shares sum to %d, amount is %d", sum, amount)
	}

	out[0].ShareAmount += diff
	if out[0].ShareAmount < 0 {
		return nil, errs.Validation(op, "rounding adjustment makes share of %s negative", out[0].UserID)
	}
	return out, nil
}

func sortedUnique(op string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, errs.Validation(op, "must have at least one participant")
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			return nil, errs.Validation(op, "participant ID cannot be empty")
		}
		if seen[id] {
			return nil, errs.Validation(op, "duplicate participant %s", id)
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func sortedCopy(op string, splits []models.ExpenseSplit) ([]models.ExpenseSplit, error) {
	ids := make([]string, len(splits))
	for i, s := range splits {
		ids[i] = s.UserID
	}
	if _, err := sortedUnique(op, ids); err != nil {
		return nil, err
	}
	out := make([]models.ExpenseSplit, len(splits))
	copy(out, splits)
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

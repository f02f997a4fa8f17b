package models

// SplitMode tells the ledger how to turn an expense request into explicit shares.
type SplitMode string

const (
	// SplitModeEqual divides the amount equally among Participants.
	SplitModeEqual SplitMode = "equal"
	// SplitModePercentage uses ExpenseSplit.SharePercentage, which must sum to 100.
	SplitModePercentage SplitMode = "percentage"
	// SplitModeExact uses ExpenseSplit.ShareAmount as given.
	SplitModeExact SplitMode = "exact"
)

// Expense represents money one member paid that is shared among participants.
type Expense struct {
	// ID is the unique identifier for the expense (UUID format).
	// Offline clients assign it before the ledger ever sees the expense.
	ID string `json:"id"`

	// GroupID is the group this expense belongs to.
	GroupID string `json:"group_id"`

	// Description is a human-readable label (e.g., "Groceries").
	Description string `json:"description,omitempty"`

	// Amount is the full amount paid, in minor currency units.
	Amount int64 `json:"amount"`

	// Currency is the ISO 4217 code the amount is expressed in.
	Currency string `json:"currency"`

	// PayerID is the user who paid.
	PayerID string `json:"payer_id"`

	// Splits holds exactly one share per participant.
	// Sum of ShareAmount always equals Amount.
	Splits []ExpenseSplit `json:"splits"`

	// CreatedBy is the authenticated user who recorded the expense.
	CreatedBy string `json:"created_by,omitempty"`

	// CreatedAt is the Unix timestamp when the expense was recorded.
	CreatedAt int64 `json:"created_at"`

	// UpdatedAt is the Unix timestamp of the last confirmed change.
	UpdatedAt int64 `json:"updated_at"`

	// Deleted marks a soft-deleted expense. Deleted expenses never count toward balances.
	Deleted bool `json:"deleted,omitempty"`
}

// ExpenseSplit represents one participant's share of an expense.
type ExpenseSplit struct {
	// UserID is the participant.
	UserID string `json:"user_id"`

	// ShareAmount is this participant's share in minor units. Never negative.
	ShareAmount int64 `json:"share_amount"`

	// SharePercentage is the optional percentage the share was derived from,
	// as a decimal string (e.g., "33.5").
	SharePercentage string `json:"share_percentage,omitempty"`
}

// ExpenseRequest is an expense as submitted by a client, before its splits are normalized.
// Either Splits or Participants describes who shares the expense.
type ExpenseRequest struct {
	Expense

	// SplitMode selects how shares are computed. When empty it is inferred:
	// participants only means equal, percentages mean percentage, otherwise exact.
	SplitMode SplitMode `json:"split_mode,omitempty"`

	// Participants lists the members of an equal split.
	Participants []string `json:"participants,omitempty"`
}

// SplitTotal returns the sum of all shares.
func (e *Expense) SplitTotal() int64 {
	var total int64
	for _, s := range e.Splits {
		total += s.ShareAmount
	}
	return total
}

// Participants returns the user IDs that hold a share, in split order.
func (e *Expense) Participants() []string {
	ids := make([]string, len(e.Splits))
	for i, s := range e.Splits {
		ids[i] = s.UserID
	}
	return ids
}

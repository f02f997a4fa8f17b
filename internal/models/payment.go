package models

// Payment represents a direct transfer between group members to clear debts.
// It is independent of any single expense.
type Payment struct {
	// ID is the unique identifier for the payment (UUID format).
	ID string `json:"id"`

	// GroupID is the group this payment belongs to.
	GroupID string `json:"group_id"`

	// FromUserID is the user who paid (debtor settling up).
	FromUserID string `json:"from_user_id"`

	// ToUserID is the user who received payment (creditor being paid).
	ToUserID string `json:"to_user_id"`

	// Amount is the payment amount in minor currency units.
	Amount int64 `json:"amount"`

	// Currency is the ISO 4217 code the amount is expressed in.
	Currency string `json:"currency"`

	// ExternalRef is an optional reference such as a bank transaction ID.
	ExternalRef string `json:"external_ref,omitempty"`

	// Note is an optional description for the payment.
	Note string `json:"note,omitempty"`

	// CreatedBy is the authenticated user who recorded this payment.
	CreatedBy string `json:"created_by,omitempty"`

	// CreatedAt is the Unix timestamp when the payment was recorded.
	CreatedAt int64 `json:"created_at"`

	// Deleted marks a soft-deleted payment.
	Deleted bool `json:"deleted,omitempty"`
}

// DeleteRequest identifies a ledger record to soft-delete.
type DeleteRequest struct {
	GroupID string `json:"group_id"`
	ID      string `json:"id"`
}

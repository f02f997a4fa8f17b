package models

// Balance is one member's net position within a group. It is derived from
// expenses and payments on every read and never stored.
type Balance struct {
	UserID string `json:"user_id"`

	// Net is positive when the group owes the user and negative when the user owes.
	Net int64 `json:"net"`

	// TotalPaid is what the user paid for expenses plus payments they sent.
	TotalPaid int64 `json:"total_paid"`

	// TotalOwed is the user's expense shares plus payments they received.
	TotalOwed int64 `json:"total_owed"`

	Currency string `json:"currency"`
}

// SettlementSuggestion is one transfer of a settlement plan.
// Recording it as a Payment moves both parties toward zero.
type SettlementSuggestion struct {
	FromUserID string `json:"from_user_id"`
	ToUserID   string `json:"to_user_id"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
}

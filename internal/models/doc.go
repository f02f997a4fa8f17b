// Package models defines the core domain models for splitledger.
//
// # Ledger Models
//
// Durable records owned by the ledger store:
//   - Expense: money one member paid on behalf of several participants
//   - ExpenseSplit: one participant's share of an expense
//   - Payment: a direct transfer between two members that cancels debt
//   - Group: the set of members an expense or payment may reference
//
// # Derived Models
//
// Computed on demand from ledger state and never persisted:
//   - Balance: a member's net position within a group
//   - SettlementSuggestion: one transfer of a minimal settlement plan
//
// # Sync Models
//
//   - QueuedMutation: a locally buffered ledger write awaiting confirmation
//
// # Money
//
// All amounts are int64 minor currency units (cents). Each amount carries a
// currency tag; no conversion happens anywhere in the system.
//
// # Design Principles
//
// 1. **Integer money**: no float arithmetic on amounts, so sums are exact
// 2. **Client-assigned IDs**: offline clients choose expense and payment IDs so
// an update can be queued right after its create
// 3. **Avoid circular references**: use ID strings instead of pointers for relationships
package models

// Package domain defines the core entities of the bank feed: accounts,
// transactions, counterparties and the rules used to enrich them.
// These types are independent of the provider and storage adapters.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Transactions (bank feed)
// ============================================================

// Counterparty is the other side of a transaction. DisplayName is filled in
// by the name rules at read time and is empty when no rule applies.
type Counterparty struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
}

// Transaction is a single feed item. ID is the provider's identifier and is
// stable across re-fetches, so storing the same record twice is an update.
type Transaction struct {
	ID           string          `json:"id"`
	AccountID    string          `json:"account_id"`
	Time         time.Time       `json:"time"`
	Counterparty Counterparty    `json:"counterparty"`
	Amount       decimal.Decimal `json:"amount"` // negative = outflow
	Reference    string          `json:"reference,omitempty"`
	Category     *Category       `json:"category,omitempty"`
}

// Window is a closed time interval used for reads. Zero values are replaced
// with defaults by the sync service.
type Window struct {
	Start time.Time
	End   time.Time
}

// AccountFailure records why one account could not be synced in a cycle.
type AccountFailure struct {
	AccountID string `json:"account_id"`
	BankName  string `json:"bank_name"`
	Error     string `json:"error"`
}

// SyncResult is the outcome of a sync cycle: the enriched transactions in the
// requested window, newest first, plus any per-account failures.
type SyncResult struct {
	Transactions []Transaction    `json:"transactions"`
	Failures     []AccountFailure `json:"failures,omitempty"`
	Fetched      int              `json:"fetched"`
	Start        time.Time        `json:"start"`
	End          time.Time        `json:"end"`
}

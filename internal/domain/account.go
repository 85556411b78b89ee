package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Banks & Accounts
// ============================================================

// Bank is a configured provider connection. Accounts belong to exactly one bank.
type Bank struct {
	Name string `json:"name"`
}

// Account represents a bank account as observed from a provider.
// ID is the provider's external UUID and never changes.
type Account struct {
	ID        string    `json:"id"`
	BankName  string    `json:"bank_name"`
	Name      string    `json:"name"`
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"created_at"`
}

// Balance is a live balance snapshot for one account, in major currency units.
type Balance struct {
	AccountID string          `json:"account_id"`
	Currency  string          `json:"currency"`
	Cleared   decimal.Decimal `json:"cleared_balance"`
	Pending   decimal.Decimal `json:"pending_transactions"`
	Effective decimal.Decimal `json:"effective_balance"`
}

// AccountBalance is one slot of a balance fan-out. Exactly one of Balance or
// Error is set.
type AccountBalance struct {
	AccountID string   `json:"account_id"`
	BankName  string   `json:"bank_name"`
	Balance   *Balance `json:"balance,omitempty"`
	Error     string   `json:"error,omitempty"`
}

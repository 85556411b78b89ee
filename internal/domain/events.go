package domain

import "time"

// ============================================================
// Broker events
// ============================================================

// Routing keys for published events.
const (
	EventTransactionsSynced = "transactions.synced"
	EventSyncFailed         = "sync.failed"
	EventAccountsSynced     = "accounts.synced"
	EventAccountDeleted     = "account.deleted"
)

// TransactionsSyncedEvent is published once per account after a successful fetch.
type TransactionsSyncedEvent struct {
	AccountID string    `json:"account_id"`
	BankName  string    `json:"bank_name"`
	Fetched   int       `json:"fetched"`
	Since     time.Time `json:"since"`
	Timestamp time.Time `json:"timestamp"`
}

// SyncFailedEvent is published for every account that failed in a sync cycle.
type SyncFailedEvent struct {
	AccountID string    `json:"account_id"`
	BankName  string    `json:"bank_name"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// AccountEvent is published when accounts are refreshed or deleted.
type AccountEvent struct {
	AccountIDs []string  `json:"account_ids"`
	Timestamp  time.Time `json:"timestamp"`
}

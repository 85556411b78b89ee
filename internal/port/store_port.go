package port

import (
	"context"
	"time"

	"github.com/boddenberg/bankfeed-sync/internal/domain"
)

// Get* methods return (nil, nil) when nothing matches. Deleting a row that
// does not exist returns *domain.ErrNotFound.

// AccountStore handles account and bank data operations.
type AccountStore interface {
	// UpsertAccount stores the account, creating its bank row if needed.
	UpsertAccount(ctx context.Context, acc domain.Account) error
	ListAccounts(ctx context.Context) ([]domain.Account, error)
	GetAccount(ctx context.Context, accountID string) (*domain.Account, error)
	// DeleteAccount removes the account and all of its transactions.
	DeleteAccount(ctx context.Context, accountID string) error
	ListBanks(ctx context.Context) ([]domain.Bank, error)
}

// TransactionStore handles the transaction feed. Results are ordered by time
// descending.
type TransactionStore interface {
	// UpsertTransaction inserts or updates by transaction id, together with
	// its counterparty, as one atomic unit. A stored manual category is kept.
	UpsertTransaction(ctx context.Context, tx domain.Transaction) error
	TransactionsForAccount(ctx context.Context, accountID string, limit int) ([]domain.Transaction, error)
	// TransactionsBetween returns transactions with start <= time <= end.
	// An empty accountID means all accounts.
	TransactionsBetween(ctx context.Context, start, end time.Time, accountID string) ([]domain.Transaction, error)
	SetTransactionCategory(ctx context.Context, transactionID string, categoryID *string) error
	CountTransactions(ctx context.Context) (int64, error)
}

// DisplayNameStore handles counterparty display name rules.
type DisplayNameStore interface {
	UpsertDisplayNameRule(ctx context.Context, rule domain.DisplayNameRule) error
	DeleteDisplayNameRule(ctx context.Context, kind domain.MatchKind, pattern string) error
	ListDisplayNameRules(ctx context.Context) ([]domain.DisplayNameRule, error)
	ReplaceDisplayNameRules(ctx context.Context, rules []domain.DisplayNameRule) error
}

// CategoryStore handles categories, their groups and the category map.
type CategoryStore interface {
	ListCategoryGroups(ctx context.Context) ([]domain.CategoryGroup, error)
	ListCategories(ctx context.Context) ([]domain.Category, error)
	GetCategory(ctx context.Context, categoryID string) (*domain.Category, error)
	// InsertCategory stores a new category, finding its group by name
	// (case-insensitive) or creating it.
	InsertCategory(ctx context.Context, groupName, name string) (*domain.Category, error)
	UpdateCategory(ctx context.Context, cat domain.Category) (*domain.Category, error)
	DeleteCategory(ctx context.Context, categoryID string) error
	// ReplaceCategories drops every category, group and map entry, clears
	// transaction category references, then stores groups -> names.
	ReplaceCategories(ctx context.Context, groups map[string][]string) ([]domain.Category, error)

	UpsertCategoryMapEntry(ctx context.Context, kind domain.MatchKind, pattern, categoryID string) error
	DeleteCategoryMapEntry(ctx context.Context, kind domain.MatchKind, pattern string) error
	ListCategoryMapEntries(ctx context.Context) ([]domain.CategoryMapEntry, error)
}

// Store is the full persistence port.
type Store interface {
	AccountStore
	TransactionStore
	DisplayNameStore
	CategoryStore
	Ping(ctx context.Context) error
}

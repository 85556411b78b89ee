// Package postgres implements port.Store on PostgreSQL using a pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/boddenberg/bankfeed-sync/internal/domain"
	"github.com/boddenberg/bankfeed-sync/internal/port"
)

var _ port.Store = (*Store)(nil)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Store is the PostgreSQL implementation of port.Store.
type Store struct {
	db *pgxpool.Pool
}

// New creates a store on an existing pool.
func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Connect parses databaseURL, opens a pool and verifies it with a ping.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// ============================================================
// Accounts
// ============================================================

func (s *Store) UpsertAccount(ctx context.Context, acc domain.Account) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `INSERT INTO banks (name) VALUES ($1) ON CONFLICT DO NOTHING`, acc.BankName); err != nil {
		return fmt.Errorf("upsert bank: %w", err)
	}

	createdAt := acc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO accounts (id, bank_name, name, currency, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET bank_name = EXCLUDED.bank_name,
		    name = EXCLUDED.name,
		    currency = EXCLUDED.currency`,
		acc.ID, acc.BankName, acc.Name, acc.Currency, createdAt)
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *Store) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, bank_name, name, currency, created_at
		FROM accounts
		ORDER BY bank_name, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Account, 0)
	for rows.Next() {
		var a domain.Account
		if err := rows.Scan(&a.ID, &a.BankName, &a.Name, &a.Currency, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	var a domain.Account
	err := s.db.QueryRow(ctx, `
		SELECT id, bank_name, name, currency, created_at
		FROM accounts WHERE id = $1`, accountID).
		Scan(&a.ID, &a.BankName, &a.Name, &a.Currency, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) DeleteAccount(ctx context.Context, accountID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &domain.ErrNotFound{Resource: "account", ID: accountID}
	}
	return nil
}

func (s *Store) ListBanks(ctx context.Context) ([]domain.Bank, error) {
	rows, err := s.db.Query(ctx, `SELECT name FROM banks ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Bank, 0)
	for rows.Next() {
		var b domain.Bank
		if err := rows.Scan(&b.Name); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ============================================================
// Transactions
// ============================================================

const selectTransactions = `
	SELECT t.id, t.account_id, t.time, c.id, c.name, t.amount::text, t.reference,
	       cat.id::text, cat.name, g.id::text, g.name
	FROM transactions t
	JOIN counterparties c ON c.id = t.counterparty_id
	LEFT JOIN categories cat ON cat.id = t.category_id
	LEFT JOIN category_groups g ON g.id = cat.group_id`

func scanTransactions(rows pgx.Rows) ([]domain.Transaction, error) {
	defer rows.Close()

	out := make([]domain.Transaction, 0)
	for rows.Next() {
		var (
			t                              domain.Transaction
			amount                         string
			catID, catName, grpID, grpName *string
		)
		err := rows.Scan(&t.ID, &t.AccountID, &t.Time, &t.Counterparty.ID, &t.Counterparty.Name,
			&amount, &t.Reference, &catID, &catName, &grpID, &grpName)
		if err != nil {
			return nil, err
		}
		t.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("parse amount of %s: %w", t.ID, err)
		}
		if catID != nil {
			t.Category = &domain.Category{
				ID:    *catID,
				Name:  *catName,
				Group: domain.CategoryGroup{ID: *grpID, Name: *grpName},
			}
		}
		t.Time = t.Time.UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) UpsertTransaction(ctx context.Context, t domain.Transaction) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO counterparties (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`,
		t.Counterparty.ID, t.Counterparty.Name)
	if err != nil {
		return fmt.Errorf("upsert counterparty: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO transactions (id, account_id, time, counterparty_id, amount, reference)
		VALUES ($1, $2, $3, $4, $5::numeric, $6)
		ON CONFLICT (id) DO UPDATE
		SET account_id = EXCLUDED.account_id,
		    time = EXCLUDED.time,
		    counterparty_id = EXCLUDED.counterparty_id,
		    amount = EXCLUDED.amount,
		    reference = EXCLUDED.reference`,
		t.ID, t.AccountID, t.Time, t.Counterparty.ID, t.Amount.StringFixed(2), t.Reference)
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return &domain.ErrNotFound{Resource: "account", ID: t.AccountID}
		}
		return fmt.Errorf("upsert transaction: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *Store) TransactionsForAccount(ctx context.Context, accountID string, limit int) ([]domain.Transaction, error) {
	query := selectTransactions + ` WHERE t.account_id = $1 ORDER BY t.time DESC, t.id DESC`
	args := []any{accountID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

func (s *Store) TransactionsBetween(ctx context.Context, start, end time.Time, accountID string) ([]domain.Transaction, error) {
	rows, err := s.db.Query(ctx, selectTransactions+`
		WHERE t.time >= $1 AND t.time <= $2
		  AND ($3 = '' OR t.account_id = $3)
		ORDER BY t.time DESC, t.id DESC`, start, end, accountID)
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

func (s *Store) SetTransactionCategory(ctx context.Context, transactionID string, categoryID *string) error {
	tag, err := s.db.Exec(ctx, `UPDATE transactions SET category_id = $2 WHERE id = $1`, transactionID, categoryID)
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return &domain.ErrNotFound{Resource: "category", ID: *categoryID}
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return &domain.ErrNotFound{Resource: "transaction", ID: transactionID}
	}
	return nil
}

func (s *Store) CountTransactions(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&n)
	return n, err
}

// ============================================================
// Display names
// ============================================================

func patternKey(pattern string) string {
	return strings.ToLower(strings.TrimSpace(pattern))
}

const upsertDisplayName = `
	INSERT INTO display_names (kind, pattern_key, pattern, display_name)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (kind, pattern_key) DO UPDATE
	SET pattern = EXCLUDED.pattern, display_name = EXCLUDED.display_name`

func (s *Store) UpsertDisplayNameRule(ctx context.Context, rule domain.DisplayNameRule) error {
	_, err := s.db.Exec(ctx, upsertDisplayName, string(rule.Kind), patternKey(rule.Pattern), rule.Pattern, rule.DisplayName)
	return err
}

func (s *Store) DeleteDisplayNameRule(ctx context.Context, kind domain.MatchKind, pattern string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM display_names WHERE kind = $1 AND pattern_key = $2`, string(kind), patternKey(pattern))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &domain.ErrNotFound{Resource: "display name rule", ID: string(kind) + ":" + pattern}
	}
	return nil
}

func (s *Store) ListDisplayNameRules(ctx context.Context) ([]domain.DisplayNameRule, error) {
	rows, err := s.db.Query(ctx, `SELECT kind, pattern, display_name FROM display_names ORDER BY kind, pattern_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.DisplayNameRule, 0)
	for rows.Next() {
		var r domain.DisplayNameRule
		var kind string
		if err := rows.Scan(&kind, &r.Pattern, &r.DisplayName); err != nil {
			return nil, err
		}
		r.Kind = domain.MatchKind(kind)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ReplaceDisplayNameRules(ctx context.Context, rules []domain.DisplayNameRule) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM display_names`); err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, r := range rules {
		batch.Queue(upsertDisplayName, string(r.Kind), patternKey(r.Pattern), r.Pattern, r.DisplayName)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert display names: %w", err)
	}
	return tx.Commit(ctx)
}

// ============================================================
// Categories
// ============================================================

const selectCategories = `
	SELECT c.id::text, c.name, g.id::text, g.name
	FROM categories c
	JOIN category_groups g ON g.id = c.group_id`

func scanCategory(row pgx.Row) (domain.Category, error) {
	var c domain.Category
	err := row.Scan(&c.ID, &c.Name, &c.Group.ID, &c.Group.Name)
	return c, err
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func findOrCreateGroup(ctx context.Context, q querier, name string) (string, error) {
	var id string
	err := q.QueryRow(ctx, `SELECT id::text FROM category_groups WHERE LOWER(name) = LOWER($1)`, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", err
	}
	id = uuid.NewString()
	if _, err := q.Exec(ctx, `INSERT INTO category_groups (id, name) VALUES ($1, $2)`, id, name); err != nil {
		return "", fmt.Errorf("insert category group: %w", err)
	}
	return id, nil
}

func duplicateCategory(group, name string) error {
	return &domain.ErrValidation{Field: "name", Message: fmt.Sprintf("category %s/%s already exists", group, name)}
}

func (s *Store) ListCategoryGroups(ctx context.Context) ([]domain.CategoryGroup, error) {
	rows, err := s.db.Query(ctx, `SELECT id::text, name FROM category_groups ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.CategoryGroup, 0)
	for rows.Next() {
		var g domain.CategoryGroup
		if err := rows.Scan(&g.ID, &g.Name); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := s.db.Query(ctx, selectCategories+` ORDER BY g.name, c.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Category, 0)
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetCategory(ctx context.Context, categoryID string) (*domain.Category, error) {
	if _, err := uuid.Parse(categoryID); err != nil {
		return nil, nil
	}
	c, err := scanCategory(s.db.QueryRow(ctx, selectCategories+` WHERE c.id = $1`, categoryID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) InsertCategory(ctx context.Context, groupName, name string) (*domain.Category, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	groupID, err := findOrCreateGroup(ctx, tx, groupName)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	if _, err := tx.Exec(ctx, `INSERT INTO categories (id, group_id, name) VALUES ($1, $2, $3)`, id, groupID, name); err != nil {
		if pgCode(err) == pgUniqueViolation {
			return nil, duplicateCategory(groupName, name)
		}
		return nil, fmt.Errorf("insert category: %w", err)
	}
	c, err := scanCategory(tx.QueryRow(ctx, selectCategories+` WHERE c.id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) UpdateCategory(ctx context.Context, cat domain.Category) (*domain.Category, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	groupID, err := findOrCreateGroup(ctx, tx, cat.Group.Name)
	if err != nil {
		return nil, err
	}
	tag, err := tx.Exec(ctx, `UPDATE categories SET name = $2, group_id = $3 WHERE id = $1`, cat.ID, cat.Name, groupID)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return nil, duplicateCategory(cat.Group.Name, cat.Name)
		}
		return nil, fmt.Errorf("update category: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, &domain.ErrNotFound{Resource: "category", ID: cat.ID}
	}
	c, err := scanCategory(tx.QueryRow(ctx, selectCategories+` WHERE c.id = $1`, cat.ID))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) DeleteCategory(ctx context.Context, categoryID string) error {
	if _, err := uuid.Parse(categoryID); err != nil {
		return &domain.ErrNotFound{Resource: "category", ID: categoryID}
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM categories WHERE id = $1`, categoryID)
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return &domain.ErrCategoryInUse{CategoryID: categoryID}
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return &domain.ErrNotFound{Resource: "category", ID: categoryID}
	}
	return nil
}

func (s *Store) ReplaceCategories(ctx context.Context, groups map[string][]string) ([]domain.Category, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	for _, stmt := range []string{
		`DELETE FROM category_map`,
		`UPDATE transactions SET category_id = NULL WHERE category_id IS NOT NULL`,
		`DELETE FROM categories`,
		`DELETE FROM category_groups`,
	} {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("reset categories: %w", err)
		}
	}

	out := make([]domain.Category, 0)
	for groupName, names := range groups {
		groupID, err := findOrCreateGroup(ctx, tx, groupName)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			id := uuid.NewString()
			tag, err := tx.Exec(ctx, `
				INSERT INTO categories (id, group_id, name) VALUES ($1, $2, $3)
				ON CONFLICT DO NOTHING`, id, groupID, name)
			if err != nil {
				return nil, fmt.Errorf("insert category: %w", err)
			}
			if tag.RowsAffected() == 1 {
				out = append(out, domain.Category{ID: id, Name: name, Group: domain.CategoryGroup{ID: groupID, Name: groupName}})
			}
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) UpsertCategoryMapEntry(ctx context.Context, kind domain.MatchKind, pattern, categoryID string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO category_map (kind, pattern_key, pattern, category_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (kind, pattern_key) DO UPDATE
		SET pattern = EXCLUDED.pattern, category_id = EXCLUDED.category_id`,
		string(kind), patternKey(pattern), pattern, categoryID)
	if pgCode(err) == pgForeignKeyViolation {
		return &domain.ErrNotFound{Resource: "category", ID: categoryID}
	}
	return err
}

func (s *Store) DeleteCategoryMapEntry(ctx context.Context, kind domain.MatchKind, pattern string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM category_map WHERE kind = $1 AND pattern_key = $2`, string(kind), patternKey(pattern))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &domain.ErrNotFound{Resource: "category assignment", ID: string(kind) + ":" + pattern}
	}
	return nil
}

func (s *Store) ListCategoryMapEntries(ctx context.Context) ([]domain.CategoryMapEntry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT m.kind, m.pattern, c.id::text, c.name, g.id::text, g.name
		FROM category_map m
		JOIN categories c ON c.id = m.category_id
		JOIN category_groups g ON g.id = c.group_id
		ORDER BY m.kind, m.pattern_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.CategoryMapEntry, 0)
	for rows.Next() {
		var e domain.CategoryMapEntry
		var kind string
		if err := rows.Scan(&kind, &e.Pattern, &e.Category.ID, &e.Category.Name, &e.Category.Group.ID, &e.Category.Group.Name); err != nil {
			return nil, err
		}
		e.Kind = domain.MatchKind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}

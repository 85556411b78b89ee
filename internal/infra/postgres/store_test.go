package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/boddenberg/bankfeed-sync/internal/domain"
	"github.com/boddenberg/bankfeed-sync/internal/infra/postgres"
)

// newStore connects to TEST_DATABASE_URL, runs migrations and empties every
// table. The tests are skipped when the variable is not set.
func newStore(t *testing.T) *postgres.Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping postgres integration tests")
	}

	if err := postgres.RunMigrations(url); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	ctx := context.Background()
	pool, err := postgres.Connect(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, `TRUNCATE category_map, display_names, transactions, categories,
		category_groups, counterparties, accounts, banks CASCADE`)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return postgres.New(pool)
}

func TestPostgres_UpsertTransactionIdempotent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	err := s.UpsertAccount(ctx, domain.Account{ID: "acc-1", BankName: "starling", Name: "Personal", Currency: "GBP"})
	if err != nil {
		t.Fatalf("upsert account: %v", err)
	}

	rec := domain.Transaction{
		ID:           "tx-1",
		AccountID:    "acc-1",
		Time:         time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC),
		Counterparty: domain.Counterparty{ID: "cp-1", Name: "WATERSTONES"},
		Amount:       decimal.New(-1299, -2),
		Reference:    "books",
	}
	for i := 0; i < 2; i++ {
		if err := s.UpsertTransaction(ctx, rec); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}

	n, _ := s.CountTransactions(ctx)
	if n != 1 {
		t.Fatalf("expected 1 stored transaction, got %d", n)
	}
	got, err := s.TransactionsForAccount(ctx, "acc-1", 1)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !got[0].Amount.Equal(rec.Amount) || got[0].Counterparty.Name != "WATERSTONES" {
		t.Errorf("unexpected transaction %+v", got[0])
	}
}

func TestPostgres_DeleteAccountCascades(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_ = s.UpsertAccount(ctx, domain.Account{ID: "acc-1", BankName: "starling", Name: "Personal", Currency: "GBP"})
	_ = s.UpsertTransaction(ctx, domain.Transaction{
		ID: "tx-1", AccountID: "acc-1", Time: time.Now().UTC(),
		Counterparty: domain.Counterparty{ID: "cp-1", Name: "TESCO"}, Amount: decimal.New(500, -2),
	})

	if err := s.DeleteAccount(ctx, "acc-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n, _ := s.CountTransactions(ctx); n != 0 {
		t.Errorf("expected transactions to cascade, %d left", n)
	}
	var nf *domain.ErrNotFound
	if err := s.DeleteAccount(ctx, "acc-1"); !errors.As(err, &nf) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgres_CategoryConstraints(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	cat, err := s.InsertCategory(ctx, "Leisure", "Books")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	var ve *domain.ErrValidation
	if _, err := s.InsertCategory(ctx, "leisure", "BOOKS"); !errors.As(err, &ve) {
		t.Fatalf("expected duplicate to be rejected, got %v", err)
	}

	if err := s.UpsertCategoryMapEntry(ctx, domain.MatchExact, "Waterstones", cat.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	var inUse *domain.ErrCategoryInUse
	if err := s.DeleteCategory(ctx, cat.ID); !errors.As(err, &inUse) {
		t.Fatalf("expected ErrCategoryInUse, got %v", err)
	}
}

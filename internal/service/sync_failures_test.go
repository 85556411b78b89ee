package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/boddenberg/bankfeed-sync/internal/domain"
	"github.com/boddenberg/bankfeed-sync/internal/infra/client"
	"github.com/boddenberg/bankfeed-sync/internal/infra/events"
	"github.com/boddenberg/bankfeed-sync/internal/infra/memstore"
	"github.com/boddenberg/bankfeed-sync/internal/infra/observability"
	"github.com/boddenberg/bankfeed-sync/internal/port"
	"github.com/boddenberg/bankfeed-sync/internal/service"
)

// hangingProvider never answers a feed request before its context ends.
type hangingProvider struct{}

func (hangingProvider) ListAccounts(_ context.Context) ([]domain.Account, error) { return nil, nil }

func (hangingProvider) GetBalance(_ context.Context, _ string) (*domain.Balance, error) {
	return nil, nil
}

func (hangingProvider) GetTransactions(ctx context.Context, _ string, _, _ time.Time) ([]domain.Transaction, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// brokenStore fails the upsert of selected transactions.
type brokenStore struct {
	*memstore.Store
	failIDs map[string]bool
}

func (b *brokenStore) UpsertTransaction(ctx context.Context, tx domain.Transaction) error {
	if b.failIDs[tx.ID] {
		return errors.New("disk full")
	}
	return b.Store.UpsertTransaction(ctx, tx)
}

func TestSyncTransactions_TimeoutAndStoreFailureAreIsolated(t *testing.T) {
	ctx := context.Background()
	base := memstore.New()
	store := &brokenStore{Store: base, failIDs: map[string]bool{"s2": true}}

	for _, acc := range []domain.Account{
		{ID: "acc-g", BankName: "starling", Name: "Healthy", Currency: "GBP"},
		{ID: "acc-t", BankName: "slowbank", Name: "Slow", Currency: "GBP"},
		{ID: "acc-s", BankName: "starling", Name: "Broken disk", Currency: "GBP"},
	} {
		if err := base.UpsertAccount(ctx, acc); err != nil {
			t.Fatal(err)
		}
	}
	// Rows stored by earlier cycles for the accounts that fail this time.
	_ = base.UpsertTransaction(ctx, feedTx("old-t", "acc-t", now.Add(-24*time.Hour), "GREGGS", -350))
	_ = base.UpsertTransaction(ctx, feedTx("old-s", "acc-s", now.Add(-48*time.Hour), "BOOTS", -799))

	starling := newMockProvider()
	starling.feed["acc-g"] = []domain.Transaction{feedTx("g1", "acc-g", now.Add(-30*time.Minute), "TESCO", -500)}
	starling.feed["acc-s"] = []domain.Transaction{
		feedTx("s1", "acc-s", now.Add(-3*time.Hour), "PRET", -420),
		feedTx("s2", "acc-s", now.Add(-time.Hour), "PRET", -380),
	}
	registry := client.NewStaticRegistry(map[string]port.Provider{
		"starling": starling,
		"slowbank": hangingProvider{},
	})

	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	recorder := &events.Recorder{}
	names := service.NewNameService(base, logger)
	cats := service.NewCategoryService(base, logger)
	svc := service.NewSyncService(
		store, registry, service.NewEnricher(names, cats), recorder, metrics, logger,
		service.SyncConfig{DefaultLookback: 30 * 24 * time.Hour, ProviderTimeout: 50 * time.Millisecond, Concurrency: 3},
		service.WithClock(func() time.Time { return now }),
	)

	started := time.Now()
	res, err := svc.SyncTransactions(ctx, domain.Window{})
	if err != nil {
		t.Fatalf("per-account failures must not fail the call: %v", err)
	}
	if elapsed := time.Since(started); elapsed > 5*time.Second {
		t.Errorf("provider timeout not applied, sync took %s", elapsed)
	}

	wantOrder := []string{"g1", "s1", "old-t", "old-s"}
	if len(res.Transactions) != len(wantOrder) {
		t.Fatalf("expected %d transactions, got %+v", len(wantOrder), res.Transactions)
	}
	for i, id := range wantOrder {
		if res.Transactions[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, res.Transactions[i].ID)
		}
	}

	if len(res.Failures) != 2 {
		t.Fatalf("expected one failure per bad account, got %+v", res.Failures)
	}
	byAccount := make(map[string]domain.AccountFailure, len(res.Failures))
	for _, f := range res.Failures {
		byAccount[f.AccountID] = f
	}
	if f, ok := byAccount["acc-t"]; !ok || !strings.Contains(f.Error, context.DeadlineExceeded.Error()) {
		t.Errorf("expected deadline failure for acc-t, got %+v", byAccount["acc-t"])
	}
	if f, ok := byAccount["acc-s"]; !ok || !strings.Contains(f.Error, "store transaction s2: disk full") {
		t.Errorf("expected storage failure for acc-s, got %+v", byAccount["acc-s"])
	}
	if _, ok := byAccount["acc-g"]; ok {
		t.Error("healthy account must not be reported as failed")
	}

	// g1 plus s1, which was stored before the upsert of s2 failed.
	if res.Fetched != 2 {
		t.Errorf("expected 2 stored records counted, got %d", res.Fetched)
	}
	if snap := metrics.GetSyncSnapshot(); snap.TransactionsFetched != 2 {
		t.Errorf("expected fetched metric 2, got %+v", snap)
	}
	if n := recorder.Count(domain.EventSyncFailed); n != 2 {
		t.Errorf("expected 2 sync.failed events, got %d", n)
	}
}

package service_test

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/boddenberg/bankfeed-sync/internal/domain"
	"github.com/boddenberg/bankfeed-sync/internal/infra/client"
	"github.com/boddenberg/bankfeed-sync/internal/infra/events"
	"github.com/boddenberg/bankfeed-sync/internal/infra/memstore"
	"github.com/boddenberg/bankfeed-sync/internal/infra/observability"
	"github.com/boddenberg/bankfeed-sync/internal/port"
	"github.com/boddenberg/bankfeed-sync/internal/service"
)

// --- Mock provider ---

type fetchCall struct {
	accountID  string
	start, end time.Time
}

type mockProvider struct {
	mu         sync.Mutex
	accounts   []domain.Account
	feed       map[string][]domain.Transaction
	balances   map[string]*domain.Balance
	listErr    error
	fetchErr   map[string]error
	balanceErr map[string]error
	fetchCalls []fetchCall
}

func newMockProvider() *mockProvider {
	return &mockProvider{
		feed:       make(map[string][]domain.Transaction),
		balances:   make(map[string]*domain.Balance),
		fetchErr:   make(map[string]error),
		balanceErr: make(map[string]error),
	}
}

func (m *mockProvider) ListAccounts(_ context.Context) ([]domain.Account, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.accounts, nil
}

func (m *mockProvider) GetBalance(_ context.Context, accountID string) (*domain.Balance, error) {
	if err := m.balanceErr[accountID]; err != nil {
		return nil, err
	}
	return m.balances[accountID], nil
}

func (m *mockProvider) GetTransactions(_ context.Context, accountID string, start, end time.Time) ([]domain.Transaction, error) {
	m.mu.Lock()
	m.fetchCalls = append(m.fetchCalls, fetchCall{accountID: accountID, start: start, end: end})
	err := m.fetchErr[accountID]
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var out []domain.Transaction
	for _, t := range m.feed[accountID] {
		if !t.Time.Before(start) && !t.Time.After(end) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockProvider) calls() []fetchCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]fetchCall, len(m.fetchCalls))
	copy(out, m.fetchCalls)
	return out
}

// --- Fixture ---

type fixture struct {
	store     *memstore.Store
	providers map[string]*mockProvider
	recorder  *events.Recorder
	metrics   *observability.Metrics
	names     *service.NameService
	cats      *service.CategoryService
	sync      *service.SyncService
	accounts  *service.AccountService
}

var now = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func newFixture(banks ...string) *fixture {
	f := &fixture{
		store:     memstore.New(),
		providers: make(map[string]*mockProvider),
		recorder:  &events.Recorder{},
		metrics:   observability.NewMetrics(),
	}
	registered := make(map[string]port.Provider)
	for _, b := range banks {
		p := newMockProvider()
		f.providers[b] = p
		registered[b] = p
	}
	registry := client.NewStaticRegistry(registered)
	logger := zap.NewNop()

	f.names = service.NewNameService(f.store, logger)
	f.cats = service.NewCategoryService(f.store, logger)
	f.sync = service.NewSyncService(
		f.store, registry, service.NewEnricher(f.names, f.cats), f.recorder, f.metrics, logger,
		service.SyncConfig{DefaultLookback: 30 * 24 * time.Hour, ProviderTimeout: time.Second, Concurrency: 2},
		service.WithClock(func() time.Time { return now }),
	)
	f.accounts = service.NewAccountService(
		f.store, registry, f.recorder, f.metrics, logger,
		service.AccountConfig{ProviderTimeout: time.Second, BalanceConcurrency: 2},
		service.WithClock(func() time.Time { return now }),
	)
	return f
}

func (f *fixture) addAccount(bank, id string) {
	acc := domain.Account{ID: id, BankName: bank, Name: "Account " + id, Currency: "GBP"}
	_ = f.store.UpsertAccount(context.Background(), acc)
	f.providers[bank].accounts = append(f.providers[bank].accounts, acc)
}

func feedTx(id, account string, at time.Time, counterparty string, pence int64) domain.Transaction {
	return domain.Transaction{
		ID:           id,
		AccountID:    account,
		Time:         at,
		Counterparty: domain.Counterparty{ID: "cp-" + counterparty, Name: counterparty},
		Amount:       decimal.New(pence, -2),
	}
}

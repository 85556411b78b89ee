package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/boddenberg/bankfeed-sync/internal/domain"
	"github.com/boddenberg/bankfeed-sync/internal/infra/observability"
	"github.com/boddenberg/bankfeed-sync/internal/port"
)

var tracer = otel.Tracer("service")

// watermarkStep is added to the newest stored transaction time so the next
// fetch starts strictly after it.
const watermarkStep = time.Millisecond

// SyncConfig holds the tunables of the sync engine.
type SyncConfig struct {
	DefaultLookback time.Duration
	ProviderTimeout time.Duration
	Concurrency     int
}

// Option customises a service at construction.
type Option func(*clock)

type clock struct {
	now func() time.Time
}

// WithClock replaces time.Now, for deterministic watermarks in tests.
func WithClock(now func() time.Time) Option {
	return func(c *clock) { c.now = now }
}

func newClock(opts []Option) clock {
	c := clock{now: time.Now}
	for _, o := range opts {
		o(&c)
	}
	return c
}

// SyncService brings local storage up to date with the providers and returns
// enriched transactions for a window.
type SyncService struct {
	store     port.Store
	providers port.ProviderRegistry
	enricher  *Enricher
	events    port.EventPublisher
	metrics   *observability.Metrics
	logger    *zap.Logger
	cfg       SyncConfig
	clock     clock
}

// NewSyncService creates the sync engine with all dependencies injected.
func NewSyncService(
	store port.Store,
	providers port.ProviderRegistry,
	enricher *Enricher,
	events port.EventPublisher,
	metrics *observability.Metrics,
	logger *zap.Logger,
	cfg SyncConfig,
	opts ...Option,
) *SyncService {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.DefaultLookback <= 0 {
		cfg.DefaultLookback = 30 * 24 * time.Hour
	}
	return &SyncService{
		store:     store,
		providers: providers,
		enricher:  enricher,
		events:    events,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
		clock:     newClock(opts),
	}
}

// Watermark returns the instant after which transactions are missing locally:
// the newest stored transaction time plus 1ms, or now minus the default
// lookback when the account has none.
func (s *SyncService) Watermark(ctx context.Context, accountID string) (time.Time, error) {
	latest, err := s.store.TransactionsForAccount(ctx, accountID, 1)
	if err != nil {
		return time.Time{}, fmt.Errorf("latest transaction of %s: %w", accountID, err)
	}
	if len(latest) == 0 {
		return s.clock.now().Add(-s.cfg.DefaultLookback), nil
	}
	return latest[0].Time.Add(watermarkStep), nil
}

// resolveWindow fills in defaults: End = now, Start = End - lookback.
func (s *SyncService) resolveWindow(w domain.Window) (domain.Window, error) {
	if w.End.IsZero() {
		w.End = s.clock.now()
	}
	if w.Start.IsZero() {
		w.Start = w.End.Add(-s.cfg.DefaultLookback)
	}
	if w.Start.After(w.End) {
		return w, &domain.ErrValidation{Field: "start", Message: "start must not be after end"}
	}
	return w, nil
}

// SyncTransactions syncs every stored account and returns the enriched
// transactions of all accounts within window, newest first.
func (s *SyncService) SyncTransactions(ctx context.Context, window domain.Window) (*domain.SyncResult, error) {
	ctx, span := tracer.Start(ctx, "SyncService.SyncTransactions")
	defer span.End()

	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return s.run(ctx, accounts, window, "")
}

// SyncAccountTransactions is SyncTransactions restricted to one account.
func (s *SyncService) SyncAccountTransactions(ctx context.Context, accountID string, window domain.Window) (*domain.SyncResult, error) {
	ctx, span := tracer.Start(ctx, "SyncService.SyncAccountTransactions")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID))

	acc, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	if acc == nil {
		return nil, &domain.ErrNotFound{Resource: "account", ID: accountID}
	}
	return s.run(ctx, []domain.Account{*acc}, window, accountID)
}

func (s *SyncService) run(ctx context.Context, accounts []domain.Account, window domain.Window, accountID string) (*domain.SyncResult, error) {
	window, err := s.resolveWindow(window)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		s.metrics.RecordRequestDuration("sync", time.Since(start))
	}()

	// Each account is synced sequentially inside its own goroutine; accounts
	// run concurrently up to the configured limit. Slots are written by index.
	failures := make([]*domain.AccountFailure, len(accounts))
	fetched := make([]int, len(accounts))

	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Concurrency)
	for i := range accounts {
		i := i
		acc := accounts[i]
		g.Go(func() error {
			n, err := s.syncAccount(ctx, acc)
			fetched[i] = n
			if err != nil {
				failures[i] = &domain.AccountFailure{AccountID: acc.ID, BankName: acc.BankName, Error: err.Error()}
				s.logger.Error("account sync failed",
					zap.String("account_id", acc.ID),
					zap.String("bank", acc.BankName),
					zap.Error(err),
				)
				s.publish(ctx, domain.EventSyncFailed, domain.SyncFailedEvent{
					AccountID: acc.ID,
					BankName:  acc.BankName,
					Error:     err.Error(),
					Timestamp: s.clock.now().UTC(),
				})
			}
			return nil
		})
	}
	_ = g.Wait()

	result := &domain.SyncResult{Start: window.Start, End: window.End}
	for i := range accounts {
		result.Fetched += fetched[i]
		if failures[i] != nil {
			result.Failures = append(result.Failures, *failures[i])
		}
	}

	txs, err := s.store.TransactionsBetween(ctx, window.Start, window.End, accountID)
	if err != nil {
		s.metrics.IncrSyncRun(observability.SyncStatusError)
		return nil, fmt.Errorf("read transactions: %w", err)
	}

	enrichment, err := s.enricher.Snapshot(ctx)
	if err == nil {
		err = enrichment.Apply(txs)
	}
	if err != nil {
		if kind, ok := integrityKind(err); ok {
			s.metrics.IncrIntegrityFault(kind)
			s.logger.Error("integrity fault during enrichment", zap.Error(err))
		}
		s.metrics.IncrSyncRun(observability.SyncStatusError)
		return nil, err
	}

	sort.SliceStable(txs, func(i, j int) bool {
		if !txs[i].Time.Equal(txs[j].Time) {
			return txs[i].Time.After(txs[j].Time)
		}
		return txs[i].ID > txs[j].ID
	})
	result.Transactions = txs

	status := observability.SyncStatusSuccess
	if len(result.Failures) > 0 {
		status = observability.SyncStatusPartial
	}
	s.metrics.IncrSyncRun(status)
	if n, err := s.store.CountTransactions(ctx); err == nil {
		s.metrics.SetStoredTransactions(n)
	}

	s.logger.Info("sync complete",
		zap.Int("accounts", len(accounts)),
		zap.Int("fetched", result.Fetched),
		zap.Int("failures", len(result.Failures)),
		zap.Int("returned", len(txs)),
	)
	return result, nil
}

// syncAccount fetches everything after the watermark for one account and
// upserts it. It returns the number of records stored, which is short of the
// fetched count when an upsert fails part way.
func (s *SyncService) syncAccount(ctx context.Context, acc domain.Account) (int, error) {
	ctx, span := tracer.Start(ctx, "SyncService.syncAccount")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", acc.ID), attribute.String("bank", acc.BankName))

	since, err := s.Watermark(ctx, acc.ID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	provider, ok := s.providers.Provider(acc.BankName)
	if !ok {
		return 0, &domain.ErrNotFound{Resource: "provider", ID: acc.BankName}
	}

	fetchCtx := ctx
	if s.cfg.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, s.cfg.ProviderTimeout)
		defer cancel()
	}
	txs, err := provider.GetTransactions(fetchCtx, acc.ID, since, s.clock.now())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	for i, t := range txs {
		t.AccountID = acc.ID
		if err := s.store.UpsertTransaction(ctx, t); err != nil {
			span.SetStatus(codes.Error, err.Error())
			if i > 0 {
				s.metrics.AddTransactionsFetched(acc.BankName, i)
			}
			return i, fmt.Errorf("store transaction %s: %w", t.ID, err)
		}
	}

	s.metrics.AddTransactionsFetched(acc.BankName, len(txs))
	span.SetAttributes(attribute.Int("transactions.fetched", len(txs)))
	s.publish(ctx, domain.EventTransactionsSynced, domain.TransactionsSyncedEvent{
		AccountID: acc.ID,
		BankName:  acc.BankName,
		Fetched:   len(txs),
		Since:     since,
		Timestamp: s.clock.now().UTC(),
	})
	return len(txs), nil
}

// publish sends an event; failures are logged and never returned.
func (s *SyncService) publish(ctx context.Context, routingKey string, payload any) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, routingKey, payload); err != nil {
		s.logger.Warn("event publish failed", zap.String("routing_key", routingKey), zap.Error(err))
	}
}

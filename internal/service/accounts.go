package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/boddenberg/bankfeed-sync/internal/domain"
	"github.com/boddenberg/bankfeed-sync/internal/infra/observability"
	"github.com/boddenberg/bankfeed-sync/internal/port"
)

// AccountConfig holds the tunables of account operations.
type AccountConfig struct {
	ProviderTimeout    time.Duration
	BalanceConcurrency int
}

// AccountService refreshes, lists and deletes accounts and fetches balances.
type AccountService struct {
	store     port.Store
	providers port.ProviderRegistry
	events    port.EventPublisher
	metrics   *observability.Metrics
	logger    *zap.Logger
	cfg       AccountConfig
	clock     clock
}

// NewAccountService creates the account service with all dependencies injected.
func NewAccountService(
	store port.Store,
	providers port.ProviderRegistry,
	events port.EventPublisher,
	metrics *observability.Metrics,
	logger *zap.Logger,
	cfg AccountConfig,
	opts ...Option,
) *AccountService {
	if cfg.BalanceConcurrency < 1 {
		cfg.BalanceConcurrency = 1
	}
	return &AccountService{
		store:     store,
		providers: providers,
		events:    events,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
		clock:     newClock(opts),
	}
}

func (s *AccountService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.ProviderTimeout > 0 {
		return context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	}
	return context.WithCancel(ctx)
}

// SyncAccounts lists the accounts of every configured bank and upserts them.
// A failing bank is logged and skipped; the call fails only when every bank
// fails.
func (s *AccountService) SyncAccounts(ctx context.Context) ([]domain.Account, error) {
	ctx, span := tracer.Start(ctx, "AccountService.SyncAccounts")
	defer span.End()

	var (
		synced   []domain.Account
		firstErr error
		failed   int
	)
	banks := s.providers.Banks()
	for _, bank := range banks {
		provider, _ := s.providers.Provider(bank)

		callCtx, cancel := s.withTimeout(ctx)
		accounts, err := provider.ListAccounts(callCtx)
		cancel()
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			s.logger.Error("failed to list provider accounts", zap.String("bank", bank), zap.Error(err))
			continue
		}

		for _, acc := range accounts {
			acc.BankName = bank
			if err := s.store.UpsertAccount(ctx, acc); err != nil {
				return nil, fmt.Errorf("store account %s: %w", acc.ID, err)
			}
			synced = append(synced, acc)
		}
	}
	if len(banks) > 0 && failed == len(banks) {
		return nil, firstErr
	}

	ids := make([]string, len(synced))
	for i, a := range synced {
		ids[i] = a.ID
	}
	s.publish(ctx, domain.EventAccountsSynced, domain.AccountEvent{AccountIDs: ids, Timestamp: s.clock.now().UTC()})
	span.SetAttributes(attribute.Int("accounts.count", len(synced)))

	return s.store.ListAccounts(ctx)
}

// ListAccounts returns the stored accounts, refreshing from the providers
// first when forceRefresh is set or nothing is stored yet.
func (s *AccountService) ListAccounts(ctx context.Context, forceRefresh bool) ([]domain.Account, error) {
	if !forceRefresh {
		accounts, err := s.store.ListAccounts(ctx)
		if err != nil {
			return nil, err
		}
		if len(accounts) > 0 {
			return accounts, nil
		}
	}
	return s.SyncAccounts(ctx)
}

// GetAccountBalances fetches live balances for all accounts concurrently.
// Per-account failures are reported in the slot's Error field.
func (s *AccountService) GetAccountBalances(ctx context.Context) ([]domain.AccountBalance, error) {
	ctx, span := tracer.Start(ctx, "AccountService.GetAccountBalances")
	defer span.End()

	start := time.Now()
	defer func() {
		s.metrics.RecordRequestDuration("balances", time.Since(start))
	}()

	accounts, err := s.ListAccounts(ctx, false)
	if err != nil {
		return nil, err
	}

	results := make([]domain.AccountBalance, len(accounts))
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.BalanceConcurrency)
	for i := range accounts {
		i := i
		acc := accounts[i]
		g.Go(func() error {
			results[i] = s.balance(ctx, acc)
			return nil
		})
	}
	_ = g.Wait()

	return results, nil
}

func (s *AccountService) balance(ctx context.Context, acc domain.Account) domain.AccountBalance {
	out := domain.AccountBalance{AccountID: acc.ID, BankName: acc.BankName}

	provider, ok := s.providers.Provider(acc.BankName)
	if !ok {
		out.Error = (&domain.ErrNotFound{Resource: "provider", ID: acc.BankName}).Error()
		return out
	}

	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	bal, err := provider.GetBalance(callCtx, acc.ID)
	if err != nil {
		s.logger.Warn("balance fetch failed", zap.String("account_id", acc.ID), zap.Error(err))
		out.Error = err.Error()
		return out
	}
	out.Balance = bal
	return out
}

// ListBanks returns every bank that has had an account stored.
func (s *AccountService) ListBanks(ctx context.Context) ([]domain.Bank, error) {
	return s.store.ListBanks(ctx)
}

// DeleteAccount removes an account and all of its transactions.
func (s *AccountService) DeleteAccount(ctx context.Context, accountID string) error {
	if err := s.store.DeleteAccount(ctx, accountID); err != nil {
		return err
	}
	s.logger.Info("account deleted", zap.String("account_id", accountID))
	s.publish(ctx, domain.EventAccountDeleted, domain.AccountEvent{AccountIDs: []string{accountID}, Timestamp: s.clock.now().UTC()})
	return nil
}

func (s *AccountService) publish(ctx context.Context, routingKey string, payload any) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, routingKey, payload); err != nil {
		s.logger.Warn("event publish failed", zap.String("routing_key", routingKey), zap.Error(err))
	}
}

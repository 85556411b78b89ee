// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"
	"time"

	"github.com/boddenberg/bankfeed-sync/internal/domain"
)

// Provider is a bank's remote API. Implementations wrap their failures in
// *domain.ErrProviderFetch.
type Provider interface {
	ListAccounts(ctx context.Context) ([]domain.Account, error)
	GetBalance(ctx context.Context, accountID string) (*domain.Balance, error)
	GetTransactions(ctx context.Context, accountID string, start, end time.Time) ([]domain.Transaction, error)
}

// ProviderRegistry resolves the provider for a bank by name.
type ProviderRegistry interface {
	Provider(bankName string) (Provider, bool)
	Banks() []string
}

// EventPublisher publishes domain events to a message broker.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
	Close()
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}

// Package client implements provider adapters for bank APIs.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/boddenberg/bankfeed-sync/internal/domain"
	"github.com/boddenberg/bankfeed-sync/internal/infra/cache"
	"github.com/boddenberg/bankfeed-sync/internal/infra/observability"
	"github.com/boddenberg/bankfeed-sync/internal/infra/resilience"
	"github.com/boddenberg/bankfeed-sync/internal/port"
)

var tracer = otel.Tracer("client")

var _ port.Provider = (*StarlingClient)(nil)

// starlingTimeFormat is the only timestamp layout the feed endpoint accepts.
const starlingTimeFormat = "2006-01-02T15:04:05.000Z"

// ============================================================
// Starling v2 wire types
// ============================================================

type starlingAccount struct {
	AccountUID      string `json:"accountUid"`
	Name            string `json:"name"`
	AccountType     string `json:"accountType"`
	Currency        string `json:"currency"`
	CreatedAt       string `json:"createdAt"`
	DefaultCategory string `json:"defaultCategory"`
}

type starlingAccounts struct {
	Accounts []starlingAccount `json:"accounts"`
}

type starlingAmount struct {
	Currency   string `json:"currency"`
	MinorUnits int64  `json:"minorUnits"`
}

func (a starlingAmount) major() decimal.Decimal {
	return decimal.New(a.MinorUnits, -2)
}

type starlingBalance struct {
	ClearedBalance      starlingAmount `json:"clearedBalance"`
	PendingTransactions starlingAmount `json:"pendingTransactions"`
	EffectiveBalance    starlingAmount `json:"effectiveBalance"`
}

type starlingFeedItem struct {
	FeedItemUID      string         `json:"feedItemUid"`
	TransactionTime  string         `json:"transactionTime"`
	CounterPartyUID  string         `json:"counterPartyUid"`
	CounterPartyName string         `json:"counterPartyName"`
	Direction        string         `json:"direction"`
	SourceAmount     starlingAmount `json:"sourceAmount"`
	Reference        string         `json:"reference"`
	Status           string         `json:"status"`
}

type starlingFeed struct {
	FeedItems []starlingFeedItem `json:"feedItems"`
}

// toTransaction converts a feed item; outflows become negative amounts.
func (f starlingFeedItem) toTransaction(accountID string) (domain.Transaction, error) {
	if f.FeedItemUID == "" {
		return domain.Transaction{}, errors.New("feed item without feedItemUid")
	}
	at, err := time.Parse(time.RFC3339Nano, f.TransactionTime)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("feed item %s: bad transactionTime %q", f.FeedItemUID, f.TransactionTime)
	}
	amount := f.SourceAmount.major()
	if f.Direction == "OUT" {
		amount = amount.Neg()
	}
	cpID := f.CounterPartyUID
	if cpID == "" {
		cpID = f.CounterPartyName
	}
	return domain.Transaction{
		ID:           f.FeedItemUID,
		AccountID:    accountID,
		Time:         at.UTC(),
		Counterparty: domain.Counterparty{ID: cpID, Name: f.CounterPartyName},
		Amount:       amount,
		Reference:    f.Reference,
	}, nil
}

// ============================================================
// Client
// ============================================================

// StarlingClient talks to a Starling Bank v2 API with one personal access token.
type StarlingClient struct {
	bank       string
	httpClient *http.Client
	baseURL    string
	token      string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	bulkhead   *resilience.Bulkhead
	categories *cache.InMemory[string] // accountUid → defaultCategory
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// StarlingOptions carries the shared dependencies of a provider client.
type StarlingOptions struct {
	HTTPClient *http.Client
	Resilience resilience.Config
	CacheTTL   time.Duration
	Metrics    *observability.Metrics
	Logger     *zap.Logger
}

// NewStarlingClient creates a client for one configured bank.
func NewStarlingClient(bank, baseURL, token string, opts StarlingOptions) *StarlingClient {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StarlingClient{
		bank:       bank,
		httpClient: httpClient,
		baseURL:    baseURL,
		token:      token,
		cb:         resilience.NewCircuitBreaker("provider-" + bank),
		cfg:        opts.Resilience,
		bulkhead:   resilience.NewBulkhead(opts.Resilience.MaxConcurrency),
		categories: cache.New[string](opts.CacheTTL),
		metrics:    opts.Metrics,
		logger:     logger,
	}
}

// Close releases background resources held by the client.
func (c *StarlingClient) Close() {
	c.categories.Close()
}

// getJSON performs an authenticated GET and decodes the body into out.
// Errors a retry cannot fix are marked permanent.
func (c *StarlingClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	if err := c.bulkhead.Acquire(ctx); err != nil {
		return err
	}
	defer c.bulkhead.Release()

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return resilience.Permanent(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return resilience.Permanent(&domain.ErrUnauthorized{
			Message: fmt.Sprintf("%s rejected the access token (status %d)", c.bank, resp.StatusCode),
		})
	case resp.StatusCode == http.StatusNotFound:
		return resilience.Permanent(&domain.ErrNotFound{Resource: "provider resource", ID: path})
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return resilience.Permanent(fmt.Errorf("%s returned status %d", path, resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resilience.Permanent(fmt.Errorf("decode %s: %w", path, err))
	}
	return nil
}

// call runs a provider request through breaker and retries, records the
// outcome on the span, and wraps failures in ErrProviderFetch.
func call[T any](ctx context.Context, c *StarlingClient, operation, accountID string, fn func() (T, error)) (T, error) {
	start := time.Now()
	out, err := resilience.Execute(ctx, c.cb, c.cfg, fn)
	if c.metrics != nil {
		c.metrics.RecordRequestDuration("provider."+operation, time.Since(start))
	}
	if err == nil {
		return out, nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		err = &domain.ErrTimeout{Operation: c.bank + "." + operation}
	}
	if c.metrics != nil {
		c.metrics.IncrProviderError(c.bank)
	}
	c.logger.Warn("provider call failed",
		zap.String("bank", c.bank),
		zap.String("operation", operation),
		zap.String("account_id", accountID),
		zap.Error(err),
	)
	var zero T
	return zero, &domain.ErrProviderFetch{Bank: c.bank, AccountID: accountID, Err: err}
}

// ListAccounts fetches the accounts visible to the token and refreshes the
// default category cache.
func (c *StarlingClient) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	ctx, span := tracer.Start(ctx, "StarlingClient.ListAccounts")
	defer span.End()
	span.SetAttributes(attribute.String("bank", c.bank))

	accounts, err := call(ctx, c, "list_accounts", "", func() ([]domain.Account, error) {
		var body starlingAccounts
		if err := c.getJSON(ctx, "/api/v2/accounts", nil, &body); err != nil {
			return nil, err
		}

		out := make([]domain.Account, 0, len(body.Accounts))
		for _, a := range body.Accounts {
			created, _ := time.Parse(time.RFC3339Nano, a.CreatedAt)
			out = append(out, domain.Account{
				ID:        a.AccountUID,
				BankName:  c.bank,
				Name:      a.Name,
				Currency:  a.Currency,
				CreatedAt: created.UTC(),
			})
			c.categories.Set(a.AccountUID, a.DefaultCategory)
		}
		return out, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list accounts failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("accounts.count", len(accounts)))
	return accounts, nil
}

// GetBalance fetches the live balance of one account.
func (c *StarlingClient) GetBalance(ctx context.Context, accountID string) (*domain.Balance, error) {
	ctx, span := tracer.Start(ctx, "StarlingClient.GetBalance")
	defer span.End()
	span.SetAttributes(attribute.String("bank", c.bank), attribute.String("account.id", accountID))

	bal, err := call(ctx, c, "get_balance", accountID, func() (*domain.Balance, error) {
		var body starlingBalance
		path := "/api/v2/accounts/" + url.PathEscape(accountID) + "/balance"
		if err := c.getJSON(ctx, path, nil, &body); err != nil {
			return nil, err
		}
		return &domain.Balance{
			AccountID: accountID,
			Currency:  body.EffectiveBalance.Currency,
			Cleared:   body.ClearedBalance.major(),
			Pending:   body.PendingTransactions.major(),
			Effective: body.EffectiveBalance.major(),
		}, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "get balance failed")
		return nil, err
	}
	return bal, nil
}

// GetTransactions fetches feed items with start <= time <= end.
func (c *StarlingClient) GetTransactions(ctx context.Context, accountID string, start, end time.Time) ([]domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "StarlingClient.GetTransactions")
	defer span.End()
	span.SetAttributes(
		attribute.String("bank", c.bank),
		attribute.String("account.id", accountID),
		attribute.String("window.start", start.UTC().Format(starlingTimeFormat)),
	)

	category, err := c.defaultCategory(ctx, accountID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	txs, err := call(ctx, c, "get_transactions", accountID, func() ([]domain.Transaction, error) {
		var body starlingFeed
		path := fmt.Sprintf("/api/v2/feed/account/%s/category/%s/transactions-between",
			url.PathEscape(accountID), url.PathEscape(category))
		query := url.Values{
			"minTransactionTimestamp": {start.UTC().Format(starlingTimeFormat)},
			"maxTransactionTimestamp": {end.UTC().Format(starlingTimeFormat)},
		}
		if err := c.getJSON(ctx, path, query, &body); err != nil {
			return nil, err
		}

		out := make([]domain.Transaction, 0, len(body.FeedItems))
		for _, item := range body.FeedItems {
			t, err := item.toTransaction(accountID)
			if err != nil {
				return nil, resilience.Permanent(err)
			}
			out = append(out, t)
		}
		return out, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "get transactions failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("transactions.count", len(txs)))
	return txs, nil
}

// defaultCategory resolves the feed category of an account, listing accounts
// on a cache miss.
func (c *StarlingClient) defaultCategory(ctx context.Context, accountID string) (string, error) {
	if cat, ok := c.categories.Get(accountID); ok {
		if c.metrics != nil {
			c.metrics.IncrCacheHit("default_category")
		}
		return cat, nil
	}
	if c.metrics != nil {
		c.metrics.IncrCacheMiss("default_category")
	}

	if _, err := c.ListAccounts(ctx); err != nil {
		return "", err
	}
	if cat, ok := c.categories.Get(accountID); ok {
		return cat, nil
	}
	return "", &domain.ErrProviderFetch{
		Bank:      c.bank,
		AccountID: accountID,
		Err:       &domain.ErrNotFound{Resource: "account", ID: accountID},
	}
}

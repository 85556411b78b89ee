package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/bankfeed-sync/internal/config"
	"github.com/boddenberg/bankfeed-sync/internal/domain"
	"github.com/boddenberg/bankfeed-sync/internal/handler"
	"github.com/boddenberg/bankfeed-sync/internal/infra/client"
	"github.com/boddenberg/bankfeed-sync/internal/infra/events"
	"github.com/boddenberg/bankfeed-sync/internal/infra/memstore"
	"github.com/boddenberg/bankfeed-sync/internal/infra/observability"
	"github.com/boddenberg/bankfeed-sync/internal/infra/postgres"
	"github.com/boddenberg/bankfeed-sync/internal/infra/resilience"
	"github.com/boddenberg/bankfeed-sync/internal/infra/scheduler"
	"github.com/boddenberg/bankfeed-sync/internal/port"
	"github.com/boddenberg/bankfeed-sync/internal/service"

	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	configPath := os.Getenv("BANKFEED_CONFIG")
	if configPath == "" {
		configPath = "bankfeed.toml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.Bool("postgres", cfg.DatabaseURL != ""),
		zap.Int("banks", len(cfg.Banks)),
		zap.Duration("default_lookback", cfg.DefaultLookback),
		zap.Duration("provider_timeout", cfg.ProviderTimeout),
		zap.Int("sync_concurrency", cfg.SyncConcurrency),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.String("sync_schedule", cfg.SyncSchedule),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "bankfeed-sync")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Storage ---
	var store port.Store
	if cfg.DatabaseURL != "" {
		if err := postgres.RunMigrations(cfg.DatabaseURL); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
		pool, err := postgres.Connect(context.Background(), cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to connect to postgres", zap.Error(err))
		}
		defer pool.Close()
		store = postgres.New(pool)
		logger.Info("using postgres store")
	} else {
		store = memstore.New()
		logger.Warn("DATABASE_URL not set, using in-memory store")
	}

	// --- Providers ---
	registry, err := client.NewRegistry(cfg.Banks, client.StarlingOptions{
		HTTPClient: &http.Client{Timeout: cfg.HTTPTimeout},
		Resilience: resilience.Config{
			MaxRetries:     cfg.MaxRetries,
			InitialBackoff: cfg.InitialBackoff,
			MaxConcurrency: cfg.ProviderMaxConcurrency,
		},
		CacheTTL: cfg.CacheTTL,
		Metrics:  metrics,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal("failed to build provider registry", zap.Error(err))
	}
	defer registry.Close()

	// --- Events ---
	var publisher port.EventPublisher = events.NewFallback(logger)
	if cfg.RabbitMQURL != "" {
		producer, err := events.NewProducer(cfg.RabbitMQURL, cfg.EventExchange, logger)
		if err != nil {
			logger.Warn("rabbitmq unavailable, events disabled", zap.Error(err))
		} else {
			publisher = producer
		}
	}
	defer publisher.Close()

	// --- Services ---
	names := service.NewNameService(store, logger)
	categories := service.NewCategoryService(store, logger)
	syncSvc := service.NewSyncService(store, registry, service.NewEnricher(names, categories), publisher, metrics, logger,
		service.SyncConfig{
			DefaultLookback: cfg.DefaultLookback,
			ProviderTimeout: cfg.ProviderTimeout,
			Concurrency:     cfg.SyncConcurrency,
		},
	)
	accounts := service.NewAccountService(store, registry, publisher, metrics, logger,
		service.AccountConfig{
			ProviderTimeout:    cfg.ProviderTimeout,
			BalanceConcurrency: cfg.BalanceConcurrency,
		},
	)

	nameRules := make([]domain.DisplayNameRule, len(cfg.Names))
	for i, n := range cfg.Names {
		nameRules[i] = domain.DisplayNameRule{Kind: domain.MatchKind(n.Kind), Pattern: n.Pattern, DisplayName: n.DisplayName}
	}
	seed(context.Background(), names, categories, nameRules, cfg.Categories, logger)

	// --- Scheduler ---
	var sched *scheduler.Scheduler
	if cfg.SyncSchedule != "" {
		sched = scheduler.New(logger, cfg.SyncCycleTimeout)
		err := sched.Add("sync", cfg.SyncSchedule, func(ctx context.Context) error {
			if _, err := accounts.SyncAccounts(ctx); err != nil {
				return err
			}
			_, err := syncSvc.SyncTransactions(ctx, domain.Window{})
			return err
		})
		if err != nil {
			logger.Fatal("invalid sync schedule", zap.Error(err))
		}
		sched.Start()
	}

	// --- Router ---
	router := handler.NewRouter(
		handler.Services{
			Sync:       syncSvc,
			Accounts:   accounts,
			Names:      names,
			Categories: categories,
			Store:      store,
		},
		handler.Options{
			JWTSecret:  cfg.APIJWTSecret,
			Names:      nameRules,
			Categories: cfg.Categories,

			AllowedOrigins: cfg.CORSAllowedOrigins,
		},
		metrics,
		logger,
	)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if sched != nil {
		select {
		case <-sched.Stop().Done():
		case <-ctx.Done():
			logger.Warn("scheduled sync still running at shutdown")
		}
	}

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

// seed loads configured rules into an empty store so a fresh deployment
// starts with them. Existing rules are never touched.
func seed(ctx context.Context, names *service.NameService, categories *service.CategoryService,
	rules []domain.DisplayNameRule, groups map[string][]string, logger *zap.Logger) {
	if len(rules) > 0 {
		if existing, err := names.ListRules(ctx); err == nil && len(existing) == 0 {
			if _, err := names.InitialiseFromConfig(ctx, rules, true); err != nil {
				logger.Warn("failed to seed display names", zap.Error(err))
			}
		}
	}
	if len(groups) > 0 {
		if existing, err := categories.ListCategories(ctx); err == nil && len(existing) == 0 {
			if _, err := categories.InitialiseCategoriesFromConfig(ctx, groups, true); err != nil {
				logger.Warn("failed to seed categories", zap.Error(err))
			}
		}
	}
}

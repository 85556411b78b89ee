package handler

import (
	"net/http"
	"time"

	"github.com/boddenberg/bankfeed-sync/internal/domain"
	"github.com/boddenberg/bankfeed-sync/internal/infra/observability"
	"github.com/boddenberg/bankfeed-sync/internal/port"
	"github.com/boddenberg/bankfeed-sync/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// Services bundles everything the API routes call into.
type Services struct {
	Sync       *service.SyncService
	Accounts   *service.AccountService
	Names      *service.NameService
	Categories *service.CategoryService
	Store      port.Store
}

// Options configures optional router behaviour.
type Options struct {
	// JWTSecret enables bearer auth on /v1 when non-empty.
	JWTSecret string
	// Names and Categories are the configured rule sets used by the
	// init endpoints.
	Names      []domain.DisplayNameRule
	Categories map[string][]string
	// AllowedOrigins for CORS; empty allows any http(s) origin.
	AllowedOrigins []string
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(svc Services, opts Options, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"https://*", "http://*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(svc.Store))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		if opts.JWTSecret != "" {
			r.Use(JWTAuthMiddleware([]byte(opts.JWTSecret), logger))
		}

		r.Get("/metrics/sync", syncMetricsHandler(metrics))

		// Accounts
		r.Get("/banks", listBanksHandler(svc.Accounts, logger))
		r.Get("/accounts", listAccountsHandler(svc.Accounts, logger))
		r.Post("/accounts/sync", syncAccountsHandler(svc.Accounts, logger))
		r.Get("/accounts/balances", accountBalancesHandler(svc.Accounts, logger))
		r.Delete("/accounts/{accountId}", deleteAccountHandler(svc.Accounts, logger))
		r.Get("/accounts/{accountId}/transactions", accountTransactionsHandler(svc.Sync, logger))

		// Transactions
		r.Get("/transactions", transactionsHandler(svc.Sync, logger))
		r.Put("/transactions/{transactionId}/category", setTransactionCategoryHandler(svc.Categories, logger))

		// Display names
		r.Get("/names", listNamesHandler(svc.Names, logger))
		r.Put("/names", upsertNameHandler(svc.Names, logger))
		r.Delete("/names", deleteNameHandler(svc.Names, logger))
		r.Post("/names/init", initNamesHandler(svc.Names, opts.Names, logger))
		r.Get("/names/resolve", resolveNameHandler(svc.Names, logger))

		// Categories
		r.Get("/categories", listCategoriesHandler(svc.Categories, logger))
		r.Post("/categories", makeCategoryHandler(svc.Categories, logger))
		r.Get("/categories/groups", listGroupsHandler(svc.Categories, logger))
		r.Post("/categories/init", initCategoriesHandler(svc.Categories, opts.Categories, logger))
		r.Get("/categories/assignments", listAssignmentsHandler(svc.Categories, logger))
		r.Put("/categories/assignments", assignCategoryHandler(svc.Categories, logger))
		r.Delete("/categories/assignments", unassignCategoryHandler(svc.Categories, logger))
		r.Patch("/categories/{categoryId}", updateCategoryHandler(svc.Categories, logger))
		r.Delete("/categories/{categoryId}", deleteCategoryHandler(svc.Categories, logger))
	})

	return r
}

// ============================================================
// Operational endpoints
// ============================================================

func healthzHandler(store port.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().Format(time.RFC3339)

		services := []domain.ServiceHealth{
			{Name: "bankfeed-api", Status: "healthy", LastChecked: now},
		}

		if store != nil {
			start := time.Now()
			err := store.Ping(r.Context())
			status := "healthy"
			if err != nil {
				status = "unhealthy"
			}
			services = append(services, domain.ServiceHealth{
				Name: "store", Status: status, LatencyMs: time.Since(start).Milliseconds(), LastChecked: now,
			})
		}

		overall, code := "healthy", http.StatusOK
		for _, s := range services {
			if s.Status == "unhealthy" {
				overall, code = "unhealthy", http.StatusServiceUnavailable
				break
			}
		}

		writeJSON(w, code, domain.HealthStatus{Status: overall, Services: services})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func syncMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetSyncSnapshot())
	}
}

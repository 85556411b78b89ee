package handler

import (
	"net/http"

	"github.com/boddenberg/bankfeed-sync/internal/domain"
	"github.com/boddenberg/bankfeed-sync/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Transactions Handlers
// ============================================================

// transactionsHandler syncs every account and returns the enriched window.
func transactionsHandler(svc *service.SyncService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/transactions")
		defer span.End()

		window, err := parseWindow(r)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		result, err := svc.SyncTransactions(ctx, window)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(
			attribute.Int("transactions.returned", len(result.Transactions)),
			attribute.Int("accounts.failed", len(result.Failures)),
		)
		writeJSON(w, http.StatusOK, result)
	}
}

func accountTransactionsHandler(svc *service.SyncService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/accounts/{accountId}/transactions")
		defer span.End()

		accountID := chi.URLParam(r, "accountId")
		span.SetAttributes(attribute.String("account.id", accountID))

		window, err := parseWindow(r)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		result, err := svc.SyncAccountTransactions(ctx, accountID, window)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

type setCategoryRequest struct {
	CategoryID *string `json:"category_id"`
}

// setTransactionCategoryHandler sets a manual category; a null category_id
// clears it.
func setTransactionCategoryHandler(svc *service.CategoryService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/transactions/{transactionId}/category")
		defer span.End()

		transactionID := chi.URLParam(r, "transactionId")
		var req setCategoryRequest
		if err := decodeBody(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		if err := svc.SetTransactionCategory(ctx, transactionID, req.CategoryID); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "transaction category updated", ID: transactionID})
	}
}

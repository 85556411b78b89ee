package handler

import (
	"net/http"

	"github.com/boddenberg/bankfeed-sync/internal/domain"
	"github.com/boddenberg/bankfeed-sync/internal/service"

	"go.uber.org/zap"
)

// ============================================================
// Display Name Handlers
// ============================================================

func listNamesHandler(svc *service.NameService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/names")
		defer span.End()

		rules, err := svc.ListRules(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.ListResponse[domain.DisplayNameRule]{Data: rules, Total: len(rules)})
	}
}

func upsertNameHandler(svc *service.NameService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/names")
		defer span.End()

		var rule domain.DisplayNameRule
		if err := decodeBody(r, &rule); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if err := svc.UpsertRule(ctx, rule); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, rule)
	}
}

func deleteNameHandler(svc *service.NameService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/names")
		defer span.End()

		q := r.URL.Query()
		if err := svc.DeleteRule(ctx, domain.MatchKind(q.Get("kind")), q.Get("pattern")); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "display name rule deleted"})
	}
}

func initNamesHandler(svc *service.NameService, rules []domain.DisplayNameRule, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/names/init")
		defer span.End()

		n, err := svc.InitialiseFromConfig(ctx, rules, queryBool(r, "force"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"initialised": n})
	}
}

func resolveNameHandler(svc *service.NameService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/names/resolve")
		defer span.End()

		raw := r.URL.Query().Get("name")
		if raw == "" {
			writeError(w, http.StatusBadRequest, "name is required")
			return
		}
		display, err := svc.DisplayNameFor(ctx, raw)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"name": raw, "display_name": display})
	}
}

package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/boddenberg/bankfeed-sync/internal/domain"

	"go.uber.org/zap"
)

// ============================================================
// Shared helper functions
// ============================================================

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return &domain.ErrValidation{Field: "body", Message: "invalid request body"}
	}
	return nil
}

func queryBool(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return b
}

const dateLayout = "2006-01-02"

// parseTime accepts RFC 3339 or a bare date. A bare date used as an end
// bound covers the whole day.
func parseTime(field, v string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return time.Time{}, &domain.ErrValidation{Field: field, Message: "expected RFC 3339 timestamp or YYYY-MM-DD"}
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Millisecond)
	}
	return t, nil
}

// parseWindow reads ?start and ?end. Missing bounds stay zero and are filled
// in by the sync engine.
func parseWindow(r *http.Request) (domain.Window, error) {
	var w domain.Window
	q := r.URL.Query()
	if v := q.Get("start"); v != "" {
		t, err := parseTime("start", v, false)
		if err != nil {
			return w, err
		}
		w.Start = t
	}
	if v := q.Get("end"); v != "" {
		t, err := parseTime("end", v, true)
		if err != nil {
			return w, err
		}
		w.End = t
	}
	return w, nil
}

// handleServiceError maps domain errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var notFound *domain.ErrNotFound
	var validation *domain.ErrValidation
	var ambiguous *domain.ErrAmbiguousMatch
	var inUse *domain.ErrCategoryInUse
	var unauthorized *domain.ErrUnauthorized
	var timeout *domain.ErrTimeout
	var circuitOpen *domain.ErrCircuitOpen
	var providerFetch *domain.ErrProviderFetch
	var external *domain.ErrExternalService

	// Upstream failures map to 502 whatever their cause; timeouts and an open
	// breaker keep 504 and 503.
	switch {
	case errors.As(err, &validation):
		logger.Debug("validation error", zap.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &ambiguous):
		logger.Error("integrity fault",
			zap.String("kind", ambiguous.Kind),
			zap.String("input", ambiguous.Input),
			zap.Strings("patterns", ambiguous.Patterns),
		)
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &inUse):
		logger.Warn("category in use", zap.String("category_id", inUse.CategoryID))
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &timeout):
		logger.Error("request timeout", zap.Error(err))
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.As(err, &circuitOpen):
		logger.Error("circuit breaker open", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &providerFetch), errors.As(err, &external):
		logger.Error("upstream failure", zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.As(err, &notFound):
		logger.Debug("not found", zap.String("error", err.Error()))
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &unauthorized):
		logger.Warn("unauthorized", zap.String("error", err.Error()))
		writeError(w, http.StatusUnauthorized, err.Error())
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

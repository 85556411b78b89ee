package observability_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/boddenberg/bankfeed-sync/internal/infra/observability"
)

func TestGetSyncSnapshot(t *testing.T) {
	m := observability.NewMetrics()

	m.IncrSyncRun(observability.SyncStatusSuccess)
	m.IncrSyncRun(observability.SyncStatusPartial)
	m.AddTransactionsFetched("starling", 3)
	m.AddTransactionsFetched("monzo", 2)
	m.IncrProviderError("monzo")
	m.IncrIntegrityFault("display name")
	m.SetStoredTransactions(42)

	snap := m.GetSyncSnapshot()
	if snap.SyncRuns != 2 {
		t.Errorf("expected 2 runs, got %d", snap.SyncRuns)
	}
	if snap.TransactionsFetched != 5 {
		t.Errorf("expected 5 fetched across banks, got %d", snap.TransactionsFetched)
	}
	if snap.ProviderErrors != 1 || snap.IntegrityFaults != 1 {
		t.Errorf("unexpected error counters %+v", snap)
	}
	if snap.StoredTransactions != 42 {
		t.Errorf("expected gauge 42, got %d", snap.StoredTransactions)
	}
	if snap.ErrorRate != 0.5 {
		t.Errorf("expected error rate 0.5, got %f", snap.ErrorRate)
	}
}

func TestNewMetrics_Independent(t *testing.T) {
	a := observability.NewMetrics()
	b := observability.NewMetrics()
	a.IncrSyncRun(observability.SyncStatusSuccess)

	if b.GetSyncSnapshot().SyncRuns != 0 {
		t.Error("expected separate registries")
	}
}

func TestZapLoggerMiddleware_Levels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	h := observability.ZapLoggerMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/boom":
			w.WriteHeader(http.StatusBadGateway)
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))

	for _, path := range []string{"/boom", "/missing", "/v1/accounts", "/healthz"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	want := []zapcore.Level{zapcore.ErrorLevel, zapcore.WarnLevel, zapcore.InfoLevel, zapcore.DebugLevel}
	entries := logs.All()
	if len(entries) != len(want) {
		t.Fatalf("expected %d log entries, got %d", len(want), len(entries))
	}
	for i, e := range entries {
		if e.Level != want[i] {
			t.Errorf("entry %d: expected level %s, got %s", i, want[i], e.Level)
		}
	}
}

func TestInitTracer_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := observability.InitTracer("", "bankfeed-test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("expected no-op shutdown, got %v", err)
	}
}

package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"

	"github.com/boddenberg/bankfeed-sync/internal/domain"
)

// Sync run outcomes used as the "status" label.
const (
	SyncStatusSuccess = "success"
	SyncStatusPartial = "partial"
	SyncStatusError   = "error"
)

// Metrics holds all Prometheus metrics for the bank feed service.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration     *prometheus.HistogramVec
	syncRuns            *prometheus.CounterVec
	transactionsFetched *prometheus.CounterVec
	providerErrors      *prometheus.CounterVec
	integrityFaults     *prometheus.CounterVec
	cacheHits           *prometheus.CounterVec
	cacheMisses         *prometheus.CounterVec
	storedTransactions  prometheus.Gauge
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bankfeed_operation_duration_seconds",
				Help:    "Duration of operations (sync cycles, provider calls).",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		syncRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bankfeed_sync_runs_total",
				Help: "Sync cycles by outcome.",
			},
			[]string{"status"},
		),
		transactionsFetched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bankfeed_transactions_fetched_total",
				Help: "Transactions fetched from providers.",
			},
			[]string{"bank"},
		),
		providerErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bankfeed_provider_errors_total",
				Help: "Failed provider calls by bank.",
			},
			[]string{"bank"},
		),
		integrityFaults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bankfeed_integrity_faults_total",
				Help: "Ambiguous rule matches detected during enrichment.",
			},
			[]string{"kind"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bankfeed_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bankfeed_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		storedTransactions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "bankfeed_stored_transactions",
				Help: "Transactions held in storage after the last sync.",
			},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrSyncRun counts a finished sync cycle.
func (m *Metrics) IncrSyncRun(status string) {
	m.syncRuns.WithLabelValues(status).Inc()
}

// AddTransactionsFetched adds n fetched transactions for a bank.
func (m *Metrics) AddTransactionsFetched(bank string, n int) {
	m.transactionsFetched.WithLabelValues(bank).Add(float64(n))
}

// IncrProviderError increments the provider error counter.
func (m *Metrics) IncrProviderError(bank string) {
	m.providerErrors.WithLabelValues(bank).Inc()
}

// IncrIntegrityFault counts an ambiguous match.
func (m *Metrics) IncrIntegrityFault(kind string) {
	m.integrityFaults.WithLabelValues(kind).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// SetStoredTransactions updates the stored transactions gauge.
func (m *Metrics) SetStoredTransactions(n int64) {
	m.storedTransactions.Set(float64(n))
}

// GetSyncSnapshot returns cumulative sync metrics for GET /v1/metrics/sync.
func (m *Metrics) GetSyncSnapshot() *domain.SyncMetrics {
	success := getCounterValue(m.syncRuns, SyncStatusSuccess)
	partial := getCounterValue(m.syncRuns, SyncStatusPartial)
	failed := getCounterValue(m.syncRuns, SyncStatusError)
	runs := success + partial + failed

	errorRate := float64(0)
	if runs > 0 {
		errorRate = (partial + failed) / runs
	}

	stored := &dto.Metric{}
	_ = m.storedTransactions.Write(stored)

	return &domain.SyncMetrics{
		SyncRuns:            int64(runs),
		TransactionsFetched: int64(sumCounterVec(m.transactionsFetched)),
		ProviderErrors:      int64(sumCounterVec(m.providerErrors)),
		IntegrityFaults:     int64(sumCounterVec(m.integrityFaults)),
		StoredTransactions:  int64(stored.GetGauge().GetValue()),
		ErrorRate:           errorRate,
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	counter := cv.WithLabelValues(label)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}

// sumCounterVec adds up every label combination of a CounterVec.
func sumCounterVec(cv *prometheus.CounterVec) float64 {
	ch := make(chan prometheus.Metric, 16)
	go func() {
		cv.Collect(ch)
		close(ch)
	}()

	var total float64
	for metric := range ch {
		m := &dto.Metric{}
		if err := metric.Write(m); err == nil {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

package domain

// ============================================================
// Health & Metrics API Responses
// ============================================================

// HealthStatus is returned by GET /healthz and /readyz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual dependency.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	LastChecked string `json:"lastChecked"`
}

// SyncMetrics is returned by GET /v1/metrics/sync.
type SyncMetrics struct {
	SyncRuns            int64   `json:"syncRuns"`
	TransactionsFetched int64   `json:"transactionsFetched"`
	ProviderErrors      int64   `json:"providerErrors"`
	IntegrityFaults     int64   `json:"integrityFaults"`
	StoredTransactions  int64   `json:"storedTransactions"`
	ErrorRate           float64 `json:"errorRate"`
}

// ============================================================
// Generic API Response wrappers
// ============================================================

// ListResponse wraps list results.
type ListResponse[T any] struct {
	Data  []T `json:"data"`
	Total int `json:"total"`
}

// SuccessResponse wraps a successful single-entity response.
type SuccessResponse struct {
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}

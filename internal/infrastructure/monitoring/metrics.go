package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "miniapp"

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Service metrics
	ServiceCalls    *prometheus.CounterVec
	ServiceDuration *prometheus.HistogramVec
	ServiceErrors   *prometheus.CounterVec

	// Reconciliation metrics
	Reconciliations  *prometheus.CounterVec
	ManifestFetches  *prometheus.CounterVec
	ManifestStores   prometheus.Counter
	DigestChecks     *prometheus.CounterVec
	DigestWrites     *prometheus.CounterVec
	PermissionPrunes prometheus.Counter

	// Registry metrics
	MiniAppsCreated prometheus.Counter
	MiniAppsActive  prometheus.Gauge

	// Fetcher circuit breaker
	BreakerTransitions *prometheus.CounterVec

	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot MetricsSnapshot

	mu sync.RWMutex
}

// MetricsSnapshot holds current metric values for JSON API
type MetricsSnapshot struct {
	TotalRequests   int64   `json:"total_requests"`
	TotalErrors     int64   `json:"total_errors"`
	Reconciliations int64   `json:"reconciliations"`
	Degraded        int64   `json:"degraded"`
	ActiveMiniApps  int64   `json:"active_miniapps"`
	TotalDuration   float64 `json:"total_duration_seconds"`
	RequestCount    int64   `json:"request_count"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
}

// NewMetrics creates a metrics collector registered on reg. Passing a fresh
// prometheus.NewRegistry() keeps tests independent of the global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		startTime: time.Now(),

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_size_bytes",
				Help:      "HTTP request size in bytes",
				Buckets:   []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_response_size_bytes",
				Help:      "HTTP response size in bytes",
				Buckets:   []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),

		// Service metrics
		ServiceCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "service_calls_total",
				Help:      "Total number of service calls",
			},
			[]string{"service", "method", "status"},
		),
		ServiceDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "service_duration_seconds",
				Help:      "Service call duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"service", "method"},
		),
		ServiceErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "service_errors_total",
				Help:      "Total number of service errors",
			},
			[]string{"service", "method", "error_type"},
		),

		// Reconciliation metrics
		Reconciliations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconciliations_total",
				Help:      "Manifest reconciliations by terminal outcome",
			},
			[]string{"outcome"},
		),
		ManifestFetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "manifest_fetches_total",
				Help:      "Manifest fetches by result",
			},
			[]string{"result"},
		),
		ManifestStores: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "manifest_stores_total",
				Help:      "Manifests written to the cache",
			},
		),
		DigestChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "digest_checks_total",
				Help:      "Integrity checks by result",
			},
			[]string{"result"},
		),
		DigestWrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "digest_writes_total",
				Help:      "Background digest writes by status",
			},
			[]string{"status"},
		),
		PermissionPrunes: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "permission_records_pruned_total",
				Help:      "Permission records removed because their kind left the manifest",
			},
		),

		// Registry metrics
		MiniAppsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "created_total",
				Help:      "Total number of mini-apps created",
			},
		),
		MiniAppsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active",
				Help:      "Number of mini-apps held by the manager",
			},
		),

		BreakerTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetcher_breaker_transitions_total",
				Help:      "Circuit breaker state changes of the manifest fetcher",
			},
			[]string{"to"},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Service uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	// Update snapshot
	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.TotalDuration += duration.Seconds()
	m.snapshot.RequestCount++
	if status != "" && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordServiceCall records a service call
func (m *Metrics) RecordServiceCall(service, method, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ServiceCalls.WithLabelValues(service, method, status).Inc()
	m.ServiceDuration.WithLabelValues(service, method).Observe(duration.Seconds())
}

// RecordServiceError records a service error
func (m *Metrics) RecordServiceError(service, method, errorType string) {
	if m == nil {
		return
	}
	m.ServiceErrors.WithLabelValues(service, method, errorType).Inc()
}

// RecordReconciliation counts a finished reconciliation run
func (m *Metrics) RecordReconciliation(outcome string) {
	if m == nil {
		return
	}
	m.Reconciliations.WithLabelValues(outcome).Inc()

	m.mu.Lock()
	m.snapshot.Reconciliations++
	if outcome == OutcomeDegraded {
		m.snapshot.Degraded++
	}
	m.mu.Unlock()
}

// RecordFetch counts a manifest fetch by result
func (m *Metrics) RecordFetch(result string) {
	if m == nil {
		return
	}
	m.ManifestFetches.WithLabelValues(result).Inc()
}

// IncManifestStores counts a manifest written to the cache
func (m *Metrics) IncManifestStores() {
	if m == nil {
		return
	}
	m.ManifestStores.Inc()
}

// RecordDigestCheck counts an integrity check by result
func (m *Metrics) RecordDigestCheck(result string) {
	if m == nil {
		return
	}
	m.DigestChecks.WithLabelValues(result).Inc()
}

// RecordDigestWrite counts a finished background digest write
func (m *Metrics) RecordDigestWrite(status string) {
	if m == nil {
		return
	}
	m.DigestWrites.WithLabelValues(status).Inc()
}

// AddPermissionPrunes counts removed permission records
func (m *Metrics) AddPermissionPrunes(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PermissionPrunes.Add(float64(n))
}

// IncMiniAppsCreated increments the created mini-apps counter
func (m *Metrics) IncMiniAppsCreated() {
	if m == nil {
		return
	}
	m.MiniAppsCreated.Inc()
}

// SetMiniAppsActive sets the number of mini-apps held by the manager
func (m *Metrics) SetMiniAppsActive(count int) {
	if m == nil {
		return
	}
	m.MiniAppsActive.Set(float64(count))
	m.mu.Lock()
	m.snapshot.ActiveMiniApps = int64(count)
	m.mu.Unlock()
}

// RecordBreakerTransition counts a breaker state change
func (m *Metrics) RecordBreakerTransition(to string) {
	if m == nil {
		return
	}
	m.BreakerTransitions.WithLabelValues(to).Inc()
}

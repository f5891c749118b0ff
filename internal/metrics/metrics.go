package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for reviewdesk
type Metrics struct {
	// Reconciliation
	ReconciliationsTotal       *prometheus.CounterVec
	ReconciliationsInflight    prometheus.Gauge
	ConvergencePollsTotal      prometheus.Counter
	ConvergenceDurationSeconds prometheus.Histogram
	RefreshTotal               *prometheus.CounterVec

	// Remote gateway
	GatewayRequestsTotal          *prometheus.CounterVec
	GatewayRequestDurationSeconds *prometheus.HistogramVec

	// Campaign store
	StoreCampaigns *prometheus.GaugeVec
	StoreDesigners prometheus.Gauge

	// Sessions and events
	LoginsTotal          *prometheus.CounterVec
	EventsPublishedTotal *prometheus.CounterVec

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// System metrics
	UptimeSeconds    prometheus.Gauge
	Goroutines       prometheus.Gauge
	StorageUsedBytes prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		ReconciliationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reviewdesk_reconciliations_total",
				Help: "Total number of finished reconciliations by action and final state",
			},
			[]string{"action", "state"},
		),
		ReconciliationsInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "reviewdesk_reconciliations_inflight",
				Help: "Number of reconciliations currently pending",
			},
		),
		ConvergencePollsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "reviewdesk_convergence_polls_total",
				Help: "Total number of convergence poll attempts",
			},
		),
		ConvergenceDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "reviewdesk_convergence_duration_seconds",
				Help:    "Time from upload command to observed convergence",
				Buckets: []float64{1, 5, 10, 20, 30, 60, 90, 120, 180},
			},
		),
		RefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reviewdesk_refresh_total",
				Help: "Total number of store refreshes by outcome",
			},
			[]string{"outcome"},
		),

		GatewayRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reviewdesk_gateway_requests_total",
				Help: "Total number of backend webhook calls",
			},
			[]string{"operation", "outcome"},
		),
		GatewayRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reviewdesk_gateway_request_duration_seconds",
				Help:    "Backend webhook call duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation"},
		),

		StoreCampaigns: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "reviewdesk_store_campaigns",
				Help: "Number of campaigns in the store by status",
			},
			[]string{"status"},
		),
		StoreDesigners: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "reviewdesk_store_designers",
				Help: "Number of designers in the store",
			},
		),

		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reviewdesk_logins_total",
				Help: "Total number of login attempts by outcome",
			},
			[]string{"outcome"},
		),
		EventsPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reviewdesk_events_published_total",
				Help: "Total number of store change events published",
			},
			[]string{"kind", "outcome"},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reviewdesk_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reviewdesk_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reviewdesk_api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"error_type"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "reviewdesk_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "reviewdesk_goroutines",
				Help: "Number of active goroutines",
			},
		),
		StorageUsedBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "reviewdesk_storage_used_bytes",
				Help: "BoltDB file size in bytes",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.ReconciliationsTotal,
		m.ReconciliationsInflight,
		m.ConvergencePollsTotal,
		m.ConvergenceDurationSeconds,
		m.RefreshTotal,
		m.GatewayRequestsTotal,
		m.GatewayRequestDurationSeconds,
		m.StoreCampaigns,
		m.StoreDesigners,
		m.LoginsTotal,
		m.EventsPublishedTotal,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.UptimeSeconds,
		m.Goroutines,
		m.StorageUsedBytes,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// IncReconciliation counts a finished reconciliation
func IncReconciliation(action, state string) {
	m := Global()
	if m != nil {
		m.ReconciliationsTotal.WithLabelValues(action, state).Inc()
	}
}

// SetReconciliationsInflight sets the pending reconciliation gauge
func SetReconciliationsInflight(n int) {
	m := Global()
	if m != nil {
		m.ReconciliationsInflight.Set(float64(n))
	}
}

// IncConvergencePolls counts one poll attempt
func IncConvergencePolls() {
	m := Global()
	if m != nil {
		m.ConvergencePollsTotal.Inc()
	}
}

// ObserveConvergence records how long an upload took to converge
func ObserveConvergence(d time.Duration) {
	m := Global()
	if m != nil {
		m.ConvergenceDurationSeconds.Observe(d.Seconds())
	}
}

// IncRefresh counts a store refresh
func IncRefresh(outcome string) {
	m := Global()
	if m != nil {
		m.RefreshTotal.WithLabelValues(outcome).Inc()
	}
}

// ObserveGatewayRequest records one backend call
func ObserveGatewayRequest(operation, outcome string, d time.Duration) {
	m := Global()
	if m != nil {
		m.GatewayRequestsTotal.WithLabelValues(operation, outcome).Inc()
		m.GatewayRequestDurationSeconds.WithLabelValues(operation).Observe(d.Seconds())
	}
}

// SetStoreCounts replaces the per-status campaign gauges
func SetStoreCounts(byStatus map[string]int, designers int) {
	m := Global()
	if m == nil {
		return
	}
	m.StoreCampaigns.Reset()
	for status, n := range byStatus {
		m.StoreCampaigns.WithLabelValues(status).Set(float64(n))
	}
	m.StoreDesigners.Set(float64(designers))
}

// IncLogin counts a login attempt
func IncLogin(outcome string) {
	m := Global()
	if m != nil {
		m.LoginsTotal.WithLabelValues(outcome).Inc()
	}
}

// IncEventPublished counts a published store event
func IncEventPublished(kind, outcome string) {
	m := Global()
	if m != nil {
		m.EventsPublishedTotal.WithLabelValues(kind, outcome).Inc()
	}
}

// IncAPIErrors increments API error counter
func IncAPIErrors(errorType string) {
	m := Global()
	if m != nil {
		m.APIErrorsTotal.WithLabelValues(errorType).Inc()
	}
}

package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds all Prometheus metric collectors for the ClawSight control
// plane.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Billing gate metrics.
	GateDecisionsTotal        *prometheus.CounterVec
	PaymentVerificationsTotal *prometheus.CounterVec

	// Ledger metrics.
	LedgerWritesTotal   *prometheus.CounterVec
	LedgerWriteDuration prometheus.Histogram
	LedgerEntriesTotal  prometheus.Counter

	// Event sync and heartbeat metrics.
	SyncEventsTotal *prometheus.CounterVec
	HeartbeatsTotal *prometheus.CounterVec

	// Rate limiting metrics.
	RateLimitRejectionsTotal *prometheus.CounterVec

	// Auth metrics.
	AuthFailuresTotal  *prometheus.CounterVec
	AuthSuccessesTotal *prometheus.CounterVec

	// Server lifecycle.
	ServerStartTime prometheus.Gauge
}

// New creates and registers all Prometheus metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clawsight_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clawsight_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path_pattern"}),

		HTTPRequestSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clawsight_http_request_size_bytes",
			Help:    "HTTP request size in bytes.",
			Buckets: prometheus.ExponentialBuckets(100, 10, 6),
		}, []string{"method", "path_pattern"}),

		HTTPResponseSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clawsight_http_response_size_bytes",
			Help:    "HTTP response size in bytes.",
			Buckets: prometheus.ExponentialBuckets(100, 10, 6),
		}, []string{"method", "path_pattern"}),

		GateDecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clawsight_gate_decisions_total",
			Help: "Total number of billing gate decisions by operation kind and outcome.",
		}, []string{"kind", "outcome"}),

		PaymentVerificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clawsight_payment_verifications_total",
			Help: "Total number of payment proof verifications by result.",
		}, []string{"result"}),

		LedgerWritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clawsight_ledger_writes_total",
			Help: "Total number of ledger write transactions.",
		}, []string{"status"}),

		LedgerWriteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "clawsight_ledger_write_duration_seconds",
			Help:    "Duration of ledger write transactions in seconds.",
			Buckets: prometheus.DefBuckets,
		}),

		LedgerEntriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clawsight_ledger_entries_total",
			Help: "Total number of usage entries written to the ledger.",
		}),

		SyncEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clawsight_sync_events_total",
			Help: "Total number of synced agent events by status.",
		}, []string{"status"}),

		HeartbeatsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clawsight_heartbeats_total",
			Help: "Total number of agent heartbeats by status.",
		}, []string{"status"}),

		RateLimitRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clawsight_ratelimit_rejections_total",
			Help: "Total number of rate limit rejections.",
		}, []string{"scope"}),

		AuthFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clawsight_auth_failures_total",
			Help: "Total number of authentication failures.",
		}, []string{"auth_type"}),

		AuthSuccessesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clawsight_auth_successes_total",
			Help: "Total number of successful authentications.",
		}, []string{"auth_type"}),

		ServerStartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clawsight_server_start_time_seconds",
			Help: "Unix timestamp when the server started.",
		}),
	}

	// Register all metrics.
	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSize,
		m.HTTPResponseSize,
		m.GateDecisionsTotal,
		m.PaymentVerificationsTotal,
		m.LedgerWritesTotal,
		m.LedgerWriteDuration,
		m.LedgerEntriesTotal,
		m.SyncEventsTotal,
		m.HeartbeatsTotal,
		m.RateLimitRejectionsTotal,
		m.AuthFailuresTotal,
		m.AuthSuccessesTotal,
		m.ServerStartTime,
	)

	// Set server start time.
	m.ServerStartTime.Set(float64(time.Now().Unix()))

	// Register Go runtime and process collectors.
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry returns the private Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterDBPoolCollector registers a custom DB pool stats collector.
func (m *Metrics) RegisterDBPoolCollector(statFunc DBPoolStatFunc) {
	m.registry.MustRegister(NewDBPoolCollector(statFunc))
}

// ObserveHTTPRequest records one completed HTTP request.
func (m *Metrics) ObserveHTTPRequest(method, pathPattern string, statusCode int, seconds float64, requestBytes, responseBytes float64) {
	status := fmt.Sprintf("%d", statusCode)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(seconds)
	if requestBytes > 0 {
		m.HTTPRequestSize.WithLabelValues(method, pathPattern).Observe(requestBytes)
	}
	if responseBytes > 0 {
		m.HTTPResponseSize.WithLabelValues(method, pathPattern).Observe(responseBytes)
	}
}

// IncGateDecision increments the gate decision counter for a kind/outcome pair.
func (m *Metrics) IncGateDecision(kind, outcome string) {
	m.GateDecisionsTotal.WithLabelValues(kind, outcome).Inc()
}

// IncPaymentVerification increments the proof verification counter.
func (m *Metrics) IncPaymentVerification(result string) {
	m.PaymentVerificationsTotal.WithLabelValues(result).Inc()
}

// ObserveLedgerWrite records one ledger write transaction and the number of
// entries it carried.
func (m *Metrics) ObserveLedgerWrite(status string, seconds float64, entries int) {
	m.LedgerWritesTotal.WithLabelValues(status).Inc()
	m.LedgerWriteDuration.Observe(seconds)
	if entries > 0 {
		m.LedgerEntriesTotal.Add(float64(entries))
	}
}

// IncSyncEvents adds to the synced event counter for the given status.
func (m *Metrics) IncSyncEvents(status string, n int) {
	if n > 0 {
		m.SyncEventsTotal.WithLabelValues(status).Add(float64(n))
	}
}

// IncHeartbeat increments the heartbeat counter for the given status.
func (m *Metrics) IncHeartbeat(status string) {
	m.HeartbeatsTotal.WithLabelValues(status).Inc()
}

// IncRateLimitRejection increments the rate limit rejection counter.
func (m *Metrics) IncRateLimitRejection(scope string) {
	m.RateLimitRejectionsTotal.WithLabelValues(scope).Inc()
}

// IncAuthFailure increments the auth failure counter for the given auth type.
func (m *Metrics) IncAuthFailure(authType string) {
	m.AuthFailuresTotal.WithLabelValues(authType).Inc()
}

// IncAuthSuccess increments the auth success counter for the given auth type.
func (m *Metrics) IncAuthSuccess(authType string) {
	m.AuthSuccessesTotal.WithLabelValues(authType).Inc()
}

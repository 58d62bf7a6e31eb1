package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus collectors of the moderation service.
type Metrics struct {
	Registry *prometheus.Registry

	requestCount    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errorCount      *prometheus.CounterVec

	bansDetected    prometheus.Counter
	teardowns       prometheus.Counter
	unbanWrites     prometheus.Counter
	expiredSessions prometheus.Counter
	offlineMarked   prometheus.Counter
	remoteFailures  *prometheus.CounterVec
	breakerState    prometheus.Gauge
}

// NewMetrics registers all collectors on a dedicated registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		requestCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		errorCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "HTTP errors by domain code.",
		}, []string{"method", "path", "code"}),
		bansDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moderation_bans_detected_total",
			Help: "BanDetected events published by the resolver.",
		}),
		teardowns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moderation_enforcement_teardowns_total",
			Help: "Local session teardowns performed by the enforcement controller.",
		}),
		unbanWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moderation_expiry_unbans_total",
			Help: "Expired sanctions removed by this process.",
		}),
		expiredSessions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "presence_sessions_expired_total",
			Help: "Session records deleted by the reaper.",
		}),
		offlineMarked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "presence_users_marked_offline_total",
			Help: "Profiles flipped offline by the reaper.",
		}),
		remoteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "remote_link_failures_total",
			Help: "Failed remote operations by operation name.",
		}, []string{"op"}),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "remote_link_breaker_state",
			Help: "Circuit breaker state: 0 closed, 1 half-open, 2 open.",
		}),
	}
	m.Registry.MustRegister(
		m.requestCount, m.requestDuration, m.errorCount,
		m.bansDetected, m.teardowns, m.unbanWrites,
		m.expiredSessions, m.offlineMarked,
		m.remoteFailures, m.breakerState,
	)
	return m
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	m.requestCount.WithLabelValues(method, path, code).Inc()
	m.requestDuration.WithLabelValues(method, path, code).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errorCount.WithLabelValues(method, path, code).Inc()
}

func (m *Metrics) BanDetected() {
	if m != nil {
		m.bansDetected.Inc()
	}
}

func (m *Metrics) Teardown() {
	if m != nil {
		m.teardowns.Inc()
	}
}

func (m *Metrics) ExpiryUnban() {
	if m != nil {
		m.unbanWrites.Inc()
	}
}

// ReaperCycle adds the outcome of one cleanup cycle.
func (m *Metrics) ReaperCycle(expired, offline int) {
	if m == nil {
		return
	}
	m.expiredSessions.Add(float64(expired))
	m.offlineMarked.Add(float64(offline))
}

func (m *Metrics) RemoteFailure(op string) {
	if m != nil {
		m.remoteFailures.WithLabelValues(op).Inc()
	}
}

// BreakerState records the numeric breaker state.
func (m *Metrics) BreakerState(state int) {
	if m != nil {
		m.breakerState.Set(float64(state))
	}
}

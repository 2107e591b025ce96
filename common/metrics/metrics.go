package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	ResultSuccess   = "success"
	ResultError     = "error"
	ResultMalformed = "malformed"
)

// Recorder is the metrics surface used by the sync core.
type Recorder interface {
	RecordSyncJob(outcome string)
	RecordSyncRun(provider string, outcome string, duration time.Duration)
	RecordDataPoints(provider, dataType string, persisted, duplicates int)
	RecordTokenRefresh(provider string, result string)
	RecordWebhook(provider string, result string)
	RecordProviderRequest(provider string, status int, duration time.Duration)
	RecordHTTPRequest(method, route string, status int, duration time.Duration)
}

var _ Recorder = (*Metrics)(nil)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	SyncJobsTotal           *prometheus.CounterVec
	SyncRunsTotal           *prometheus.CounterVec
	SyncRunDuration         *prometheus.HistogramVec
	DataPointsPersisted     *prometheus.CounterVec
	DataPointsDeduplicated  *prometheus.CounterVec
	TokenRefreshTotal       *prometheus.CounterVec
	WebhooksTotal           *prometheus.CounterVec
	ProviderRequestsTotal   *prometheus.CounterVec
	ProviderRequestDuration *prometheus.HistogramVec
	HTTPRequestsTotal       *prometheus.CounterVec
	HTTPRequestDuration     *prometheus.HistogramVec
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

// Init returns the Prometheus recorder when enabled, otherwise a no-op.
// Collectors are registered once per process.
func Init(enabled bool) Recorder {
	if !enabled {
		return NewNoop()
	}

	once.Do(func() {
		defaultMetrics = initMetrics()
	})
	return defaultMetrics
}

func initMetrics() *Metrics {
	return &Metrics{
		SyncJobsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_jobs_total",
				Help: "Sync jobs finished, by outcome",
			},
			[]string{"outcome"}, // completed, retry, failed
		),
		SyncRunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_runs_total",
				Help: "Provider sync runs, by provider and outcome",
			},
			[]string{"provider", "outcome"}, // success, partial, error
		),
		SyncRunDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sync_run_duration_seconds",
				Help:    "Wall time of a provider sync run",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
			},
			[]string{"provider"},
		),
		DataPointsPersisted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "health_data_points_persisted_total",
				Help: "Canonical data points inserted",
			},
			[]string{"provider", "data_type"},
		),
		DataPointsDeduplicated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "health_data_points_deduplicated_total",
				Help: "Fetched data points dropped as duplicates",
			},
			[]string{"provider", "data_type"},
		),
		TokenRefreshTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oauth_token_refresh_total",
				Help: "Token refresh attempts",
			},
			[]string{"provider", "result"}, // success, error, reauthorization_required
		),
		WebhooksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhooks_received_total",
				Help: "Provider webhook deliveries",
			},
			[]string{"provider", "result"}, // accepted, rejected, unresolved
		),
		ProviderRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provider_requests_total",
				Help: "Outbound provider API requests",
			},
			[]string{"provider", "status"},
		),
		ProviderRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "provider_request_duration_seconds",
				Help:    "Outbound provider API latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "HTTP requests served",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

func (m *Metrics) RecordSyncJob(outcome string) {
	m.SyncJobsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordSyncRun(provider string, outcome string, duration time.Duration) {
	m.SyncRunsTotal.WithLabelValues(provider, outcome).Inc()
	m.SyncRunDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func (m *Metrics) RecordDataPoints(provider, dataType string, persisted, duplicates int) {
	if persisted > 0 {
		m.DataPointsPersisted.WithLabelValues(provider, dataType).Add(float64(persisted))
	}
	if duplicates > 0 {
		m.DataPointsDeduplicated.WithLabelValues(provider, dataType).Add(float64(duplicates))
	}
}

func (m *Metrics) RecordTokenRefresh(provider string, result string) {
	m.TokenRefreshTotal.WithLabelValues(provider, result).Inc()
}

func (m *Metrics) RecordWebhook(provider string, result string) {
	m.WebhooksTotal.WithLabelValues(provider, result).Inc()
}

func (m *Metrics) RecordProviderRequest(provider string, status int, duration time.Duration) {
	m.ProviderRequestsTotal.WithLabelValues(provider, statusLabel(status)).Inc()
	m.ProviderRequestDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, statusLabel(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func statusLabel(status int) string {
	switch {
	case status == 0:
		return "transport_error"
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status == 429:
		return "429"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

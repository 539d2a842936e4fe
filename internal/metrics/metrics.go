// Package metrics provides Prometheus metrics for docgate
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for docgate
type Metrics struct {
	// Event pipeline metrics
	EventsTotal      *prometheus.CounterVec
	EventDuration    prometheus.Histogram
	FloodBlocksTotal prometheus.Counter

	// Authorization metrics
	AuthAttemptsTotal *prometheus.CounterVec
	BlocksTotal       *prometheus.CounterVec

	// Corpus metrics
	SearchQueriesTotal prometheus.Counter
	SearchResultsTotal prometheus.Counter
	NavigationsTotal   *prometheus.CounterVec

	// Storage metrics
	StoreOperationDuration *prometheus.HistogramVec

	// Server metrics
	SessionsActive      prometheus.Gauge
	ServerUptimeSeconds prometheus.Gauge
	ServerStartTime     time.Time
}

// NewMetrics creates all metrics and registers them with reg. Passing
// a fresh registry keeps repeated construction (as in tests) from
// colliding on the global default.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	m := &Metrics{
		ServerStartTime: time.Now(),
	}

	m.EventsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docgate_events_total",
			Help: "Total number of inbound events by outcome",
		},
		[]string{"outcome"},
	)

	m.EventDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docgate_event_duration_seconds",
			Help:    "Duration of event handling in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	m.FloodBlocksTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "docgate_flood_blocks_total",
			Help: "Total number of flood blocks imposed",
		},
	)

	m.AuthAttemptsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docgate_auth_attempts_total",
			Help: "Total number of credential submissions by status",
		},
		[]string{"status"},
	)

	m.BlocksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docgate_blocks_total",
			Help: "Total number of user blocks by reason",
		},
		[]string{"reason"},
	)

	m.SearchQueriesTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "docgate_search_queries_total",
			Help: "Total number of search queries",
		},
	)

	m.SearchResultsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "docgate_search_results_total",
			Help: "Total number of search results returned",
		},
	)

	m.NavigationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docgate_navigations_total",
			Help: "Total number of tree navigation steps by action",
		},
		[]string{"action"},
	)

	m.StoreOperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docgate_store_operation_duration_seconds",
			Help:    "Duration of storage operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	m.SessionsActive = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "docgate_sessions_active",
			Help: "Number of tracked user sessions",
		},
	)

	m.ServerUptimeSeconds = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "docgate_server_uptime_seconds",
			Help: "Server uptime in seconds",
		},
	)

	// Start uptime updater
	go m.updateUptime()

	return m
}

// updateUptime periodically updates the server uptime metric
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.ServerUptimeSeconds.Set(time.Since(m.ServerStartTime).Seconds())
	}
}

// RecordEvent records one handled event with its outcome
func (m *Metrics) RecordEvent(outcome string, duration time.Duration) {
	m.EventsTotal.WithLabelValues(outcome).Inc()
	m.EventDuration.Observe(duration.Seconds())
}

// RecordAuthAttempt records a credential submission result
func (m *Metrics) RecordAuthAttempt(status string) {
	m.AuthAttemptsTotal.WithLabelValues(status).Inc()
}

// RecordBlock records an imposed block with its reason
func (m *Metrics) RecordBlock(reason string) {
	m.BlocksTotal.WithLabelValues(reason).Inc()
}

// RecordSearch records a search query and its result count
func (m *Metrics) RecordSearch(results int) {
	m.SearchQueriesTotal.Inc()
	m.SearchResultsTotal.Add(float64(results))
}

// RecordStoreOperation records a storage operation duration
func (m *Metrics) RecordStoreOperation(operation string, duration time.Duration) {
	m.StoreOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Analysis metrics
	Analyses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amlwatch_analyses_total",
			Help: "Total number of analysis requests",
		},
		[]string{"status"}, // success, partial, error, invalid
	)

	AnalysisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "amlwatch_analysis_duration_seconds",
			Help:    "Duration of full explore/score/assemble runs",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 20, 30, 60},
		},
	)

	RiskLevels = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amlwatch_risk_levels_total",
			Help: "Reports produced per risk level",
		},
		[]string{"level"}, // Low, Medium, High, Critical
	)

	RiskScores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "amlwatch_risk_scores",
			Help:    "Distribution of final risk scores (0-100 scale)",
			Buckets: []float64{10, 20, 25, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)

	Signals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amlwatch_signals_total",
			Help: "Risk signals emitted by kind",
		},
		[]string{"kind"},
	)

	NodesVisited = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "amlwatch_traversal_nodes_visited",
			Help:    "Nodes visited per traversal",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		},
	)

	// Cache metrics
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amlwatch_cache_lookups_total",
			Help: "Result cache lookups",
		},
		[]string{"result"}, // hit, miss, shared
	)

	CacheInvalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "amlwatch_cache_invalidations_total",
			Help: "Cache invalidations triggered by blacklist changes",
		},
	)

	// Alert metrics
	AlertsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amlwatch_alerts_sent_total",
			Help: "Total number of alerts sent",
		},
		[]string{"status", "severity"}, // success/error, INFO/WARN/ALERT
	)

	// API metrics
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amlwatch_api_requests_total",
			Help: "Total number of ledger API requests",
		},
		[]string{"api", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "amlwatch_api_request_duration_seconds",
			Help:    "Duration of ledger API requests",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"api", "endpoint"},
	)

	APIRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amlwatch_api_retries_total",
			Help: "Ledger API retries after transient failures",
		},
		[]string{"api"},
	)

	// Database metrics
	DatabaseQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amlwatch_database_queries_total",
			Help: "Total number of blacklist persistence operations",
		},
		[]string{"operation", "status"},
	)

	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "amlwatch_database_query_duration_seconds",
			Help:    "Duration of blacklist persistence operations",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	BlacklistChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amlwatch_blacklist_changes_total",
			Help: "Blacklist mutations by operation",
		},
		[]string{"operation"}, // add, remove
	)

	// System health
	HealthChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amlwatch_health_checks_total",
			Help: "Total number of health check requests",
		},
		[]string{"status"},
	)
)

// RecordAnalysis records the outcome of one analysis run
func RecordAnalysis(duration time.Duration, status string) {
	Analyses.WithLabelValues(status).Inc()
	AnalysisDuration.Observe(duration.Seconds())
}

// RecordReport records score, level and signal counts of an assembled report
func RecordReport(score float64, level string, visited int, signalKinds []string) {
	RiskScores.Observe(score)
	RiskLevels.WithLabelValues(level).Inc()
	NodesVisited.Observe(float64(visited))
	for _, kind := range signalKinds {
		Signals.WithLabelValues(kind).Inc()
	}
}

// RecordCacheLookup records a cache hit, miss, or shared in-flight result
func RecordCacheLookup(result string) {
	CacheLookups.WithLabelValues(result).Inc()
}

// RecordAlert records alert delivery
func RecordAlert(sendStatus, severity string) {
	AlertsSent.WithLabelValues(sendStatus, severity).Inc()
}

// RegisterLedgerTokens exports fn as the amlwatch_ledger_tokens_available
// gauge. It is called once with the shared ledger limiter.
func RegisterLedgerTokens(fn func() float64) error {
	return prometheus.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "amlwatch_ledger_tokens_available",
			Help: "Tokens left in the shared ledger rate limiter",
		},
		fn,
	))
}

// RecordAPIRequest records API request metrics
func RecordAPIRequest(api, endpoint string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	APIRequests.WithLabelValues(api, endpoint, status).Inc()
	APIRequestDuration.WithLabelValues(api, endpoint).Observe(duration.Seconds())
}

// RecordDatabaseQuery records database query metrics
func RecordDatabaseQuery(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	DatabaseQueries.WithLabelValues(operation, status).Inc()
	DatabaseQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordHealthCheck records health check status
func RecordHealthCheck(healthy bool) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	HealthChecks.WithLabelValues(status).Inc()
}

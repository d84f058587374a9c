package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "careerkit"

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		},
	)
)

// Provider metrics (no user label to avoid cardinality)
var (
	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Provider attempts by outcome (success or error kind)",
		},
		[]string{"provider", "op", "outcome"},
	)

	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_seconds",
			Help:      "Provider call latency distribution",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60},
		},
		[]string{"provider", "op"},
	)

	ProviderFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_fallbacks_total",
			Help:      "Times the router advanced past a failed provider",
		},
		[]string{"from", "op", "error_kind"},
	)

	AllProvidersFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "all_providers_failed_total",
			Help:      "Requests for which every candidate provider failed",
		},
		[]string{"op"},
	)

	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_tokens_total",
			Help:      "Tokens reported by providers",
		},
		[]string{"provider", "direction"},
	)

	CostUSDTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_cost_usd_total",
			Help:      "Committed provider cost in USD",
		},
		[]string{"provider"},
	)
)

// Quota and ledger metrics
var (
	QuotaRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_rejections_total",
			Help:      "Requests rejected by the quota gate",
		},
		[]string{"op", "tier", "reason"},
	)

	LedgerRollovers = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_rollovers_total",
			Help:      "Usage records superseded by a new billing period",
		},
	)

	ReservationsRolledBack = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_rollbacks_total",
			Help:      "Reservations released without a commit",
		},
		[]string{"counter"},
	)

	DedupHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_hits_total",
			Help:      "Parses served without calling an OCR provider",
		},
		[]string{"source"},
	)

	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-user token rate limiter",
		},
	)
)

// Background worker metrics
var (
	AuditQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "audit_queue_depth",
			Help:      "Audit log entries waiting to be written",
		},
	)

	AuditWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_writes_total",
			Help:      "Audit log writes by status",
		},
		[]string{"status"},
	)
)

// RecordTokens adds provider-reported token counts.
func RecordTokens(provider string, in, out int) {
	if in > 0 {
		TokensTotal.WithLabelValues(provider, "input").Add(float64(in))
	}
	if out > 0 {
		TokensTotal.WithLabelValues(provider, "output").Add(float64(out))
	}
}

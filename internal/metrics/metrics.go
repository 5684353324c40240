package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aigateway_requests_total",
			Help: "Total number of requests processed",
		},
		[]string{"tenant_id", "provider", "model", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aigateway_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"tenant_id", "provider", "model"},
	)

	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aigateway_tokens_total",
			Help: "Total number of tokens processed",
		},
		[]string{"tenant_id", "provider", "model", "type"},
	)

	CostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aigateway_cost_usd_total",
			Help: "Total cost in USD",
		},
		[]string{"tenant_id", "provider", "model"},
	)

	FallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aigateway_fallbacks_total",
			Help: "Total number of requests answered by a fallback provider",
		},
		[]string{"tenant_id", "provider", "reason"},
	)

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aigateway_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"tenant_id"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aigateway_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"tenant_id"},
	)

	CacheSavedCost = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aigateway_cache_saved_cost_usd_total",
			Help: "Estimated USD spend avoided by cache hits",
		},
		[]string{"tenant_id"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aigateway_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"provider"},
	)

	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aigateway_provider_errors_total",
			Help: "Total number of provider errors",
		},
		[]string{"provider", "error_class"},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aigateway_rate_limit_hits_total",
			Help: "Total number of rate limit hits",
		},
		[]string{"tenant_id"},
	)

	BudgetUsageRatio = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aigateway_budget_usage_ratio",
			Help: "Current budget usage ratio (0-1)",
		},
		[]string{"tenant_id"},
	)

	BudgetDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aigateway_budget_denials_total",
			Help: "Requests denied at budget admission",
		},
		[]string{"tenant_id"},
	)

	UsagePersistFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aigateway_usage_persist_failures_total",
			Help: "Usage records that could not be persisted",
		},
	)

	UsageDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aigateway_usage_dropped_total",
			Help: "Usage records dropped because the queue was full",
		},
	)
)

func RecordRequest(tenantID, provider, model, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(tenantID, provider, model, status).Inc()
	RequestDuration.WithLabelValues(tenantID, provider, model).Observe(durationSec)
}

func RecordTokens(tenantID, provider, model string, inputTokens, outputTokens int) {
	TokensTotal.WithLabelValues(tenantID, provider, model, "input").Add(float64(inputTokens))
	TokensTotal.WithLabelValues(tenantID, provider, model, "output").Add(float64(outputTokens))
}

func RecordCost(tenantID, provider, model string, costUSD float64) {
	CostTotal.WithLabelValues(tenantID, provider, model).Add(costUSD)
}

func RecordFallback(tenantID, provider, reason string) {
	FallbacksTotal.WithLabelValues(tenantID, provider, reason).Inc()
}

func RecordCacheHit(tenantID string, savedCostUSD float64) {
	CacheHits.WithLabelValues(tenantID).Inc()
	CacheSavedCost.WithLabelValues(tenantID).Add(savedCostUSD)
}

func RecordCacheMiss(tenantID string) {
	CacheMisses.WithLabelValues(tenantID).Inc()
}

func RecordProviderError(provider, errorClass string) {
	ProviderErrors.WithLabelValues(provider, errorClass).Inc()
}

func RecordRateLimitHit(tenantID string) {
	RateLimitHits.WithLabelValues(tenantID).Inc()
}

func SetCircuitBreakerState(provider string, state int) {
	CircuitBreakerState.WithLabelValues(provider).Set(float64(state))
}

func SetBudgetUsage(tenantID string, ratio float64) {
	BudgetUsageRatio.WithLabelValues(tenantID).Set(ratio)
}

func RecordBudgetDenial(tenantID string) {
	BudgetDenials.WithLabelValues(tenantID).Inc()
}

func RecordUsagePersistFailure() {
	UsagePersistFailures.Inc()
}

func RecordUsageDropped() {
	UsageDropped.Inc()
}

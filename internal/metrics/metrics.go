package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Provider, request layer and pipeline metrics. Strategy labels carry the
// decimal strategy key.

var (
	// Providers
	RPCCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ratekeeper",
		Subsystem: "rpc",
		Name:      "calls_total",
		Help:      "Total JSON-RPC calls by provider, method and status",
	}, []string{"provider", "method", "status"})

	RPCRateLimitWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ratekeeper",
		Subsystem: "rpc",
		Name:      "rate_limit_waits_total",
		Help:      "Total calls that waited on the per-provider rate limiter",
	}, []string{"provider"})

	RPCCallLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ratekeeper",
		Subsystem: "rpc",
		Name:      "call_duration_seconds",
		Help:      "JSON-RPC call duration",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"provider", "method"})

	ProviderCircuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ratekeeper",
		Subsystem: "rpc",
		Name:      "circuit_state",
		Help:      "Circuit breaker state per provider (0=closed, 1=open, 2=half-open)",
	}, []string{"provider"})

	// Reputation
	ProviderReputationScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ratekeeper",
		Subsystem: "reputation",
		Name:      "score",
		Help:      "Current reputation score per provider",
	}, []string{"provider"})

	ReputationDisagreements = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ratekeeper",
		Subsystem: "reputation",
		Name:      "disagreements_total",
		Help:      "Total requests whose providers returned disagreeing results",
	})

	// Request layer
	RequesterAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ratekeeper",
		Subsystem: "requester",
		Name:      "attempts_total",
		Help:      "Total request attempts by shape and outcome",
	}, []string{"shape", "outcome"})

	RequesterBudgetEscalations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ratekeeper",
		Subsystem: "requester",
		Name:      "budget_escalations_total",
		Help:      "Total response byte budget doublings",
	}, []string{"shape"})

	RequesterRotations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ratekeeper",
		Subsystem: "requester",
		Name:      "rotations_total",
		Help:      "Total provider rotations after failed single-provider requests",
	})

	// Pipeline
	PipelineRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ratekeeper",
		Subsystem: "pipeline",
		Name:      "runs_total",
		Help:      "Total pipeline runs by outcome",
	}, []string{"strategy", "outcome"})

	PipelineRunLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ratekeeper",
		Subsystem: "pipeline",
		Name:      "run_duration_seconds",
		Help:      "Pipeline run duration",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"strategy"})

	PipelineLockContention = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ratekeeper",
		Subsystem: "pipeline",
		Name:      "lock_contention_total",
		Help:      "Total runs rejected because the strategy lock was held",
	}, []string{"strategy"})

	PipelineRateUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ratekeeper",
		Subsystem: "pipeline",
		Name:      "rate_updates_total",
		Help:      "Total accepted rate update transactions by direction",
	}, []string{"strategy", "direction"})

	PipelineNonceResends = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ratekeeper",
		Subsystem: "pipeline",
		Name:      "nonce_resends_total",
		Help:      "Total transaction resends after a nonce mismatch",
	}, []string{"strategy"})

	PipelineLatestRate = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ratekeeper",
		Subsystem: "pipeline",
		Name:      "latest_rate",
		Help:      "Latest applied annual interest rate (fraction, 1 = 100%)",
	}, []string{"strategy"})

	RunnerAttempts = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ratekeeper",
		Subsystem: "runner",
		Name:      "attempts",
		Help:      "Pipeline attempts used per scheduled firing",
		Buckets:   []float64{1, 2, 3, 4, 5},
	}, []string{"strategy"})

	// Alerts
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ratekeeper",
		Subsystem: "alert",
		Name:      "sent_total",
		Help:      "Total alerts sent by channel and type",
	}, []string{"channel", "type"})

	AlertsCooldownSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ratekeeper",
		Subsystem: "alert",
		Name:      "cooldown_skipped_total",
		Help:      "Total alerts suppressed by cooldown",
	}, []string{"channel", "type"})

	// Store
	DBPoolOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ratekeeper",
		Subsystem: "db_pool",
		Name:      "open_connections",
		Help:      "Number of open connections in the DB pool",
	})

	DBPoolInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ratekeeper",
		Subsystem: "db_pool",
		Name:      "in_use",
		Help:      "Number of in-use connections in the DB pool",
	})

	JournalAppendErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ratekeeper",
		Subsystem: "journal",
		Name:      "append_errors_total",
		Help:      "Total failed narrative journal appends",
	})
)

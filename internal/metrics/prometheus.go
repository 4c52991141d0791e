package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus series, partitioned by niche and strategy where it makes sense.

var (
	// Runs
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leadworker",
		Subsystem: "orchestrator",
		Name:      "runs_total",
		Help:      "Total acquisition runs by terminal status",
	}, []string{"niche", "status"})

	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leadworker",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "HTTP requests by route and status code",
	}, []string{"route", "code"})

	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "leadworker",
		Subsystem: "orchestrator",
		Name:      "run_duration_seconds",
		Help:      "Acquisition run duration",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"niche"})

	LeadsInserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leadworker",
		Subsystem: "store",
		Name:      "leads_inserted_total",
		Help:      "Net-new leads persisted",
	}, []string{"niche", "strategy"})

	LeadsDuplicate = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leadworker",
		Subsystem: "store",
		Name:      "leads_duplicate_total",
		Help:      "Candidates that updated an existing lead",
	}, []string{"niche", "strategy"})

	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leadworker",
		Subsystem: "store",
		Name:      "errors_total",
		Help:      "Per-candidate persistence failures",
	}, []string{"strategy"})

	// Strategies
	StrategyAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leadworker",
		Subsystem: "strategy",
		Name:      "attempts_total",
		Help:      "Strategy invocations",
	}, []string{"strategy"})

	StrategyFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leadworker",
		Subsystem: "strategy",
		Name:      "failures_total",
		Help:      "Strategy invocations that ended in an error, by class",
	}, []string{"strategy", "class"})

	StrategyCandidates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leadworker",
		Subsystem: "strategy",
		Name:      "candidates_total",
		Help:      "Raw candidates returned by strategies",
	}, []string{"strategy"})

	StrategyLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "leadworker",
		Subsystem: "strategy",
		Name:      "fetch_duration_seconds",
		Help:      "Strategy FetchCandidates duration",
		Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
	}, []string{"strategy"})

	// Shared resources
	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leadworker",
		Subsystem: "ratelimit",
		Name:      "rejections_total",
		Help:      "Requests refused because the window was full past the caller deadline",
	}, []string{"key"})

	ProxyReleases = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leadworker",
		Subsystem: "proxy",
		Name:      "releases_total",
		Help:      "Proxy releases by outcome",
	}, []string{"outcome"})

	ProxyEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "leadworker",
		Subsystem: "proxy",
		Name:      "evictions_total",
		Help:      "Proxies removed after repeated blocks",
	})

	ProxyQuarantines = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "leadworker",
		Subsystem: "proxy",
		Name:      "quarantines_total",
		Help:      "Proxies benched after repeated failures",
	})

	ProxyPoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "leadworker",
		Subsystem: "proxy",
		Name:      "pool_size",
		Help:      "Proxies currently in the pool",
	})

	SessionRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leadworker",
		Subsystem: "session",
		Name:      "refreshes_total",
		Help:      "Session refreshes actually executed, by result",
	}, []string{"key", "result"})

	// Alerts
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leadworker",
		Subsystem: "alert",
		Name:      "sent_total",
		Help:      "Alerts delivered by channel and kind",
	}, []string{"channel", "kind"})

	AlertsCooldownSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leadworker",
		Subsystem: "alert",
		Name:      "cooldown_skipped_total",
		Help:      "Alerts suppressed by cooldown",
	}, []string{"kind"})

	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "leadworker",
		Subsystem: "strategy",
		Name:      "breaker_state",
		Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open)",
	}, []string{"name"})
)

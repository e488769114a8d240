// Package observability exposes the engine's Prometheus collectors,
// gated by a package-level enabled flag so every recording call is a
// cheap no-op when metrics are off.
package observability

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var enabled atomic.Bool

// Init registers every collector against r and enables recording. Passing
// a nil registerer or isEnabled=false leaves metrics recording disabled;
// every Observe*/Inc* call below is then a cheap no-op.
func Init(r prometheus.Registerer, isEnabled bool) {
	enabled.Store(isEnabled)
	if !isEnabled || r == nil {
		return
	}
	initCollectors(r)
}

// Enabled reports whether metrics recording is active.
func Enabled() bool { return enabled.Load() }

var (
	upstreamAttemptsTotal  *prometheus.CounterVec
	upstreamLatencySeconds *prometheus.HistogramVec
	rateLimitTotal         *prometheus.CounterVec

	cacheHitsTotal   *prometheus.CounterVec
	cacheMissesTotal *prometheus.CounterVec

	singleFlightCoalescedTotal prometheus.Counter
	resolveLatencySeconds      *prometheus.HistogramVec
	resolveOutcomeTotal        *prometheus.CounterVec

	autoUpdateBatchTotal  *prometheus.CounterVec
	autoUpdateTargetTotal *prometheus.CounterVec
)

func initCollectors(r prometheus.Registerer) {
	upstreamAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "weather_summary",
		Name:      "upstream_attempts_total",
		Help:      "Upstream fetch attempts by family/year label and outcome.",
	}, []string{"label", "outcome"})

	upstreamLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "weather_summary",
		Name:      "upstream_latency_seconds",
		Help:      "Upstream request latency per attempt, by family/year label.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"label"})

	rateLimitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "weather_summary",
		Name:      "rate_limit_total",
		Help:      "Count of 429 responses observed, by family/year label.",
	}, []string{"label"})

	cacheHitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "weather_summary",
		Name:      "cache_hits_total",
		Help:      "Cache hits by tier (memory, disk, redis, snapshot, manual).",
	}, []string{"tier"})

	cacheMissesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "weather_summary",
		Name:      "cache_misses_total",
		Help:      "Cache misses by tier.",
	}, []string{"tier"})

	singleFlightCoalescedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "weather_summary",
		Name:      "singleflight_coalesced_total",
		Help:      "Count of resolve calls that joined an in-flight build instead of starting one.",
	})

	resolveLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "weather_summary",
		Name:      "resolve_latency_seconds",
		Help:      "End-to-end resolve latency by outcome source.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"source"})

	resolveOutcomeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "weather_summary",
		Name:      "resolve_outcome_total",
		Help:      "Resolve calls by source (refreshed, snapshot_fresh, snapshot_stale) or error.",
	}, []string{"source"})

	autoUpdateBatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "weather_summary",
		Name:      "auto_update_batch_total",
		Help:      "Auto-updater batches run, by outcome.",
	}, []string{"outcome"})

	autoUpdateTargetTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "weather_summary",
		Name:      "auto_update_target_total",
		Help:      "Auto-updater per-target outcomes within a batch.",
	}, []string{"outcome"})

	r.MustRegister(
		upstreamAttemptsTotal,
		upstreamLatencySeconds,
		rateLimitTotal,
		cacheHitsTotal,
		cacheMissesTotal,
		singleFlightCoalescedTotal,
		resolveLatencySeconds,
		resolveOutcomeTotal,
		autoUpdateBatchTotal,
		autoUpdateTargetTotal,
	)
}

func ObserveUpstreamAttempt(label, outcome string) {
	if !enabled.Load() || upstreamAttemptsTotal == nil {
		return
	}
	upstreamAttemptsTotal.WithLabelValues(label, outcome).Inc()
}

func ObserveUpstreamLatency(label string, seconds float64) {
	if !enabled.Load() || upstreamLatencySeconds == nil {
		return
	}
	upstreamLatencySeconds.WithLabelValues(label).Observe(seconds)
}

func ObserveRateLimit(label string) {
	if !enabled.Load() || rateLimitTotal == nil {
		return
	}
	rateLimitTotal.WithLabelValues(label).Inc()
}

func AddCacheHit(tier string) {
	if !enabled.Load() || cacheHitsTotal == nil {
		return
	}
	cacheHitsTotal.WithLabelValues(tier).Inc()
}

func AddCacheMiss(tier string) {
	if !enabled.Load() || cacheMissesTotal == nil {
		return
	}
	cacheMissesTotal.WithLabelValues(tier).Inc()
}

func IncSingleFlightCoalesced() {
	if !enabled.Load() || singleFlightCoalescedTotal == nil {
		return
	}
	singleFlightCoalescedTotal.Inc()
}

func ObserveResolve(source string, dur time.Duration) {
	if !enabled.Load() || resolveLatencySeconds == nil {
		return
	}
	resolveLatencySeconds.WithLabelValues(source).Observe(dur.Seconds())
	resolveOutcomeTotal.WithLabelValues(source).Inc()
}

func ObserveAutoUpdateBatch(outcome string) {
	if !enabled.Load() || autoUpdateBatchTotal == nil {
		return
	}
	autoUpdateBatchTotal.WithLabelValues(outcome).Inc()
}

func ObserveAutoUpdateTarget(outcome string) {
	if !enabled.Load() || autoUpdateTargetTotal == nil {
		return
	}
	autoUpdateTargetTotal.WithLabelValues(outcome).Inc()
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MintRequestsTotal counts credential requests by flow and outcome
	MintRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "token_broker_mint_requests_total",
		Help: "Total number of credential requests handled",
	}, []string{"flow", "outcome"})

	// UpstreamDuration tracks latency of outbound calls
	UpstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "token_broker_upstream_duration_seconds",
		Help:    "Outbound call duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"target"}) // "token", "proxy", "time", "secrets"

	// SecretResolutionsTotal counts secret lookups by where the record came from
	SecretResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "token_broker_secret_resolutions_total",
		Help: "Total number of secret resolutions by source",
	}, []string{"source"}) // "fresh", "cached", "stale", "default"

	// TimeSyncFallbacksTotal counts requests that used the local clock
	TimeSyncFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "token_broker_time_sync_fallbacks_total",
		Help: "Total number of time synchronizations that fell back to the local clock",
	})

	// CacheLookupsTotal counts response cache lookups
	CacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "token_broker_cache_lookups_total",
		Help: "Total number of response cache lookups",
	}, []string{"result"}) // "hit" or "miss"
)

// NewCacheSizeCollector reports the response cache size, read at scrape time
func NewCacheSizeCollector(size func() int) prometheus.Collector {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "token_broker_cache_size",
		Help: "Current number of cached credential responses",
	}, func() float64 {
		return float64(size())
	})
}

// RecordMint records a handled credential request
func RecordMint(flow, outcome string) {
	MintRequestsTotal.WithLabelValues(flow, outcome).Inc()
}

// RecordUpstreamDuration records an outbound call duration
func RecordUpstreamDuration(target string, seconds float64) {
	UpstreamDuration.WithLabelValues(target).Observe(seconds)
}

// RecordSecretSource records where a secret record was resolved from
func RecordSecretSource(source string) {
	SecretResolutionsTotal.WithLabelValues(source).Inc()
}

// RecordCacheLookup records a cache hit or miss
func RecordCacheLookup(hit bool) {
	if hit {
		CacheLookupsTotal.WithLabelValues("hit").Inc()
		return
	}
	CacheLookupsTotal.WithLabelValues("miss").Inc()
}

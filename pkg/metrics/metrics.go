package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gateway-level Prometheus collectors. Registered on the default registry and
// exposed through promhttp in the router.
var (
	ChatRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_chat_requests_total",
		Help: "Chat requests received, by outcome.",
	}, []string{"outcome"})

	RateLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_rate_limit_rejections_total",
		Help: "Requests rejected by the per-identity rate limiter.",
	})

	QuotaRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_quota_rejections_total",
		Help: "Messages rejected by the daily quota, by tier.",
	}, []string{"tier"})

	ProviderFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_provider_failures_total",
		Help: "Failed provider calls, by provider name.",
	}, []string{"provider"})

	ProviderFailovers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_provider_failovers_total",
		Help: "Times the engine advanced to a fallback candidate.",
	})

	StreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_stream_duration_seconds",
		Help:    "Wall time of a streamed generation, by provider.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})

	ContextCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_context_cache_total",
		Help: "Context cache lookups, by result (hit/miss/error).",
	}, []string{"result"})
)

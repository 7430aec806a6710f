package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// total requests per endpoint, method and status code
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adrotation_requests_total",
			Help: "Total API requests received",
		},
		[]string{"endpoint", "method", "status"},
	)

	// request latency in seconds per endpoint/method
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adrotation_request_duration_seconds",
			Help:    "Histogram of request latencies",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)

	// impression events per placement section
	ImpressionCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adrotation_impressions_total",
			Help: "Total impression events",
		},
		[]string{"placement"},
	)

	// click events per placement section
	ClickCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adrotation_clicks_total",
			Help: "Total click events",
		},
		[]string{"placement"},
	)

	// rotation results served straight from the cache
	CacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adrotation_cache_hits_total",
			Help: "Total rotation cache hits",
		},
	)

	// rotation results that had to be recomputed
	CacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adrotation_cache_misses_total",
			Help: "Total rotation cache misses",
		},
	)

	// campaigns observed entering the read model, by owner type
	CampaignsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adrotation_campaigns_created_total",
			Help: "Total campaigns created",
		},
		[]string{"owner_type"},
	)

	// rotation computation latency in milliseconds per section
	RotationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adrotation_rotation_duration_ms",
			Help:    "Rotation computation duration in milliseconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
		[]string{"section"},
	)
)

func init() {
	// register all metrics
	prometheus.MustRegister(
		RequestCount,
		RequestLatency,
		ImpressionCount,
		ClickCount,
		CacheHits,
		CacheMisses,
		CampaignsCreated,
		RotationDuration,
	)
}

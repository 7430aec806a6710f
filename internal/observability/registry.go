package observability

import "time"

// MetricsRegistry provides an interface for recording application metrics
// This replaces direct access to global Prometheus metrics with dependency injection
type MetricsRegistry interface {
	// HTTP Request metrics
	IncrementRequests(endpoint, method, status string)
	RecordRequestLatency(endpoint, method string, duration time.Duration)

	// Event tracking metrics
	IncrementImpressions(placement string)
	IncrementClicks(placement string)

	// Rotation cache metrics
	IncrementCacheHits()
	IncrementCacheMisses()

	// Campaign read-model metrics
	IncrementCampaignsCreated(ownerType string)

	// Rotation computation latency
	RecordRotationDuration(section string, duration time.Duration)
}

// PrometheusRegistry implements MetricsRegistry using the global Prometheus metrics
type PrometheusRegistry struct{}

// NewPrometheusRegistry creates a new PrometheusRegistry
func NewPrometheusRegistry() *PrometheusRegistry {
	return &PrometheusRegistry{}
}

// HTTP Request metrics
func (r *PrometheusRegistry) IncrementRequests(endpoint, method, status string) {
	RequestCount.WithLabelValues(endpoint, method, status).Inc()
}

func (r *PrometheusRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {
	RequestLatency.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

// Event tracking metrics
func (r *PrometheusRegistry) IncrementImpressions(placement string) {
	ImpressionCount.WithLabelValues(placement).Inc()
}

func (r *PrometheusRegistry) IncrementClicks(placement string) {
	ClickCount.WithLabelValues(placement).Inc()
}

// Rotation cache metrics
func (r *PrometheusRegistry) IncrementCacheHits() {
	CacheHits.Inc()
}

func (r *PrometheusRegistry) IncrementCacheMisses() {
	CacheMisses.Inc()
}

// Campaign read-model metrics
func (r *PrometheusRegistry) IncrementCampaignsCreated(ownerType string) {
	CampaignsCreated.WithLabelValues(ownerType).Inc()
}

// Rotation computation latency
func (r *PrometheusRegistry) RecordRotationDuration(section string, duration time.Duration) {
	RotationDuration.WithLabelValues(section).Observe(float64(duration.Milliseconds()))
}

// NoOpRegistry implements MetricsRegistry with no-op methods for testing
type NoOpRegistry struct{}

// NewNoOpRegistry creates a new NoOpRegistry
func NewNoOpRegistry() *NoOpRegistry {
	return &NoOpRegistry{}
}

func (r *NoOpRegistry) IncrementRequests(endpoint, method, status string)                    {}
func (r *NoOpRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}
func (r *NoOpRegistry) IncrementImpressions(placement string)                                {}
func (r *NoOpRegistry) IncrementClicks(placement string)                                     {}
func (r *NoOpRegistry) IncrementCacheHits()                                                  {}
func (r *NoOpRegistry) IncrementCacheMisses()                                                {}
func (r *NoOpRegistry) IncrementCampaignsCreated(ownerType string)                           {}
func (r *NoOpRegistry) RecordRotationDuration(section string, duration time.Duration)        {}

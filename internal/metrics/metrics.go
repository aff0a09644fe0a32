package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// Optimizations counts completed optimizations by strategy
	Optimizations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "route_optimizations_total", Help: "Route optimizations by strategy."},
		[]string{"strategy"},
	)
	// OptimizeDuration tracks strategy run time in seconds
	OptimizeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "route_optimize_duration_seconds", Help: "Strategy run time in seconds.", Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10}},
		[]string{"strategy"},
	)
	// CacheLookups counts route cache lookups by result (hit, miss, error)
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "route_cache_lookups_total", Help: "Route cache lookups by result."},
		[]string{"result"},
	)
	// ProviderCalls counts travel lookups by outcome (ok, fallback)
	ProviderCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "travel_provider_calls_total", Help: "Travel provider lookups by outcome."},
		[]string{"outcome"},
	)
	// Adjustments counts suggested re-plans by reason
	Adjustments = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "route_adjustments_total", Help: "Suggested route adjustments by reason."},
		[]string{"reason"},
	)
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(Optimizations)
		Registry.MustRegister(OptimizeDuration)
		Registry.MustRegister(CacheLookups)
		Registry.MustRegister(ProviderCalls)
		Registry.MustRegister(Adjustments)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once

package observability

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WindowCounter reports sliding-window request and denial counts. Implemented by traffic.Tracker.
type WindowCounter interface {
	RequestCount(window time.Duration) int
	DenialCount(window time.Duration) int
}

// Metrics holds every application collector. One instance is built in main and passed
// to the packages that record against it.
type Metrics struct {
	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTP request latency. Watch for: p95/p99 increases.
	HTTPRequestDuration *prometheus.HistogramVec
	// Concurrent requests in flight. Watch for: saturation.
	HTTPRequestsInFlight prometheus.Gauge

	// Open-Meteo call rate by outcome.
	ProviderCallsTotal *prometheus.CounterVec
	// Open-Meteo latency per attempt. Watch for: p99 near the 10s attempt timeout.
	ProviderDuration *prometheus.HistogramVec
	// Retry attempts. Watch for: high retries = unstable upstream.
	ProviderRetriesTotal prometheus.Counter
	// Provider failures by error kind (after retries).
	ProviderErrorsTotal *prometheus.CounterVec

	CacheHitsTotal     *prometheus.CounterVec
	CacheMissesTotal   *prometheus.CounterVec
	CacheErrorsTotal   *prometheus.CounterVec
	CacheOperationTime *prometheus.HistogramVec
	CacheSweepsTotal   prometheus.Counter
	// Concurrent misses on the same key. Watch for: hot keys expiring under load.
	CacheStampedeDetectedTotal prometheus.Counter
	CacheStampedeConcurrency   prometheus.Histogram
	CacheWarmingTotal          prometheus.Counter
	CacheWarmingErrorsTotal    prometheus.Counter
	CacheWarmingDuration       prometheus.Histogram

	// Pipeline outcomes: success | failure.
	PipelineResultsTotal *prometheus.CounterVec
	// Alerts raised by type and severity.
	AlertsTotal *prometheus.CounterVec
	// Per-location query count (allow-list; others go to "other").
	WeatherQueriesByLocationTotal *prometheus.CounterVec

	RateLimitDeniedTotal prometheus.Counter

	// 0 closed, 1 half-open, 2 open.
	CircuitBreakerState       *prometheus.GaugeVec
	CircuitBreakerTransitions *prometheus.CounterVec

	reg prometheus.Registerer

	trackedMu sync.RWMutex
	tracked   map[string]struct{}

	windowOnce sync.Once
}

// NewRegistry returns a registry preloaded with the process and Go runtime collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return reg
}

// NewMetrics creates the application collectors and registers them with reg.
// It panics if reg already holds collectors with the same names.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reg: reg,
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "statusCode"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		HTTPRequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		}),
		ProviderCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "providerCallsTotal",
			Help: "Total number of Open-Meteo forecast calls (per attempt)",
		}, []string{"status"}),
		ProviderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "providerDurationSeconds",
			Help:    "Open-Meteo latency in seconds (per attempt)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"status"}),
		ProviderRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "providerRetriesTotal",
			Help: "Total number of retry attempts for Open-Meteo calls",
		}),
		ProviderErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "providerErrorsTotal",
			Help: "Failed fetches after retries, by error kind",
		}, []string{"kind"}),
		CacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of cache hits",
		}, []string{"backend"}),
		CacheMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cacheMissesTotal",
			Help: "Total number of cache misses",
		}, []string{"backend"}),
		CacheErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Cache backend errors by operation and category",
		}, []string{"operation", "category"}),
		CacheOperationTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cacheOperationDurationSeconds",
			Help:    "Cache operation latency in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5},
		}, []string{"operation", "result"}),
		CacheSweepsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cacheSweepsTotal",
			Help: "Scheduled expired-entry sweeps",
		}),
		CacheStampedeDetectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cacheStampedeDetectedTotal",
			Help: "Misses that found another miss in progress for the same key",
		}),
		CacheStampedeConcurrency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cacheStampedeConcurrency",
			Help:    "Concurrent misses per key when a stampede is detected",
			Buckets: []float64{2, 3, 5, 10, 25, 50},
		}),
		CacheWarmingTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Cache warming runs",
		}),
		CacheWarmingErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Locations that failed to warm",
		}),
		CacheWarmingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cacheWarmingDurationSeconds",
			Help:    "Duration of a full warming run",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60},
		}),
		PipelineResultsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipelineResultsTotal",
			Help: "Weather pipeline outcomes",
		}, []string{"result"}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertsTotal",
			Help: "Weather alerts raised by type and severity",
		}, []string{"type", "severity"}),
		WeatherQueriesByLocationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weatherQueriesByLocationTotal",
			Help: "Weather queries by location (allow-list; others use location=other)",
		}, []string{"location"}),
		RateLimitDeniedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state: 0 closed, 1 half-open, 2 open",
		}, []string{"component"}),
		CircuitBreakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		}, []string{"component", "from", "to"}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal, m.HTTPRequestDuration, m.HTTPRequestsInFlight,
		m.ProviderCallsTotal, m.ProviderDuration, m.ProviderRetriesTotal, m.ProviderErrorsTotal,
		m.CacheHitsTotal, m.CacheMissesTotal, m.CacheErrorsTotal, m.CacheOperationTime, m.CacheSweepsTotal,
		m.CacheStampedeDetectedTotal, m.CacheStampedeConcurrency,
		m.CacheWarmingTotal, m.CacheWarmingErrorsTotal, m.CacheWarmingDuration,
		m.PipelineResultsTotal, m.AlertsTotal, m.WeatherQueriesByLocationTotal,
		m.RateLimitDeniedTotal,
		m.CircuitBreakerState, m.CircuitBreakerTransitions,
	)
	return m
}

// RegisterWindowGauges exposes the sliding-window load and reject counts from c.
// Only the first call registers.
func (m *Metrics) RegisterWindowGauges(c WindowCounter, window time.Duration) {
	m.windowOnce.Do(func() {
		m.reg.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "rateLimitRequestsInWindow",
				Help: "Requests hitting rate-limited path in sliding window; load/capacity planning",
			}, func() float64 { return float64(c.RequestCount(window)) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "rateLimitRejectsInWindow",
				Help: "429 responses in sliding window; are we rejecting requests",
			}, func() float64 { return float64(c.DenialCount(window)) }),
		)
	})
}

// SetTrackedLocations sets the allow-list for location metrics. Non-tracked locations increment "other".
func (m *Metrics) SetTrackedLocations(locations []string) {
	m.trackedMu.Lock()
	defer m.trackedMu.Unlock()
	m.tracked = make(map[string]struct{}, len(locations))
	for _, loc := range locations {
		m.tracked[normalizeLocation(loc)] = struct{}{}
	}
}

// RecordWeatherQuery records a weather query for the named location.
func (m *Metrics) RecordWeatherQuery(location string) {
	loc := normalizeLocation(location)
	m.trackedMu.RLock()
	_, ok := m.tracked[loc]
	m.trackedMu.RUnlock()
	if !ok {
		loc = "other"
	}
	m.WeatherQueriesByLocationTotal.WithLabelValues(loc).Inc()
}

func normalizeLocation(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// MetricsHandler returns an http.Handler that serves the metrics gathered by g.
func MetricsHandler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

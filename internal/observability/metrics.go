package observability

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kjstillabower/weather-forecast-service/internal/traffic"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight.
	HTTPRequestsInFlight prometheus.Gauge

	// Forecast provider call rate by outcome. Watch for: error vs success ratio.
	ForecastAPICallsTotal *prometheus.CounterVec

	// Forecast provider latency. Watch for: p95 > 2s (upstream degradation).
	ForecastAPIDuration *prometheus.HistogramVec

	// Retry attempts against the forecast provider. High values mean an unstable upstream.
	ForecastAPIRetriesTotal prometheus.Counter

	// Disk cache hits and misses. Hit rate = hits/(hits+misses).
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	// Cache entries removed by the sweep, by reason (expired, capacity).
	CacheEvictionsTotal *prometheus.CounterVec

	// Cache entries remaining after the last sweep.
	CacheEntries prometheus.Gauge

	CacheWarmingTotal       prometheus.Counter
	CacheWarmingErrorsTotal prometheus.Counter

	// Per-city lookup count (allow-list; others go to "other").
	CityLookupsTotal *prometheus.CounterVec

	LedgerAppendsTotal  *prometheus.CounterVec
	TranslationsTotal   *prometheus.CounterVec
	SyncOperationsTotal *prometheus.CounterVec

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	// Breaker state per upstream: 0 closed, 1 half-open, 2 open.
	CircuitBreakerState *prometheus.GaugeVec

	trackedLocationsMu sync.RWMutex
	trackedLocations   map[string]struct{}

	rateLimitGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	ForecastAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecastApiCallsTotal",
			Help: "Total number of forecast provider calls",
		},
		[]string{"status"},
	)
	ForecastAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forecastApiDurationSeconds",
			Help:    "Forecast provider latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)
	ForecastAPIRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "forecastApiRetriesTotal",
			Help: "Total number of retry attempts for forecast provider calls",
		},
	)
	CacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of forecast lookups served from the disk cache",
		},
	)
	CacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheMissesTotal",
			Help: "Total number of forecast lookups that required a provider fetch",
		},
	)
	CacheEvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheEvictionsTotal",
			Help: "Cache entries removed by sweeps",
		},
		[]string{"reason"},
	)
	CacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cacheEntries",
			Help: "Cache entries on disk after the most recent sweep",
		},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Total number of cache warming runs",
		},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Locations that failed to warm",
		},
	)
	CityLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cityLookupsTotal",
			Help: "Forecast lookups by city (allow-list; others use city=other)",
		},
		[]string{"city"},
	)
	LedgerAppendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerAppendsTotal",
			Help: "Lookup ledger appends by outcome",
		},
		[]string{"status"},
	)
	TranslationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "translationsTotal",
			Help: "Location name translations by outcome",
		},
		[]string{"status"},
	)
	SyncOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncOperationsTotal",
			Help: "Remote sync operations by operation and outcome",
		},
		[]string{"operation", "status"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		ForecastAPICallsTotal, ForecastAPIDuration, ForecastAPIRetriesTotal,
		CacheHitsTotal, CacheMissesTotal, CacheEvictionsTotal, CacheEntries,
		CacheWarmingTotal, CacheWarmingErrorsTotal,
		CityLookupsTotal,
		LedgerAppendsTotal, TranslationsTotal, SyncOperationsTotal,
		RateLimitDeniedTotal, CircuitBreakerState,
	)
}

// RegisterRateLimitGauges registers sliding-window load and reject gauges backed by the traffic tracker.
func RegisterRateLimitGauges(window time.Duration) {
	rateLimitGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRequestsInWindow",
					Help: "Requests hitting rate-limited path in sliding window",
				},
				func() float64 { return float64(traffic.RequestCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in sliding window",
				},
				func() float64 { return float64(traffic.DenialCount(window)) },
			),
		)
	})
}

func SetCircuitBreakerState(name string, state int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// SetTrackedLocations sets the allow-list for city metrics. Non-tracked cities increment "other".
func SetTrackedLocations(locations []string) {
	trackedLocationsMu.Lock()
	defer trackedLocationsMu.Unlock()
	trackedLocations = make(map[string]struct{}, len(locations))
	for _, loc := range locations {
		trackedLocations[normalizeLocationForMetrics(loc)] = struct{}{}
	}
}

// RecordCityLookup counts a lookup for city under its own label when tracked, otherwise under "other".
func RecordCityLookup(city string) {
	loc := normalizeLocationForMetrics(city)
	trackedLocationsMu.RLock()
	_, ok := trackedLocations[loc]
	trackedLocationsMu.RUnlock()
	if ok {
		CityLookupsTotal.WithLabelValues(loc).Inc()
	} else {
		CityLookupsTotal.WithLabelValues("other").Inc()
	}
}

func normalizeLocationForMetrics(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

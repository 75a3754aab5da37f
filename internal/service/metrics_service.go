package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the local API,
// the classroom gateway and the aggregation engine.
type MetricsService struct {
	registry          *prometheus.Registry
	handler           http.Handler
	requestDuration   *prometheus.HistogramVec
	requestTotal      *prometheus.CounterVec
	gatewayDuration   *prometheus.HistogramVec
	gatewayCalls      *prometheus.CounterVec
	aggregations      *prometheus.CounterVec
	degradedFetches   *prometheus.CounterVec
	coalescedRefresh  prometheus.Counter
	fetchWaiters      prometheus.Gauge
	cacheLatency      prometheus.Observer
	cacheWrite        prometheus.Observer
	cacheHits         prometheus.Counter
	cacheMisses       prometheus.Counter
	lifecycleSwitches *prometheus.CounterVec
}

// NewMetricsService registers the collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	gatewayDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "classroom_gateway_duration_seconds",
		Help:    "Duration of calls to the remote classroom service",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	gatewayCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "classroom_gateway_calls_total",
		Help: "Calls to the remote classroom service by outcome",
	}, []string{"operation", "outcome"})

	aggregations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "classroom_aggregations_total",
		Help: "Classroom view aggregations by outcome",
	}, []string{"outcome"})

	degradedFetches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "classroom_assignment_fetch_degraded_total",
		Help: "Assignment fetches that failed and contributed an empty list",
	}, []string{"kind"})

	coalescedRefresh := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "classroom_refresh_coalesced_total",
		Help: "Refresh calls that joined an in-flight aggregation",
	})

	fetchWaiters := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "classroom_fetch_waiters",
		Help: "Callers currently waiting on a classroom aggregation",
	})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	lifecycleSwitches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "classroom_lifecycle_transitions_total",
		Help: "Lifecycle state transitions by target state",
	}, []string{"state"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, gatewayDuration, gatewayCalls, aggregations,
		degradedFetches, coalescedRefresh, fetchWaiters, cacheLatency, cacheWrite, cacheHits, cacheMisses, lifecycleSwitches, goroutines)

	return &MetricsService{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:   requestDuration,
		requestTotal:      requestTotal,
		gatewayDuration:   gatewayDuration,
		gatewayCalls:      gatewayCalls,
		aggregations:      aggregations,
		degradedFetches:   degradedFetches,
		coalescedRefresh:  coalescedRefresh,
		fetchWaiters:      fetchWaiters,
		cacheLatency:      cacheLatency,
		cacheWrite:        cacheWrite,
		cacheHits:         cacheHits,
		cacheMisses:       cacheMisses,
		lifecycleSwitches: lifecycleSwitches,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry exposes the underlying registry, mostly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// ObserveGatewayCall implements gateway.Observer.
func (m *MetricsService) ObserveGatewayCall(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.gatewayDuration.WithLabelValues(operation).Observe(duration.Seconds())
	m.gatewayCalls.WithLabelValues(operation, outcome).Inc()
}

// RecordAggregation counts one aggregation attempt.
func (m *MetricsService) RecordAggregation(ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.aggregations.WithLabelValues(outcome).Inc()
}

// RecordDegradedFetch counts an assignment kind that fell back to empty.
func (m *MetricsService) RecordDegradedFetch(kind string) {
	if m == nil {
		return
	}
	m.degradedFetches.WithLabelValues(kind).Inc()
}

// RecordCoalescedRefresh counts a refresh that shared an in-flight fetch.
func (m *MetricsService) RecordCoalescedRefresh() {
	if m == nil {
		return
	}
	m.coalescedRefresh.Inc()
}

// FetchWaiterAdded marks a caller that started waiting on an aggregation.
func (m *MetricsService) FetchWaiterAdded() {
	if m == nil {
		return
	}
	m.fetchWaiters.Inc()
}

// FetchWaiterDone marks a caller that stopped waiting.
func (m *MetricsService) FetchWaiterDone() {
	if m == nil {
		return
	}
	m.fetchWaiters.Dec()
}

// RecordTransition counts a lifecycle transition into state.
func (m *MetricsService) RecordTransition(state string) {
	if m == nil {
		return
	}
	m.lifecycleSwitches.WithLabelValues(state).Inc()
}

// RecordCacheOperation records cache hit/miss metrics.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

package service

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the API and
// the booking pipeline.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	bookingsTotal   *prometheus.CounterVec
	matchDuration   prometheus.Histogram
	holdsExpired    prometheus.Counter
	levelChanges    *prometheus.CounterVec
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

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	bookingsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bookings_total",
		Help: "Booking attempts by tier and result",
	}, []string{"tier", "result"})

	matchDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "matching_duration_seconds",
		Help:    "Time spent selecting and claiming a slot",
		Buckets: prometheus.DefBuckets,
	})

	holdsExpired := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payment_holds_expired_total",
		Help: "Payment holds released by the expiry sweep",
	})

	levelChanges := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "progression_level_changes_total",
		Help: "Teacher level recomputations that changed the level",
	}, []string{"level"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheHits, cacheMisses, bookingsTotal, matchDuration, holdsExpired, levelChanges, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		bookingsTotal:   bookingsTotal,
		matchDuration:   matchDuration,
		holdsExpired:    holdsExpired,
		levelChanges:    levelChanges,
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

// ObserveHTTPRequest records one handled request.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := []string{method, path, strconv.Itoa(status)}
	m.requestDuration.WithLabelValues(labels...).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(labels...).Inc()
}

// RecordCacheHit counts a cache lookup that found a value.
func (m *MetricsService) RecordCacheHit() {
	if m != nil {
		m.cacheHits.Inc()
	}
}

// RecordCacheMiss counts a cache lookup that found nothing.
func (m *MetricsService) RecordCacheMiss() {
	if m != nil {
		m.cacheMisses.Inc()
	}
}

// RecordBooking counts one booking attempt outcome.
func (m *MetricsService) RecordBooking(tier, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(tier, result).Inc()
	m.matchDuration.Observe(duration.Seconds())
}

// RecordHoldsExpired counts holds released by one sweep run.
func (m *MetricsService) RecordHoldsExpired(count int) {
	if m != nil && count > 0 {
		m.holdsExpired.Add(float64(count))
	}
}

// RecordLevelChange counts a progression recomputation that moved a
// teacher to a new level.
func (m *MetricsService) RecordLevelChange(level string) {
	if m != nil {
		m.levelChanges.WithLabelValues(level).Inc()
	}
}

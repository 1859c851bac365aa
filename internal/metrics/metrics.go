// Package metrics exposes Prometheus collectors for the scraper service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scraperEventsTotal          *prometheus.CounterVec
	scraperAppendConflictsTotal prometheus.Counter
	scraperTasksTotal           *prometheus.CounterVec
	scraperJobsTotal            *prometheus.CounterVec
	scraperBreakerTripsTotal    prometheus.Counter
	scraperPagesTotal           *prometheus.CounterVec
	scraperBusinessesTotal      *prometheus.CounterVec
	scraperActiveTasks          prometheus.Gauge
	httpRequestsTotal           *prometheus.CounterVec
	httpRequestDurationSeconds  *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scraperEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_events_total",
				Help: "Total number of events appended to job logs, labeled by type.",
			},
			[]string{"type"},
		)

		scraperAppendConflictsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_event_append_conflicts_total",
				Help: "Total sequence collisions retried while appending events.",
			},
		)

		scraperTasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_tasks_total",
				Help: "Total number of tasks finished, labeled by terminal status.",
			},
			[]string{"status"},
		)

		scraperJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_jobs_total",
				Help: "Total number of jobs processed, labeled by status.",
			},
			[]string{"status"},
		)

		scraperBreakerTripsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_breaker_trips_total",
				Help: "Total circuit breaker trips across all scrape targets.",
			},
		)

		scraperPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_pages_total",
				Help: "Total number of listing pages fetched, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		scraperBusinessesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_businesses_total",
				Help: "Total number of extracted businesses, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		scraperActiveTasks = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scraper_active_tasks",
				Help: "Number of worker tasks currently running.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveEvent increments the appended-event counter for the type.
func ObserveEvent(eventType string) {
	if scraperEventsTotal == nil {
		return
	}
	scraperEventsTotal.WithLabelValues(eventType).Inc()
}

// ObserveAppendConflict increments the sequence-collision counter.
func ObserveAppendConflict() {
	if scraperAppendConflictsTotal == nil {
		return
	}
	scraperAppendConflictsTotal.Inc()
}

// ObserveTask increments the finished-task counter for the status.
func ObserveTask(status string) {
	if scraperTasksTotal == nil {
		return
	}
	scraperTasksTotal.WithLabelValues(status).Inc()
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	if scraperJobsTotal == nil {
		return
	}
	scraperJobsTotal.WithLabelValues(status).Inc()
}

// ObserveBreakerTrip increments the breaker trip counter.
func ObserveBreakerTrip() {
	if scraperBreakerTripsTotal == nil {
		return
	}
	scraperBreakerTripsTotal.Inc()
}

// ObservePage increments the fetched-page counter for the outcome.
func ObservePage(outcome string) {
	if scraperPagesTotal == nil {
		return
	}
	scraperPagesTotal.WithLabelValues(outcome).Inc()
}

// ObserveBusiness increments the extracted-business counter.
func ObserveBusiness(outcome string) {
	if scraperBusinessesTotal == nil {
		return
	}
	scraperBusinessesTotal.WithLabelValues(outcome).Inc()
}

// IncActiveTasks increments the active tasks gauge.
func IncActiveTasks() {
	if scraperActiveTasks == nil {
		return
	}
	scraperActiveTasks.Inc()
}

// DecActiveTasks decrements the active tasks gauge.
func DecActiveTasks() {
	if scraperActiveTasks == nil {
		return
	}
	scraperActiveTasks.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Package metrics holds the Prometheus collectors for dispatch and the
// operator API. Labels are fixed small sets to keep cardinality bounded.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeSent    = "sent"
	OutcomeFailed  = "failed"
	OutcomeErrored = "errored"

	TickCompleted = "completed"
	TickSkipped   = "skipped"
	TickFailed    = "failed"
)

var (
	// Deliveries counts dispatch attempts by outcome. "errored" means the
	// store update failed and the message stays pending.
	Deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_deliveries_total",
			Help: "Delivery attempts made by the dispatcher, by outcome.",
		},
		[]string{"outcome"},
	)

	Ticks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_ticks_total",
			Help: "Dispatcher ticks, by result.",
		},
		[]string{"result"},
	)

	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scheduler_tick_duration_seconds",
			Help:    "Duration of dispatcher ticks in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	Scheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_messages_scheduled_total",
			Help: "Messages written to the store by scheduling operations.",
		},
	)

	Purged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_messages_purged_total",
			Help: "Terminal messages removed by the retention janitor.",
		},
	)

	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

func init() {
	prometheus.MustRegister(Deliveries, Ticks, TickDuration, Scheduled, Purged, httpReqs, httpLat)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTP records one finished request. path should be the matched route
// pattern, not the raw URL.
func ObserveHTTP(method, path string, status int, elapsed time.Duration) {
	if path == "" {
		path = "unmatched"
	}
	httpReqs.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpLat.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

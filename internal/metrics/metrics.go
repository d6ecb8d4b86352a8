// internal/metrics/metrics.go
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the marketplace collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "asset_rental",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "asset_rental",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "asset_rental",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)

	streamOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "asset_rental",
			Subsystem: "streams",
			Name:      "operations_total",
			Help:      "Stream engine operations by outcome.",
		},
		[]string{"operation", "result"},
	)

	streamPaidOut = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "asset_rental",
			Subsystem: "streams",
			Name:      "paid_out_base_units_total",
			Help:      "Base units moved out of stream escrow, by destination.",
		},
		[]string{"destination"},
	)

	rentalTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "asset_rental",
			Subsystem: "rentals",
			Name:      "transitions_total",
			Help:      "Rental status transitions.",
		},
		[]string{"from", "to"},
	)

	disputes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "asset_rental",
			Subsystem: "disputes",
			Name:      "events_total",
			Help:      "Dispute lifecycle events.",
		},
		[]string{"event"},
	)

	collaboratorCalls = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "asset_rental",
			Subsystem: "collaborators",
			Name:      "call_duration_seconds",
			Help:      "Duration of registry, oracle and gateway calls.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"collaborator", "success"},
	)

	jobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "asset_rental",
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Scheduled job runs.",
		},
		[]string{"job", "success"},
	)

	jobItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "asset_rental",
			Subsystem: "scheduler",
			Name:      "job_items_total",
			Help:      "Entities processed by scheduled jobs.",
		},
		[]string{"job"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		streamOperations,
		streamPaidOut,
		rentalTransitions,
		disputes,
		collaboratorCalls,
		jobRuns,
		jobItems,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// GinHandler serves Handler from a gin route.
func GinHandler() gin.HandlerFunc {
	h := Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// Middleware records HTTP metrics labelled by the matched route template.
func Middleware(metricsPath string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == metricsPath {
			c.Next()
			return
		}

		start := time.Now()
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := strings.ToUpper(c.Request.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

func RecordStreamOperation(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	streamOperations.WithLabelValues(operation, result).Inc()
}

func RecordPayout(destination string, amount int64) {
	if amount <= 0 {
		return
	}
	streamPaidOut.WithLabelValues(destination).Add(float64(amount))
}

func RecordRentalTransition(from, to string) {
	rentalTransitions.WithLabelValues(from, to).Inc()
}

func RecordDisputeEvent(event string) {
	disputes.WithLabelValues(event).Inc()
}

func RecordCollaboratorCall(collaborator string, duration time.Duration, success bool) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	collaboratorCalls.WithLabelValues(collaborator, strconv.FormatBool(success)).Observe(duration.Seconds())
}

func RecordJobRun(job string, processed int, success bool) {
	jobRuns.WithLabelValues(job, strconv.FormatBool(success)).Inc()
	if processed > 0 {
		jobItems.WithLabelValues(job).Add(float64(processed))
	}
}

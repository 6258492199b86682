package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "signal_registry",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "signal_registry",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "signal_registry",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	publishes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "signal_registry",
			Subsystem: "signals",
			Name:      "publishes_total",
			Help:      "Total number of signals published.",
		},
	)

	resolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "signal_registry",
			Subsystem: "signals",
			Name:      "resolutions_total",
			Help:      "Total number of signal resolutions by outcome.",
		},
		[]string{"outcome"},
	)

	subscriptions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "signal_registry",
			Subsystem: "subscriptions",
			Name:      "created_total",
			Help:      "Total number of subscriptions created.",
		},
	)

	consumptions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "signal_registry",
			Subsystem: "subscriptions",
			Name:      "consumptions_total",
			Help:      "Total number of signal consumptions recorded.",
		},
	)

	rejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "signal_registry",
			Subsystem: "operations",
			Name:      "rejections_total",
			Help:      "Total number of rejected operations by reason.",
		},
		[]string{"operation", "reason"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		publishes,
		resolutions,
		subscriptions,
		consumptions,
		rejections,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordPublish counts a successful publish.
func RecordPublish() {
	publishes.Inc()
}

// RecordResolution counts a settlement with its outcome name.
func RecordResolution(outcome string) {
	resolutions.WithLabelValues(outcome).Inc()
}

// RecordSubscription counts a successful subscribe.
func RecordSubscription() {
	subscriptions.Inc()
}

// RecordConsumption counts a successful consumption.
func RecordConsumption() {
	consumptions.Inc()
}

// RecordRejection counts a failed operation by reason.
func RecordRejection(operation, reason string) {
	rejections.WithLabelValues(operation, reason).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) == 1 {
		return "/" + parts[0]
	}
	// Collapse addressed resources to one label per route shape.
	switch parts[0] {
	case "agents", "signals", "subscriptions", "consumptions":
		if len(parts) > 2 {
			return "/" + parts[0] + "/:id/" + parts[len(parts)-1]
		}
		return "/" + parts[0] + "/:id"
	}
	return "/" + parts[0]
}

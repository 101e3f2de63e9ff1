// Package metrics provides Prometheus metrics for ctxview.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	sourceLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ctxview_source_loads_total",
			Help: "Document loads by source and result",
		},
		[]string{"source", "result"},
	)

	sourceLoadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ctxview_source_load_duration_seconds",
			Help:    "Time to read and index a source snapshot",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	sourceEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ctxview_source_entries",
			Help: "Entries in the most recent snapshot of a source",
		},
		[]string{"source"},
	)

	sourceInvalidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ctxview_source_invalidations_total",
			Help: "Snapshot invalidations by source",
		},
		[]string{"source"},
	)

	cliRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ctxview_cli_runs_total",
			Help: "CLI invocations by operation and status",
		},
		[]string{"op", "status"},
	)

	cliRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ctxview_cli_run_duration_seconds",
			Help:    "CLI invocation duration in seconds",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"op"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ctxview_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	sseClientsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ctxview_sse_clients_active",
			Help: "Number of connected event stream clients",
		},
	)
)

// RecordSourceLoad records one snapshot load. result is "ok",
// "empty" (unconfigured or missing) or "error".
func RecordSourceLoad(source, result string, d time.Duration) {
	sourceLoadsTotal.WithLabelValues(source, result).Inc()
	sourceLoadDuration.WithLabelValues(source).Observe(d.Seconds())
}

// SetSourceEntries records the entry count of the snapshot a source
// now serves.
func SetSourceEntries(source string, entries int) {
	sourceEntries.WithLabelValues(source).Set(float64(entries))
}

// RecordInvalidation counts a dropped snapshot.
func RecordInvalidation(source string) {
	sourceInvalidationsTotal.WithLabelValues(source).Inc()
}

// RecordCLIRun records a finished CLI invocation.
func RecordCLIRun(op, status string, d time.Duration) {
	cliRunsTotal.WithLabelValues(op, status).Inc()
	cliRunDuration.WithLabelValues(op).Observe(d.Seconds())
}

// SSEClientConnected increments the active event stream gauge.
func SSEClientConnected() { sseClientsActive.Inc() }

// SSEClientDisconnected decrements the active event stream gauge.
func SSEClientDisconnected() { sseClientsActive.Dec() }

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware counts requests by method and status code.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		httpRequestsTotal.WithLabelValues(
			r.Method, strconv.Itoa(rw.status),
		).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps event streams working through the wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

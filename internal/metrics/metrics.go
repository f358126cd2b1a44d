// Package metrics provides Prometheus metrics for the sandview server.
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
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandview_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sandview_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Command execution metrics
	commandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandview_commands_total",
			Help: "Total commands executed, by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	commandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sandview_command_duration_seconds",
			Help:    "Command execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"action"},
	)

	// Sandbox lifecycle metrics
	sandboxBootsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandview_sandbox_boots_total",
			Help: "Total sandbox boots, by result",
		},
		[]string{"result"},
	)

	sandboxesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sandview_sandboxes_active",
			Help: "Number of booted sandbox environments",
		},
	)

	// Installer metrics
	installsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandview_installs_total",
			Help: "Dependency install decisions, by decision",
		},
		[]string{"decision"},
	)

	installFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sandview_install_fallbacks_total",
			Help: "Installs that fell back from strict to permissive mode",
		},
	)

	installDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sandview_install_duration_seconds",
			Help:    "Dependency install duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	snapshotRestoresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandview_snapshot_restores_total",
			Help: "Snapshot restore attempts at session bootstrap, by result",
		},
		[]string{"result"},
	)

	// Dev server metrics
	devServersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sandview_dev_servers_active",
			Help: "Number of running dev servers",
		},
	)

	devServerStartsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandview_dev_server_starts_total",
			Help: "Dev server start attempts, by result",
		},
		[]string{"result"},
	)

	// Preview metrics
	previewRegenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandview_preview_regenerations_total",
			Help: "Preview regenerations, by project type and result",
		},
		[]string{"project_type", "result"},
	)

	previewStaleDiscardsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sandview_preview_stale_discards_total",
			Help: "Preview regenerations discarded because a newer one finished first",
		},
	)

	// Event bus metrics
	eventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandview_events_dropped_total",
			Help: "Events dropped on slow subscribers, by stream",
		},
		[]string{"stream"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordCommand records one executed command.
func RecordCommand(action string, outcome string, duration time.Duration) {
	commandsTotal.WithLabelValues(action, outcome).Inc()
	commandDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordSandboxBoot records a sandbox boot attempt.
func RecordSandboxBoot(success bool) {
	result := "success"
	if !success {
		result = "error"
	}
	sandboxBootsTotal.WithLabelValues(result).Inc()
	if success {
		sandboxesActive.Inc()
	}
}

// RecordSandboxClose records a sandbox teardown.
func RecordSandboxClose() {
	sandboxesActive.Dec()
}

// RecordInstallDecision records the installer's decision for one run request.
// Decision is one of "skip", "install", "reinstall", "noop", "shared".
func RecordInstallDecision(decision string) {
	installsTotal.WithLabelValues(decision).Inc()
}

// RecordInstallFallback records a strict install falling back to permissive.
func RecordInstallFallback() {
	installFallbacksTotal.Inc()
}

// RecordInstallDuration records how long an actual install took.
func RecordInstallDuration(duration time.Duration) {
	installDuration.Observe(duration.Seconds())
}

// RecordSnapshotRestore records a snapshot restore attempt.
func RecordSnapshotRestore(result string) {
	snapshotRestoresTotal.WithLabelValues(result).Inc()
}

// RecordDevServerStart records a dev server start attempt.
func RecordDevServerStart(success bool) {
	result := "success"
	if !success {
		result = "error"
	}
	devServerStartsTotal.WithLabelValues(result).Inc()
	if success {
		devServersActive.Inc()
	}
}

// RecordDevServerStop records a dev server leaving the running state.
func RecordDevServerStop() {
	devServersActive.Dec()
}

// RecordPreviewRegeneration records one preview regeneration.
func RecordPreviewRegeneration(projectType string, success bool) {
	result := "success"
	if !success {
		result = "error"
	}
	previewRegenerationsTotal.WithLabelValues(projectType, result).Inc()
}

// RecordPreviewStaleDiscard records a stale regeneration being discarded.
func RecordPreviewStaleDiscard() {
	previewStaleDiscardsTotal.Inc()
}

// RecordEventDropped records an event dropped on a slow subscriber.
func RecordEventDropped(stream string) {
	eventsDroppedTotal.WithLabelValues(stream).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}

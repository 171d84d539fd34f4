package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	registry *Registry
)

// Upload outcomes used as the status label.
const (
	UploadDispatched = "dispatched"
	UploadCompleted  = "completed"
	UploadFailed     = "failed"
	UploadSkipped    = "skipped"
)

// Registry holds all session server metrics.
type Registry struct {
	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	SessionDuration *prometheus.HistogramVec
	SessionEnds     *prometheus.CounterVec
	SpawnErrors     *prometheus.CounterVec

	// Relay metrics
	InboundMessages  *prometheus.CounterVec
	OutboundMessages *prometheus.CounterVec
	ParseErrors      prometheus.Counter

	// Upload metrics
	Uploads        *prometheus.CounterVec
	UploadBytes    prometheus.Counter
	UploadDuration prometheus.Histogram

	// System metrics
	Uptime      prometheus.Gauge
	APIRequests *prometheus.CounterVec
	APILatency  *prometheus.HistogramVec
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry()
	})
	return registry
}

func newRegistry() *Registry {
	r := &Registry{}

	// Session metrics
	r.SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "humangym_sessions_active",
		Help: "Sessions currently connected",
	})

	r.SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "humangym_sessions_total",
		Help: "Sessions accepted, by assigned trial type",
	}, []string{"trial_type"})

	r.SessionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "humangym_session_duration_seconds",
		Help:    "Wall time from accept to connection close",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
	}, []string{"trial_type"})

	r.SessionEnds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "humangym_session_ends_total",
		Help: "Sessions ended, by reason",
	}, []string{"trial_type", "reason"})

	r.SpawnErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "humangym_worker_spawn_errors_total",
		Help: "Session workers that failed to start",
	}, []string{"isolation"})

	// Relay metrics
	r.InboundMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "humangym_inbound_messages_total",
		Help: "Client messages relayed to workers",
	}, []string{"trial_type"})

	r.OutboundMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "humangym_outbound_messages_total",
		Help: "Worker messages relayed to clients, by kind",
	}, []string{"trial_type", "kind"})

	r.ParseErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "humangym_parse_errors_total",
		Help: "Client messages answered with a parse error payload",
	})

	// Upload metrics
	r.Uploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "humangym_uploads_total",
		Help: "Recording uploads, by status",
	}, []string{"status"})

	r.UploadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "humangym_upload_bytes_total",
		Help: "Bytes sent to object storage",
	})

	r.UploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "humangym_upload_duration_seconds",
		Help:    "Time spent compressing and uploading one recording",
		Buckets: prometheus.DefBuckets,
	})

	// System metrics
	r.Uptime = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "humangym_uptime_seconds",
		Help: "Server uptime in seconds",
	})

	r.APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "humangym_api_requests_total",
		Help: "Total API requests",
	}, []string{"method", "path", "status"})

	r.APILatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "humangym_api_request_duration_seconds",
		Help:    "API request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	return r
}

// SessionStarted records an accepted connection.
func (r *Registry) SessionStarted(trialType string) {
	r.SessionsTotal.WithLabelValues(trialType).Inc()
	r.SessionsActive.Inc()
}

// SessionEnded records a closed connection and how long it lasted.
func (r *Registry) SessionEnded(trialType, reason string, elapsed time.Duration) {
	r.SessionsActive.Dec()
	r.SessionEnds.WithLabelValues(trialType, reason).Inc()
	r.SessionDuration.WithLabelValues(trialType).Observe(elapsed.Seconds())
}

// RecordUpload records the outcome of one upload attempt.
func (r *Registry) RecordUpload(status string, bytes int64, elapsed time.Duration) {
	r.Uploads.WithLabelValues(status).Inc()
	if status == UploadCompleted {
		r.UploadBytes.Add(float64(bytes))
		r.UploadDuration.Observe(elapsed.Seconds())
	}
}

// RecordAPIRequest records an API request.
func (r *Registry) RecordAPIRequest(method, path string, status int, duration float64) {
	r.APIRequests.WithLabelValues(method, path, statusString(status)).Inc()
	r.APILatency.WithLabelValues(method, path).Observe(duration)
}

// UpdateUptime sets the uptime gauge from the server start time.
func (r *Registry) UpdateUptime(started time.Time) {
	r.Uptime.Set(time.Since(started).Seconds())
}

// statusString converts an HTTP status code to string.
func statusString(status int) string {
	return fmt.Sprintf("%d", status)
}

package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mediarelay"

// Upload outcome labels recorded by ObserveUpload.
const (
	UploadAccepted      = "accepted"
	UploadRejectedType  = "rejected_type"
	UploadRejectedSize  = "rejected_size"
	UploadRejectedEmpty = "rejected_empty"
	UploadRemoteFailed  = "remote_failed"
	UploadSucceeded     = "succeeded"
)

// Recorder aggregates Prometheus metrics for HTTP requests, upload relay
// outcomes, direct-upload credential issuance, remote reconciliation, and
// staging hygiene. Each Recorder owns its registry so independent instances
// never collide on collector registration.
type Recorder struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	durations       *prometheus.HistogramVec
	uploads         *prometheus.CounterVec
	uploadBytes     prometheus.Histogram
	uploadsInFlight prometheus.Gauge
	orphanedVideos  prometheus.Counter
	credentials     prometheus.Counter
	reconciles      *prometheus.CounterVec
	sweptFiles      prometheus.Counter
}

var defaultRecorder = New()

// New constructs a Recorder with all collectors registered on a fresh
// registry so callers can immediately record metrics without additional
// setup.
func New() *Recorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Recorder{
		registry: registry,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed by the API.",
		}, []string{"method", "path", "status"}),
		durations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		uploads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Relay upload attempts by outcome.",
		}, []string{"outcome"}),
		uploadBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_bytes",
			Help:      "Size distribution of accepted uploads in bytes.",
			Buckets:   prometheus.ExponentialBuckets(1<<20, 4, 8),
		}),
		uploadsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uploads_in_flight",
			Help:      "Current number of relay uploads being staged or pushed.",
		}),
		orphanedVideos: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphaned_videos_total",
			Help:      "Remote video entries created whose byte transfer never completed.",
		}),
		credentials: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "direct_credentials_total",
			Help:      "Direct-upload credential sets issued.",
		}),
		reconciles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_outcomes_total",
			Help:      "Direct-upload reconciliation results by outcome.",
		}, []string{"outcome"}),
		sweptFiles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "staging_swept_files_total",
			Help:      "Staged files reclaimed by the sweeper.",
		}),
	}
}

// Default returns the singleton Recorder instance shared across helper
// functions for packages that do not require custom instrumentation
// pipelines.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest normalizes the request label set and accumulates request
// totals and duration observations by HTTP method, normalized path, and
// status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	normalized := normalizePath(path)
	r.requests.WithLabelValues(strings.ToUpper(method), normalized, strconv.Itoa(status)).Inc()
	r.durations.WithLabelValues(strings.ToUpper(method), normalized).Observe(duration.Seconds())
}

// ObserveUpload records a relay upload outcome. Size is observed in the byte
// histogram when positive; rejection outcomes usually carry zero.
func (r *Recorder) ObserveUpload(outcome string, size int64) {
	r.uploads.WithLabelValues(normalizeName(outcome)).Inc()
	if size > 0 {
		r.uploadBytes.Observe(float64(size))
	}
}

// UploadStarted increments the in-flight upload gauge.
func (r *Recorder) UploadStarted() {
	r.uploadsInFlight.Inc()
}

// UploadFinished decrements the in-flight upload gauge.
func (r *Recorder) UploadFinished() {
	r.uploadsInFlight.Dec()
}

// OrphanRecorded counts a remote entry left behind after a failed transfer.
func (r *Recorder) OrphanRecorded() {
	r.orphanedVideos.Inc()
}

// CredentialIssued counts an issued direct-upload credential set.
func (r *Recorder) CredentialIssued() {
	r.credentials.Inc()
}

// ObserveReconcile records the terminal outcome of one watched direct upload.
func (r *Recorder) ObserveReconcile(outcome string) {
	r.reconciles.WithLabelValues(normalizeName(outcome)).Inc()
}

// StagingSwept counts files reclaimed by a sweep pass.
func (r *Recorder) StagingSwept(count int) {
	if count <= 0 {
		return
	}
	r.sweptFiles.Add(float64(count))
}

// Handler exposes the Recorder's registry in Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for test assertions.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
			continue
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 16 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// ObserveUpload records a relay upload outcome on the default recorder.
func ObserveUpload(outcome string, size int64) {
	defaultRecorder.ObserveUpload(outcome, size)
}

// OrphanRecorded counts an orphaned remote entry on the default recorder.
func OrphanRecorded() {
	defaultRecorder.OrphanRecorded()
}

// CredentialIssued counts an issued credential set on the default recorder.
func CredentialIssued() {
	defaultRecorder.CredentialIssued()
}

// ObserveReconcile records a reconciliation outcome on the default recorder.
func ObserveReconcile(outcome string) {
	defaultRecorder.ObserveReconcile(outcome)
}

// StagingSwept counts swept files on the default recorder.
func StagingSwept(count int) {
	defaultRecorder.StagingSwept(count)
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}

// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voice_transcript"

// Discard reasons for SessionsDiscarded.
const (
	ReasonTimeout        = "transcript_timeout"
	ReasonUploadFailed   = "upload_failed"
	ReasonEnqueueFailed  = "enqueue_failed"
	ReasonShutdown       = "shutdown"
	ReasonWorkerStopped  = "worker_stopped"
	ReasonSupersededOpen = "superseded"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsCreated    *prometheus.CounterVec
	SessionsCompleted  *prometheus.CounterVec
	SessionsDiscarded  *prometheus.CounterVec
	SessionsSuperseded *prometheus.CounterVec
	LateTranscripts    *prometheus.CounterVec
	SessionDuration    prometheus.Histogram

	// Upload worker metrics
	UploadsTotal   *prometheus.CounterVec
	UploadsFailed  *prometheus.CounterVec
	UploadLatency  prometheus.Histogram
	QueueDepth     prometheus.Gauge
	EnqueueDropped prometheus.Counter

	// Sink publish metrics
	SinkPublishTotal   *prometheus.CounterVec
	SinkPublishErrors  *prometheus.CounterVec
	SinkPublishLatency *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return newMetrics(promauto.With(prometheus.DefaultRegisterer))
}

// NewUnregistered creates metrics bound to a private registry, for tests
// that need isolated counters.
func NewUnregistered() (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return newMetrics(promauto.With(reg)), reg
}

func newMetrics(f promauto.Factory) *Metrics {
	return &Metrics{
		SessionsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Total number of transcript sessions created",
		}, []string{"role"}),
		SessionsCompleted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_completed_total",
			Help:      "Total number of sessions handed to the upload worker",
		}, []string{"role"}),
		SessionsDiscarded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_discarded_total",
			Help:      "Total number of sessions discarded without upload",
		}, []string{"role", "reason"}),
		SessionsSuperseded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_superseded_total",
			Help:      "Total number of open sessions replaced by a new speech start",
		}, []string{"role"}),
		LateTranscripts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "late_transcripts_total",
			Help:      "Total number of transcripts that arrived with no matching session",
		}, []string{"role"}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_speech_duration_seconds",
			Help:      "Speech duration of completed sessions in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}),

		UploadsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Total number of upload attempts",
		}, []string{"speaker"}),
		UploadsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_failed_total",
			Help:      "Total number of failed uploads",
		}, []string{"speaker"}),
		UploadLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_latency_seconds",
			Help:      "Upload call latency in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upload_queue_depth",
			Help:      "Number of items waiting in the upload queue",
		}),
		EnqueueDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_enqueue_dropped_total",
			Help:      "Total number of items dropped because the upload queue was full",
		}),

		SinkPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_publish_total",
			Help:      "Total number of records published per sink",
		}, []string{"sink"}),
		SinkPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_publish_errors_total",
			Help:      "Total number of sink publish errors",
		}, []string{"sink"}),
		SinkPublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sink_publish_latency_seconds",
			Help:      "Sink publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"sink"}),
	}
}

// RecordSessionCreated records a new session being opened.
func (m *Metrics) RecordSessionCreated(role string) {
	m.SessionsCreated.WithLabelValues(role).Inc()
}

// RecordSessionCompleted records a session handed to the upload queue.
func (m *Metrics) RecordSessionCompleted(role string, durationSeconds float64, hasDuration bool) {
	m.SessionsCompleted.WithLabelValues(role).Inc()
	if hasDuration {
		m.SessionDuration.Observe(durationSeconds)
	}
}

// RecordSessionDiscarded records a session dropped without upload.
func (m *Metrics) RecordSessionDiscarded(role, reason string) {
	m.SessionsDiscarded.WithLabelValues(role, reason).Inc()
}

// RecordSessionSuperseded records an open session replaced by a new one.
func (m *Metrics) RecordSessionSuperseded(role string) {
	m.SessionsSuperseded.WithLabelValues(role).Inc()
}

// RecordLateTranscript records a transcript that had to synthesize a session.
func (m *Metrics) RecordLateTranscript(role string) {
	m.LateTranscripts.WithLabelValues(role).Inc()
}

// RecordUpload records an upload attempt.
func (m *Metrics) RecordUpload(speaker string, err error, latencySeconds float64) {
	m.UploadsTotal.WithLabelValues(speaker).Inc()
	m.UploadLatency.Observe(latencySeconds)
	if err != nil {
		m.UploadsFailed.WithLabelValues(speaker).Inc()
	}
}

// SetQueueDepth records the current upload queue depth.
func (m *Metrics) SetQueueDepth(depth int) {
	m.QueueDepth.Set(float64(depth))
}

// RecordEnqueueDropped records an item dropped on a full queue.
func (m *Metrics) RecordEnqueueDropped() {
	m.EnqueueDropped.Inc()
}

// RecordSinkPublish records a sink publish attempt.
func (m *Metrics) RecordSinkPublish(sink string, err error, latencySeconds float64) {
	m.SinkPublishTotal.WithLabelValues(sink).Inc()
	m.SinkPublishLatency.WithLabelValues(sink).Observe(latencySeconds)
	if err != nil {
		m.SinkPublishErrors.WithLabelValues(sink).Inc()
	}
}

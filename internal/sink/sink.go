// Package sink provides the destinations a completed utterance record can be
// uploaded to.
package sink

import (
	"context"
	"errors"
	"time"

	"ai-voice-transcript-service/internal/models"
	"ai-voice-transcript-service/internal/observability/metrics"
)

// Configuration errors.
var (
	ErrNoSinks       = errors.New("sink: no sinks configured")
	ErrUnknownSink   = errors.New("sink: unknown sink")
	ErrMissingAPIURL = errors.New("sink: http sink requires TRANSCRIPT_API_URL")
	ErrMissingBucket = errors.New("sink: s3 sink requires S3_BUCKET")
)

// Sink uploads one utterance record.
type Sink interface {
	Name() string
	Upload(ctx context.Context, rec models.UtteranceRecord) error
	Close() error
}

// instrumented records publish metrics around a sink.
type instrumented struct {
	Sink
	metrics *metrics.Metrics
}

// Instrument wraps s so every upload is counted and timed under its name.
func Instrument(s Sink, m *metrics.Metrics) Sink {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &instrumented{Sink: s, metrics: m}
}

func (i *instrumented) Upload(ctx context.Context, rec models.UtteranceRecord) error {
	start := time.Now()
	err := i.Sink.Upload(ctx, rec)
	i.metrics.RecordSinkPublish(i.Name(), err, time.Since(start).Seconds())
	return err
}

package sink

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"ai-voice-transcript-service/internal/models"
	"ai-voice-transcript-service/internal/observability/logging"
)

// Log writes each record to the structured log instead of uploading it.
type Log struct {
	log zerolog.Logger
}

// NewLog creates a log-only sink.
func NewLog() *Log {
	return &Log{log: logging.WithComponent("log-sink")}
}

// NewLogWithLogger creates a log-only sink writing to logger.
func NewLogWithLogger(logger zerolog.Logger) *Log {
	return &Log{log: logger}
}

func (l *Log) Name() string { return "log" }

func (l *Log) Upload(_ context.Context, rec models.UtteranceRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	ev := l.log.Info().
		Str("callId", rec.CallID).
		Str("sessionId", rec.SessionID).
		Str("speaker", string(rec.Speaker)).
		Str("startTime", rec.StartTime).
		Str("endTime", rec.EndTime).
		Str("transcript", rec.Transcript)
	if rec.Duration != nil {
		ev = ev.Float64("duration", *rec.Duration)
	}
	ev.RawJSON("record", payload).Msg("Transcript record")
	return nil
}

func (l *Log) Close() error { return nil }

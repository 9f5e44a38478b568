package viewer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"ai-voice-transcript-service/internal/models"
	"ai-voice-transcript-service/internal/observability/logging"
)

// MessageReader is the subset of *kafka.Reader used by Consume.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// ReaderConfig configures the utterance topic reader.
type ReaderConfig struct {
	Brokers []string
	Topic   string
	GroupID string        // empty reads partition 0 without a consumer group
	Since   time.Duration // without a group, start this far back
}

// NewReader creates a Kafka reader for the utterance topic.
func NewReader(ctx context.Context, cfg ReaderConfig) *kafka.Reader {
	rc := kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	}
	r := kafka.NewReader(rc)
	if cfg.GroupID == "" && cfg.Since > 0 {
		// Partition reader without a group works better through port-forward
		if err := r.SetOffsetAt(ctx, time.Now().Add(-cfg.Since)); err != nil {
			logger := logging.WithComponent("viewer-consumer")
			logger.Warn().Err(err).Msg("Failed to seek reader")
		}
	}
	return r
}

// Consume reads utterance records from r and publishes them to hub until
// ctx is done. Read errors are retried after backoff; undecodable messages
// are skipped.
func Consume(ctx context.Context, r MessageReader, hub *Hub, backoff time.Duration) {
	logger := logging.WithComponent("viewer-consumer")
	defer r.Close()

	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn().Err(err).Msg("Kafka read error")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			continue
		}

		var rec models.UtteranceRecord
		if err := json.Unmarshal(msg.Value, &rec); err != nil {
			logger.Warn().Err(err).Int64("offset", msg.Offset).Msg("Skipping undecodable message")
			continue
		}

		logger.Debug().
			Str("callId", rec.CallID).
			Str("speaker", string(rec.Speaker)).
			Str("sessionId", rec.SessionID).
			Msg("Received utterance")

		if err := hub.Publish(ctx, rec); err != nil {
			return
		}
	}
}

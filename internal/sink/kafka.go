package sink

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"ai-voice-transcript-service/internal/models"
	"ai-voice-transcript-service/internal/observability/logging"
	"ai-voice-transcript-service/internal/schema"
)

// EventTypeUtterance is the eventType header value on utterance messages.
const EventTypeUtterance = "transcript.utterance"

// KafkaConfig holds Kafka producer configuration.
type KafkaConfig struct {
	Brokers   []string
	Topic     string
	Principal string
	Enabled   bool
}

// messageWriter is the subset of *kafka.Writer used by the sink.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes records to the utterance topic keyed by call id. With
// Kafka disabled it only logs what it would have published.
type Kafka struct {
	writer    messageWriter
	topic     string
	principal string
	enabled   bool
	validator *schema.Validator
	log       zerolog.Logger
}

// NewKafka creates a Kafka sink.
func NewKafka(cfg KafkaConfig) *Kafka {
	k := &Kafka{
		topic:     cfg.Topic,
		principal: cfg.Principal,
		validator: schema.New(),
		log:       logging.WithComponent("kafka-sink"),
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		k.log.Info().Msg("Kafka disabled, using log-only mode")
		return k
	}

	// Longer dial timeout for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	k.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    &kafka.Transport{Dial: dialer.DialFunc},
	}
	k.enabled = true

	k.log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.Topic).
		Str("principal", cfg.Principal).
		Msg("Kafka sink initialized")
	return k
}

func (k *Kafka) Name() string { return "kafka" }

func (k *Kafka) Upload(ctx context.Context, rec models.UtteranceRecord) error {
	if err := k.validator.Validate(rec); err != nil {
		return err
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		k.log.Error().Err(err).Str("topic", k.topic).Msg("Failed to marshal record")
		return err
	}

	k.log.Debug().
		Str("principal", k.principal).
		Str("topic", k.topic).
		Str("key", rec.CallID).
		RawJSON("payload", payload).
		Msg("Publishing utterance")

	if !k.enabled || k.writer == nil {
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(rec.CallID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(EventTypeUtterance)},
			{Key: "principal", Value: []byte(k.principal)},
		},
	}

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		k.log.Error().
			Err(err).
			Str("topic", k.topic).
			Str("key", rec.CallID).
			Msg("Failed to write to Kafka")
		return err
	}
	return nil
}

func (k *Kafka) Close() error {
	if k.writer == nil {
		return nil
	}
	if err := k.writer.Close(); err != nil {
		k.log.Error().Err(err).Msg("Error closing Kafka writer")
		return err
	}
	return nil
}

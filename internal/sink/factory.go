package sink

import (
	"fmt"

	"ai-voice-transcript-service/internal/config"
	"ai-voice-transcript-service/internal/observability/logging"
	"ai-voice-transcript-service/internal/observability/metrics"
)

// FromConfig builds the configured sink. Log-only mode replaces every sink
// with the log sink. Each sink is instrumented with m.
func FromConfig(cfg *config.Configuration, m *metrics.Metrics) (Sink, error) {
	logger := logging.WithComponent("sink")

	if cfg.Sinks.LogOnly {
		logger.Info().Msg("Log-only mode, transcripts will not be uploaded")
		return Instrument(NewLog(), m), nil
	}
	if len(cfg.Sinks.Enabled) == 0 {
		return nil, ErrNoSinks
	}

	var built []Sink
	for _, name := range cfg.Sinks.Enabled {
		s, err := build(name, cfg)
		if err != nil {
			for _, b := range built {
				b.Close()
			}
			return nil, err
		}
		built = append(built, Instrument(s, m))
	}

	logger.Info().Strs("sinks", cfg.Sinks.Enabled).Msg("Upload sinks configured")
	if len(built) == 1 {
		return built[0], nil
	}
	return NewMulti(built...), nil
}

func build(name string, cfg *config.Configuration) (Sink, error) {
	switch name {
	case config.SinkHTTP:
		return NewHTTP(cfg.Sinks.APIURL, cfg.Sinks.HTTPTimeout)
	case config.SinkLog:
		return NewLog(), nil
	case config.SinkKafka:
		return NewKafka(KafkaConfig{
			Brokers:   cfg.Kafka.Brokers,
			Topic:     cfg.Kafka.TopicUtterance,
			Principal: cfg.Kafka.Principal,
			Enabled:   cfg.Kafka.Enabled,
		}), nil
	case config.SinkS3:
		client := NewS3Client(S3ClientConfig{
			Region:          cfg.S3.Region,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Endpoint:        cfg.S3.Endpoint,
		})
		return NewS3(client, cfg.S3.Bucket, cfg.S3.Prefix)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSink, name)
	}
}

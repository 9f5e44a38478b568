// Package config loads service configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Sink names accepted in UPLOAD_SINKS.
const (
	SinkHTTP  = "http"
	SinkLog   = "log"
	SinkKafka = "kafka"
	SinkS3    = "s3"
)

// Configuration is the full service configuration.
type Configuration struct {
	Service       ServiceConfig
	Call          CallConfig
	Tracker       TrackerConfig
	Upload        UploadConfig
	Sinks         SinksConfig
	Kafka         KafkaConfig
	S3            S3Config
	Observability ObservabilityConfig
}

// ServiceConfig identifies the running service.
type ServiceConfig struct {
	Name string
}

// CallConfig carries the identity of the call being tracked.
type CallConfig struct {
	CallID       string
	RoomID       string
	AgentID      string
	RoomMetadata string
}

// TrackerConfig tunes transcript reconciliation.
type TrackerConfig struct {
	TranscriptTimeout time.Duration
}

// UploadConfig tunes the upload worker.
type UploadConfig struct {
	MaxQueueSize    int
	ShutdownTimeout time.Duration
	PollInterval    time.Duration
}

// SinksConfig selects and configures the upload sinks.
type SinksConfig struct {
	Enabled     []string
	LogOnly     bool
	APIURL      string
	HTTPTimeout time.Duration
}

// KafkaConfig holds Kafka producer settings for the utterance topic.
type KafkaConfig struct {
	Enabled        bool
	Brokers        []string
	TopicUtterance string
	Principal      string
}

// S3Config holds object storage settings.
type S3Config struct {
	Bucket          string
	Prefix          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string
	MetricsAddr    string
	MetricsEnabled bool
}

// Load reads the configuration from the environment. Invalid values fall
// back to their defaults.
func Load() *Configuration {
	name := envOrDefault("SERVICE_NAME", "transcript-service")

	return &Configuration{
		Service: ServiceConfig{
			Name: name,
		},
		Call: CallConfig{
			CallID:       os.Getenv("CALL_ID"),
			RoomID:       os.Getenv("ROOM_ID"),
			AgentID:      os.Getenv("AGENT_ID"),
			RoomMetadata: os.Getenv("ROOM_METADATA"),
		},
		Tracker: TrackerConfig{
			TranscriptTimeout: envOrDefaultDuration("TRANSCRIPT_TIMEOUT", 5*time.Second),
		},
		Upload: UploadConfig{
			MaxQueueSize:    envOrDefaultInt("UPLOAD_MAX_QUEUE_SIZE", 100),
			ShutdownTimeout: envOrDefaultDuration("UPLOAD_SHUTDOWN_TIMEOUT", 30*time.Second),
			PollInterval:    envOrDefaultDuration("UPLOAD_POLL_INTERVAL", time.Second),
		},
		Sinks: SinksConfig{
			Enabled:     envOrDefaultList("UPLOAD_SINKS", []string{SinkHTTP}),
			LogOnly:     envOrDefaultBool("TRANSCRIPT_LOG_ONLY", false),
			APIURL:      os.Getenv("TRANSCRIPT_API_URL"),
			HTTPTimeout: envOrDefaultDuration("UPLOAD_HTTP_TIMEOUT", 10*time.Second),
		},
		Kafka: KafkaConfig{
			Enabled:        envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:        envOrDefaultList("KAFKA_BROKERS", nil),
			TopicUtterance: envOrDefault("KAFKA_TOPIC_UTTERANCE", "call.transcript.utterance"),
			Principal:      envOrDefault("KAFKA_PRINCIPAL", name),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Prefix:          os.Getenv("S3_PREFIX"),
			Region:          envOrDefault("AWS_REGION", "us-east-1"),
			AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
		},
		Observability: ObservabilityConfig{
			LogLevel:       envOrDefault("LOG_LEVEL", "info"),
			LogFormat:      envOrDefault("LOG_FORMAT", "json"),
			MetricsAddr:    envOrDefault("METRICS_ADDR", ":9090"),
			MetricsEnabled: envOrDefaultBool("METRICS_ENABLED", true),
		},
	}
}

// HasSink reports whether name is among the enabled sinks.
func (c *SinksConfig) HasSink(name string) bool {
	for _, s := range c.Enabled {
		if s == name {
			return true
		}
	}
	return false
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// envOrDefaultList splits a comma-separated value, trimming and lowercasing
// entries and skipping empty ones.
func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

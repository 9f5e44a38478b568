package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"ai-voice-transcript-service/internal/config"
	"ai-voice-transcript-service/internal/events"
	"ai-voice-transcript-service/internal/metadata"
	"ai-voice-transcript-service/internal/observability"
	"ai-voice-transcript-service/internal/observability/logging"
	"ai-voice-transcript-service/internal/observability/metrics"
	"ai-voice-transcript-service/internal/service/tracker"
	"ai-voice-transcript-service/internal/service/upload"
	"ai-voice-transcript-service/internal/sink"
)

// ErrNoCallID is returned when neither configuration nor room metadata
// supplies a call id.
var ErrNoCallID = errors.New("app: call id is required (CALL_ID, --call-id, or room metadata)")

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration

	Metrics *metrics.Metrics
	Sink    sink.Sink
	Tracker *tracker.Tracker
	Router  *events.Router
	Obs     *observability.Server
}

// Option customizes Application construction.
type Option func(*options)

type options struct {
	sink    sink.Sink
	metrics *metrics.Metrics
	start   time.Time
}

// WithSink replaces the configured sink.
func WithSink(s sink.Sink) Option {
	return func(o *options) { o.sink = s }
}

// WithMetrics replaces the default metrics registry.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithCallStart sets the call start time; defaults to now.
func WithCallStart(t time.Time) Option {
	return func(o *options) { o.start = t }
}

// New constructs a new Application from the provided configuration.
func New(cfg *config.Configuration, opts ...Option) (*Application, error) {
	o := options{metrics: metrics.DefaultMetrics}
	for _, opt := range opts {
		opt(&o)
	}
	if o.start.IsZero() {
		o.start = time.Now().UTC()
	}

	logging.Init(logging.Config{
		Level:   cfg.Observability.LogLevel,
		Format:  cfg.Observability.LogFormat,
		Service: cfg.Service.Name,
	})

	a := &Application{
		Cfg:     cfg,
		Metrics: o.metrics,
		Logger: logging.Logger().With().
			Str("component", "application").
			Logger(),
	}

	resolveIdentity(&cfg.Call)
	if cfg.Call.CallID == "" {
		return nil, ErrNoCallID
	}

	a.Sink = o.sink
	if a.Sink == nil {
		s, err := sink.FromConfig(cfg, a.Metrics)
		if err != nil {
			return nil, fmt.Errorf("configure sinks: %w", err)
		}
		a.Sink = s
	}

	t, err := tracker.New(tracker.Config{
		CallID:            cfg.Call.CallID,
		CallStartTime:     o.start,
		TranscriptTimeout: cfg.Tracker.TranscriptTimeout,
		RoomID:            cfg.Call.RoomID,
		AgentID:           cfg.Call.AgentID,
		Worker: upload.Config{
			MaxQueueSize:    cfg.Upload.MaxQueueSize,
			ShutdownTimeout: cfg.Upload.ShutdownTimeout,
			PollInterval:    cfg.Upload.PollInterval,
		},
	}, a.Sink.Upload, tracker.WithMetrics(a.Metrics))
	if err != nil {
		a.Sink.Close()
		return nil, err
	}
	a.Tracker = t
	a.Router = events.NewRouter(t)

	if cfg.Observability.MetricsEnabled {
		a.Obs = observability.NewServer(cfg.Observability.MetricsAddr, a.Stats, nil)
	}

	a.Logger.Info().
		Str("callId", cfg.Call.CallID).
		Str("roomId", cfg.Call.RoomID).
		Str("agentId", cfg.Call.AgentID).
		Str("sink", a.Sink.Name()).
		Msg("Transcript service application created")
	return a, nil
}

// resolveIdentity fills call and agent ids missing from configuration with
// values from room metadata.
func resolveIdentity(call *config.CallConfig) {
	id := metadata.Parse(call.RoomMetadata)
	if call.CallID == "" {
		call.CallID = id.CallID
	}
	if call.AgentID == "" {
		call.AgentID = id.AgentID
	}
}

// Start starts the tracker and the observability server.
func (a *Application) Start() error {
	a.StartupTime = time.Now().UTC()
	a.Tracker.Start()

	if a.Obs != nil {
		a.Obs.Start()
		a.Obs.SetReady(true)
	}

	a.Logger.Info().
		Time("startupTime", a.StartupTime).
		Msg("Transcript service starting")
	return nil
}

// Run feeds events from the router input until it ends or ctx is done.
func (a *Application) Run(ctx context.Context, in io.Reader) error {
	return a.Router.Run(ctx, in)
}

// Stats is the /stats payload.
func (a *Application) Stats() any {
	return struct {
		Tracker tracker.Stats      `json:"tracker"`
		Events  events.RouterStats `json:"events"`
	}{a.Tracker.Stats(), a.Router.Stats()}
}

// Shutdown stops the tracker (draining uploads), closes the sink, and stops
// the observability server.
func (a *Application) Shutdown(ctx context.Context) {
	a.Logger.Info().Msg("Transcript service shutting down")

	if a.Obs != nil {
		a.Obs.SetReady(false)
	}

	a.Tracker.Stop()
	a.Logger.Info().
		Interface("routerStats", a.Router.Stats()).
		Interface("trackerStats", a.Tracker.Stats()).
		Msg("Final stats")

	if err := a.Sink.Close(); err != nil {
		a.Logger.Error().Err(err).Msg("Error closing sink")
	}

	if a.Obs != nil {
		if err := a.Obs.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("Error shutting down observability server")
		}
	}
}

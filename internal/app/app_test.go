package app

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-voice-transcript-service/internal/config"
	"ai-voice-transcript-service/internal/models"
	"ai-voice-transcript-service/internal/observability/metrics"
)

type memorySink struct {
	mu      sync.Mutex
	records []models.UtteranceRecord
	closed  bool
}

func (m *memorySink) Name() string { return "memory" }

func (m *memorySink) Upload(_ context.Context, rec models.UtteranceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memorySink) Close() error {
	m.closed = true
	return nil
}

func testConfig() *config.Configuration {
	return &config.Configuration{
		Service: config.ServiceConfig{Name: "transcript-service-test"},
		Call:    config.CallConfig{CallID: "call-1", RoomID: "room-1"},
		Tracker: config.TrackerConfig{TranscriptTimeout: 200 * time.Millisecond},
		Upload: config.UploadConfig{
			MaxQueueSize:    10,
			ShutdownTimeout: 2 * time.Second,
			PollInterval:    10 * time.Millisecond,
		},
		Sinks:         config.SinksConfig{LogOnly: true},
		Observability: config.ObservabilityConfig{LogLevel: "error", LogFormat: "json"},
	}
}

func testMetrics() Option {
	m, _ := metrics.NewUnregistered()
	return WithMetrics(m)
}

func TestNew_RequiresCallID(t *testing.T) {
	cfg := testConfig()
	cfg.Call.CallID = ""

	_, err := New(cfg, testMetrics())
	assert.ErrorIs(t, err, ErrNoCallID)
}

func TestNew_IdentityFromRoomMetadata(t *testing.T) {
	cfg := testConfig()
	cfg.Call.CallID = ""
	cfg.Call.RoomMetadata = `{"callId":"call-meta","agentId":"agent-meta"}`

	a, err := New(cfg, testMetrics(), WithSink(&memorySink{}))
	require.NoError(t, err)
	assert.Equal(t, "call-meta", a.Cfg.Call.CallID)
	assert.Equal(t, "agent-meta", a.Cfg.Call.AgentID)
}

func TestNew_ConfiguredCallIDWins(t *testing.T) {
	cfg := testConfig()
	cfg.Call.RoomMetadata = `{"call_id":"ignored"}`

	a, err := New(cfg, testMetrics(), WithSink(&memorySink{}))
	require.NoError(t, err)
	assert.Equal(t, "call-1", a.Cfg.Call.CallID)
}

func TestNew_LogOnlySink(t *testing.T) {
	a, err := New(testConfig(), testMetrics())
	require.NoError(t, err)
	assert.Equal(t, "log", a.Sink.Name())
}

func TestApplication_RunAndShutdown(t *testing.T) {
	mem := &memorySink{}
	a, err := New(testConfig(), testMetrics(), WithSink(mem))
	require.NoError(t, err)
	require.NoError(t, a.Start())

	in := strings.Join([]string{
		`{"type":"agent_state_changed","old_state":"listening","new_state":"speaking"}`,
		`{"type":"conversation_item_added","item":{"role":"assistant","content":["Hello,","how can I help?"]}}`,
		`{"type":"agent_state_changed","old_state":"speaking","new_state":"listening"}`,
		`{"type":"user_state_changed","old_state":"listening","new_state":"speaking"}`,
		`{"type":"user_state_changed","old_state":"speaking","new_state":"listening"}`,
		`{"type":"user_input_transcribed","transcript":"I need a refund","is_final":true}`,
	}, "\n")
	require.NoError(t, a.Run(context.Background(), strings.NewReader(in)))

	a.Shutdown(context.Background())

	mem.mu.Lock()
	defer mem.mu.Unlock()
	require.Len(t, mem.records, 2)
	assert.True(t, mem.closed)

	bySpeaker := map[models.Role]models.UtteranceRecord{}
	for _, rec := range mem.records {
		bySpeaker[rec.Speaker] = rec
	}
	assert.Equal(t, "Hello, how can I help?", bySpeaker[models.RoleAgent].Transcript)
	assert.Equal(t, "I need a refund", bySpeaker[models.RoleUser].Transcript)
	assert.Equal(t, "room-1", bySpeaker[models.RoleUser].RoomID)
}

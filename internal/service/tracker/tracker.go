// Package tracker reconciles speech-boundary events and asynchronous
// transcription results into completed utterance records, and hands them to
// the upload worker.
package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ai-voice-transcript-service/internal/models"
	"ai-voice-transcript-service/internal/observability/logging"
	"ai-voice-transcript-service/internal/observability/metrics"
	"ai-voice-transcript-service/internal/service/session"
	"ai-voice-transcript-service/internal/service/upload"
)

// DefaultTranscriptTimeout is how long an ended session waits for its transcript.
const DefaultTranscriptTimeout = 5 * time.Second

// Configuration errors.
var (
	ErrMissingCallID    = errors.New("tracker: call id is required")
	ErrMissingCallStart = errors.New("tracker: call start time is required")
)

// Config holds the construction parameters of a Tracker.
type Config struct {
	CallID            string
	CallStartTime     time.Time
	TranscriptTimeout time.Duration
	Worker            upload.Config
	RoomID            string
	AgentID           string
}

// Stats is a read-only diagnostic snapshot.
type Stats struct {
	TotalSessions      int            `json:"total_sessions"`
	ActiveUserSession  string         `json:"active_user_session,omitempty"`
	ActiveAgentSession string         `json:"active_agent_session,omitempty"`
	PendingTimeouts    int            `json:"pending_timeouts"`
	ReadySessions      int            `json:"ready_sessions"`
	SessionsByState    map[string]int `json:"sessions_by_state"`
	UploadWorker       upload.Stats   `json:"upload_worker"`
}

// Option configures optional Tracker dependencies.
type Option func(*Tracker)

// WithMetrics overrides the metrics sink for the tracker and its worker.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// Tracker manages transcript sessions keyed by speaker role.
//
// At most one session per role is active (speech started, not yet ended).
// Ended sessions without a transcript wait up to TranscriptTimeout in their
// own goroutine; whichever of "speech ended" and "transcript received" comes
// second completes the session and appends it to the ready FIFO. A single
// feeder goroutine hands ready sessions to the worker in completion order.
// All handler bodies run under mu and never block on the upload queue.
type Tracker struct {
	cfg     Config
	worker  *upload.Worker
	ids     *session.Generator
	metrics *metrics.Metrics
	now     func() time.Time
	log     zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*session.Session
	active   map[models.Role]string
	timeouts map[string]context.CancelFunc
	ready    []*session.Session
	stopping bool
	draining bool
	feedDone chan struct{} // nil while stopped

	wake chan struct{}

	// Per-session timeout goroutines.
	tasks     sync.WaitGroup
	tasksCtx  context.Context
	cancelAll context.CancelFunc
}

// New creates a tracker that uploads completed sessions through fn.
func New(cfg Config, fn upload.UploadFunc, opts ...Option) (*Tracker, error) {
	if cfg.CallID == "" {
		return nil, ErrMissingCallID
	}
	if cfg.CallStartTime.IsZero() {
		return nil, ErrMissingCallStart
	}
	if cfg.TranscriptTimeout <= 0 {
		cfg.TranscriptTimeout = DefaultTranscriptTimeout
	}

	t := &Tracker{
		cfg:      cfg,
		ids:      session.NewGenerator(),
		metrics:  metrics.DefaultMetrics,
		now:      time.Now,
		log:      logging.WithCall("transcript-tracker", cfg.CallID),
		sessions: make(map[string]*session.Session),
		active:   make(map[models.Role]string),
		timeouts: make(map[string]context.CancelFunc),
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.tasksCtx, t.cancelAll = context.WithCancel(context.Background())

	t.worker = upload.New(fn, cfg.Worker,
		upload.WithOnSuccess(t.onUploadSuccess),
		upload.WithOnFailure(t.onUploadFailure),
		upload.WithMetrics(t.metrics),
	)
	return t, nil
}

// Start starts the upload worker and the feeder. A stopped tracker can be
// started again.
func (t *Tracker) Start() {
	t.mu.Lock()
	if t.feedDone != nil {
		t.mu.Unlock()
		t.log.Warn().Msg("Transcript tracker already running")
		return
	}
	if t.tasksCtx.Err() != nil {
		t.tasksCtx, t.cancelAll = context.WithCancel(context.Background())
	}
	t.stopping = false
	t.draining = false
	t.feedDone = make(chan struct{})
	ctx, done := t.tasksCtx, t.feedDone
	t.mu.Unlock()

	// The worker must accept items before the feeder hands any over.
	t.worker.Start()
	go t.feed(ctx, done)

	t.log.Info().
		Str("roomId", t.cfg.RoomID).
		Str("agentId", t.cfg.AgentID).
		Dur("transcriptTimeout", t.cfg.TranscriptTimeout).
		Msg("Transcript tracker started")
}

// Stop cancels pending timeout goroutines, feeds every ready session to the
// worker, and drains the worker. The feed is bounded by the worker's shutdown
// timeout; sessions still unfed after it are discarded.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if t.feedDone == nil {
		t.mu.Unlock()
		t.log.Warn().Msg("Transcript tracker not running")
		return
	}
	t.log.Info().Msg("Stopping transcript tracker")
	t.stopping = true
	for _, cancel := range t.timeouts {
		cancel()
	}
	cancelAll, feedDone := t.cancelAll, t.feedDone
	t.mu.Unlock()

	// Cancelled timeout goroutines settle their sessions without blocking.
	t.tasks.Wait()

	t.mu.Lock()
	t.draining = true
	t.mu.Unlock()
	t.signal()

	timer := time.NewTimer(t.shutdownTimeout())
	select {
	case <-feedDone:
	case <-timer.C:
		t.log.Warn().Int("ready", t.Stats().ReadySessions).Msg("Ready sessions not fed in time, cancelling")
		cancelAll()
		<-feedDone
	}
	timer.Stop()

	t.worker.Stop()
	cancelAll()
	t.clearSuperseded()

	t.mu.Lock()
	t.feedDone = nil
	t.mu.Unlock()

	t.log.Info().Msg("Transcript tracker stopped")
}

// feed hands ready sessions to the worker one at a time, oldest first, until
// the tracker is draining and nothing is left.
func (t *Tracker) feed(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		t.mu.Lock()
		var next *session.Session
		if len(t.ready) > 0 {
			next = t.ready[0]
			t.ready[0] = nil
			t.ready = t.ready[1:]
		}
		draining := t.draining
		t.mu.Unlock()

		if next != nil {
			t.enqueue(ctx, next)
			continue
		}
		if draining || ctx.Err() != nil {
			return
		}
		select {
		case <-t.wake:
		case <-ctx.Done():
		}
	}
}

func (t *Tracker) signal() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// clearSuperseded discards sessions that were replaced by a newer start
// before their speech ever ended.
func (t *Tracker) clearSuperseded() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, s := range t.sessions {
		if s.State() != session.StateSpeaking || id == t.active[s.Role()] {
			continue
		}
		t.dropLocked(s, metrics.ReasonSupersededOpen)
	}
}

func (t *Tracker) shutdownTimeout() time.Duration {
	if t.cfg.Worker.ShutdownTimeout > 0 {
		return t.cfg.Worker.ShutdownTimeout
	}
	return upload.DefaultConfig().ShutdownTimeout
}

// StartUserSpeech opens a new user session.
func (t *Tracker) StartUserSpeech() string { return t.StartSpeech(models.RoleUser) }

// EndUserSpeech closes the active user session.
func (t *Tracker) EndUserSpeech() (string, bool) { return t.EndSpeech(models.RoleUser) }

// AddUserTranscript attaches text to the current or waiting user session.
func (t *Tracker) AddUserTranscript(text string) string {
	return t.AddTranscript(models.RoleUser, text)
}

// StartAgentSpeech opens a new agent session.
func (t *Tracker) StartAgentSpeech() string { return t.StartSpeech(models.RoleAgent) }

// EndAgentSpeech closes the active agent session.
func (t *Tracker) EndAgentSpeech() (string, bool) { return t.EndSpeech(models.RoleAgent) }

// AddAgentTranscript attaches text to the current or waiting agent session.
func (t *Tracker) AddAgentTranscript(text string) string {
	return t.AddTranscript(models.RoleAgent, text)
}

// StartSpeech creates a session for role and makes it the active one. An
// active session that was never ended is superseded: it stays in the session
// map but no longer receives speech-end or transcript calls through the
// active pointer.
func (t *Tracker) StartSpeech(role models.Role) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.active[role]; ok {
		t.metrics.RecordSessionSuperseded(string(role))
		t.log.Warn().
			Str("role", string(role)).
			Str("sessionId", prev).
			Msg("Speech started while previous session still open, superseding it")
	}

	s := t.createLocked(role, t.now())
	t.active[role] = s.ID()
	t.log.Debug().Str("role", string(role)).Str("sessionId", s.ID()).Msg("Started session")
	return s.ID()
}

// EndSpeech closes the active session for role. A session that already has
// its transcript is enqueued right away; otherwise a timeout goroutine
// decides its fate. Returns false if no session was active.
func (t *Tracker) EndSpeech(role models.Role) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id, ok := t.active[role]
	if !ok {
		t.log.Warn().Str("role", string(role)).Msg("End of speech with no active session")
		return "", false
	}
	delete(t.active, role)

	s, ok := t.sessions[id]
	if !ok {
		t.log.Error().Str("sessionId", id).Msg("Active session not found")
		return "", false
	}

	if err := s.EndSpeech(t.now()); err != nil {
		t.log.Error().Err(err).Str("sessionId", id).Msg("Failed to end session")
		return id, true
	}

	if s.IsComplete() {
		t.completeLocked(s)
	} else {
		t.scheduleTimeoutLocked(s)
	}

	t.log.Debug().Str("role", string(role)).Str("sessionId", id).Str("state", s.State().String()).Msg("Ended session")
	return id, true
}

// AddTranscript attaches text to the active session for role, else to the
// most recent session of role waiting for a transcript. With neither, the
// transcript is late: a session is synthesized already ended and complete,
// and enqueued.
func (t *Tracker) AddTranscript(role models.Role, text string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	id, ok := t.active[role]
	if !ok {
		id = t.findWaitingLocked(role)
	}

	if id == "" {
		t.metrics.RecordLateTranscript(string(role))
		t.log.Warn().Str("role", string(role)).Msg("Creating session for late transcript")

		now := t.now()
		s := t.createLocked(role, now)
		_ = s.SetTranscript(text)
		_ = s.EndSpeech(now)
		t.completeLocked(s)
		return s.ID()
	}

	s, ok := t.sessions[id]
	if !ok {
		return id
	}
	if err := s.SetTranscript(text); err != nil {
		t.log.Warn().Err(err).Str("sessionId", id).Msg("Transcript ignored")
		return id
	}
	// A waiting session just completed: take it from its timeout goroutine.
	if cancel, owned := t.timeouts[id]; owned && s.IsComplete() {
		delete(t.timeouts, id)
		cancel()
		t.readyLocked(s)
	}
	return id
}

// findWaitingLocked returns the most recently created session of role in
// WAITING_TRANSCRIPT, or "".
func (t *Tracker) findWaitingLocked(role models.Role) string {
	var best *session.Session
	for _, s := range t.sessions {
		if s.Role() != role || s.State() != session.StateWaitingTranscript {
			continue
		}
		if best == nil || s.Seq() > best.Seq() {
			best = s
		}
	}
	if best == nil {
		return ""
	}
	return best.ID()
}

func (t *Tracker) createLocked(role models.Role, now time.Time) *session.Session {
	id, seq := t.ids.Next(role, now)
	s := session.New(id, seq, role, session.Meta{
		CallID:        t.cfg.CallID,
		CallStartTime: t.cfg.CallStartTime,
		RoomID:        t.cfg.RoomID,
		AgentID:       t.cfg.AgentID,
	}, now)
	t.sessions[id] = s
	t.metrics.RecordSessionCreated(string(role))
	return s
}

// scheduleTimeoutLocked starts the goroutine that owns the fate of an ended
// session still waiting for its transcript. Ownership ends when the entry
// leaves t.timeouts, either here or in AddTranscript.
func (t *Tracker) scheduleTimeoutLocked(s *session.Session) {
	if t.stopping {
		t.dropLocked(s, metrics.ReasonShutdown)
		return
	}

	ctx, cancel := context.WithCancel(t.tasksCtx)
	t.timeouts[s.ID()] = cancel
	t.tasks.Add(1)

	go func() {
		defer t.tasks.Done()
		completed := s.WaitForCompletion(ctx, t.cfg.TranscriptTimeout)

		t.mu.Lock()
		defer t.mu.Unlock()

		if _, owned := t.timeouts[s.ID()]; !owned {
			return
		}
		cancelled := ctx.Err() != nil
		delete(t.timeouts, s.ID())
		cancel()

		switch {
		case completed || s.IsComplete():
			t.readyLocked(s)
		case cancelled:
			t.dropLocked(s, metrics.ReasonShutdown)
		default:
			t.resolveTimeoutLocked(s)
		}
	}()
}

// resolveTimeoutLocked handles a session whose deadline passed without a
// completing transcript.
func (t *Tracker) resolveTimeoutLocked(s *session.Session) {
	logger := logging.WithSession(t.cfg.CallID, s.ID(), string(s.Role()))
	logger.Warn().Dur("timeout", t.cfg.TranscriptTimeout).Msg("Session timed out waiting for transcript")

	if s.HasTranscript() {
		if err := s.MarkComplete(); err == nil {
			t.readyLocked(s)
			return
		}
	}

	logger.Info().Msg("Skipping upload for session without transcript")
	t.dropLocked(s, metrics.ReasonTimeout)
}

// completeLocked queues a session completed by a handler, unless the
// tracker is stopping.
func (t *Tracker) completeLocked(s *session.Session) {
	if t.stopping {
		t.dropLocked(s, metrics.ReasonShutdown)
		return
	}
	t.readyLocked(s)
}

func (t *Tracker) readyLocked(s *session.Session) {
	t.ready = append(t.ready, s)
	t.signal()
}

func (t *Tracker) enqueue(ctx context.Context, s *session.Session) {
	d, hasDuration := s.Duration()
	if err := t.worker.Enqueue(ctx, s); err != nil {
		reason := metrics.ReasonEnqueueFailed
		if errors.Is(err, upload.ErrNotRunning) {
			reason = metrics.ReasonWorkerStopped
		}
		logger := logging.WithSession(t.cfg.CallID, s.ID(), string(s.Role()))
		logger.Error().
			Err(err).
			Msg("Failed to enqueue session for upload")

		t.mu.Lock()
		t.dropLocked(s, reason)
		t.mu.Unlock()
		return
	}
	t.metrics.RecordSessionCompleted(string(s.Role()), d, hasDuration)
}

// dropLocked removes a session that will never be uploaded.
func (t *Tracker) dropLocked(s *session.Session, reason string) {
	if _, ok := t.sessions[s.ID()]; !ok {
		return
	}
	delete(t.sessions, s.ID())
	t.metrics.RecordSessionDiscarded(string(s.Role()), reason)
}

func (t *Tracker) onUploadSuccess(item upload.Uploadable) {
	s, ok := item.(*session.Session)
	if !ok {
		return
	}
	if err := s.MarkUploaded(); err != nil {
		t.log.Warn().Err(err).Str("sessionId", s.ID()).Msg("Uploaded session in unexpected state")
	}

	t.mu.Lock()
	delete(t.sessions, s.ID())
	t.mu.Unlock()

	t.log.Info().Str("sessionId", s.ID()).Str("role", string(s.Role())).Msg("Uploaded session")
}

func (t *Tracker) onUploadFailure(item upload.Uploadable, err error) {
	s, ok := item.(*session.Session)
	if !ok {
		return
	}

	t.mu.Lock()
	t.dropLocked(s, metrics.ReasonUploadFailed)
	t.mu.Unlock()

	t.log.Error().Err(err).Str("sessionId", s.ID()).Msg("Failed to upload session")
}

// Session returns the tracked session with id, if still held by the tracker.
func (t *Tracker) Session(id string) (*session.Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	return s, ok
}

// Stats returns a diagnostic snapshot of the tracker and its worker.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	byState := make(map[string]int, len(session.States))
	for _, st := range session.States {
		byState[st.String()] = 0
	}
	for _, s := range t.sessions {
		byState[s.State().String()]++
	}
	stats := Stats{
		TotalSessions:      len(t.sessions),
		ActiveUserSession:  t.active[models.RoleUser],
		ActiveAgentSession: t.active[models.RoleAgent],
		PendingTimeouts:    len(t.timeouts),
		ReadySessions:      len(t.ready),
		SessionsByState:    byState,
	}
	t.mu.Unlock()

	stats.UploadWorker = t.worker.Stats()
	return stats
}

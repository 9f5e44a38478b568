package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ai-voice-transcript-service/internal/models"
)

// Timestamp layout for record start/end times: ISO-8601, always UTC.
const isoLayout = "2006-01-02T15:04:05.000000Z"

// Meta carries the call-level identifiers stamped on every session.
type Meta struct {
	CallID        string
	CallStartTime time.Time
	RoomID        string
	AgentID       string
}

// Session is one unit of speech by one role, tracked from speech start to
// upload or discard. Thread-safe for concurrent access.
//
// State transitions:
//
//	SPEAKING ──EndSpeech()──> WAITING_TRANSCRIPT ──SetTranscript()──> COMPLETE ──MarkUploaded()──> UPLOADED
//	   │                                                                 ^
//	   └──EndSpeech() with transcript already set────────────────────────┘
//
// Done() is closed exactly once, when the session reaches COMPLETE.
type Session struct {
	mu sync.RWMutex

	id   string
	seq  uint64
	role models.Role
	meta Meta

	startTime     time.Time
	endTime       time.Time
	relativeStart string
	relativeEnd   string

	transcript    string
	hasTranscript bool
	state         State

	done     chan struct{}
	doneOnce sync.Once
}

// New creates a session in SPEAKING state started at now.
func New(id string, seq uint64, role models.Role, meta Meta, now time.Time) *Session {
	now = now.UTC()
	return &Session{
		id:            id,
		seq:           seq,
		role:          role,
		meta:          meta,
		startTime:     now,
		relativeStart: FormatOffset(now.Sub(meta.CallStartTime)),
		state:         StateSpeaking,
		done:          make(chan struct{}),
	}
}

// ID returns the session ID.
func (s *Session) ID() string {
	return s.id
}

// Seq returns the creation sequence number; higher means more recent.
func (s *Session) Seq() uint64 {
	return s.seq
}

// Role returns the speaker role.
func (s *Session) Role() models.Role {
	return s.role
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Transcript returns the attached transcript and whether one was set.
func (s *Session) Transcript() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transcript, s.hasTranscript
}

// HasTranscript reports whether a transcript has been attached.
func (s *Session) HasTranscript() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasTranscript
}

// IsComplete returns true if the session is ready for upload.
func (s *Session) IsComplete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateComplete
}

// Done returns a channel closed when the session becomes complete.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// EndSpeech stamps the end time and moves to WAITING_TRANSCRIPT, or straight
// to COMPLETE if a transcript is already attached.
func (s *Session) EndSpeech(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateSpeaking {
		return ErrAlreadyEnded
	}

	now = now.UTC()
	if now.Before(s.startTime) {
		now = s.startTime
	}
	s.endTime = now
	s.relativeEnd = FormatOffset(now.Sub(s.meta.CallStartTime))

	if s.hasTranscript {
		s.markCompleteLocked()
	} else {
		s.state = StateWaitingTranscript
	}
	return nil
}

// SetTranscript attaches text. A SPEAKING session only stores it; a
// WAITING_TRANSCRIPT session completes.
func (s *Session) SetTranscript(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateSpeaking:
		s.transcript = text
		s.hasTranscript = true
		return nil
	case StateWaitingTranscript:
		s.transcript = text
		s.hasTranscript = true
		s.markCompleteLocked()
		return nil
	case StateComplete, StateUploaded:
		return ErrTranscriptAfterComplete
	default:
		return fmt.Errorf("unexpected state: %v", s.state)
	}
}

// MarkComplete forces COMPLETE on an ended session that holds a transcript.
// Idempotent for sessions already complete.
func (s *Session) MarkComplete() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.state == StateComplete:
		return nil
	case s.state != StateWaitingTranscript:
		return fmt.Errorf("cannot complete from %v: %w", s.state, ErrNotComplete)
	case !s.hasTranscript:
		return ErrNoTranscript
	}
	s.markCompleteLocked()
	return nil
}

// MarkUploaded moves a COMPLETE session to UPLOADED.
func (s *Session) MarkUploaded() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateUploaded {
		return nil
	}
	if s.state != StateComplete {
		return ErrNotComplete
	}
	s.state = StateUploaded
	return nil
}

func (s *Session) markCompleteLocked() {
	s.state = StateComplete
	s.doneOnce.Do(func() { close(s.done) })
}

// WaitForCompletion blocks until the session completes, timeout elapses, or
// ctx is cancelled. Returns true only if the session completed.
func (s *Session) WaitForCompletion(ctx context.Context, timeout time.Duration) bool {
	if s.IsComplete() {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.done:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Duration returns end minus start in seconds, and false if speech has not ended.
func (s *Session) Duration() (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.durationLocked()
}

func (s *Session) durationLocked() (float64, bool) {
	if s.startTime.IsZero() || s.endTime.IsZero() {
		return 0, false
	}
	return s.endTime.Sub(s.startTime).Seconds(), true
}

// Record converts the session to the plain upload record.
func (s *Session) Record() models.UtteranceRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec := models.UtteranceRecord{
		SessionID:         s.id,
		CallID:            s.meta.CallID,
		Speaker:           s.role,
		Transcript:        s.transcript,
		HasTranscript:     s.hasTranscript,
		StartTime:         s.startTime.Format(isoLayout),
		RelativeStartTime: s.relativeStart,
		RelativeEndTime:   s.relativeEnd,
		RoomID:            s.meta.RoomID,
		AgentID:           s.meta.AgentID,
	}
	if !s.endTime.IsZero() {
		rec.EndTime = s.endTime.Format(isoLayout)
	}
	if d, ok := s.durationLocked(); ok {
		rec.Duration = &d
	}
	return rec
}

// FormatOffset renders d as HH:MM:SS.mmm. Negative offsets clamp to zero.
func FormatOffset(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	h := ms / 3_600_000
	ms -= h * 3_600_000
	m := ms / 60_000
	ms -= m * 60_000
	sec := ms / 1000
	ms -= sec * 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, sec, ms)
}

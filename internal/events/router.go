package events

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"ai-voice-transcript-service/internal/models"
	"ai-voice-transcript-service/internal/observability/logging"
)

// maxLineSize bounds a single JSON-lines event.
const maxLineSize = 1 << 20

// Event is a typed tracker input derived from an Envelope.
type Event interface {
	Speaker() models.Role
}

// SpeechStarted means role began speaking.
type SpeechStarted struct {
	Role models.Role
}

// SpeechEnded means role stopped speaking.
type SpeechEnded struct {
	Role models.Role
}

// TranscriptReceived carries final transcript text for role.
type TranscriptReceived struct {
	Role models.Role
	Text string
}

func (e SpeechStarted) Speaker() models.Role      { return e.Role }
func (e SpeechEnded) Speaker() models.Role        { return e.Role }
func (e TranscriptReceived) Speaker() models.Role { return e.Role }

// Translate maps an envelope to its tracker event. It returns nil for
// envelopes that carry nothing for the tracker: other state changes, interim
// transcriptions, non-assistant items, and empty transcripts.
func Translate(env Envelope) Event {
	switch env.Type {
	case TypeUserStateChanged:
		return stateEvent(models.RoleUser, env)
	case TypeAgentStateChanged:
		return stateEvent(models.RoleAgent, env)
	case TypeUserInputTranscribed:
		if !env.Final() {
			return nil
		}
		text := Normalize(firstNonEmpty(env.Transcript, env.Text))
		if text == "" {
			return nil
		}
		return TranscriptReceived{Role: models.RoleUser, Text: text}
	case TypeConversationItemAdded:
		if env.Item == nil || !strings.Contains(strings.ToLower(env.Item.Role), "assistant") {
			return nil
		}
		text := Normalize(firstNonEmpty(env.Item.Content, env.Item.Text, env.Item.Message))
		if text == "" {
			return nil
		}
		return TranscriptReceived{Role: models.RoleAgent, Text: text}
	}
	return nil
}

func stateEvent(role models.Role, env Envelope) Event {
	switch {
	case env.NewState == StateSpeaking:
		return SpeechStarted{Role: role}
	case env.NewState == StateListening && env.OldState == StateSpeaking:
		return SpeechEnded{Role: role}
	}
	return nil
}

// Target receives routed events. *tracker.Tracker satisfies it.
type Target interface {
	StartSpeech(role models.Role) string
	EndSpeech(role models.Role) (string, bool)
	AddTranscript(role models.Role, text string) string
}

// RouterStats counts what a Router has seen.
type RouterStats struct {
	Received  int64 `json:"received"`
	Routed    int64 `json:"routed"`
	Ignored   int64 `json:"ignored"`
	Malformed int64 `json:"malformed"`
}

// Router feeds decoded events to a Target.
type Router struct {
	target Target
	log    zerolog.Logger

	received  atomic.Int64
	routed    atomic.Int64
	ignored   atomic.Int64
	malformed atomic.Int64
}

// NewRouter creates a router for target.
func NewRouter(target Target) *Router {
	return &Router{
		target: target,
		log:    logging.WithComponent("event-router"),
	}
}

// Dispatch applies one typed event to the target.
func (r *Router) Dispatch(ev Event) {
	switch e := ev.(type) {
	case SpeechStarted:
		r.target.StartSpeech(e.Role)
	case SpeechEnded:
		r.target.EndSpeech(e.Role)
	case TranscriptReceived:
		r.target.AddTranscript(e.Role, e.Text)
	}
}

// Handle translates and dispatches one envelope. It reports whether the
// envelope produced a tracker call.
func (r *Router) Handle(env Envelope) bool {
	r.received.Add(1)
	ev := Translate(env)
	if ev == nil {
		r.ignored.Add(1)
		r.log.Debug().Str("type", env.Type).Str("newState", env.NewState).Msg("Event ignored")
		return false
	}
	r.routed.Add(1)
	r.Dispatch(ev)
	return true
}

// Run reads JSON-lines envelopes from in until EOF or ctx is done. Blank
// lines are skipped; malformed lines are logged and skipped.
func (r *Router) Run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	line := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line++

		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		var env Envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			r.malformed.Add(1)
			r.log.Warn().Err(err).Int("line", line).Msg("Skipping malformed event")
			continue
		}
		r.Handle(env)
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read events: %w", err)
	}
	return nil
}

// Stats returns a snapshot of the router counters.
func (r *Router) Stats() RouterStats {
	return RouterStats{
		Received:  r.received.Load(),
		Routed:    r.routed.Load(),
		Ignored:   r.ignored.Load(),
		Malformed: r.malformed.Load(),
	}
}

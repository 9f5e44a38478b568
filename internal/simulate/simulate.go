// Package simulate produces scripted voice-agent conversations as framework
// events, covering every ordering of transcript and end-of-speech the
// tracker has to reconcile.
package simulate

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"ai-voice-transcript-service/internal/events"
	"ai-voice-transcript-service/internal/models"
)

// Ordering is where a turn's final transcript lands relative to its end of
// speech.
type Ordering int

const (
	TranscriptBeforeEnd Ordering = iota
	TranscriptAfterEnd
	TranscriptMissing
	TranscriptLate
)

// Orderings lists every ordering.
var Orderings = []Ordering{TranscriptBeforeEnd, TranscriptAfterEnd, TranscriptMissing, TranscriptLate}

func (o Ordering) String() string {
	switch o {
	case TranscriptBeforeEnd:
		return "before_end"
	case TranscriptAfterEnd:
		return "after_end"
	case TranscriptMissing:
		return "missing"
	case TranscriptLate:
		return "late"
	default:
		return fmt.Sprintf("unknown(%d)", int(o))
	}
}

// ParseOrdering parses the String form of an Ordering.
func ParseOrdering(s string) (Ordering, error) {
	for _, o := range Orderings {
		if o.String() == s {
			return o, nil
		}
	}
	return 0, fmt.Errorf("unknown ordering %q", s)
}

// Utterance is one scripted line: interim partials followed by the final text.
type Utterance struct {
	Partials []string
	Final    string
}

// UserLines are sample caller utterances.
var UserLines = []Utterance{
	{Partials: []string{"I want", "I want to", "I want to cancel"}, Final: "I want to cancel my subscription"},
	{Partials: []string{"Yes", "Yes please"}, Final: "Yes please go ahead"},
	{Partials: []string{"Can you", "Can you help", "Can you help me with"}, Final: "Can you help me with my account"},
	{Partials: []string{"I've been", "I've been waiting", "I've been waiting for"}, Final: "I've been waiting for over an hour"},
	{Partials: []string{"Thank you"}, Final: "Thank you very much"},
}

// AgentLines are sample agent replies.
var AgentLines = []string{
	"Thanks for calling, how can I help you today?",
	"I can help with that. Can you confirm the email on the account?",
	"I'm sorry about the wait. Let me look into it right away.",
	"Done. Is there anything else I can do for you?",
	"You're welcome, have a great day.",
}

// Turn is one scripted speech turn.
type Turn struct {
	Role     models.Role
	Partials []string
	Text     string
	Ordering Ordering
}

// Expects reports whether the tracker should upload a transcript for t.
func (t Turn) Expects() bool {
	return t.Ordering != TranscriptMissing
}

// Timing controls the delays between scripted events.
type Timing struct {
	Speech       time.Duration // speech start to end
	Partial      time.Duration // between interim partials
	AfterEnd     time.Duration // end to transcript for TranscriptAfterEnd
	Late         time.Duration // end to transcript for TranscriptLate; exceed the tracker timeout
	BetweenTurns time.Duration
}

// DefaultTiming suits a tracker with the default 5s transcript timeout.
func DefaultTiming() Timing {
	return Timing{
		Speech:       800 * time.Millisecond,
		Partial:      150 * time.Millisecond,
		AfterEnd:     300 * time.Millisecond,
		Late:         6 * time.Second,
		BetweenTurns: 200 * time.Millisecond,
	}
}

// Step is one event preceded by a delay.
type Step struct {
	Delay    time.Duration
	Envelope events.Envelope
}

// Conversation builds n alternating turns starting with the agent greeting.
// Orderings are drawn from orderings using rng; nil orderings means all.
func Conversation(n int, rng *rand.Rand, orderings []Ordering) []Turn {
	if len(orderings) == 0 {
		orderings = Orderings
	}
	turns := make([]Turn, 0, n)
	for i := 0; i < n; i++ {
		ord := orderings[rng.IntN(len(orderings))]
		if i%2 == 0 {
			turns = append(turns, Turn{
				Role:     models.RoleAgent,
				Text:     AgentLines[(i/2)%len(AgentLines)],
				Ordering: ord,
			})
			continue
		}
		u := UserLines[(i/2)%len(UserLines)]
		turns = append(turns, Turn{
			Role:     models.RoleUser,
			Partials: u.Partials,
			Text:     u.Final,
			Ordering: ord,
		})
	}
	return turns
}

// Script renders turns into timed framework events.
func Script(turns []Turn, timing Timing) []Step {
	var steps []Step
	for i, t := range turns {
		gap := timing.BetweenTurns
		if i == 0 {
			gap = 0
		}
		steps = append(steps, Step{Delay: gap, Envelope: stateChange(t.Role, events.StateListening, events.StateSpeaking)})

		spoken := timing.Speech
		for _, p := range t.Partials {
			steps = append(steps, Step{Delay: timing.Partial, Envelope: interim(p)})
			spoken -= timing.Partial
		}
		if spoken < 0 {
			spoken = 0
		}

		end := stateChange(t.Role, events.StateSpeaking, events.StateListening)
		switch t.Ordering {
		case TranscriptBeforeEnd:
			steps = append(steps,
				Step{Delay: spoken, Envelope: final(t.Role, t.Text)},
				Step{Envelope: end},
			)
		case TranscriptAfterEnd:
			steps = append(steps,
				Step{Delay: spoken, Envelope: end},
				Step{Delay: timing.AfterEnd, Envelope: final(t.Role, t.Text)},
			)
		case TranscriptMissing:
			steps = append(steps, Step{Delay: spoken, Envelope: end})
		case TranscriptLate:
			steps = append(steps,
				Step{Delay: spoken, Envelope: end},
				Step{Delay: timing.Late, Envelope: final(t.Role, t.Text)},
			)
		}
	}
	return steps
}

// Play writes steps to enc, sleeping each step's delay first.
func Play(ctx context.Context, steps []Step, enc *events.Encoder) error {
	for _, s := range steps {
		if s.Delay > 0 {
			timer := time.NewTimer(s.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		if err := enc.Encode(s.Envelope); err != nil {
			return err
		}
	}
	return nil
}

func stateChange(role models.Role, from, to string) events.Envelope {
	typ := events.TypeUserStateChanged
	if role == models.RoleAgent {
		typ = events.TypeAgentStateChanged
	}
	return events.Envelope{Type: typ, OldState: from, NewState: to}
}

func interim(text string) events.Envelope {
	f := false
	return events.Envelope{Type: events.TypeUserInputTranscribed, Transcript: events.RawText(text), IsFinal: &f}
}

func final(role models.Role, text string) events.Envelope {
	if role == models.RoleAgent {
		return events.Envelope{
			Type: events.TypeConversationItemAdded,
			Item: &events.Item{Role: "assistant", Content: events.RawText(text)},
		}
	}
	t := true
	return events.Envelope{Type: events.TypeUserInputTranscribed, Transcript: events.RawText(text), IsFinal: &t}
}

package events

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-voice-transcript-service/internal/models"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"empty", ``, ""},
		{"null", `null`, ""},
		{"string", `"  hello there  "`, "hello there"},
		{"list of strings", `["Hello", " world "]`, "Hello world"},
		{"list skips empties", `["a", "", null, "b"]`, "a b"},
		{"list of text objects", `[{"text":"one"},{"text":" two "}]`, "one two"},
		{"mixed list", `["one", {"text":"two"}, 3]`, "one two 3"},
		{"object with text", `{"text":" spoken "}`, "spoken"},
		{"number", `42`, "42"},
		{"whitespace only", `"   "`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(json.RawMessage(tt.raw))
			if got != tt.want {
				t.Errorf("Normalize(%s) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func boolPtr(b bool) *bool { return &b }

func TestTranslate(t *testing.T) {
	tests := []struct {
		name string
		env  Envelope
		want Event
	}{
		{
			name: "user starts speaking",
			env:  Envelope{Type: TypeUserStateChanged, OldState: StateListening, NewState: StateSpeaking},
			want: SpeechStarted{Role: models.RoleUser},
		},
		{
			name: "user stops speaking",
			env:  Envelope{Type: TypeUserStateChanged, OldState: StateSpeaking, NewState: StateListening},
			want: SpeechEnded{Role: models.RoleUser},
		},
		{
			name: "listening without prior speaking",
			env:  Envelope{Type: TypeUserStateChanged, OldState: StateThinking, NewState: StateListening},
			want: nil,
		},
		{
			name: "agent starts speaking",
			env:  Envelope{Type: TypeAgentStateChanged, NewState: StateSpeaking},
			want: SpeechStarted{Role: models.RoleAgent},
		},
		{
			name: "agent stops speaking",
			env:  Envelope{Type: TypeAgentStateChanged, OldState: StateSpeaking, NewState: StateListening},
			want: SpeechEnded{Role: models.RoleAgent},
		},
		{
			name: "agent thinking",
			env:  Envelope{Type: TypeAgentStateChanged, OldState: StateListening, NewState: StateThinking},
			want: nil,
		},
		{
			name: "final user transcript",
			env:  Envelope{Type: TypeUserInputTranscribed, Transcript: RawText(" hi "), IsFinal: boolPtr(true)},
			want: TranscriptReceived{Role: models.RoleUser, Text: "hi"},
		},
		{
			name: "missing is_final counts as final",
			env:  Envelope{Type: TypeUserInputTranscribed, Text: RawText("via text")},
			want: TranscriptReceived{Role: models.RoleUser, Text: "via text"},
		},
		{
			name: "interim user transcript",
			env:  Envelope{Type: TypeUserInputTranscribed, Transcript: RawText("hi"), IsFinal: boolPtr(false)},
			want: nil,
		},
		{
			name: "empty user transcript",
			env:  Envelope{Type: TypeUserInputTranscribed, Transcript: RawText("   ")},
			want: nil,
		},
		{
			name: "assistant item",
			env: Envelope{Type: TypeConversationItemAdded, Item: &Item{
				Role: "assistant", Content: json.RawMessage(`["How can", "I help?"]`),
			}},
			want: TranscriptReceived{Role: models.RoleAgent, Text: "How can I help?"},
		},
		{
			name: "assistant item falls back to message",
			env: Envelope{Type: TypeConversationItemAdded, Item: &Item{
				Role: "ChatRole.ASSISTANT", Message: RawText("Bye"),
			}},
			want: TranscriptReceived{Role: models.RoleAgent, Text: "Bye"},
		},
		{
			name: "user item ignored",
			env:  Envelope{Type: TypeConversationItemAdded, Item: &Item{Role: "user", Content: RawText("x")}},
			want: nil,
		},
		{
			name: "item missing",
			env:  Envelope{Type: TypeConversationItemAdded},
			want: nil,
		},
		{
			name: "unknown type",
			env:  Envelope{Type: "metrics_collected"},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Translate(tt.env))
		})
	}
}

type call struct {
	op   string
	role models.Role
	text string
}

type fakeTarget struct {
	calls []call
}

func (f *fakeTarget) StartSpeech(role models.Role) string {
	f.calls = append(f.calls, call{op: "start", role: role})
	return "id"
}

func (f *fakeTarget) EndSpeech(role models.Role) (string, bool) {
	f.calls = append(f.calls, call{op: "end", role: role})
	return "id", true
}

func (f *fakeTarget) AddTranscript(role models.Role, text string) string {
	f.calls = append(f.calls, call{op: "transcript", role: role, text: text})
	return "id"
}

func TestRouter_Run(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	require.NoError(t, enc.Encode(Envelope{Type: TypeUserStateChanged, OldState: StateListening, NewState: StateSpeaking}))
	require.NoError(t, enc.Encode(Envelope{Type: TypeUserInputTranscribed, Transcript: RawText("partial"), IsFinal: boolPtr(false)}))
	require.NoError(t, enc.Encode(Envelope{Type: TypeUserInputTranscribed, Transcript: RawText("final words")}))
	require.NoError(t, enc.Encode(Envelope{Type: TypeUserStateChanged, OldState: StateSpeaking, NewState: StateListening}))
	buf.WriteString("\n{not json}\n")
	require.NoError(t, enc.Encode(Envelope{Type: TypeConversationItemAdded, Item: &Item{Role: "assistant", Content: RawText("reply")}}))

	target := &fakeTarget{}
	r := NewRouter(target)
	require.NoError(t, r.Run(context.Background(), &buf))

	assert.Equal(t, []call{
		{op: "start", role: models.RoleUser},
		{op: "transcript", role: models.RoleUser, text: "final words"},
		{op: "end", role: models.RoleUser},
		{op: "transcript", role: models.RoleAgent, text: "reply"},
	}, target.calls)

	assert.Equal(t, RouterStats{Received: 5, Routed: 4, Ignored: 1, Malformed: 1}, r.Stats())
}

func TestRouter_Run_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	target := &fakeTarget{}
	err := NewRouter(target).Run(ctx, strings.NewReader(`{"type":"user_state_changed","new_state":"speaking"}`+"\n"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, target.calls)
}

// Package events translates voice-agent framework events into tracker calls.
//
// Events arrive as JSON lines, one Envelope per line:
//
//	{"type":"user_state_changed","old_state":"listening","new_state":"speaking"}
//	{"type":"user_input_transcribed","transcript":"hello","is_final":true}
//	{"type":"agent_state_changed","old_state":"speaking","new_state":"listening"}
//	{"type":"conversation_item_added","item":{"role":"assistant","content":["Hi there"]}}
package events

import (
	"encoding/json"
	"io"
)

// Envelope types.
const (
	TypeUserStateChanged      = "user_state_changed"
	TypeAgentStateChanged     = "agent_state_changed"
	TypeUserInputTranscribed  = "user_input_transcribed"
	TypeConversationItemAdded = "conversation_item_added"
)

// Framework participant states.
const (
	StateSpeaking  = "speaking"
	StateListening = "listening"
	StateThinking  = "thinking"
)

// Envelope is one raw framework event.
type Envelope struct {
	Type string `json:"type"`

	// State changes.
	OldState string `json:"old_state,omitempty"`
	NewState string `json:"new_state,omitempty"`

	// User transcription. A missing is_final counts as final.
	Transcript json.RawMessage `json:"transcript,omitempty"`
	Text       json.RawMessage `json:"text,omitempty"`
	IsFinal    *bool           `json:"is_final,omitempty"`

	// Conversation items.
	Item *Item `json:"item,omitempty"`
}

// Item is a conversation item; content may be a string, a list, or an
// object with a text field.
type Item struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content,omitempty"`
	Text    json.RawMessage `json:"text,omitempty"`
	Message json.RawMessage `json:"message,omitempty"`
}

// Final reports whether a transcription envelope is final.
func (e Envelope) Final() bool {
	return e.IsFinal == nil || *e.IsFinal
}

// Encoder writes envelopes as JSON lines.
type Encoder struct {
	enc *json.Encoder
}

// NewEncoder creates an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: json.NewEncoder(w)}
}

// Encode writes one envelope followed by a newline.
func (e *Encoder) Encode(env Envelope) error {
	return e.enc.Encode(env)
}

// RawText marshals s for use in a Transcript, Text, or Content field.
func RawText(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

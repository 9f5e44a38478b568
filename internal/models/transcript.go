// Package models defines the data structures for utterance upload records.
package models

// Role classifies who produced an utterance.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Valid reports whether r is one of the known speaker roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAgent
}

// Roles lists every speaker role in a stable order.
var Roles = []Role{RoleUser, RoleAgent}

// UtteranceRecord is the plain record handed to an upload sink for one
// completed speech turn.
type UtteranceRecord struct {
	SessionID         string   `json:"session_id"`
	CallID            string   `json:"call_id"`
	Speaker           Role     `json:"speaker"`
	Transcript        string   `json:"transcript"`
	HasTranscript     bool     `json:"has_transcript"`
	StartTime         string   `json:"start_time"`
	EndTime           string   `json:"end_time,omitempty"`
	Duration          *float64 `json:"duration"`
	RelativeStartTime string   `json:"relative_start_time,omitempty"`
	RelativeEndTime   string   `json:"relative_end_time,omitempty"`
	RoomID            string   `json:"room_id,omitempty"`
	AgentID           string   `json:"agent_id,omitempty"`
}

// Package session provides the transcript session state machine and
// session ID generation.
package session

import (
	"errors"
	"fmt"
)

// State represents the lifecycle state of a transcript session.
type State int

const (
	// StateSpeaking - Speech in progress; a transcript may already be attached.
	StateSpeaking State = iota
	// StateWaitingTranscript - Speech ended, transcript not yet received.
	StateWaitingTranscript
	// StateComplete - Speech ended and transcript present; ready for upload.
	StateComplete
	// StateUploaded - Accepted by the upload sink. Terminal.
	StateUploaded
)

// States lists every state in transition order.
var States = []State{StateSpeaking, StateWaitingTranscript, StateComplete, StateUploaded}

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateSpeaking:
		return "SPEAKING"
	case StateWaitingTranscript:
		return "WAITING_TRANSCRIPT"
	case StateComplete:
		return "COMPLETE"
	case StateUploaded:
		return "UPLOADED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsEnded returns true once speech has ended for the session.
func (s State) IsEnded() bool {
	return s != StateSpeaking
}

// Errors for invalid state transitions.
var (
	ErrAlreadyEnded            = errors.New("speech already ended for this session")
	ErrTranscriptAfterComplete = errors.New("cannot set transcript on a completed session")
	ErrNotComplete             = errors.New("session is not complete")
	ErrNoTranscript            = errors.New("session has no transcript")
)

// Package schema validates utterance records before a sink sends them.
package schema

import (
	"errors"
	"fmt"
	"time"

	"ai-voice-transcript-service/internal/models"
)

// Validation errors.
var (
	ErrMissingCallID    = errors.New("record is missing call_id")
	ErrMissingSessionID = errors.New("record is missing session_id")
	ErrInvalidSpeaker   = errors.New("record has invalid speaker")
	ErrInvalidTimestamp = errors.New("record has invalid timestamp")
	ErrNegativeDuration = errors.New("record has negative duration")
)

const timestampLayout = "2006-01-02T15:04:05.000000Z"

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate checks the fields every sink relies on.
func (v *Validator) Validate(rec models.UtteranceRecord) error {
	if rec.CallID == "" {
		return ErrMissingCallID
	}
	if rec.SessionID == "" {
		return ErrMissingSessionID
	}
	if !rec.Speaker.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSpeaker, rec.Speaker)
	}
	if _, err := time.Parse(timestampLayout, rec.StartTime); err != nil {
		return fmt.Errorf("%w: start_time %q", ErrInvalidTimestamp, rec.StartTime)
	}
	if rec.EndTime != "" {
		if _, err := time.Parse(timestampLayout, rec.EndTime); err != nil {
			return fmt.Errorf("%w: end_time %q", ErrInvalidTimestamp, rec.EndTime)
		}
	}
	if rec.Duration != nil && *rec.Duration < 0 {
		return ErrNegativeDuration
	}
	return nil
}

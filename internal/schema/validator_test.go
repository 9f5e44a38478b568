package schema

import (
	"errors"
	"testing"

	"ai-voice-transcript-service/internal/models"
)

func validRecord() models.UtteranceRecord {
	d := 1.5
	return models.UtteranceRecord{
		SessionID:     "user_0a1b2c3d_1709287200000",
		CallID:        "call-1",
		Speaker:       models.RoleUser,
		Transcript:    "hi",
		HasTranscript: true,
		StartTime:     "2024-03-01T10:00:00.000000Z",
		EndTime:       "2024-03-01T10:00:01.500000Z",
		Duration:      &d,
	}
}

func TestValidator_Validate(t *testing.T) {
	neg := -1.0

	tests := []struct {
		name   string
		mutate func(*models.UtteranceRecord)
		want   error
	}{
		{"valid", func(r *models.UtteranceRecord) {}, nil},
		{"open record without end", func(r *models.UtteranceRecord) { r.EndTime = ""; r.Duration = nil }, nil},
		{"missing call id", func(r *models.UtteranceRecord) { r.CallID = "" }, ErrMissingCallID},
		{"missing session id", func(r *models.UtteranceRecord) { r.SessionID = "" }, ErrMissingSessionID},
		{"bad speaker", func(r *models.UtteranceRecord) { r.Speaker = "bot" }, ErrInvalidSpeaker},
		{"bad start", func(r *models.UtteranceRecord) { r.StartTime = "yesterday" }, ErrInvalidTimestamp},
		{"bad end", func(r *models.UtteranceRecord) { r.EndTime = "2024-03-01" }, ErrInvalidTimestamp},
		{"negative duration", func(r *models.UtteranceRecord) { r.Duration = &neg }, ErrNegativeDuration},
	}

	v := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := validRecord()
			tt.mutate(&rec)

			err := v.Validate(rec)
			if tt.want == nil && err != nil {
				t.Errorf("expected no error, got %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

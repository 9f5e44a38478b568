package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ai-voice-transcript-service/internal/models"
)

// Multi uploads every record to each of its sinks in order. The upload fails
// if any sink fails, but every sink is still attempted.
type Multi struct {
	sinks []Sink
}

// NewMulti creates a fan-out sink.
func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) Name() string {
	names := make([]string, len(m.sinks))
	for i, s := range m.sinks {
		names[i] = s.Name()
	}
	return strings.Join(names, "+")
}

func (m *Multi) Upload(ctx context.Context, rec models.UtteranceRecord) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Upload(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

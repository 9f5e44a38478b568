package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ai-voice-transcript-service/internal/models"
	"ai-voice-transcript-service/internal/observability/logging"
	"ai-voice-transcript-service/internal/schema"
)

// maxErrorBody bounds how much of a failed response is kept in StatusError.
const maxErrorBody = 4096

// StatusError is returned when the transcript API answers with status >= 400.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upload failed: %d - %s", e.StatusCode, e.Body)
}

// HTTP posts each record as JSON to {baseURL}/calls/{call_id}/utterance.
type HTTP struct {
	baseURL   string
	client    *http.Client
	validator *schema.Validator
	log       zerolog.Logger
}

// NewHTTP creates an HTTP sink. A zero timeout uses 10s.
func NewHTTP(baseURL string, timeout time.Duration) (*HTTP, error) {
	if baseURL == "" {
		return nil, ErrMissingAPIURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTP{
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: timeout},
		validator: schema.New(),
		log:       logging.WithComponent("http-sink"),
	}, nil
}

func (h *HTTP) Name() string { return "http" }

func (h *HTTP) endpoint(callID string) string {
	return h.baseURL + "/calls/" + url.PathEscape(callID) + "/utterance"
}

// Upload validates rec and posts it. No request is made for an invalid record.
func (h *HTTP) Upload(ctx context.Context, rec models.UtteranceRecord) error {
	if err := h.validator.Validate(rec); err != nil {
		return err
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint(rec.CallID), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("post utterance: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	h.log.Info().
		Str("callId", rec.CallID).
		Str("speaker", string(rec.Speaker)).
		Msg("Uploaded utterance")
	return nil
}

func (h *HTTP) Close() error {
	h.client.CloseIdleConnections()
	return nil
}

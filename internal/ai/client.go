// Package ai talks to the OpenAI-compatible chat completion endpoints
// the app is configured with: one model for image generation, one for
// moderation-adjacent text tasks, plus the speech and image hosting
// services. Configuration is resolved fresh on every call so admin
// edits apply immediately.
package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"picchat/internal/service/settings"
)

const (
	generationTimeout = 3 * time.Minute
	auxTimeout        = 30 * time.Second
)

// ErrNotConfigured is returned when the endpoint a call needs has not
// been set up yet.
var ErrNotConfigured = errors.New("service not configured")

// UpstreamError carries the HTTP status of a failed upstream call.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("upstream status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("upstream status %d", e.Status)
}

// Client issues the outbound AI calls.
type Client struct {
	Settings   settings.Resolver
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

func NewClient(resolver settings.Resolver, logger zerolog.Logger) *Client {
	return &Client{
		Settings: resolver,
		// Per-call deadlines come from contexts; the client timeout is
		// only a backstop.
		HTTPClient: &http.Client{Timeout: generationTimeout + time.Minute},
		Logger:     logger,
	}
}

// completionContent pulls the assistant text out of a chat completion
// response, accepting both message and delta shapes.
func completionContent(raw []byte) string {
	var envelope struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || len(envelope.Choices) == 0 {
		return ""
	}
	if c := envelope.Choices[0].Message.Content; c != "" {
		return c
	}
	return envelope.Choices[0].Delta.Content
}

package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"picchat/internal/service/settings"
)

const (
	captionPrefix       = "Here you go: "
	summarizeThreshold  = 50
	summarizeSystemLine = "You summarize requests for an AI image caption. Condense the user's request into at most 30 characters without adding new information. Output only the summary text, no explanation."
)

// Summarize produces the caption shown next to a generated image.
// Short requests are echoed verbatim; longer ones go through the text
// model. This never fails: when the model is unavailable or errors,
// the caption falls back to a truncated echo.
func (c *Client) Summarize(ctx context.Context, content string) string {
	if utf8.RuneCountInString(content) <= summarizeThreshold {
		return captionPrefix + content
	}

	cfg, err := c.Settings.ModerationConfig(ctx)
	if err == nil && cfg.Enabled() {
		if summary, err := c.summarizeWithModel(ctx, cfg, content); err == nil {
			return captionPrefix + summary
		} else {
			c.Logger.Warn().Err(err).Msg("summarize call failed, using truncation")
		}
	}

	runes := []rune(content)
	return captionPrefix + string(runes[:summarizeThreshold]) + "…"
}

func (c *Client) summarizeWithModel(ctx context.Context, cfg settings.ModerationConfig, content string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, auxTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]any{
		"model":  cfg.Model,
		"stream": false,
		"messages": []map[string]string{
			{"role": "system", "content": summarizeSystemLine},
			{"role": "user", "content": content},
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &UpstreamError{Status: resp.StatusCode, Message: resp.Status}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	summary := strings.TrimSpace(completionContent(raw))
	if summary == "" {
		return "", errors.New("empty summary in model response")
	}
	return summary, nil
}

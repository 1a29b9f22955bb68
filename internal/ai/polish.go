package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrUnparseableReply means the model answered but not with the strict
// JSON the task demands.
var ErrUnparseableReply = errors.New("model reply is not the expected JSON")

// PolishInput is the agent profile the admin wants rewritten. The
// system prompt anchors the agent's voice; the other fields get
// polished against it.
type PolishInput struct {
	Name         string
	SystemPrompt string
	Description  string
	Skills       string
	PolicyPrompt string
}

// PolishResult carries the rewritten profile fields.
type PolishResult struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	Skills       string `json:"skills"`
	PolicyPrompt string `json:"policyPrompt"`
}

const polishSystemPrompt = "You are a senior copywriter and prompt editor. " +
	"Based on the agent system prompt's positioning and tone, polish three fields: description, skills, and policyPrompt. " +
	"If a name is provided, also produce a shorter, more memorable name. " +
	"Rules: 1) Keep the original meaning; add no capabilities, promises, or invented facts. " +
	"2) Keep the wording natural and concise. " +
	"3) policyPrompt lists only what the agent must refuse to generate or answer; output an empty string when nothing needs forbidding. " +
	"4) A field given as an empty string must come back as an empty string. " +
	`5) Output strict JSON only, no markdown and no explanation: {"name":"...","description":"...","skills":"...","policyPrompt":"..."}`

// PolishAgentProfile rewrites an agent's profile fields with the text
// model configured for moderation tasks.
func (c *Client) PolishAgentProfile(ctx context.Context, in PolishInput) (PolishResult, error) {
	if strings.TrimSpace(in.SystemPrompt) == "" {
		return PolishResult{}, errors.New("system prompt is required")
	}
	cfg, err := c.Settings.ModerationConfig(ctx)
	if err != nil {
		return PolishResult{}, fmt.Errorf("resolve moderation config: %w", err)
	}
	if !cfg.Enabled() {
		return PolishResult{}, ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, auxTimeout)
	defer cancel()

	userPrompt := fmt.Sprintf(
		"Current name:\n%s\n\nAgent system prompt:\n%s\n\nCurrent description:\n%s\n\nCurrent skills:\n%s\n\nCurrent policy prompt:\n%s\n",
		in.Name, in.SystemPrompt, in.Description, in.Skills, in.PolicyPrompt,
	)
	body, err := json.Marshal(map[string]any{
		"model":  cfg.Model,
		"stream": false,
		"messages": []map[string]string{
			{"role": "system", "content": polishSystemPrompt},
			{"role": "user", "content": userPrompt},
		},
	})
	if err != nil {
		return PolishResult{}, fmt.Errorf("encode polish request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return PolishResult{}, fmt.Errorf("build polish request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return PolishResult{}, fmt.Errorf("polish request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return PolishResult{}, fmt.Errorf("read polish response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return PolishResult{}, &UpstreamError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}

	content := completionContent(raw)
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return PolishResult{}, ErrUnparseableReply
	}
	var result PolishResult
	if err := json.Unmarshal([]byte(content[start:end+1]), &result); err != nil {
		return PolishResult{}, ErrUnparseableReply
	}
	return result, nil
}

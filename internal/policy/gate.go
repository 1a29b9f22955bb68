package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"picchat/internal/service/settings"
)

// bannedKeywords is the static pre-check list. The model-based audit
// handles everything subtler; this only catches the obvious.
var bannedKeywords = []string{
	"色情", "淫秽", "裸露", "成人", "性爱", "性行为", "强奸", "未成年人",
	"porn", "sex", "nude", "hentai", "erotic", "nsfw",
}

const auditTimeout = 30 * time.Second

const defaultPolicyLine = "Default: block sexual, violent, illegal, and privacy-leaking content."

// Precheck returns the first banned keyword contained in the content,
// matched case-insensitively, or "" if the content passes.
func Precheck(content string) string {
	normalized := strings.ToLower(content)
	for _, keyword := range bannedKeywords {
		if strings.Contains(normalized, strings.ToLower(keyword)) {
			return keyword
		}
	}
	return ""
}

// Verdict is the audit outcome.
type Verdict struct {
	Allowed bool
	Reason  string
}

// Gate runs the model-based content audit against the configured
// moderation endpoint.
type Gate struct {
	Settings settings.Resolver
	Client   *http.Client
	// FailClosed blocks the request when the moderation model returns
	// something unparseable. The default is to let it through.
	FailClosed bool
	Logger     zerolog.Logger
}

func NewGate(resolver settings.Resolver, failClosed bool, logger zerolog.Logger) *Gate {
	return &Gate{
		Settings:   resolver,
		Client:     &http.Client{Timeout: auditTimeout + 5*time.Second},
		FailClosed: failClosed,
		Logger:     logger,
	}
}

// Audit asks the moderation model whether the request may proceed.
// When no moderation endpoint is configured the request is allowed. A
// transport failure is returned as an error and is terminal for the
// request; an unparseable model reply follows the FailClosed strategy.
func (g *Gate) Audit(ctx context.Context, content string, referenceImageCount int, policyPrompt string) (Verdict, error) {
	cfg, err := g.Settings.ModerationConfig(ctx)
	if err != nil {
		return Verdict{}, fmt.Errorf("resolve moderation config: %w", err)
	}
	if !cfg.Enabled() {
		return Verdict{Allowed: true}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, auditTimeout)
	defer cancel()

	rules := policyPrompt
	if rules == "" {
		rules = defaultPolicyLine
	}
	userText := "User text: " + content
	if referenceImageCount > 0 {
		userText += fmt.Sprintf("\nReference image count: %d", referenceImageCount)
	}

	payload := map[string]any{
		"model":  cfg.Model,
		"stream": false,
		"messages": []map[string]string{
			{
				"role": "system",
				"content": "You are a content safety auditor. Decide whether the user input " +
					"complies with safety rules and the agent's own rules. " +
					`Reply with strict JSON: {"allowed":true|false,"reason":"..."}. ` +
					"Agent rules: " + rules,
			},
			{"role": "user", "content": userText},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Verdict{}, fmt.Errorf("encode audit request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return Verdict{}, fmt.Errorf("build audit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	resp, err := g.Client.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("audit request: %w", err)
	}
	defer resp.Body.Close()

	// The body is parsed regardless of the status code: some gateways
	// return the model output on non-2xx responses too.
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Verdict{}, fmt.Errorf("read audit response: %w", err)
	}

	verdict, ok := parseVerdict(raw)
	if !ok {
		g.Logger.Warn().Int("status", resp.StatusCode).Msg("moderation reply unparseable")
		if g.FailClosed {
			return Verdict{Allowed: false, Reason: "content review unavailable"}, nil
		}
		return Verdict{Allowed: true}, nil
	}
	return verdict, nil
}

// parseVerdict extracts the strict-JSON verdict from a chat completion
// response, tolerating prose around the JSON object.
func parseVerdict(raw []byte) (Verdict, bool) {
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
		return Verdict{}, false
	}
	content := envelope.Choices[0].Message.Content
	if content == "" {
		content = envelope.Choices[0].Delta.Content
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return Verdict{}, false
	}

	var parsed struct {
		Allowed *bool  `json:"allowed"`
		Reason  string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &parsed); err != nil || parsed.Allowed == nil {
		return Verdict{}, false
	}
	if !*parsed.Allowed {
		reason := parsed.Reason
		if reason == "" {
			reason = "content did not pass review"
		}
		return Verdict{Allowed: false, Reason: reason}, true
	}
	return Verdict{Allowed: true}, true
}

package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"picchat/internal/service/settings"
)

// ErrNoImageInResponse means the model replied but its output carried
// no recognizable image.
var ErrNoImageInResponse = errors.New("no image found in model response")

// The generation model answers with markdown; the image arrives either
// inline as a data URI or as a hosted link.
var (
	base64ImagePattern = regexp.MustCompile(`!\[.*?\]\((data:image/[^;]+;base64,[^)]+)\)`)
	urlImagePattern    = regexp.MustCompile(`\[.*?\]\((https?://[^)]+)\)`)
)

// GenerationResult is a successfully extracted image plus the time the
// whole attempt took, measured from the caller's start mark.
type GenerationResult struct {
	ImageData string
	Elapsed   time.Duration
}

// GenerateImage asks the image model for a picture. The call runs
// under its own long deadline since generation regularly takes
// minutes.
func (c *Client) GenerateImage(ctx context.Context, cfg settings.ImageConfig, messages []ChatMessage, start time.Time) (GenerationResult, error) {
	if !cfg.Complete() {
		return GenerationResult{}, ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, generationTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]any{
		"model":    cfg.Model,
		"messages": messages,
		"stream":   false,
	})
	if err != nil {
		return GenerationResult{}, fmt.Errorf("encode generation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return GenerationResult{}, fmt.Errorf("build generation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return GenerationResult{}, fmt.Errorf("generation request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return GenerationResult{}, &UpstreamError{Status: resp.StatusCode, Message: resp.Status}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return GenerationResult{}, fmt.Errorf("read generation response: %w", err)
	}

	imageData, err := ExtractImage(completionContent(raw))
	if err != nil {
		return GenerationResult{}, err
	}
	return GenerationResult{ImageData: imageData, Elapsed: time.Since(start)}, nil
}

// ExtractImage pulls the image out of the model's markdown reply,
// preferring an inline data URI over a hosted link.
func ExtractImage(content string) (string, error) {
	if m := base64ImagePattern.FindStringSubmatch(content); m != nil {
		return m[1], nil
	}
	if m := urlImagePattern.FindStringSubmatch(content); m != nil {
		return m[1], nil
	}
	return "", ErrNoImageInResponse
}

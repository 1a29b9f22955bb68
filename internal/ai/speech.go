package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
)

const speechModel = "qwen3-asr"

// Transcribe sends recorded audio to the speech recognition endpoint
// and returns the recognized text.
func (c *Client) Transcribe(ctx context.Context, audio []byte, mimeType, filename string) (string, error) {
	cfg, err := c.Settings.SpeechConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve speech config: %w", err)
	}
	if cfg.APIURL == "" {
		return "", ErrNotConfigured
	}
	if mimeType == "" {
		mimeType = "audio/webm"
	}
	if filename == "" {
		filename = "audio.wav"
	}

	ctx, cancel := context.WithTimeout(ctx, auxTimeout)
	defer cancel()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("model", speechModel); err != nil {
		return "", fmt.Errorf("build speech form: %w", err)
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", mimeType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("build speech form: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("write audio payload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalize speech form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.APIURL, &buf)
	if err != nil {
		return "", fmt.Errorf("build speech request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("speech request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read speech response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &UpstreamError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("decode speech response: %w", err)
	}
	return result.Text, nil
}

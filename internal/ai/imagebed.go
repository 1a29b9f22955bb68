package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var dataURIPattern = regexp.MustCompile(`^data:([^;]+);base64,(.+)$`)

var mimeExtensions = map[string]string{
	"image/png":     "png",
	"image/jpeg":    "jpg",
	"image/jpg":     "jpg",
	"image/gif":     "gif",
	"image/webp":    "webp",
	"image/svg+xml": "svg",
	"image/bmp":     "bmp",
}

// RehostImage uploads a generated image to the configured image host
// and returns its permanent URL. The input is either a base64 data URI
// or a URL the host can be fed from after a download.
func (c *Client) RehostImage(ctx context.Context, imageData string) (string, error) {
	cfg, err := c.Settings.ImagebedConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve imagebed config: %w", err)
	}
	if cfg.URL == "" {
		return "", ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, auxTimeout)
	defer cancel()

	var (
		payload  []byte
		mimeType string
	)
	switch {
	case strings.HasPrefix(imageData, "data:image/"):
		payload, mimeType, err = decodeDataURI(imageData)
	case strings.HasPrefix(imageData, "http://"), strings.HasPrefix(imageData, "https://"):
		payload, mimeType, err = c.download(ctx, imageData)
	default:
		return "", fmt.Errorf("unsupported image source")
	}
	if err != nil {
		return "", err
	}

	filename := fmt.Sprintf("ai_%s.%s", uuid.NewString(), extensionFor(mimeType))

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}
	if _, err := part.Write(payload); err != nil {
		return "", fmt.Errorf("write upload payload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalize upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL+"/upload", &buf)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read upload response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &UpstreamError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}

	src, err := parseUploadResponse(raw)
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return src, nil
	}
	return cfg.URL + src, nil
}

func decodeDataURI(imageData string) ([]byte, string, error) {
	m := dataURIPattern.FindStringSubmatch(imageData)
	if m == nil {
		return nil, "", fmt.Errorf("malformed image data uri")
	}
	payload, err := base64.StdEncoding.DecodeString(m[2])
	if err != nil {
		return nil, "", fmt.Errorf("decode image data uri: %w", err)
	}
	return payload, m[1], nil
}

func (c *Client) download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build image download: %w", err)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", &UpstreamError{Status: resp.StatusCode, Message: resp.Status}
	}
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, "", fmt.Errorf("read downloaded image: %w", err)
	}
	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "image/png"
	}
	return payload, mimeType, nil
}

func extensionFor(mimeType string) string {
	if ext, ok := mimeExtensions[mimeType]; ok {
		return ext
	}
	return "png"
}

// parseUploadResponse accepts the host's response shapes: an array of
// objects with src, or a single object with src or url.
func parseUploadResponse(raw []byte) (string, error) {
	var arr []struct {
		Src string `json:"src"`
		URL string `json:"url"`
	}
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) > 0 {
		if arr[0].Src != "" {
			return arr[0].Src, nil
		}
		if arr[0].URL != "" {
			return arr[0].URL, nil
		}
	}

	var obj struct {
		Src  string `json:"src"`
		URL  string `json:"url"`
		Data struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		switch {
		case obj.Src != "":
			return obj.Src, nil
		case obj.URL != "":
			return obj.URL, nil
		case obj.Data.URL != "":
			return obj.Data.URL, nil
		}
	}
	return "", fmt.Errorf("no image url in upload response")
}

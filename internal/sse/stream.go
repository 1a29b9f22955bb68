// Package sse writes server-sent events onto a gin response.
package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
)

// ErrStreamingUnsupported means the response writer cannot flush.
var ErrStreamingUnsupported = errors.New("streaming not supported")

// Stream frames events onto one HTTP response. Sends after Close are
// silently discarded so a flow can keep reporting into a stream whose
// client already went away.
type Stream struct {
	mu      sync.Mutex
	w       gin.ResponseWriter
	flusher http.Flusher
	closed  bool
}

// New prepares the response for event streaming and writes the SSE
// headers.
func New(c *gin.Context) (*Stream, error) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	return &Stream{w: c.Writer, flusher: flusher}, nil
}

// Send writes one named event with a JSON payload.
func (s *Stream) Send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if event != "" {
		if _, err := fmt.Fprintf(s.w, "event: %s\n", event); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Close marks the stream finished. Idempotent.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

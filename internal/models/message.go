package models

import (
	"encoding/json"
	"strings"
	"time"
)

// MessageKind tags who authored a chat turn.
type MessageKind string

const (
	KindUser  MessageKind = "user"
	KindAgent MessageKind = "agent"
)

// MessageType describes the payload shape of a turn.
type MessageType string

const (
	TypeText  MessageType = "text"
	TypeImage MessageType = "image"
)

// Message is one chat turn, authored either by the visitor or by the
// agent system. Agent turns carry a generation duration and usually a
// generated image reference.
type Message struct {
	ID              int64       `json:"id"`
	AgentID         int64       `json:"agentId"`
	UserID          int64       `json:"userId"`
	Kind            MessageKind `json:"kind"`
	Content         string      `json:"content"`
	ImageData       string      `json:"imageData,omitempty"`
	ReferenceImages []string    `json:"referenceImages,omitempty"`
	Type            MessageType `json:"type"`
	GenerationTime  *int64      `json:"generationTime,omitempty"` // milliseconds
	IsPublished     bool        `json:"isPublishedToSquare"`
	UserMessageID   *int64      `json:"userMessageId,omitempty"`
	CreatedAt       time.Time   `json:"timestamp"`
}

// SenderKind reports who authored the turn. The explicit Kind tag is
// authoritative; rows migrated from the legacy schema carry no tag, and
// for those the author is inferred from the presence of generation
// metadata (an agent turn has a generation duration or a generated
// image, a user turn has neither).
func (m *Message) SenderKind() MessageKind {
	if m.Kind != "" {
		return m.Kind
	}
	if m.GenerationTime != nil || strings.TrimSpace(m.ImageData) != "" {
		return KindAgent
	}
	return KindUser
}

// DecodeReferenceImages parses the stored JSON column into an ordered
// list of non-empty image references. Anything that is not a JSON array
// holding at least one non-empty string decodes to nil (absent).
func DecodeReferenceImages(raw string) []string {
	if raw == "" {
		return nil
	}
	var parsed []any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil
	}
	out := make([]string, 0, len(parsed))
	for _, item := range parsed {
		s, ok := item.(string)
		if !ok || strings.TrimSpace(s) == "" {
			continue
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// EncodeReferenceImages serializes reference images for storage,
// returning "" (stored as NULL) for an empty list.
func EncodeReferenceImages(images []string) string {
	if len(images) == 0 {
		return ""
	}
	data, err := json.Marshal(images)
	if err != nil {
		return ""
	}
	return string(data)
}

package ai

// ChatMessage is one turn of an OpenAI-compatible chat completion
// request. Content is either a plain string or a []ContentPart for
// multimodal turns.
type ChatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// ContentPart is one element of a multimodal user turn.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

// BuildImagePrompt assembles the generation request: the agent's
// system prompt followed by the user's text. Reference images become a
// multimodal turn with the text first and the images in caller order.
func BuildImagePrompt(systemPrompt, content string, referenceImages []string) []ChatMessage {
	messages := []ChatMessage{
		{Role: "system", Content: systemPrompt},
	}
	if len(referenceImages) == 0 {
		return append(messages, ChatMessage{Role: "user", Content: content})
	}

	parts := make([]ContentPart, 0, len(referenceImages)+1)
	parts = append(parts, ContentPart{Type: "text", Text: content})
	for _, img := range referenceImages {
		parts = append(parts, ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: img}})
	}
	return append(messages, ChatMessage{Role: "user", Content: parts})
}

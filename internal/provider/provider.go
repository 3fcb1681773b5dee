package provider

import (
	"context"
)

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Response represents the output from the model.
type Response struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Provider defines the interface for LLM backends used for context analysis.
type Provider interface {
	// Chat sends a list of messages to the model and returns a response.
	// Implementations return as soon as ctx is done.
	Chat(ctx context.Context, messages []Message) (*Response, error)

	// Name returns the configured provider identifier (e.g., "gemini").
	Name() string
}

// Generation settings shared by all backends. Screen summaries need to be
// short and stable, not creative.
const (
	Temperature = 0.3
	MaxTokens   = 500
)

// split separates the leading system message, if any, from the rest.
func split(messages []Message) (system string, rest []Message) {
	if len(messages) > 0 && messages[0].Role == "system" {
		return messages[0].Content, messages[1:]
	}
	return "", messages
}

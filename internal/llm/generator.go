// Package llm generates reply drafts with an OpenAI chat model.
package llm

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// MaxReplyLength is the hard cap on generated reply length, in runes.
// It sits below the platform's limit to leave the text room to breathe.
const MaxReplyLength = 220

// DefaultPrompt is the system prompt used when the operator has not stored
// a custom one.
const DefaultPrompt = `You write short, natural replies to posts on X as a thoughtful reader.

Rules:
- 1 to 3 sentences, always under 220 characters
- Sound like a real person, not a brand and not an assistant
- No emojis, no hashtags, no quotation marks around the reply
- React to the specific content of the post instead of summarizing it
- Vary your tone and opening words from reply to reply`

// Generator produces reply drafts via the chat completions API.
type Generator struct {
	client *openai.Client
	model  string
}

// New creates a Generator. baseURL may be empty to use the public API.
func New(apiKey, model, baseURL string) *Generator {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Generator{client: openai.NewClientWithConfig(cfg), model: model}
}

// Generate drafts a reply to the given post content. prompt is the system
// prompt; an empty prompt falls back to DefaultPrompt. The draft comes back
// sanitized and length-capped, never empty without an error.
func (g *Generator) Generate(ctx context.Context, content, prompt string) (string, error) {
	if prompt == "" {
		prompt = DefaultPrompt
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(content)},
		},
		MaxTokens:   100,
		Temperature: 0.9,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}

	reply := Sanitize(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", fmt.Errorf("model returned an empty reply")
	}
	return reply, nil
}

func userPrompt(content string) string {
	return fmt.Sprintf("Write a brief, thoughtful reply to this post:\n\n\"%s\"\n\nRemember: under 220 characters, no emojis, sound natural and human.", content)
}

// Sanitize normalizes a model draft: trims whitespace, removes wrapping
// quotes models like to add, and caps the length at MaxReplyLength runes.
func Sanitize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"`)
	s = strings.TrimSpace(s)

	runes := []rune(s)
	if len(runes) > MaxReplyLength {
		s = string(runes[:MaxReplyLength-3]) + "..."
	}
	return s
}

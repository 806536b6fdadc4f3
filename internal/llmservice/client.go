// Package llmservice talks to the chat completion model through an
// OpenAI-compatible endpoint, OpenRouter included.
package llmservice

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"voice-rag/internal/config"
	"voice-rag/internal/models"
)

// Client wraps the configured chat completion endpoint.
type Client struct {
	llm   *openai.LLM
	model string
}

// NewClient builds a client for the configured endpoint.
func NewClient(cfg *config.LLMConfig) (*Client, error) {
	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
		openai.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("init llm client: %w", err)
	}
	return &Client{llm: llm, model: cfg.Model}, nil
}

// Model reports the configured model name.
func (c *Client) Model() string { return c.model }

// GenerateContent forwards messages to the model, attaching tools when
// given.
func (c *Client) GenerateContent(ctx context.Context, messages []llms.MessageContent, tools []llms.Tool) (*llms.ContentResponse, error) {
	if len(tools) > 0 {
		return c.llm.GenerateContent(ctx, messages, llms.WithTools(tools))
	}
	return c.llm.GenerateContent(ctx, messages)
}

// Chat sends a role-tagged conversation and returns the assistant's
// reply text.
func (c *Client) Chat(ctx context.Context, messages []models.Message) (string, error) {
	contents := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		contents = append(contents, llms.TextParts(chatRole(m.Role), m.Content))
	}

	resp, err := c.GenerateContent(ctx, contents, nil)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: no choices in response")
	}
	return resp.Choices[0].Content, nil
}

func chatRole(role string) llms.ChatMessageType {
	switch role {
	case models.RoleSystem:
		return llms.ChatMessageTypeSystem
	case models.RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

package llmservice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"voice-rag/internal/config"
	"voice-rag/internal/models"
)

func TestNewClient(t *testing.T) {
	c, err := NewClient(&config.LLMConfig{
		BaseURL: "https://openrouter.ai/api",
		Key:     "Bearer sk-test",
		Model:   "openai/gpt-4o-mini",
	})
	require.NoError(t, err)
	assert.Equal(t, "openai/gpt-4o-mini", c.Model())
}

func TestChatRole(t *testing.T) {
	assert.Equal(t, llms.ChatMessageTypeSystem, chatRole(models.RoleSystem))
	assert.Equal(t, llms.ChatMessageTypeAI, chatRole(models.RoleAssistant))
	assert.Equal(t, llms.ChatMessageTypeHuman, chatRole(models.RoleUser))
	assert.Equal(t, llms.ChatMessageTypeHuman, chatRole("tool"))
}

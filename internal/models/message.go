package models

// Conversation roles understood by the chat completion message format.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single role-tagged entry in a conversation's message list.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

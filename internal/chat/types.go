// Package chat holds the domain types shared by the session engine, the
// provider adapters and the conversation stores.
package chat

import (
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"
)

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a role the stores and adapters understand.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Provider identifies an LLM vendor wire protocol.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderClaude Provider = "claude"
	ProviderGemini Provider = "gemini"
)

// Providers lists every supported provider in display order.
var Providers = []Provider{ProviderOpenAI, ProviderClaude, ProviderGemini}

// ParseProvider maps a user-supplied name to a Provider.
// "anthropic" and "google" are accepted as aliases.
func ParseProvider(s string) (Provider, bool) {
	switch s {
	case "openai":
		return ProviderOpenAI, true
	case "claude", "anthropic":
		return ProviderClaude, true
	case "gemini", "google":
		return ProviderGemini, true
	}
	return "", false
}

// Attachment is an image referenced by a public URL.
type Attachment struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
}

// Message is a single turn of a conversation.
type Message struct {
	ID         string      `json:"id"`
	Role       Role        `json:"role"`
	Content    string      `json:"content"`
	Attachment *Attachment `json:"attachment,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// NewMessage returns a message with a fresh ID and timestamp.
func NewMessage(role Role, content string, att *Attachment) Message {
	return Message{
		ID:         uuid.NewString(),
		Role:       role,
		Content:    content,
		Attachment: att,
		CreatedAt:  time.Now().UTC(),
	}
}

// Conversation is an ordered thread of messages.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewConversationID returns a short, URL-safe conversation identifier.
func NewConversationID() string {
	return shortuuid.New()
}

// ModelDescriptor describes a selectable model.
type ModelDescriptor struct {
	ModelID     string   `json:"model_id"`
	Provider    Provider `json:"provider"`
	DisplayName string   `json:"display_name"`
	Enabled     bool     `json:"enabled"`
}

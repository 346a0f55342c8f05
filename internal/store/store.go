// Package store persists conversations and their messages. Store is a thin
// facade that validates input and delegates to a database Driver.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/arin/xx-chat/internal/chat"
)

// Driver is implemented by every backend under store/db.
type Driver interface {
	CreateConversation(ctx context.Context, conv *chat.Conversation) error
	// GetConversation returns chat.ErrNotFound for unknown ids.
	GetConversation(ctx context.Context, id string) (*chat.Conversation, error)
	// ListConversations returns conversations most recently updated first.
	ListConversations(ctx context.Context) ([]*chat.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	// AppendMessage stores msg and bumps the conversation's UpdatedAt.
	// It returns chat.ErrNotFound for unknown conversations.
	AppendMessage(ctx context.Context, conversationID string, msg chat.Message) error
	// ListMessages returns messages in insertion order.
	ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error)
	Close() error
}

type Store struct {
	driver Driver
}

// New creates a new instance of Store.
func New(driver Driver) *Store {
	return &Store{driver: driver}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	return s.driver.Close()
}

// CreateConversation creates a conversation titled title and returns its id.
func (s *Store) CreateConversation(ctx context.Context, title string) (string, error) {
	now := time.Now().UTC()
	conv := &chat.Conversation{
		ID:        chat.NewConversationID(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if strings.TrimSpace(conv.Title) == "" {
		conv.Title = chat.TitleFrom("")
	}
	if err := s.driver.CreateConversation(ctx, conv); err != nil {
		return "", err
	}
	return conv.ID, nil
}

// GetConversation returns a single conversation.
func (s *Store) GetConversation(ctx context.Context, id string) (*chat.Conversation, error) {
	return s.driver.GetConversation(ctx, id)
}

// ListConversations lists every conversation, most recent first.
func (s *Store) ListConversations(ctx context.Context) ([]*chat.Conversation, error) {
	return s.driver.ListConversations(ctx)
}

// DeleteConversation deletes a conversation and all its messages.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	return s.driver.DeleteConversation(ctx, id)
}

// AppendMessage persists msg at the end of the conversation.
func (s *Store) AppendMessage(ctx context.Context, conversationID string, msg chat.Message) error {
	if conversationID == "" {
		return errors.New("conversation id is required")
	}
	if !msg.Role.Valid() {
		return errors.New("invalid message role " + string(msg.Role))
	}
	if msg.ID == "" || msg.CreatedAt.IsZero() {
		fresh := chat.NewMessage(msg.Role, msg.Content, msg.Attachment)
		if msg.ID == "" {
			msg.ID = fresh.ID
		}
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = fresh.CreatedAt
		}
	}
	return s.driver.AppendMessage(ctx, conversationID, msg)
}

// ListMessages returns all messages of a conversation, oldest first.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	return s.driver.ListMessages(ctx, conversationID)
}

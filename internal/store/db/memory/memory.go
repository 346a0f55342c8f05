// Package memory is an in-process conversation store. Nothing survives a
// restart; it backs tests and `--store memory` sessions.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/arin/xx-chat/internal/chat"
)

type DB struct {
	mu            sync.RWMutex
	conversations map[string]*chat.Conversation
	messages      map[string][]chat.Message
}

func NewDB() *DB {
	return &DB{
		conversations: make(map[string]*chat.Conversation),
		messages:      make(map[string][]chat.Message),
	}
}

func (d *DB) CreateConversation(_ context.Context, conv *chat.Conversation) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := *conv
	d.conversations[c.ID] = &c
	return nil
}

func (d *DB) GetConversation(_ context.Context, id string) (*chat.Conversation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.conversations[id]
	if !ok {
		return nil, chat.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (d *DB) ListConversations(_ context.Context) ([]*chat.Conversation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	list := make([]*chat.Conversation, 0, len(d.conversations))
	for _, c := range d.conversations {
		cp := *c
		list = append(list, &cp)
	}
	slices.SortFunc(list, func(a, b *chat.Conversation) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return list, nil
}

func (d *DB) DeleteConversation(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.conversations, id)
	delete(d.messages, id)
	return nil
}

func (d *DB) AppendMessage(_ context.Context, conversationID string, msg chat.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.conversations[conversationID]
	if !ok {
		return chat.ErrNotFound
	}
	if msg.Attachment != nil {
		att := *msg.Attachment
		msg.Attachment = &att
	}
	d.messages[conversationID] = append(d.messages[conversationID], msg)
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (d *DB) ListMessages(_ context.Context, conversationID string) ([]chat.Message, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.messages[conversationID]), nil
}

func (d *DB) Close() error { return nil }

// Package file stores each conversation as a JSON document in the user's
// config directory. It is the default store for the CLI.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/arin/xx-chat/internal/chat"
)

// fileMu guards every read-modify-write of a conversation file. The CLI
// and the server may share one directory within a process.
var fileMu sync.Mutex

type document struct {
	Conversation chat.Conversation `json:"conversation"`
	Messages     []chat.Message    `json:"messages"`
}

type DB struct {
	dir string
}

// NewDB stores conversations under dir, creating it if needed.
func NewDB(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create conversation dir: %w", err)
	}
	return &DB{dir: dir}, nil
}

func (d *DB) path(id string) (string, error) {
	// Ids come from shortuuid but the CLI also accepts them from users.
	if id == "" || strings.ContainsAny(id, `/\.`) {
		return "", chat.ErrNotFound
	}
	return filepath.Join(d.dir, id+".json"), nil
}

func (d *DB) load(id string) (*document, error) {
	p, err := d.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, chat.ErrNotFound
		}
		return nil, err
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filepath.Base(p), err)
	}
	return &doc, nil
}

func (d *DB) save(doc *document) error {
	p, err := d.path(doc.Conversation.ID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	// Write then rename so a crash never leaves a truncated file.
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

func (d *DB) CreateConversation(_ context.Context, conv *chat.Conversation) error {
	fileMu.Lock()
	defer fileMu.Unlock()
	return d.save(&document{Conversation: *conv, Messages: []chat.Message{}})
}

func (d *DB) GetConversation(_ context.Context, id string) (*chat.Conversation, error) {
	fileMu.Lock()
	defer fileMu.Unlock()
	doc, err := d.load(id)
	if err != nil {
		return nil, err
	}
	return &doc.Conversation, nil
}

func (d *DB) ListConversations(_ context.Context) ([]*chat.Conversation, error) {
	fileMu.Lock()
	defer fileMu.Unlock()

	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, err
	}
	var list []*chat.Conversation
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		doc, err := d.load(strings.TrimSuffix(name, ".json"))
		if err != nil {
			// One corrupt file should not hide the rest.
			continue
		}
		c := doc.Conversation
		list = append(list, &c)
	}
	slices.SortFunc(list, func(a, b *chat.Conversation) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return list, nil
}

func (d *DB) DeleteConversation(_ context.Context, id string) error {
	fileMu.Lock()
	defer fileMu.Unlock()
	p, err := d.path(id)
	if err != nil {
		return nil
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (d *DB) AppendMessage(_ context.Context, conversationID string, msg chat.Message) error {
	fileMu.Lock()
	defer fileMu.Unlock()
	doc, err := d.load(conversationID)
	if err != nil {
		return err
	}
	doc.Messages = append(doc.Messages, msg)
	doc.Conversation.UpdatedAt = time.Now().UTC()
	return d.save(doc)
}

func (d *DB) ListMessages(_ context.Context, conversationID string) ([]chat.Message, error) {
	fileMu.Lock()
	defer fileMu.Unlock()
	doc, err := d.load(conversationID)
	if errors.Is(err, chat.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.Messages, nil
}

func (d *DB) Close() error { return nil }

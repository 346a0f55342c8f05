package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arin/xx-chat/internal/chat"
	"github.com/arin/xx-chat/internal/store"
	"github.com/arin/xx-chat/internal/store/storetest"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := NewDB(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	return d
}

func TestDriver(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Driver { return newTestDB(t) })
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	d, err := NewDB(ctx, path)
	require.NoError(t, err)
	s := store.New(d)
	id, err := s.CreateConversation(ctx, "persisted")
	require.NoError(t, err)
	require.NoError(t, s.AppendMessage(ctx, id, chat.NewMessage(chat.RoleUser, "Hello", nil)))
	require.NoError(t, s.Close())

	d, err = NewDB(ctx, path)
	require.NoError(t, err)
	defer d.Close()

	msgs, err := d.ListMessages(ctx, id)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hello", msgs[0].Content)
}

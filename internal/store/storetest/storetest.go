// Package storetest is the behaviour every store driver must share.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arin/xx-chat/internal/chat"
	"github.com/arin/xx-chat/internal/store"
)

// Run exercises a fresh driver from newDriver in every subtest.
func Run(t *testing.T, newDriver func(t *testing.T) store.Driver) {
	t.Run("AppendListRoundTrip", func(t *testing.T) { testRoundTrip(t, newDriver(t)) })
	t.Run("Attachment", func(t *testing.T) { testAttachment(t, newDriver(t)) })
	t.Run("UnknownConversation", func(t *testing.T) { testUnknown(t, newDriver(t)) })
	t.Run("ListConversationsMostRecentFirst", func(t *testing.T) { testListOrder(t, newDriver(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newDriver(t)) })
}

func testRoundTrip(t *testing.T, d store.Driver) {
	ctx := context.Background()
	s := store.New(d)
	defer s.Close()

	id, err := s.CreateConversation(ctx, "Hello")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	var want []chat.Message
	for i := range 25 {
		role := chat.RoleUser
		if i%2 == 1 {
			role = chat.RoleAssistant
		}
		m := chat.NewMessage(role, fmt.Sprintf("message %d ✓", i), nil)
		require.NoError(t, s.AppendMessage(ctx, id, m))
		want = append(want, m)
	}

	got, err := s.ListMessages(ctx, id)
	require.NoError(t, err)
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].ID, got[i].ID, "message %d", i)
		assert.Equal(t, want[i].Role, got[i].Role, "message %d", i)
		assert.Equal(t, want[i].Content, got[i].Content, "message %d", i)
		assert.WithinDuration(t, want[i].CreatedAt, got[i].CreatedAt, time.Millisecond, "message %d", i)
	}

	conv, err := s.GetConversation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Hello", conv.Title)
	assert.False(t, conv.UpdatedAt.Before(conv.CreatedAt))
}

func testAttachment(t *testing.T, d store.Driver) {
	ctx := context.Background()
	s := store.New(d)
	defer s.Close()

	id, err := s.CreateConversation(ctx, "img")
	require.NoError(t, err)
	att := &chat.Attachment{URL: "https://cdn.example.com/chat_images/a.png", ContentType: "image/png"}
	require.NoError(t, s.AppendMessage(ctx, id, chat.NewMessage(chat.RoleUser, "", att)))

	got, err := s.ListMessages(ctx, id)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].Attachment)
	assert.Equal(t, *att, *got[0].Attachment)
}

func testUnknown(t *testing.T, d store.Driver) {
	ctx := context.Background()
	s := store.New(d)
	defer s.Close()

	_, err := s.GetConversation(ctx, "does-not-exist")
	assert.ErrorIs(t, err, chat.ErrNotFound)

	err = s.AppendMessage(ctx, "does-not-exist", chat.NewMessage(chat.RoleUser, "x", nil))
	assert.ErrorIs(t, err, chat.ErrNotFound)

	msgs, err := s.ListMessages(ctx, "does-not-exist")
	assert.NoError(t, err)
	assert.Empty(t, msgs)
}

func testListOrder(t *testing.T, d store.Driver) {
	ctx := context.Background()
	s := store.New(d)
	defer s.Close()

	first, err := s.CreateConversation(ctx, "first")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	second, err := s.CreateConversation(ctx, "second")
	require.NoError(t, err)

	list, err := s.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second, list[0].ID)

	// Appending moves a conversation to the top.
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.AppendMessage(ctx, first, chat.NewMessage(chat.RoleUser, "bump", nil)))
	list, err = s.ListConversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, list[0].ID)
}

func testDelete(t *testing.T, d store.Driver) {
	ctx := context.Background()
	s := store.New(d)
	defer s.Close()

	keep, err := s.CreateConversation(ctx, "keep")
	require.NoError(t, err)
	gone, err := s.CreateConversation(ctx, "gone")
	require.NoError(t, err)
	require.NoError(t, s.AppendMessage(ctx, keep, chat.NewMessage(chat.RoleUser, "a", nil)))
	require.NoError(t, s.AppendMessage(ctx, gone, chat.NewMessage(chat.RoleUser, "b", nil)))

	require.NoError(t, s.DeleteConversation(ctx, gone))
	require.NoError(t, s.DeleteConversation(ctx, gone), "deleting twice is not an error")

	_, err = s.GetConversation(ctx, gone)
	assert.ErrorIs(t, err, chat.ErrNotFound)
	msgs, err := s.ListMessages(ctx, gone)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	msgs, err = s.ListMessages(ctx, keep)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

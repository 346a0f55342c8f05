// Package cache puts a redis read-through cache in front of a store driver.
// Redis failures are logged and fall through to the driver.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/arin/xx-chat/internal/chat"
	"github.com/arin/xx-chat/internal/store"
)

var ErrCacheMiss = errors.New("cache miss")

const (
	DefaultTTL = 10 * time.Minute
	keyPrefix  = "xx-chat:"
)

type Driver struct {
	next   store.Driver
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

// New wraps next. The client is pinged once so a wrong address fails at
// startup instead of on every call.
func New(ctx context.Context, next store.Driver, client *redis.Client, ttl time.Duration, log *slog.Logger) (*Driver, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Driver{next: next, client: client, ttl: ttl, log: log}, nil
}

func conversationKey(id string) string { return keyPrefix + "conversation:" + id }
func messagesKey(id string) string     { return keyPrefix + "conversation:" + id + ":messages" }

func (d *Driver) CreateConversation(ctx context.Context, conv *chat.Conversation) error {
	return d.next.CreateConversation(ctx, conv)
}

func (d *Driver) GetConversation(ctx context.Context, id string) (*chat.Conversation, error) {
	c, err := d.getConversation(ctx, id)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		d.log.Warn("redis read failed", "key", conversationKey(id), "error", err)
	}

	c, err = d.next.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(c); err == nil {
		if err := d.client.Set(ctx, conversationKey(id), data, d.ttl).Err(); err != nil {
			d.log.Warn("redis write failed", "key", conversationKey(id), "error", err)
		}
	}
	return c, nil
}

func (d *Driver) getConversation(ctx context.Context, id string) (*chat.Conversation, error) {
	data, err := d.client.Get(ctx, conversationKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	var c chat.Conversation
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshal conversation: %w", err)
	}
	return &c, nil
}

// ListConversations is not cached; every append changes the order.
func (d *Driver) ListConversations(ctx context.Context) ([]*chat.Conversation, error) {
	return d.next.ListConversations(ctx)
}

func (d *Driver) DeleteConversation(ctx context.Context, id string) error {
	if err := d.next.DeleteConversation(ctx, id); err != nil {
		return err
	}
	d.invalidate(ctx, conversationKey(id), messagesKey(id))
	return nil
}

// AppendMessage writes through. A cached message list is extended with
// RPUSHX so it stays in insertion order; a missing list stays missing.
func (d *Driver) AppendMessage(ctx context.Context, conversationID string, msg chat.Message) error {
	if err := d.next.AppendMessage(ctx, conversationID, msg); err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		d.invalidate(ctx, messagesKey(conversationID))
		return nil
	}
	pipe := d.client.TxPipeline()
	pipe.RPushX(ctx, messagesKey(conversationID), data)
	pipe.Expire(ctx, messagesKey(conversationID), d.ttl)
	pipe.Del(ctx, conversationKey(conversationID))
	if _, err := pipe.Exec(ctx); err != nil {
		d.log.Warn("redis write failed", "conversation_id", conversationID, "error", err)
		d.invalidate(ctx, messagesKey(conversationID), conversationKey(conversationID))
	}
	return nil
}

func (d *Driver) ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	msgs, err := d.listMessages(ctx, conversationID)
	if err == nil {
		return msgs, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		d.log.Warn("redis read failed", "key", messagesKey(conversationID), "error", err)
	}

	msgs, err = d.next.ListMessages(ctx, conversationID)
	if err != nil || len(msgs) == 0 {
		return msgs, err
	}
	values := make([]any, 0, len(msgs))
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return msgs, nil
		}
		values = append(values, data)
	}
	pipe := d.client.TxPipeline()
	pipe.Del(ctx, messagesKey(conversationID))
	pipe.RPush(ctx, messagesKey(conversationID), values...)
	pipe.Expire(ctx, messagesKey(conversationID), d.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		d.log.Warn("redis write failed", "key", messagesKey(conversationID), "error", err)
	}
	return msgs, nil
}

func (d *Driver) listMessages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	items, err := d.client.LRange(ctx, messagesKey(conversationID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrCacheMiss
	}
	msgs := make([]chat.Message, 0, len(items))
	for _, item := range items {
		var m chat.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (d *Driver) invalidate(ctx context.Context, keys ...string) {
	if err := d.client.Del(ctx, keys...).Err(); err != nil {
		d.log.Warn("redis invalidate failed", "keys", keys, "error", err)
	}
}

func (d *Driver) Close() error {
	cerr := d.client.Close()
	if err := d.next.Close(); err != nil {
		return err
	}
	return cerr
}

// Package postgres is the conversation store on lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// Import the postgres driver.
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/arin/xx-chat/internal/chat"
)

type DB struct {
	db *sql.DB
}

func NewDB(ctx context.Context, dsn string) (*DB, error) {
	if dsn == "" {
		return nil, errors.New("dsn required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open db")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to connect to postgres")
	}
	d := &DB{db: db}
	if err := d.EnsureTables(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) EnsureTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversation (
			id         SERIAL PRIMARY KEY,
			uid        TEXT   NOT NULL UNIQUE,
			title      TEXT   NOT NULL DEFAULT '',
			created_ts BIGINT NOT NULL,
			updated_ts BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_message (
			id               SERIAL PRIMARY KEY,
			uid              TEXT   NOT NULL,
			conversation_uid TEXT   NOT NULL REFERENCES conversation(uid) ON DELETE CASCADE,
			role             TEXT   NOT NULL,
			content          TEXT   NOT NULL,
			attachment_url   TEXT   NOT NULL DEFAULT '',
			attachment_type  TEXT   NOT NULL DEFAULT '',
			created_ts       BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_message_conversation ON conversation_message(conversation_uid)`,
	}
	for _, s := range stmts {
		if _, err := d.db.ExecContext(ctx, s); err != nil {
			return errors.Wrap(err, "failed to create tables")
		}
	}
	return nil
}

func (d *DB) CreateConversation(ctx context.Context, conv *chat.Conversation) error {
	stmt := `INSERT INTO conversation (uid, title, created_ts, updated_ts) VALUES ($1, $2, $3, $4)`
	if _, err := d.db.ExecContext(ctx, stmt, conv.ID, conv.Title, conv.CreatedAt.UnixMilli(), conv.UpdatedAt.UnixMilli()); err != nil {
		return errors.Wrap(err, "failed to insert conversation")
	}
	return nil
}

func (d *DB) GetConversation(ctx context.Context, id string) (*chat.Conversation, error) {
	list, err := d.listConversations(ctx, "WHERE uid = "+placeholder(1), id)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, chat.ErrNotFound
	}
	return list[0], nil
}

func (d *DB) ListConversations(ctx context.Context) ([]*chat.Conversation, error) {
	return d.listConversations(ctx, "")
}

func (d *DB) listConversations(ctx context.Context, where string, args ...any) ([]*chat.Conversation, error) {
	query := fmt.Sprintf(
		`SELECT uid, title, created_ts, updated_ts FROM conversation %s ORDER BY updated_ts DESC, id DESC`, where)
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list conversations")
	}
	defer rows.Close()

	var list []*chat.Conversation
	for rows.Next() {
		var (
			c                  chat.Conversation
			createdTs, updated int64
		)
		if err := rows.Scan(&c.ID, &c.Title, &createdTs, &updated); err != nil {
			return nil, errors.Wrap(err, "failed to scan conversation")
		}
		c.CreatedAt = time.UnixMilli(createdTs).UTC()
		c.UpdatedAt = time.UnixMilli(updated).UTC()
		list = append(list, &c)
	}
	return list, rows.Err()
}

// DeleteConversation relies on ON DELETE CASCADE for the messages.
func (d *DB) DeleteConversation(ctx context.Context, id string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM conversation WHERE uid = $1`, id)
	return errors.Wrap(err, "failed to delete conversation")
}

func (d *DB) AppendMessage(ctx context.Context, conversationID string, msg chat.Message) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin tx")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE conversation SET updated_ts = $1 WHERE uid = $2`,
		time.Now().UnixMilli(), conversationID)
	if err != nil {
		return errors.Wrap(err, "failed to touch conversation")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return chat.ErrNotFound
	}

	var url, contentType string
	if msg.Attachment != nil {
		url, contentType = msg.Attachment.URL, msg.Attachment.ContentType
	}
	stmt := `INSERT INTO conversation_message
		(uid, conversation_uid, role, content, attachment_url, attachment_type, created_ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := tx.ExecContext(ctx, stmt,
		msg.ID, conversationID, string(msg.Role), msg.Content, url, contentType, msg.CreatedAt.UnixMilli(),
	); err != nil {
		return errors.Wrap(err, "failed to insert message")
	}
	return errors.Wrap(tx.Commit(), "failed to commit")
}

func (d *DB) ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	query := `SELECT uid, role, content, attachment_url, attachment_type, created_ts
	          FROM conversation_message WHERE conversation_uid = $1 ORDER BY id ASC`
	rows, err := d.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list messages")
	}
	defer rows.Close()

	var list []chat.Message
	for rows.Next() {
		var (
			m                chat.Message
			role, url, ctype string
			createdTs        int64
		)
		if err := rows.Scan(&m.ID, &role, &m.Content, &url, &ctype, &createdTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan message")
		}
		m.Role = chat.Role(role)
		m.CreatedAt = time.UnixMilli(createdTs).UTC()
		if url != "" {
			m.Attachment = &chat.Attachment{URL: url, ContentType: ctype}
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

func (d *DB) Close() error {
	return d.db.Close()
}

func placeholder(n int) string {
	return "$" + fmt.Sprint(n)
}

// Package sqlite is the conversation store on modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	// Import the pure-Go SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/arin/xx-chat/internal/chat"
)

type DB struct {
	db *sql.DB
}

// NewDB opens the database at dsn (a file path or "file::memory:") and
// creates the tables.
func NewDB(ctx context.Context, dsn string) (*DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", dsn)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

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
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			uid        TEXT    NOT NULL UNIQUE,
			title      TEXT    NOT NULL DEFAULT '',
			created_ts BIGINT  NOT NULL,
			updated_ts BIGINT  NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_message (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			uid              TEXT    NOT NULL,
			conversation_uid TEXT    NOT NULL,
			role             TEXT    NOT NULL,
			content          TEXT    NOT NULL,
			attachment_url   TEXT    NOT NULL DEFAULT '',
			attachment_type  TEXT    NOT NULL DEFAULT '',
			created_ts       BIGINT  NOT NULL
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
	stmt := `INSERT INTO conversation (uid, title, created_ts, updated_ts) VALUES (?, ?, ?, ?)`
	if _, err := d.db.ExecContext(ctx, stmt, conv.ID, conv.Title, conv.CreatedAt.UnixMilli(), conv.UpdatedAt.UnixMilli()); err != nil {
		return errors.Wrap(err, "failed to insert conversation")
	}
	return nil
}

func (d *DB) GetConversation(ctx context.Context, id string) (*chat.Conversation, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT uid, title, created_ts, updated_ts FROM conversation WHERE uid = ?`, id)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, chat.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get conversation")
	}
	return c, nil
}

func (d *DB) ListConversations(ctx context.Context) ([]*chat.Conversation, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT uid, title, created_ts, updated_ts FROM conversation ORDER BY updated_ts DESC, id DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list conversations")
	}
	defer rows.Close()

	var list []*chat.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan conversation")
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

func (d *DB) DeleteConversation(ctx context.Context, id string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin tx")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM conversation_message WHERE conversation_uid = ?`, id); err != nil {
		return errors.Wrap(err, "failed to delete messages")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversation WHERE uid = ?`, id); err != nil {
		return errors.Wrap(err, "failed to delete conversation")
	}
	return errors.Wrap(tx.Commit(), "failed to commit")
}

func (d *DB) AppendMessage(ctx context.Context, conversationID string, msg chat.Message) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin tx")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE conversation SET updated_ts = ? WHERE uid = ?`,
		time.Now().UnixMilli(), conversationID)
	if err != nil {
		return errors.Wrap(err, "failed to touch conversation")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return chat.ErrNotFound
	}

	url, contentType := attachmentColumns(msg.Attachment)
	stmt := `INSERT INTO conversation_message
		(uid, conversation_uid, role, content, attachment_url, attachment_type, created_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, stmt,
		msg.ID, conversationID, string(msg.Role), msg.Content, url, contentType, msg.CreatedAt.UnixMilli(),
	); err != nil {
		return errors.Wrap(err, "failed to insert message")
	}
	return errors.Wrap(tx.Commit(), "failed to commit")
}

func (d *DB) ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	query := `SELECT uid, role, content, attachment_url, attachment_type, created_ts
	          FROM conversation_message WHERE conversation_uid = ? ORDER BY id ASC`
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

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(s scanner) (*chat.Conversation, error) {
	var (
		c                  chat.Conversation
		createdTs, updated int64
	)
	if err := s.Scan(&c.ID, &c.Title, &createdTs, &updated); err != nil {
		return nil, err
	}
	c.CreatedAt = time.UnixMilli(createdTs).UTC()
	c.UpdatedAt = time.UnixMilli(updated).UTC()
	return &c, nil
}

func attachmentColumns(a *chat.Attachment) (string, string) {
	if a == nil {
		return "", ""
	}
	return a.URL, a.ContentType
}

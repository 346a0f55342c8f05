// Package mysql is the conversation store on go-sql-driver/mysql.
package mysql

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-sql-driver/mysql"
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
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse dsn")
	}
	cfg.MultiStatements = false
	cfg.ParseTime = true

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, errors.Wrap(err, "failed to open db")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to connect to mysql")
	}
	d := &DB{db: db}
	if err := d.EnsureTables(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// EnsureTables creates the tables. MySQL has no CREATE INDEX IF NOT
// EXISTS, so the index lives in the table definition.
func (d *DB) EnsureTables(ctx context.Context) error {
	stmts := []string{
		"CREATE TABLE IF NOT EXISTS `conversation` (" +
			"`id` INT NOT NULL AUTO_INCREMENT PRIMARY KEY," +
			"`uid` VARCHAR(64) NOT NULL UNIQUE," +
			"`title` TEXT NOT NULL," +
			"`created_ts` BIGINT NOT NULL," +
			"`updated_ts` BIGINT NOT NULL" +
			")",
		"CREATE TABLE IF NOT EXISTS `conversation_message` (" +
			"`id` INT NOT NULL AUTO_INCREMENT PRIMARY KEY," +
			"`uid` VARCHAR(64) NOT NULL," +
			"`conversation_uid` VARCHAR(64) NOT NULL," +
			"`role` VARCHAR(32) NOT NULL," +
			"`content` LONGTEXT NOT NULL," +
			"`attachment_url` TEXT NOT NULL," +
			"`attachment_type` VARCHAR(256) NOT NULL DEFAULT ''," +
			"`created_ts` BIGINT NOT NULL," +
			"INDEX `idx_conversation_message_conversation` (`conversation_uid`)," +
			"CONSTRAINT `fk_conversation_message_conversation` FOREIGN KEY (`conversation_uid`) REFERENCES `conversation`(`uid`) ON DELETE CASCADE" +
			")",
	}
	for _, s := range stmts {
		if _, err := d.db.ExecContext(ctx, s); err != nil {
			return errors.Wrap(err, "failed to create tables")
		}
	}
	return nil
}

func (d *DB) CreateConversation(ctx context.Context, conv *chat.Conversation) error {
	stmt := "INSERT INTO `conversation` (`uid`, `title`, `created_ts`, `updated_ts`) VALUES (?, ?, ?, ?)"
	if _, err := d.db.ExecContext(ctx, stmt, conv.ID, conv.Title, conv.CreatedAt.UnixMilli(), conv.UpdatedAt.UnixMilli()); err != nil {
		return errors.Wrap(err, "failed to insert conversation")
	}
	return nil
}

func (d *DB) GetConversation(ctx context.Context, id string) (*chat.Conversation, error) {
	list, err := d.listConversations(ctx, "WHERE `uid` = ?", id)
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
	query := "SELECT `uid`, `title`, `created_ts`, `updated_ts` FROM `conversation` " + where +
		" ORDER BY `updated_ts` DESC, `id` DESC"
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

func (d *DB) DeleteConversation(ctx context.Context, id string) error {
	_, err := d.db.ExecContext(ctx, "DELETE FROM `conversation` WHERE `uid` = ?", id)
	return errors.Wrap(err, "failed to delete conversation")
}

func (d *DB) AppendMessage(ctx context.Context, conversationID string, msg chat.Message) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin tx")
	}
	defer tx.Rollback()

	// MySQL reports changed rows, not matched rows, so existence is
	// checked explicitly.
	var exists int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM `conversation` WHERE `uid` = ? FOR UPDATE", conversationID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.ErrNotFound
	}
	if err != nil {
		return errors.Wrap(err, "failed to lock conversation")
	}
	if _, err := tx.ExecContext(ctx, "UPDATE `conversation` SET `updated_ts` = ? WHERE `uid` = ?",
		time.Now().UnixMilli(), conversationID); err != nil {
		return errors.Wrap(err, "failed to touch conversation")
	}

	var url, contentType string
	if msg.Attachment != nil {
		url, contentType = msg.Attachment.URL, msg.Attachment.ContentType
	}
	stmt := "INSERT INTO `conversation_message` " +
		"(`uid`, `conversation_uid`, `role`, `content`, `attachment_url`, `attachment_type`, `created_ts`) " +
		"VALUES (?, ?, ?, ?, ?, ?, ?)"
	if _, err := tx.ExecContext(ctx, stmt,
		msg.ID, conversationID, string(msg.Role), msg.Content, url, contentType, msg.CreatedAt.UnixMilli(),
	); err != nil {
		return errors.Wrap(err, "failed to insert message")
	}
	return errors.Wrap(tx.Commit(), "failed to commit")
}

func (d *DB) ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	query := "SELECT `uid`, `role`, `content`, `attachment_url`, `attachment_type`, `created_ts` " +
		"FROM `conversation_message` WHERE `conversation_uid` = ? ORDER BY `id` ASC"
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

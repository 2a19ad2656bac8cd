// Package messagelog persists an audit trail of inbound channel messages.
package messagelog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/waclaw/internal/channels"
)

// SQLiteLog implements channels.MessageLog on an embedded SQLite file.
type SQLiteLog struct {
	db *sql.DB
}

var _ channels.MessageLog = (*SQLiteLog)(nil)

// NewSQLiteLog opens (or creates) the message log database at the given
// path and initializes the schema.
func NewSQLiteLog(dbPath string) (*SQLiteLog, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	l := &SQLiteLog{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Info("message log opened", "path", dbPath)
	return l, nil
}

func (l *SQLiteLog) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			channel_type TEXT NOT NULL,
			peer_id TEXT NOT NULL,
			username TEXT NOT NULL DEFAULT '',
			sender_name TEXT NOT NULL DEFAULT '',
			chat_id TEXT NOT NULL,
			chat_type TEXT NOT NULL DEFAULT 'private',
			body TEXT NOT NULL DEFAULT '',
			access_granted INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_account ON messages(account_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_peer ON messages(peer_id)`,
	}
	for _, stmt := range stmts {
		if _, err := l.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec schema: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database.
func (l *SQLiteLog) Close() error {
	return l.db.Close()
}

// Log inserts one audit entry. A missing id or timestamp is filled in.
func (l *SQLiteLog) Log(ctx context.Context, entry channels.MessageLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO messages
			(id, account_id, channel_type, peer_id, username, sender_name, chat_id, chat_type, body, access_granted, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.AccountID, string(entry.ChannelType), entry.PeerID,
		entry.Username, entry.SenderName, entry.ChatID, entry.ChatType,
		entry.Body, boolToInt(entry.AccessGranted), entry.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert message log entry: %w", err)
	}
	return nil
}

// Recent returns the newest entries for an account, newest first.
func (l *SQLiteLog) Recent(ctx context.Context, accountID string, limit int) ([]channels.MessageLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, account_id, channel_type, peer_id, username, sender_name, chat_id, chat_type, body, access_granted, created_at
		 FROM messages WHERE account_id = ? ORDER BY created_at DESC, id LIMIT ?`,
		accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("query message log: %w", err)
	}
	defer rows.Close()

	var out []channels.MessageLogEntry
	for rows.Next() {
		var entry channels.MessageLogEntry
		var channelType string
		var granted int
		var createdAt int64
		if err := rows.Scan(&entry.ID, &entry.AccountID, &channelType, &entry.PeerID,
			&entry.Username, &entry.SenderName, &entry.ChatID, &entry.ChatType,
			&entry.Body, &granted, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message log entry: %w", err)
		}
		entry.ChannelType = channels.ChannelType(channelType)
		entry.AccessGranted = granted != 0
		entry.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, entry)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

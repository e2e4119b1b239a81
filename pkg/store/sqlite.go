package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/threads"
	_ "modernc.org/sqlite"
)

const schema = `
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;
PRAGMA busy_timeout = 5000;

CREATE TABLE IF NOT EXISTS threads (
    id            TEXT PRIMARY KEY,
    title         TEXT NOT NULL DEFAULT '',
    updated_at    INTEGER NOT NULL DEFAULT 0,
    message_count INTEGER NOT NULL DEFAULT 0,
    messages      TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS threads_updated ON threads (updated_at DESC, id ASC);
`

// SQLiteStore keeps threads in a single SQLite database. Messages are
// stored as a JSON column; listing reads only the summary columns.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ListThreads(ctx context.Context) ([]chat.ThreadSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, title, updated_at, message_count FROM threads ORDER BY updated_at DESC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	summaries := make([]chat.ThreadSummary, 0)
	for rows.Next() {
		var (
			sum     chat.ThreadSummary
			updated int64
		)
		if err := rows.Scan(&sum.ID, &sum.Title, &updated, &sum.MessageCount); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		sum.UpdatedAt = time.Unix(0, updated)
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

func (s *SQLiteStore) GetThread(ctx context.Context, id string) (chat.Conversation, error) {
	var (
		conv     chat.Conversation
		updated  int64
		messages string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, title, updated_at, messages FROM threads WHERE id = ?", id,
	).Scan(&conv.ID, &conv.Title, &updated, &messages)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Conversation{}, threads.ErrThreadNotFound
	}
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("get thread: %w", err)
	}

	conv.UpdatedAt = time.Unix(0, updated)
	if err := json.Unmarshal([]byte(messages), &conv.Messages); err != nil {
		return chat.Conversation{}, fmt.Errorf("decode messages: %w", err)
	}
	if conv.Messages == nil {
		conv.Messages = make([]chat.Message, 0)
	}
	return conv, nil
}

func (s *SQLiteStore) SaveThread(ctx context.Context, conv chat.Conversation) error {
	if err := validateID(conv.ID); err != nil {
		return err
	}

	messages := conv.Messages
	if messages == nil {
		messages = make([]chat.Message, 0)
	}
	data, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO threads (id, title, updated_at, message_count, messages)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			updated_at = excluded.updated_at,
			message_count = excluded.message_count,
			messages = excluded.messages`,
		conv.ID, conv.Title, conv.UpdatedAt.UnixNano(), len(messages), string(data))
	if err != nil {
		return fmt.Errorf("save thread: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteThread(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM threads WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return threads.ErrThreadNotFound
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM threads"); err != nil {
		return fmt.Errorf("clear threads: %w", err)
	}
	return nil
}

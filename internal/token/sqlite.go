package token

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/relink/internal/shared"
)

const schema = `
	CREATE TABLE IF NOT EXISTS session_tokens (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)
`

// SQLiteLayer is the durable key-value layer backed by SQLite.
type SQLiteLayer struct {
	db *sql.DB
}

// NewSQLiteLayer creates a [SQLiteLayer] over an open database connection,
// creating the session_tokens table if needed.
func NewSQLiteLayer(db *sql.DB) (*SQLiteLayer, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create session_tokens table: %w", err)
	}
	return &SQLiteLayer{db: db}, nil
}

func (s *SQLiteLayer) Name() string { return "sqlite" }

func (s *SQLiteLayer) Get() (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM session_tokens WHERE key = ?`, StorageKey).Scan(&value)
	if err == sql.ErrNoRows {
		return "", shared.ErrTokenMissing
	}
	if err != nil {
		return "", fmt.Errorf("failed to query token: %w", err)
	}
	return value, nil
}

func (s *SQLiteLayer) Set(token string) error {
	query := `
		INSERT INTO session_tokens (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := s.db.Exec(query, StorageKey, token, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to upsert token: %w", err)
	}
	return nil
}

func (s *SQLiteLayer) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM session_tokens WHERE key = ?`, StorageKey); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Open opens a SQLite database with the given DSN.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single connection keeps writers from tripping over SQLITE_BUSY
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return db, nil
}

// Migrate creates the schema. Every statement is idempotent.
// Timestamps are always written explicitly in UTC so that text ordering
// matches time ordering.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS profiles (
			id                TEXT PRIMARY KEY,
			username          VARCHAR(50) UNIQUE NOT NULL,
			email             VARCHAR(100) NOT NULL DEFAULT '',
			avatar_url        TEXT NOT NULL DEFAULT '',
			status            VARCHAR(16) NOT NULL DEFAULT 'offline',
			status_changed_at DATETIME NOT NULL,
			last_seen_at      DATETIME NOT NULL,
			created_at        DATETIME NOT NULL,
			updated_at        DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS chats (
			id         TEXT PRIMARY KEY,
			name       VARCHAR(100) NOT NULL DEFAULT '',
			type       VARCHAR(8) NOT NULL CHECK (type IN ('direct', 'group')),
			created_by TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS chat_participants (
			chat_id   TEXT NOT NULL,
			user_id   TEXT NOT NULL,
			joined_at DATETIME NOT NULL,
			PRIMARY KEY (chat_id, user_id),
			FOREIGN KEY (chat_id) REFERENCES chats(id),
			FOREIGN KEY (user_id) REFERENCES profiles(id)
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id           TEXT PRIMARY KEY,
			chat_id      TEXT NOT NULL,
			sender_id    TEXT NOT NULL,
			content      TEXT NOT NULL,
			message_type VARCHAR(8) NOT NULL DEFAULT 'text',
			status       VARCHAR(8) NOT NULL DEFAULT 'unread',
			created_at   DATETIME NOT NULL,
			updated_at   DATETIME NOT NULL,
			FOREIGN KEY (chat_id) REFERENCES chats(id),
			FOREIGN KEY (sender_id) REFERENCES profiles(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_profiles_username ON profiles(username);`,
		`CREATE INDEX IF NOT EXISTS idx_chats_updated_at ON chats(updated_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_participants_user ON chat_participants(user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat_created ON messages(chat_id, created_at DESC, id DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat_status ON messages(chat_id, status);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	return nil
}

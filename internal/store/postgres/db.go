package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open opens a PostgreSQL database using the pgx stdlib driver.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate runs idempotent DDL migrations for the chatsync schema.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS profiles (
			id                TEXT         PRIMARY KEY,
			username          VARCHAR(50)  UNIQUE NOT NULL,
			email             VARCHAR(100) NOT NULL DEFAULT '',
			avatar_url        TEXT         NOT NULL DEFAULT '',
			status            VARCHAR(16)  NOT NULL DEFAULT 'offline',
			status_changed_at TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			last_seen_at      TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			created_at        TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			updated_at        TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS chats (
			id         TEXT         PRIMARY KEY,
			name       VARCHAR(100) NOT NULL DEFAULT '',
			type       VARCHAR(8)   NOT NULL CHECK (type IN ('direct', 'group')),
			created_by TEXT         NOT NULL,
			created_at TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS chat_participants (
			chat_id   TEXT        NOT NULL REFERENCES chats(id),
			user_id   TEXT        NOT NULL REFERENCES profiles(id),
			joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (chat_id, user_id)
		)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id           TEXT        PRIMARY KEY,
			chat_id      TEXT        NOT NULL REFERENCES chats(id),
			sender_id    TEXT        NOT NULL REFERENCES profiles(id),
			content      TEXT        NOT NULL,
			message_type VARCHAR(8)  NOT NULL DEFAULT 'text',
			status       VARCHAR(8)  NOT NULL DEFAULT 'unread',
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE INDEX IF NOT EXISTS idx_profiles_username ON profiles(username)`,
		`CREATE INDEX IF NOT EXISTS idx_chats_updated_at ON chats(updated_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_participants_user ON chat_participants(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat_created ON messages(chat_id, created_at DESC, id DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat_status ON messages(chat_id, status)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w\nSQL: %s", err, stmt)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

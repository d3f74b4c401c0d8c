package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"chatsync/internal/domain"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

const messageColumns = `id, chat_id, sender_id, content, message_type, status, created_at, updated_at`

// Create stores the message and bumps the chat's last activity in the
// same transaction. A repeated id is reported as domain.ErrConflict.
func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.CreatedAt
	if m.Type == "" {
		m.Type = domain.MessageText
	}
	if m.Status == "" || m.Status == domain.StatusPending {
		m.Status = domain.StatusUnread
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM messages WHERE id = ?`, m.ID).Scan(&exists)
	if err == nil {
		return domain.ErrConflict
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("check message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.ChatID, m.SenderID, m.Content, m.Type, m.Status, m.CreatedAt, m.UpdatedAt); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE chats SET updated_at = ? WHERE id = ? AND updated_at < ?
	`, m.CreatedAt, m.ChatID, m.CreatedAt); err != nil {
		return fmt.Errorf("touch chat: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	m, err := scanMessage(r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

func (r *MessageRepo) ListRecent(ctx context.Context, chatID string, limit int) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE chat_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return collectMessages(rows)
}

func (r *MessageRepo) MarkRead(ctx context.Context, chatID, viewerID string) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE messages
		SET status = 'read', updated_at = ?
		WHERE chat_id = ? AND sender_id <> ? AND status = 'unread'
		RETURNING `+messageColumns+`
	`, time.Now().UTC(), chatID, viewerID)
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	return collectMessages(rows)
}

func scanMessage(s scanner) (*domain.Message, error) {
	m := &domain.Message{}
	if err := s.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.Type, &m.Status, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	return m, nil
}

func collectMessages(rows *sql.Rows) ([]*domain.Message, error) {
	defer rows.Close()
	var res []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		res = append(res, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return res, nil
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"chatsync/internal/domain"
)

type ChatRepo struct {
	db *sql.DB
}

func NewChatRepo(db *sql.DB) *ChatRepo {
	return &ChatRepo{db: db}
}

var _ domain.ChatRepository = (*ChatRepo)(nil)

const chatColumns = `c.id, c.name, c.type, c.created_by, c.created_at, c.updated_at`

func (r *ChatRepo) Create(ctx context.Context, c *domain.Chat) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO chats (id, name, type, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, c.ID, c.Name, string(c.Kind), c.CreatedBy, c.CreatedAt, c.UpdatedAt)
	if isUniqueViolation(err) {
		return domain.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	return nil
}

func (r *ChatRepo) GetByID(ctx context.Context, id string) (*domain.Chat, error) {
	c, err := scanChat(r.db.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats c WHERE c.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	return c, nil
}

func (r *ChatRepo) ListForUser(ctx context.Context, userID string, limit int) ([]*domain.Chat, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+chatColumns+`
		FROM chats c
		JOIN chat_participants cp ON cp.chat_id = c.id
		WHERE cp.user_id = $1
		ORDER BY c.updated_at DESC, c.id ASC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	return collectChats(rows)
}

func (r *ChatRepo) ListDirectForUser(ctx context.Context, userID string) ([]*domain.Chat, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+chatColumns+`
		FROM chats c
		JOIN chat_participants cp ON cp.chat_id = c.id
		WHERE cp.user_id = $1 AND c.type = 'direct'
		ORDER BY c.created_at ASC, c.id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list direct chats: %w", err)
	}
	return collectChats(rows)
}

func (r *ChatRepo) Touch(ctx context.Context, chatID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE chats SET updated_at = GREATEST(updated_at, $1) WHERE id = $2
	`, at, chatID)
	if err != nil {
		return fmt.Errorf("touch chat: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanChat(s scanner) (*domain.Chat, error) {
	c := &domain.Chat{}
	if err := s.Scan(&c.ID, &c.Name, &c.Kind, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return c, nil
}

func collectChats(rows *sql.Rows) ([]*domain.Chat, error) {
	defer rows.Close()
	var res []*domain.Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		res = append(res, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chats: %w", err)
	}
	return res, nil
}

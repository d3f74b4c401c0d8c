package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"chatsync/internal/domain"
)

type ParticipantRepo struct {
	db *sql.DB
}

func NewParticipantRepo(db *sql.DB) *ParticipantRepo {
	return &ParticipantRepo{db: db}
}

var _ domain.ParticipantRepository = (*ParticipantRepo)(nil)

func (r *ParticipantRepo) Add(ctx context.Context, chatID string, userIDs ...string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, uid := range userIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chat_participants (chat_id, user_id, joined_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (chat_id, user_id) DO NOTHING
		`, chatID, uid); err != nil {
			return fmt.Errorf("insert participant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *ParticipantRepo) Remove(ctx context.Context, chatID, userID string) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM chat_participants WHERE chat_id = $1 AND user_id = $2
	`, chatID, userID)
	if err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *ParticipantRepo) ListParticipants(ctx context.Context, chatID string) ([]*domain.Participant, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT cp.chat_id, cp.user_id, cp.joined_at, `+profileColumns+`
		FROM chat_participants cp
		JOIN profiles p ON p.id = cp.user_id
		WHERE cp.chat_id = $1
		ORDER BY cp.joined_at ASC, cp.user_id ASC
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var res []*domain.Participant
	for rows.Next() {
		p := &domain.Participant{}
		pr := &p.Profile
		if err := rows.Scan(
			&p.ChatID, &p.UserID, &p.JoinedAt,
			&pr.ID, &pr.Username, &pr.Email, &pr.AvatarURL, &pr.Status,
			&pr.StatusChangedAt, &pr.LastSeenAt, &pr.CreatedAt, &pr.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		res = append(res, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", err)
	}
	return res, nil
}

func (r *ParticipantRepo) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM chat_participants WHERE chat_id = $1 AND user_id = $2
		)
	`, chatID, userID).Scan(&exists)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("is participant: %w", err)
	}
	return exists, nil
}

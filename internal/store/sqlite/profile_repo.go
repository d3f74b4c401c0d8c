package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"chatsync/internal/domain"
)

type ProfileRepo struct {
	db *sql.DB
}

func NewProfileRepo(db *sql.DB) *ProfileRepo {
	return &ProfileRepo{db: db}
}

var _ domain.ProfileRepository = (*ProfileRepo)(nil)

const profileColumns = `p.id, p.username, p.email, p.avatar_url, p.status, p.status_changed_at, p.last_seen_at, p.created_at, p.updated_at`

func (r *ProfileRepo) Create(ctx context.Context, p *domain.Profile) error {
	now := time.Now().UTC()
	if p.Status == "" {
		p.Status = domain.PresenceOffline
	}
	p.CreatedAt, p.UpdatedAt = now, now
	if p.StatusChangedAt.IsZero() {
		p.StatusChangedAt = now
	}
	if p.LastSeenAt.IsZero() {
		p.LastSeenAt = now
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO profiles (id, username, email, avatar_url, status, status_changed_at, last_seen_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Username, p.Email, p.AvatarURL, p.Status,
		p.StatusChangedAt.UTC(), p.LastSeenAt.UTC(), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return domain.ErrConflict
		}
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

func (r *ProfileRepo) GetByID(ctx context.Context, id string) (*domain.Profile, error) {
	p, err := scanProfile(r.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles p WHERE p.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

func (r *ProfileRepo) Search(ctx context.Context, query string, limit int) ([]*domain.Profile, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+profileColumns+`
		FROM profiles p
		WHERE p.username LIKE ?
		ORDER BY p.username ASC
		LIMIT ?
	`, "%"+query+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("search profiles: %w", err)
	}
	defer rows.Close()

	var res []*domain.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		res = append(res, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}
	return res, nil
}

// UpdateStatus sets the status and returns the stored row. A write older
// than the stored change time leaves the row as it is.
func (r *ProfileRepo) UpdateStatus(ctx context.Context, id string, status domain.Presence, at time.Time) (*domain.Profile, error) {
	at = at.UTC()
	_, err := r.db.ExecContext(ctx, `
		UPDATE profiles
		SET status = ?, status_changed_at = ?, last_seen_at = ?, updated_at = ?
		WHERE id = ? AND status_changed_at <= ?
	`, status, at, at, at, id, at)
	if err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *ProfileRepo) Touch(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE profiles SET last_seen_at = ? WHERE id = ?
	`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("touch profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanProfile(s scanner) (*domain.Profile, error) {
	p := &domain.Profile{}
	if err := s.Scan(
		&p.ID, &p.Username, &p.Email, &p.AvatarURL, &p.Status,
		&p.StatusChangedAt, &p.LastSeenAt, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return p, nil
}

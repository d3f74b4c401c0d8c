package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
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
	if p.Status == "" {
		p.Status = domain.PresenceOffline
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO profiles (id, username, email, avatar_url, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING status_changed_at, last_seen_at, created_at, updated_at
	`, p.ID, p.Username, p.Email, p.AvatarURL, string(p.Status),
	).Scan(&p.StatusChangedAt, &p.LastSeenAt, &p.CreatedAt, &p.UpdatedAt)
	if isUniqueViolation(err) {
		return domain.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

func (r *ProfileRepo) GetByID(ctx context.Context, id string) (*domain.Profile, error) {
	p, err := scanProfile(r.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles p WHERE p.id = $1`, id))
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
		WHERE p.username ILIKE $1
		ORDER BY p.username ASC
		LIMIT $2
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

func (r *ProfileRepo) UpdateStatus(ctx context.Context, id string, status domain.Presence, at time.Time) (*domain.Profile, error) {
	_, err := r.db.ExecContext(ctx, `
		UPDATE profiles
		SET status = $1, status_changed_at = $2, last_seen_at = $2, updated_at = $2
		WHERE id = $3 AND status_changed_at <= $2
	`, string(status), at, id)
	if err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *ProfileRepo) Touch(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE profiles SET last_seen_at = $1 WHERE id = $2`, at, id)
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

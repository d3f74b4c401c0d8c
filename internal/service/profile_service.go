package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"chatsync/internal/domain"
	"chatsync/internal/feed"
)

type ProfileService struct {
	profiles domain.ProfileRepository
	pub      Publisher
	log      *zap.Logger
}

func NewProfileService(profiles domain.ProfileRepository, pub Publisher, log *zap.Logger) *ProfileService {
	return &ProfileService{profiles: profiles, pub: pub, log: log.Named("profiles")}
}

type ProfileCreateInput struct {
	Username  string `validate:"required,min=2,max=50"`
	Email     string `validate:"omitempty,email,max=100"`
	AvatarURL string `validate:"omitempty,url"`
}

func (s *ProfileService) Create(ctx context.Context, callerID, id string, in ProfileCreateInput) (*domain.Profile, error) {
	if id != callerID {
		return nil, domain.ErrForbidden
	}
	if err := validate.Struct(in); err != nil {
		return nil, invalid(err)
	}
	p := &domain.Profile{ID: id, Username: in.Username, Email: in.Email, AvatarURL: in.AvatarURL}
	if err := s.profiles.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Ensure returns the caller's profile, provisioning one on first contact.
// A taken username gets the id appended.
func (s *ProfileService) Ensure(ctx context.Context, id, username string) (*domain.Profile, error) {
	p, err := s.profiles.GetByID(ctx, id)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	if username == "" {
		username = id
	}
	for _, name := range []string{username, username + "-" + id} {
		p = &domain.Profile{ID: id, Username: name}
		err = s.profiles.Create(ctx, p)
		if err == nil {
			s.log.Info("profile provisioned", zap.String("user_id", id), zap.String("username", name))
			return p, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return nil, err
		}
		// lost a race with our own provisioning
		if existing, gerr := s.profiles.GetByID(ctx, id); gerr == nil {
			return existing, nil
		}
	}
	return nil, fmt.Errorf("provision profile %s: %w", id, err)
}

func (s *ProfileService) Get(ctx context.Context, id string) (*domain.Profile, error) {
	return s.profiles.GetByID(ctx, id)
}

// Search matches usernames, leaving the caller out of the results.
func (s *ProfileService) Search(ctx context.Context, callerID, query string, limit int) ([]*domain.Profile, error) {
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	list, err := s.profiles.Search(ctx, query, limit+1)
	if err != nil {
		return nil, err
	}
	list = lo.Filter(list, func(p *domain.Profile, _ int) bool { return p != nil && p.ID != callerID })
	if len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// UpdateStatus stores a status for the caller and announces it to every
// subscriber. Stale writes leave the stored row, which is returned as is.
func (s *ProfileService) UpdateStatus(ctx context.Context, callerID, id string, status domain.Presence, at time.Time) (*domain.Profile, error) {
	if id != callerID {
		return nil, domain.ErrForbidden
	}
	if !status.Valid() {
		return nil, invalid(fmt.Errorf("unknown status %q", status))
	}
	if now := time.Now().UTC(); at.IsZero() || at.After(now) {
		at = now
	}
	p, err := s.profiles.UpdateStatus(ctx, id, status, at.UTC())
	if err != nil {
		return nil, err
	}
	s.pub.Publish(feed.ProfileUpdated{Profile: *p}, nil)
	return p, nil
}

func (s *ProfileService) Ping(ctx context.Context, callerID, id string) error {
	if id != callerID {
		return domain.ErrForbidden
	}
	return s.profiles.Touch(ctx, id, time.Now().UTC())
}

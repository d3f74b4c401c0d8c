package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"chatsync/internal/domain"
)

type ChatRepo struct{ c *Client }

var _ domain.ChatRepository = (*ChatRepo)(nil)

func (r *ChatRepo) Create(ctx context.Context, chat *domain.Chat) error {
	body := map[string]any{"id": chat.ID, "name": chat.Name, "type": chat.Kind}
	return r.c.do(ctx, http.MethodPost, "/api/chats", nil, body, chat)
}

func (r *ChatRepo) GetByID(ctx context.Context, id string) (*domain.Chat, error) {
	var chat domain.Chat
	if err := r.c.do(ctx, http.MethodGet, "/api/chats/"+id, nil, nil, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

func (r *ChatRepo) ListForUser(ctx context.Context, _ string, limit int) ([]*domain.Chat, error) {
	var list []*domain.Chat
	err := r.c.do(ctx, http.MethodGet, "/api/chats", limitQuery(limit), nil, &list)
	return list, err
}

func (r *ChatRepo) ListDirectForUser(ctx context.Context, _ string) ([]*domain.Chat, error) {
	q := limitQuery(0)
	q.Set("kind", string(domain.ChatDirect))
	var list []*domain.Chat
	err := r.c.do(ctx, http.MethodGet, "/api/chats", q, nil, &list)
	return list, err
}

func (r *ChatRepo) Touch(ctx context.Context, chatID string, at time.Time) error {
	return r.c.do(ctx, http.MethodPost, "/api/chats/"+chatID+"/touch", nil, map[string]time.Time{"at": at}, nil)
}

type ParticipantRepo struct{ c *Client }

var _ domain.ParticipantRepository = (*ParticipantRepo)(nil)

func (r *ParticipantRepo) Add(ctx context.Context, chatID string, userIDs ...string) error {
	return r.c.do(ctx, http.MethodPost, "/api/chats/"+chatID+"/participants", nil,
		map[string][]string{"user_ids": userIDs}, nil)
}

func (r *ParticipantRepo) Remove(ctx context.Context, chatID, userID string) error {
	return r.c.do(ctx, http.MethodDelete, "/api/chats/"+chatID+"/participants/"+userID, nil, nil, nil)
}

func (r *ParticipantRepo) ListParticipants(ctx context.Context, chatID string) ([]*domain.Participant, error) {
	var list []*domain.Participant
	err := r.c.do(ctx, http.MethodGet, "/api/chats/"+chatID+"/participants", nil, nil, &list)
	return list, err
}

func (r *ParticipantRepo) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	err := r.c.do(ctx, http.MethodGet, "/api/chats/"+chatID+"/participants/"+userID, nil, nil, nil)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

type MessageRepo struct{ c *Client }

var _ domain.MessageRepository = (*MessageRepo)(nil)

func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	body := map[string]any{
		"id":           m.ID,
		"content":      m.Content,
		"message_type": m.Type,
		"created_at":   m.CreatedAt,
	}
	return r.c.do(ctx, http.MethodPost, "/api/chats/"+m.ChatID+"/messages", nil, body, m)
}

func (r *MessageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	var m domain.Message
	if err := r.c.do(ctx, http.MethodGet, "/api/messages/"+id, nil, nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *MessageRepo) ListRecent(ctx context.Context, chatID string, limit int) ([]*domain.Message, error) {
	var list []*domain.Message
	err := r.c.do(ctx, http.MethodGet, "/api/chats/"+chatID+"/messages", limitQuery(limit), nil, &list)
	return list, err
}

func (r *MessageRepo) MarkRead(ctx context.Context, chatID, _ string) ([]*domain.Message, error) {
	var list []*domain.Message
	err := r.c.do(ctx, http.MethodPost, "/api/chats/"+chatID+"/read", nil, nil, &list)
	return list, err
}

type ProfileRepo struct{ c *Client }

var _ domain.ProfileRepository = (*ProfileRepo)(nil)

func (r *ProfileRepo) Create(ctx context.Context, p *domain.Profile) error {
	body := map[string]string{"id": p.ID, "username": p.Username, "email": p.Email, "avatar_url": p.AvatarURL}
	return r.c.do(ctx, http.MethodPost, "/api/profiles", nil, body, p)
}

func (r *ProfileRepo) GetByID(ctx context.Context, id string) (*domain.Profile, error) {
	var p domain.Profile
	if err := r.c.do(ctx, http.MethodGet, "/api/profiles/"+id, nil, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ProfileRepo) Search(ctx context.Context, query string, limit int) ([]*domain.Profile, error) {
	q := limitQuery(limit)
	q.Set("q", query)
	var list []*domain.Profile
	err := r.c.do(ctx, http.MethodGet, "/api/profiles", q, nil, &list)
	return list, err
}

func (r *ProfileRepo) UpdateStatus(ctx context.Context, id string, status domain.Presence, at time.Time) (*domain.Profile, error) {
	var p domain.Profile
	body := map[string]any{"status": status, "at": at}
	if err := r.c.do(ctx, http.MethodPut, "/api/profiles/"+id+"/status", nil, body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ProfileRepo) Touch(ctx context.Context, id string, _ time.Time) error {
	return r.c.do(ctx, http.MethodPost, "/api/profiles/"+id+"/ping", nil, nil, nil)
}

package domain

import (
	"context"
	"time"
)

// ChatRepository defines data access for chats.
type ChatRepository interface {
	Create(ctx context.Context, c *Chat) error
	GetByID(ctx context.Context, id string) (*Chat, error)
	// ListForUser returns the user's chats, most recently active first.
	ListForUser(ctx context.Context, userID string, limit int) ([]*Chat, error)
	ListDirectForUser(ctx context.Context, userID string) ([]*Chat, error)
	Touch(ctx context.Context, chatID string, at time.Time) error
}

// ParticipantRepository defines data access for chat membership.
type ParticipantRepository interface {
	Add(ctx context.Context, chatID string, userIDs ...string) error
	Remove(ctx context.Context, chatID, userID string) error
	ListParticipants(ctx context.Context, chatID string) ([]*Participant, error)
	IsParticipant(ctx context.Context, chatID, userID string) (bool, error)
}

// MessageRepository defines data access for messages.
type MessageRepository interface {
	Create(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id string) (*Message, error)
	// ListRecent returns up to limit messages, newest first.
	ListRecent(ctx context.Context, chatID string, limit int) ([]*Message, error)
	// MarkRead flips every unread message in the chat not sent by viewerID
	// to read and returns the rows it changed.
	MarkRead(ctx context.Context, chatID, viewerID string) ([]*Message, error)
}

// ProfileRepository defines data access for user profiles.
type ProfileRepository interface {
	Create(ctx context.Context, p *Profile) error
	GetByID(ctx context.Context, id string) (*Profile, error)
	Search(ctx context.Context, query string, limit int) ([]*Profile, error)
	UpdateStatus(ctx context.Context, id string, status Presence, at time.Time) (*Profile, error)
	// Touch records a liveness ping without changing the status.
	Touch(ctx context.Context, id string, at time.Time) error
}

package domain

import (
	"time"
)

// ChatKind distinguishes one-to-one chats from group chats.
type ChatKind string

const (
	ChatDirect ChatKind = "direct"
	ChatGroup  ChatKind = "group"
)

// Presence is the online status of a user.
type Presence string

const (
	PresenceOnline    Presence = "online"
	PresenceOffline   Presence = "offline"
	PresenceDND       Presence = "dnd"
	PresenceInvisible Presence = "invisible"
)

// Valid reports whether p is one of the known presence values.
func (p Presence) Valid() bool {
	switch p {
	case PresenceOnline, PresenceOffline, PresenceDND, PresenceInvisible:
		return true
	}
	return false
}

// UserChosen reports whether p can only be set explicitly by the user.
// Automatic presence logic never replaces such a status.
func (p Presence) UserChosen() bool {
	return p == PresenceDND || p == PresenceInvisible
}

// Profile is the public view of a user.
type Profile struct {
	ID              string    `db:"id" json:"id" validate:"required"`
	Username        string    `db:"username" json:"username"`
	Email           string    `db:"email" json:"email,omitempty"`
	AvatarURL       string    `db:"avatar_url" json:"avatar_url,omitempty"`
	Status          Presence  `db:"status" json:"status" validate:"omitempty,oneof=online offline dnd invisible"`
	StatusChangedAt time.Time `db:"status_changed_at" json:"status_changed_at"`
	LastSeenAt      time.Time `db:"last_seen_at" json:"last_seen_at"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// Chat is a direct or group conversation. UpdatedAt doubles as the
// last-activity timestamp used to order chat lists.
type Chat struct {
	ID        string    `db:"id" json:"id" validate:"required"`
	Name      string    `db:"name" json:"name"`
	Kind      ChatKind  `db:"type" json:"type" validate:"required,oneof=direct group"`
	CreatedBy string    `db:"created_by" json:"created_by"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Participant is the membership of a user in a chat together with a
// snapshot of the member's profile.
type Participant struct {
	ChatID   string    `db:"chat_id" json:"chat_id" validate:"required"`
	UserID   string    `db:"user_id" json:"user_id" validate:"required"`
	JoinedAt time.Time `db:"joined_at" json:"joined_at"`
	Profile  Profile   `json:"profile" validate:"-"`
}

// MessageType is the kind of payload a message carries.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageFile  MessageType = "file"
	MessageAudio MessageType = "audio"
)

// MessageStatus is the delivery state of a message. Pending only exists
// locally between an optimistic send and its confirmation.
type MessageStatus string

const (
	StatusPending MessageStatus = "pending"
	StatusUnread  MessageStatus = "unread"
	StatusRead    MessageStatus = "read"
	StatusError   MessageStatus = "error"
)

// CanTransition reports whether a message may move from s to next.
// read and error are terminal.
func (s MessageStatus) CanTransition(next MessageStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusUnread || next == StatusRead || next == StatusError
	case StatusUnread:
		return next == StatusRead
	}
	return false
}

// Message is a single chat message. Only Status ever changes after creation.
type Message struct {
	ID        string        `db:"id" json:"id" validate:"required"`
	ChatID    string        `db:"chat_id" json:"chat_id" validate:"required"`
	SenderID  string        `db:"sender_id" json:"sender_id" validate:"required"`
	Content   string        `db:"content" json:"content"`
	Type      MessageType   `db:"message_type" json:"message_type" validate:"omitempty,oneof=text image file audio"`
	Status    MessageStatus `db:"status" json:"status" validate:"omitempty,oneof=pending unread read error"`
	CreatedAt time.Time     `db:"created_at" json:"created_at" validate:"required"`
	UpdatedAt time.Time     `db:"updated_at" json:"updated_at"`
}

// Before orders messages by creation time, breaking ties by id.
func (m *Message) Before(o *Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}

// PresenceState is a user's status with the time it last changed.
type PresenceState struct {
	UserID    string    `json:"user_id"`
	Status    Presence  `json:"status"`
	ChangedAt time.Time `json:"changed_at"`
}

package engine

import (
	"context"

	"chatsync/internal/domain"
	"chatsync/internal/feed"
	"chatsync/internal/realtime"
	"chatsync/internal/receipts"
	"chatsync/internal/state"
)

// OpenChat loads a chat's recent history and focuses it, which marks its
// unread messages read. The ordered messages are returned.
func (s *Session) OpenChat(ctx context.Context, chatID string) ([]domain.Message, error) {
	userID, err := s.user()
	if err != nil {
		return nil, err
	}
	s.presence.Activity()
	msgs, err := s.reconciler.LoadHistory(ctx, chatID, 0)
	if err != nil {
		return nil, err
	}
	if _, err := s.receipts.Focus(ctx, chatID, userID); err != nil {
		return msgs, err
	}
	return s.store.Messages(chatID), nil
}

// CloseChat stops auto-reading the focused chat.
func (s *Session) CloseChat() {
	s.receipts.Blur()
}

func (s *Session) LoadHistory(ctx context.Context, chatID string, limit int) ([]domain.Message, error) {
	if _, err := s.user(); err != nil {
		return nil, err
	}
	return s.reconciler.LoadHistory(ctx, chatID, limit)
}

// Send posts a text message. The returned copy is unread once the server
// confirmed it, or in error state when the write failed.
func (s *Session) Send(ctx context.Context, chatID, content string) (domain.Message, error) {
	return s.SendTyped(ctx, chatID, content, domain.MessageText)
}

func (s *Session) SendTyped(ctx context.Context, chatID, content string, kind domain.MessageType) (domain.Message, error) {
	userID, err := s.user()
	if err != nil {
		return domain.Message{}, err
	}
	s.presence.Activity()
	return s.reconciler.Send(ctx, chatID, userID, content, kind)
}

func (s *Session) MarkAsRead(ctx context.Context, chatID string) (receipts.Receipt, error) {
	userID, err := s.user()
	if err != nil {
		return receipts.Receipt{}, err
	}
	return s.receipts.MarkAsRead(ctx, chatID, userID)
}

func (s *Session) CreateDirectChat(ctx context.Context, otherUserID string) (string, error) {
	userID, err := s.user()
	if err != nil {
		return "", err
	}
	s.presence.Activity()
	return s.directory.CreateDirectChat(ctx, userID, otherUserID)
}

func (s *Session) RefreshChats(ctx context.Context) ([]domain.Chat, error) {
	userID, err := s.user()
	if err != nil {
		return nil, err
	}
	return s.directory.LoadChats(ctx, userID)
}

func (s *Session) SearchProfiles(ctx context.Context, query string, limit int) ([]domain.Profile, error) {
	if _, err := s.user(); err != nil {
		return nil, err
	}
	return s.directory.SearchProfiles(ctx, query, limit)
}

// Resync refetches every loaded chat.
func (s *Session) Resync(ctx context.Context) error {
	if _, err := s.user(); err != nil {
		return err
	}
	return s.reconciler.Resync(ctx)
}

func (s *Session) Activity() {
	s.presence.Activity()
}

func (s *Session) Visibility(visible bool) {
	s.presence.Visibility(visible)
}

func (s *Session) SetStatus(status domain.Presence) error {
	if _, err := s.user(); err != nil {
		return err
	}
	return s.presence.SetStatus(status)
}

func (s *Session) Status() domain.Presence {
	return s.presence.Status()
}

// Subscribe attaches an extra handler to a feed topic, sharing the
// session's connection when one is open.
func (s *Session) Subscribe(topic feed.Topic, handler realtime.Handler) (realtime.Token, error) {
	if _, err := s.user(); err != nil {
		return realtime.Token{}, err
	}
	return s.manager.Subscribe(topic, handler)
}

func (s *Session) Unsubscribe(tok realtime.Token) {
	s.manager.Unsubscribe(tok)
}

func (s *Session) ActiveTopics() []feed.Topic {
	return s.manager.ActiveTopics()
}

// Observe registers fn for store changes. The returned function removes it.
func (s *Session) Observe(fn func(state.Change)) func() {
	return s.store.Observe(fn)
}

func (s *Session) Chats() []domain.Chat {
	return s.store.Chats()
}

func (s *Session) Chat(id string) (domain.Chat, bool) {
	return s.store.Chat(id)
}

func (s *Session) Messages(chatID string) []domain.Message {
	return s.store.Messages(chatID)
}

func (s *Session) LastMessage(chatID string) (domain.Message, bool) {
	return s.store.LastMessage(chatID)
}

func (s *Session) UnreadCount(chatID string) int {
	return s.store.UnreadCount(chatID, s.UserID())
}

func (s *Session) Participants(chatID string) []domain.Participant {
	return s.store.Participants(chatID)
}

func (s *Session) Presence(userID string) (domain.PresenceState, bool) {
	return s.store.Presence(userID)
}

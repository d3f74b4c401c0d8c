package state

import (
	"sort"

	"github.com/samber/lo"

	"chatsync/internal/domain"
)

// Chat returns a copy of the chat. Direct chats are named after the
// participant who is not the viewer.
func (s *Store) Chat(id string) (domain.Chat, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[id]
	if !ok {
		return domain.Chat{}, false
	}
	return s.display(c), true
}

// Chats returns every known chat, most recently active first.
func (s *Store) Chats() []domain.Chat {
	s.mu.RLock()
	out := make([]domain.Chat, 0, len(s.chats))
	for _, c := range s.chats {
		out = append(out, s.display(c))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) display(c *domain.Chat) domain.Chat {
	cp := *c
	if cp.Kind != domain.ChatDirect {
		return cp
	}
	for id, p := range s.participants[c.ID] {
		if id != s.viewer && p.Profile.Username != "" {
			cp.Name = p.Profile.Username
			break
		}
	}
	return cp
}

// Messages returns the chat's messages in (created_at, id) order.
func (s *Store) Messages(chatID string) []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Map(s.messages[chatID], func(m *domain.Message, _ int) domain.Message { return *m })
}

func (s *Store) Message(id string) (domain.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chatID, ok := s.chatOf[id]
	if !ok {
		return domain.Message{}, false
	}
	m := s.find(chatID, id)
	if m == nil {
		return domain.Message{}, false
	}
	return *m, true
}

// LastMessage returns the newest message of the chat, if any.
func (s *Store) LastMessage(chatID string) (domain.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.messages[chatID]
	if len(list) == 0 {
		return domain.Message{}, false
	}
	return *list[len(list)-1], true
}

// UnreadCount counts loaded messages from others that are still unread.
func (s *Store) UnreadCount(chatID, viewerID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.CountBy(s.messages[chatID], func(m *domain.Message) bool {
		return m.SenderID != viewerID && m.Status == domain.StatusUnread
	})
}

// Participants returns chat members ordered by join time.
func (s *Store) Participants(chatID string) []domain.Participant {
	s.mu.RLock()
	out := lo.MapToSlice(s.participants[chatID], func(_ string, p *domain.Participant) domain.Participant { return *p })
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

func (s *Store) IsParticipant(chatID, userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.participants[chatID][userID]
	return ok
}

// DirectChatWith returns a known direct chat that has userID as a member.
// With several candidates the oldest wins, ties broken by id.
func (s *Store) DirectChatWith(userID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *domain.Chat
	for id, c := range s.chats {
		if c.Kind != domain.ChatDirect {
			continue
		}
		if _, ok := s.participants[id][userID]; !ok {
			continue
		}
		if best == nil || c.CreatedAt.Before(best.CreatedAt) ||
			(c.CreatedAt.Equal(best.CreatedAt) && c.ID < best.ID) {
			best = c
		}
	}
	if best == nil {
		return "", false
	}
	return best.ID, true
}

func (s *Store) Presence(userID string) (domain.PresenceState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.presence[userID]
	return p, ok
}

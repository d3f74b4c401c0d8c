// Package state holds the client's canonical in-memory model of chats,
// participants, messages and presence. All writes go through Store methods,
// which apply the merge rules; readers get copies.
package state

import (
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"chatsync/internal/domain"
)

// ChangeKind tells observers which part of the model moved.
type ChangeKind int

const (
	ChangeChat ChangeKind = iota
	ChangeParticipants
	ChangeMessages
	ChangePresence
)

// Change is delivered to observers after a successful mutation.
type Change struct {
	Kind   ChangeKind
	ChatID string
	UserID string
}

type Store struct {
	mu     sync.RWMutex
	closed bool
	viewer string

	chats        map[string]*domain.Chat
	participants map[string]map[string]*domain.Participant
	messages     map[string][]*domain.Message
	chatOf       map[string]string
	presence     map[string]domain.PresenceState
	loaded       map[string]struct{}

	obsMu     sync.RWMutex
	observers map[int]func(Change)
	nextObs   int
}

func New() *Store {
	return &Store{
		chats:        make(map[string]*domain.Chat),
		participants: make(map[string]map[string]*domain.Participant),
		messages:     make(map[string][]*domain.Message),
		chatOf:       make(map[string]string),
		presence:     make(map[string]domain.PresenceState),
		loaded:       make(map[string]struct{}),
		observers:    make(map[int]func(Change)),
	}
}

// SetViewer records the signed-in user. Direct chats take their display
// name from the participant who is not the viewer.
func (s *Store) SetViewer(userID string) {
	s.mu.Lock()
	s.viewer = userID
	s.mu.Unlock()
}

func (s *Store) Viewer() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewer
}

// Observe registers fn for change notifications and returns a function
// that removes it. fn runs on the mutating goroutine, outside the lock.
func (s *Store) Observe(fn func(Change)) func() {
	s.obsMu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.obsMu.Unlock()

	return func() {
		s.obsMu.Lock()
		delete(s.observers, id)
		s.obsMu.Unlock()
	}
}

func (s *Store) notify(changes ...Change) {
	if len(changes) == 0 {
		return
	}
	s.obsMu.RLock()
	fns := lo.Values(s.observers)
	s.obsMu.RUnlock()
	for _, fn := range fns {
		for _, c := range changes {
			fn(c)
		}
	}
}

// Close freezes the store. Later mutations are ignored so that work still
// in flight after teardown cannot change what readers see.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *Store) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// UpsertChat inserts a chat or refreshes its mutable fields. The
// last-activity timestamp never moves backwards.
func (s *Store) UpsertChat(c domain.Chat) {
	s.mu.Lock()
	if s.closed || c.ID == "" {
		s.mu.Unlock()
		return
	}
	existing, ok := s.chats[c.ID]
	if !ok {
		cp := c
		s.chats[c.ID] = &cp
	} else {
		if c.Name != "" {
			existing.Name = c.Name
		}
		if c.UpdatedAt.After(existing.UpdatedAt) {
			existing.UpdatedAt = c.UpdatedAt
		}
	}
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeChat, ChatID: c.ID})
}

// UpsertParticipants merges members into a chat. Profile snapshots are
// refreshed, but their presence only moves forward in time.
func (s *Store) UpsertParticipants(chatID string, list []domain.Participant) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	members, ok := s.participants[chatID]
	if !ok {
		members = make(map[string]*domain.Participant)
		s.participants[chatID] = members
	}
	var changes []Change
	for _, p := range list {
		if p.UserID == "" {
			continue
		}
		p.ChatID = chatID
		if p.Profile.ID == "" {
			p.Profile.ID = p.UserID
		}
		if existing, ok := members[p.UserID]; ok {
			if p.JoinedAt.IsZero() {
				p.JoinedAt = existing.JoinedAt
			}
			if p.Profile.Username == "" {
				p.Profile = existing.Profile
			}
		}

		if p.Profile.Status != "" {
			if s.applyPresence(p.UserID, p.Profile.Status, p.Profile.StatusChangedAt) {
				changes = append(changes, Change{Kind: ChangePresence, UserID: p.UserID})
			}
		}
		if known, ok := s.presence[p.UserID]; ok {
			p.Profile.Status = known.Status
			p.Profile.StatusChangedAt = known.ChangedAt
		}

		cp := p
		members[p.UserID] = &cp
	}
	s.mu.Unlock()
	s.notify(append(changes, Change{Kind: ChangeParticipants, ChatID: chatID})...)
}

// RemoveParticipant drops a member after an explicit membership removal.
func (s *Store) RemoveParticipant(chatID, userID string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	members, ok := s.participants[chatID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if _, ok := members[userID]; !ok {
		s.mu.Unlock()
		return
	}
	delete(members, userID)
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeParticipants, ChatID: chatID, UserID: userID})
}

// UpsertMessage inserts m into its chat keeping (created_at, id) order.
// A message already present keeps its content; only a forward status
// change is applied. It reports whether anything changed.
func (s *Store) UpsertMessage(chatID string, m domain.Message) bool {
	s.mu.Lock()
	if s.closed || m.ID == "" {
		s.mu.Unlock()
		return false
	}
	m.ChatID = chatID
	if m.Status == "" {
		m.Status = domain.StatusUnread
	}

	if owner, ok := s.chatOf[m.ID]; ok {
		existing := s.find(owner, m.ID)
		if existing == nil || !existing.Status.CanTransition(m.Status) {
			s.mu.Unlock()
			return false
		}
		existing.Status = m.Status
		if m.UpdatedAt.After(existing.UpdatedAt) {
			existing.UpdatedAt = m.UpdatedAt
		}
		s.mu.Unlock()
		s.notify(Change{Kind: ChangeMessages, ChatID: owner})
		return true
	}

	list := s.messages[chatID]
	i := sort.Search(len(list), func(i int) bool { return m.Before(list[i]) })
	cp := m
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = &cp
	s.messages[chatID] = list
	s.chatOf[m.ID] = chatID

	if c, ok := s.chats[chatID]; ok && m.CreatedAt.After(c.UpdatedAt) {
		c.UpdatedAt = m.CreatedAt
	}
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeMessages, ChatID: chatID})
	return true
}

// UpdateMessageStatus moves a known message along the status lattice.
// Unknown ids and backward moves are ignored.
func (s *Store) UpdateMessageStatus(messageID string, status domain.MessageStatus) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	chatID, ok := s.chatOf[messageID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	m := s.find(chatID, messageID)
	if m == nil || !m.Status.CanTransition(status) {
		s.mu.Unlock()
		return false
	}
	m.Status = status
	s.mu.Unlock()
	s.notify(Change{Kind: ChangeMessages, ChatID: chatID})
	return true
}

// MarkChatRead flips every unread message in the chat not sent by viewerID
// to read and returns the ids it changed.
func (s *Store) MarkChatRead(chatID, viewerID string) []string {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	var ids []string
	for _, m := range s.messages[chatID] {
		if m.SenderID != viewerID && m.Status == domain.StatusUnread {
			m.Status = domain.StatusRead
			ids = append(ids, m.ID)
		}
	}
	s.mu.Unlock()
	if len(ids) > 0 {
		s.notify(Change{Kind: ChangeMessages, ChatID: chatID})
	}
	return ids
}

// UpdatePresence records a status for userID if changedAt is strictly newer
// than what is stored, and copies it into every participant snapshot of
// that user.
func (s *Store) UpdatePresence(userID string, status domain.Presence, changedAt time.Time) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	applied := s.applyPresence(userID, status, changedAt)
	s.mu.Unlock()
	if applied {
		s.notify(Change{Kind: ChangePresence, UserID: userID})
	}
	return applied
}

func (s *Store) applyPresence(userID string, status domain.Presence, changedAt time.Time) bool {
	if !status.Valid() {
		return false
	}
	if cur, ok := s.presence[userID]; ok && !changedAt.After(cur.ChangedAt) {
		return false
	}
	s.presence[userID] = domain.PresenceState{UserID: userID, Status: status, ChangedAt: changedAt}
	for _, members := range s.participants {
		if p, ok := members[userID]; ok {
			p.Profile.Status = status
			p.Profile.StatusChangedAt = changedAt
		}
	}
	return true
}

// MarkLoaded records that history for chatID has been fetched, which
// admits pushed inserts for it.
func (s *Store) MarkLoaded(chatID string) {
	s.mu.Lock()
	if !s.closed {
		s.loaded[chatID] = struct{}{}
	}
	s.mu.Unlock()
}

// UnmarkLoaded reverses MarkLoaded after a history fetch that failed.
func (s *Store) UnmarkLoaded(chatID string) {
	s.mu.Lock()
	delete(s.loaded, chatID)
	s.mu.Unlock()
}

func (s *Store) IsLoaded(chatID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.loaded[chatID]
	return ok
}

func (s *Store) LoadedChats() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := lo.Keys(s.loaded)
	sort.Strings(ids)
	return ids
}

func (s *Store) find(chatID, messageID string) *domain.Message {
	for _, m := range s.messages[chatID] {
		if m.ID == messageID {
			return m
		}
	}
	return nil
}

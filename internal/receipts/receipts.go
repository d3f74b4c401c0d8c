// Package receipts moves messages from unread to read and keeps the
// data-access layer in step with the local state.
package receipts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"chatsync/internal/domain"
	"chatsync/internal/state"
)

// Marker persists read receipts.
type Marker interface {
	MarkRead(ctx context.Context, chatID, viewerID string) ([]*domain.Message, error)
}

// Receipt reports the outcome of MarkAsRead. Synced is false when the
// local change could not be written after the retry.
type Receipt struct {
	Marked []string
	Synced bool
}

type Machine struct {
	remote     Marker
	store      *state.Store
	log        *zap.Logger
	retryDelay time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	focused string
	viewer  string
	// unsynced holds chats read locally whose remote write did not land.
	unsynced map[string]struct{}
}

func New(remote Marker, store *state.Store, log *zap.Logger, retryDelay time.Duration) *Machine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Machine{
		remote:     remote,
		store:      store,
		log:        log.Named("receipts"),
		retryDelay: retryDelay,
		unsynced:   make(map[string]struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// MarkAsRead marks every unread message from others in the chat as read,
// locally first and then remotely. A transient write failure is retried
// once and then only logged; the local change is kept either way and the
// write is attempted again on the next call for the chat.
func (m *Machine) MarkAsRead(ctx context.Context, chatID, viewerID string) (Receipt, error) {
	ids := m.store.MarkChatRead(chatID, viewerID)
	if len(ids) == 0 && !m.isUnsynced(chatID) {
		return Receipt{Synced: true}, nil
	}
	rec := Receipt{Marked: ids}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(m.retryDelay), 1), ctx)
	updated, err := backoff.RetryWithData(func() ([]*domain.Message, error) {
		rows, err := m.remote.MarkRead(ctx, chatID, viewerID)
		if domain.IsTerminal(err) {
			return nil, backoff.Permanent(err)
		}
		return rows, err
	}, policy)

	switch {
	case err == nil:
		m.setUnsynced(chatID, false)
	case domain.IsTerminal(err):
		m.setUnsynced(chatID, false)
		return rec, fmt.Errorf("mark chat %s read: %w", chatID, err)
	default:
		m.setUnsynced(chatID, true)
		m.log.Warn("read receipt not synced",
			zap.String("chat_id", chatID), zap.Int("messages", len(ids)), zap.Error(err))
		return rec, nil
	}

	for _, row := range updated {
		m.store.UpdateMessageStatus(row.ID, domain.StatusRead)
	}
	rec.Synced = true
	return rec, nil
}

func (m *Machine) isUnsynced(chatID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.unsynced[chatID]
	return ok
}

func (m *Machine) setUnsynced(chatID string, pending bool) {
	m.mu.Lock()
	if pending {
		m.unsynced[chatID] = struct{}{}
	} else {
		delete(m.unsynced, chatID)
	}
	m.mu.Unlock()
}

func (m *Machine) UnreadCount(chatID, viewerID string) int {
	return m.store.UnreadCount(chatID, viewerID)
}

// Focus marks the chat the viewer is looking at. Its unread messages are
// read now, and messages arriving while it stays focused are read on arrival.
func (m *Machine) Focus(ctx context.Context, chatID, viewerID string) (Receipt, error) {
	m.mu.Lock()
	m.focused = chatID
	m.viewer = viewerID
	m.mu.Unlock()
	return m.MarkAsRead(ctx, chatID, viewerID)
}

func (m *Machine) Blur() {
	m.mu.Lock()
	m.focused = ""
	m.mu.Unlock()
}

func (m *Machine) Focused() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.focused
}

// OnMessage is called after a pushed message has been merged into the
// store. Messages from others in the focused chat are marked read in the
// background.
func (m *Machine) OnMessage(msg domain.Message) {
	m.mu.Lock()
	focused, viewer := m.focused, m.viewer
	if m.closed || focused == "" || msg.ChatID != focused || msg.SenderID == viewer {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		if _, err := m.MarkAsRead(m.ctx, focused, viewer); err != nil {
			m.log.Warn("auto read failed", zap.String("chat_id", focused), zap.Error(err))
		}
	}()
}

// Close cancels background writes and waits for them.
func (m *Machine) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()
	m.wg.Wait()
}

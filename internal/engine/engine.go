// Package engine runs one signed-in user's sync session: it owns the
// store, subscribes the feed topics, keeps presence alive and exposes the
// operations and read-only views a UI needs.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"chatsync/internal/config"
	"chatsync/internal/directory"
	"chatsync/internal/domain"
	"chatsync/internal/feed"
	"chatsync/internal/presence"
	"chatsync/internal/realtime"
	"chatsync/internal/receipts"
	"chatsync/internal/reconcile"
	"chatsync/internal/session"
	"chatsync/internal/state"
)

type Config struct {
	HistoryLimit   int
	ChatListLimit  int
	ReadRetryDelay time.Duration
	Presence       presence.Config
	Realtime       realtime.Options
	// Passive sessions follow the feed without publishing the user's
	// presence, for short-lived tools that should not flip it.
	Passive bool
}

func DefaultConfig() Config {
	return Config{
		HistoryLimit:   reconcile.DefaultHistoryLimit,
		ChatListLimit:  directory.DefaultChatListLimit,
		ReadRetryDelay: time.Second,
		Presence:       presence.Config{Heartbeat: presence.DefaultHeartbeat, IdleTimeout: presence.DefaultIdleTimeout},
		Realtime:       realtime.DefaultOptions(),
	}
}

// ConfigFrom maps environment settings onto the engine.
func ConfigFrom(c config.Engine) Config {
	cfg := DefaultConfig()
	cfg.HistoryLimit = c.HistoryLimit
	cfg.ChatListLimit = c.ChatListLimit
	cfg.ReadRetryDelay = c.ReadRetryDelay
	cfg.Presence = presence.Config{Heartbeat: c.Heartbeat, IdleTimeout: c.IdleTimeout}
	cfg.Realtime.BaseDelay = c.ReconnectBase
	cfg.Realtime.MaxDelay = c.ReconnectMax
	cfg.Realtime.MaxAttempts = c.ReconnectTries
	return cfg
}

// Deps are the collaborators a session talks to.
type Deps struct {
	Identity     session.Identity
	Chats        domain.ChatRepository
	Participants domain.ParticipantRepository
	Messages     domain.MessageRepository
	Profiles     domain.ProfileRepository
	Transport    realtime.Transport
	Log          *zap.Logger
	Clock        clock.Clock
}

type Session struct {
	identity session.Identity
	log      *zap.Logger
	passive  bool

	store      *state.Store
	manager    *realtime.Manager
	reconciler *reconcile.Reconciler
	receipts   *receipts.Machine
	presence   *presence.Engine
	directory  *directory.Directory

	bg     context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	userID        string
	started       bool
	stopped       bool
	tokens        []realtime.Token
	stopReconnect func()
}

func New(d Deps, cfg Config) *Session {
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	log := d.Log.Named("engine")
	store := state.New()
	bg, cancel := context.WithCancel(context.Background())

	return &Session{
		identity:   d.Identity,
		log:        log,
		passive:    cfg.Passive,
		store:      store,
		manager:    realtime.NewManager(d.Transport, log, cfg.Realtime),
		reconciler: reconcile.New(d.Messages, store, log, d.Clock, cfg.HistoryLimit),
		receipts:   receipts.New(d.Messages, store, log, cfg.ReadRetryDelay),
		presence:   presence.New(d.Profiles, store, log, d.Clock, cfg.Presence),
		directory:  directory.New(d.Chats, d.Participants, d.Profiles, store, log, d.Clock, cfg.ChatListLimit),
		bg:         bg,
		cancel:     cancel,
	}
}

// Start waits for the identity, subscribes every feed topic, starts
// presence and loads the chat list. A failed chat load is returned but the
// session stays live; pushes and a later RefreshChats fill it in.
func (s *Session) Start(ctx context.Context) error {
	userID, err := s.identity.Wait(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.store.SetViewer(userID)
	if err := s.subscribe(); err != nil {
		s.manager.UnsubscribeAll()
		s.mu.Unlock()
		return err
	}
	s.userID = userID
	s.started = true
	s.stopReconnect = s.manager.OnReconnect(s.onReconnect)
	if !s.passive {
		s.presence.Start(userID)
	}
	s.mu.Unlock()

	s.log.Info("session started", zap.String("user_id", userID))
	if _, err := s.directory.LoadChats(ctx, userID); err != nil {
		return fmt.Errorf("initial chat load: %w", err)
	}
	return nil
}

// subscribe must be called with s.mu held.
func (s *Session) subscribe() error {
	subs := []struct {
		topic   feed.Topic
		handler realtime.Handler
	}{
		{feed.MessageInserts, s.onMessageInsert},
		{feed.MessageUpdates, s.reconciler.Handle},
		{feed.ProfileUpdates, s.presence.Handle},
		{feed.MembershipAll, s.directory.Handle},
		{feed.ChatUpdates, s.directory.Handle},
	}
	for _, sub := range subs {
		tok, err := s.manager.Subscribe(sub.topic, sub.handler)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", sub.topic, err)
		}
		s.tokens = append(s.tokens, tok)
	}
	return nil
}

// onMessageInsert merges the message first so the focused chat's receipt
// sees it.
func (s *Session) onMessageInsert(n realtime.Notification) {
	s.reconciler.Handle(n)
	ev, ok := n.Event.(feed.MessageInserted)
	if !ok {
		return
	}
	if m, ok := s.store.Message(ev.Message.ID); ok {
		s.receipts.OnMessage(m)
	}
}

// onReconnect refetches whatever a dropped connection may have missed.
func (s *Session) onReconnect(topic feed.Topic) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	userID := s.userID
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		var err error
		switch topic.Table {
		case feed.TableMessages:
			err = s.reconciler.Resync(s.bg)
		case feed.TableParticipants, feed.TableChats:
			_, err = s.directory.LoadChats(s.bg, userID)
		default:
			return
		}
		if err != nil && s.bg.Err() == nil {
			s.log.Warn("catch-up after reconnect failed", zap.Stringer("topic", topic), zap.Error(err))
		}
	}()
}

// Stop tears the session down: no handler, timer or in-flight call touches
// the store afterwards. It writes a final offline status on the way out.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	started := s.started
	stopReconnect := s.stopReconnect
	s.mu.Unlock()

	s.store.Close()
	s.cancel()
	if stopReconnect != nil {
		stopReconnect()
	}
	// cancel handler-driven calls before waiting for the handlers
	s.receipts.Close()
	s.directory.Close()
	s.manager.Close()
	if started {
		s.presence.Stop(ctx)
	}

	var err error
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = multierr.Append(err, fmt.Errorf("background work still running: %w", ctx.Err()))
	}
	s.log.Info("session stopped")
	return err
}

// user returns the signed-in id for operations that need a live session.
func (s *Session) user() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.stopped:
		return "", domain.ErrSessionClosed
	case !s.started:
		return "", domain.ErrNotReady
	}
	return s.userID, nil
}

func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

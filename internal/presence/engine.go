// Package presence publishes the signed-in user's online status: a
// liveness ping, idle detection, visibility changes and manual choices,
// with at most one status write in flight.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"chatsync/internal/domain"
	"chatsync/internal/feed"
	"chatsync/internal/realtime"
	"chatsync/internal/state"
)

const (
	DefaultHeartbeat   = 10 * time.Second
	DefaultIdleTimeout = 15 * time.Minute
)

// Writer persists the user's status and liveness pings.
type Writer interface {
	UpdateStatus(ctx context.Context, id string, status domain.Presence, at time.Time) (*domain.Profile, error)
	Touch(ctx context.Context, id string, at time.Time) error
}

type Config struct {
	Heartbeat   time.Duration
	IdleTimeout time.Duration
}

type Engine struct {
	writer Writer
	store  *state.Store
	log    *zap.Logger
	clock  clock.Clock
	cfg    Config

	mu      sync.Mutex
	userID  string
	running bool
	status  domain.Presence
	// auto is set when the current offline status came from idle or
	// visibility logic, which is the only offline activity may undo.
	auto bool

	desired domain.Presence
	written domain.Presence
	writing bool

	idle   *clock.Timer
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(writer Writer, store *state.Store, log *zap.Logger, clk clock.Clock, cfg Config) *Engine {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	return &Engine{
		writer: writer,
		store:  store,
		log:    log.Named("presence"),
		clock:  clk,
		cfg:    cfg,
		status: domain.PresenceOffline,
	}
}

// Start marks userID online and begins the heartbeat and idle timer.
func (e *Engine) Start(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true
	e.userID = userID
	e.ctx, e.cancel = context.WithCancel(context.Background())

	e.status = domain.PresenceOnline
	e.auto = false
	e.request(domain.PresenceOnline)

	e.idle = e.clock.AfterFunc(e.cfg.IdleTimeout, e.onIdle)

	ticker := e.clock.Ticker(e.cfg.Heartbeat)
	e.wg.Add(1)
	go e.heartbeat(e.ctx, userID, ticker)

	e.log.Info("presence started", zap.String("user_id", userID))
}

// Stop halts timers, waits for the pending write and then makes a final
// best-effort offline write.
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.idle.Stop()
	e.cancel()
	userID := e.userID
	e.mu.Unlock()

	e.wg.Wait()

	e.mu.Lock()
	e.status = domain.PresenceOffline
	already := e.written == domain.PresenceOffline
	e.mu.Unlock()
	if already {
		return
	}

	if _, err := e.writer.UpdateStatus(ctx, userID, domain.PresenceOffline, e.clock.Now().UTC()); err != nil {
		e.log.Warn("final offline write failed", zap.Error(err))
		return
	}
	e.mu.Lock()
	e.written = domain.PresenceOffline
	e.mu.Unlock()
}

// Status returns the status the engine currently targets.
func (e *Engine) Status() domain.Presence {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Activity records user input. It restarts the idle timer, brings an
// automatically offline user back online and rewrites a status whose last
// write failed.
func (e *Engine) Activity() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	e.idle.Reset(e.cfg.IdleTimeout)
	if e.status == domain.PresenceOffline && e.auto {
		e.status = domain.PresenceOnline
		e.auto = false
	}
	e.request(e.status)
}

// Visibility reacts to the client being hidden or shown.
func (e *Engine) Visibility(visible bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	if !visible {
		if e.status == domain.PresenceOnline {
			e.status = domain.PresenceOffline
			e.auto = true
		}
		e.request(e.status)
		return
	}

	e.idle.Reset(e.cfg.IdleTimeout)
	if e.status == domain.PresenceOffline && e.auto {
		e.status = domain.PresenceOnline
		e.auto = false
	}
	e.request(e.status)
}

// SetStatus applies a status chosen by the user. Automatic logic leaves
// dnd, invisible and a chosen offline alone until the user changes it.
func (e *Engine) SetStatus(status domain.Presence) error {
	if !status.Valid() {
		return domain.ErrInvalidInput
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return domain.ErrNotReady
	}
	e.status = status
	e.auto = false
	if status == domain.PresenceOnline {
		e.idle.Reset(e.cfg.IdleTimeout)
	}
	e.request(status)
	return nil
}

// Handle is a realtime.Handler for profile updates.
func (e *Engine) Handle(n realtime.Notification) {
	if n.Err != nil {
		e.log.Warn("presence feed unavailable", zap.Error(n.Err))
		return
	}
	if ev, ok := n.Event.(feed.ProfileUpdated); ok {
		e.store.UpdatePresence(ev.Profile.ID, ev.Profile.Status, ev.Profile.StatusChangedAt)
	}
}

func (e *Engine) onIdle() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || e.status != domain.PresenceOnline {
		return
	}
	e.log.Debug("idle timeout")
	e.status = domain.PresenceOffline
	e.auto = true
	e.request(domain.PresenceOffline)
}

// request must be called with e.mu held.
func (e *Engine) request(target domain.Presence) {
	e.desired = target
	if e.writing || target == e.written {
		return
	}
	e.writing = true
	e.wg.Add(1)
	go e.flush(e.ctx, e.userID)
}

// flush writes the latest desired status until it matches what was
// written. Triggers arriving mid-write only move the target. A failed
// write is left for the next trigger to retry.
func (e *Engine) flush(ctx context.Context, userID string) {
	defer e.wg.Done()
	for {
		e.mu.Lock()
		target := e.desired
		if target == e.written || ctx.Err() != nil {
			e.writing = false
			e.mu.Unlock()
			return
		}
		e.mu.Unlock()

		at := e.clock.Now().UTC()
		p, err := e.writer.UpdateStatus(ctx, userID, target, at)

		e.mu.Lock()
		if err != nil {
			e.log.Warn("status write failed", zap.String("status", string(target)), zap.Error(err))
			if e.desired == target {
				e.writing = false
				e.mu.Unlock()
				return
			}
			e.mu.Unlock()
			continue
		}
		e.written = target
		e.mu.Unlock()

		if p != nil && !p.StatusChangedAt.IsZero() {
			at = p.StatusChangedAt
		}
		e.store.UpdatePresence(userID, target, at)
	}
}

func (e *Engine) heartbeat(ctx context.Context, userID string, ticker *clock.Ticker) {
	defer e.wg.Done()
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.writer.Touch(ctx, userID, e.clock.Now().UTC()); err != nil && ctx.Err() == nil {
				e.log.Warn("heartbeat failed", zap.Error(err))
			}
		}
	}
}

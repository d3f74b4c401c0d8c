// Package realtime multiplexes change-feed topics over one transport
// connection per topic and keeps those connections alive.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"chatsync/internal/domain"
	"chatsync/internal/feed"
)

// Stream is one live connection carrying the changes of a topic.
type Stream interface {
	Recv(ctx context.Context) (feed.Envelope, error)
	Close() error
}

// Transport opens streams. Open may fail transiently; errors wrapping
// domain.ErrUnauthorized or domain.ErrForbidden are not retried.
type Transport interface {
	Open(ctx context.Context, topic feed.Topic) (Stream, error)
}

// Notification is what handlers receive: either a decoded event or, once,
// the error that killed the topic.
type Notification struct {
	Topic feed.Topic
	Event feed.Event
	Err   error
}

type Handler func(Notification)

// Token identifies one Subscribe call.
type Token struct {
	topic feed.Topic
	id    uint64
}

func (t Token) Topic() feed.Topic { return t.topic }

type Options struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	// Jitter is the randomization factor applied to each delay, 0 to 1.
	Jitter float64
}

func DefaultOptions() Options {
	return Options{
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		MaxAttempts: 8,
		Jitter:      0.2,
	}
}

type channel struct {
	topic    feed.Topic
	handlers map[uint64]Handler
	cancel   context.CancelFunc
	dead     bool
}

type Manager struct {
	transport Transport
	log       *zap.Logger
	opts      Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	closed      bool
	nextID      uint64
	topics      map[feed.Topic]*channel
	onReconnect map[uint64]func(feed.Topic)
}

func NewManager(transport Transport, log *zap.Logger, opts Options) *Manager {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		transport:   transport,
		log:         log.Named("realtime"),
		opts:        opts,
		ctx:         ctx,
		cancel:      cancel,
		topics:      make(map[feed.Topic]*channel),
		onReconnect: make(map[uint64]func(feed.Topic)),
	}
}

// Subscribe attaches handler to topic. The first subscriber opens the
// connection; later ones share it.
func (m *Manager) Subscribe(topic feed.Topic, handler Handler) (Token, error) {
	if handler == nil {
		return Token{}, fmt.Errorf("subscribe %s: %w", topic, domain.ErrInvalidInput)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Token{}, domain.ErrSessionClosed
	}

	m.nextID++
	tok := Token{topic: topic, id: m.nextID}

	ch, ok := m.topics[topic]
	if ok && !ch.dead {
		ch.handlers[tok.id] = handler
		return tok, nil
	}

	ctx, cancel := context.WithCancel(m.ctx)
	ch = &channel{
		topic:    topic,
		handlers: map[uint64]Handler{tok.id: handler},
		cancel:   cancel,
	}
	m.topics[topic] = ch
	m.wg.Add(1)
	go m.run(ctx, ch)

	m.log.Debug("topic opened", zap.Stringer("topic", topic))
	return tok, nil
}

// Unsubscribe detaches the handler behind tok. The topic's connection is
// closed when its last handler leaves.
func (m *Manager) Unsubscribe(tok Token) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.topics[tok.topic]
	if !ok {
		return
	}
	if _, ok := ch.handlers[tok.id]; !ok {
		return
	}
	delete(ch.handlers, tok.id)
	if len(ch.handlers) == 0 {
		ch.cancel()
		delete(m.topics, tok.topic)
		m.log.Debug("topic closed", zap.Stringer("topic", tok.topic))
	}
}

// UnsubscribeAll drops every handler and closes every connection.
func (m *Manager) UnsubscribeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for topic, ch := range m.topics {
		ch.cancel()
		delete(m.topics, topic)
	}
}

// Close tears the manager down and waits for its goroutines to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.UnsubscribeAll()
	m.cancel()
	m.wg.Wait()
}

// OnReconnect registers fn to run after any topic re-establishes a lost
// connection. The returned function removes it.
func (m *Manager) OnReconnect(fn func(feed.Topic)) func() {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.onReconnect[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.onReconnect, id)
		m.mu.Unlock()
	}
}

// ActiveTopics lists topics with at least one handler that have not died.
func (m *Manager) ActiveTopics() []feed.Topic {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]feed.Topic, 0, len(m.topics))
	for t, ch := range m.topics {
		if !ch.dead {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func (m *Manager) IsActive(topic feed.Topic) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.topics[topic]
	return ok && !ch.dead
}

func (m *Manager) run(ctx context.Context, ch *channel) {
	defer m.wg.Done()
	log := m.log.With(zap.Stringer("topic", ch.topic))

	// drops paces re-opens after a lost connection. It resets only after a
	// stream delivered something or stayed up longer than MaxDelay.
	drops := m.newBackOff()
	for connected := false; ; connected = true {
		stream, err := m.open(ctx, ch.topic, log)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.kill(ch, err)
			return
		}
		if connected {
			log.Info("reconnected")
			m.reconnected(ch.topic)
		}

		began := time.Now()
		delivered, err := m.pump(ctx, ch, stream, log)
		if cerr := stream.Close(); cerr != nil {
			log.Debug("close stream", zap.Error(cerr))
		}
		if ctx.Err() != nil {
			return
		}
		if delivered > 0 || time.Since(began) > m.opts.MaxDelay {
			drops.Reset()
		}
		wait := drops.NextBackOff()
		log.Warn("connection lost", zap.Error(err), zap.Duration("wait", wait))
		if !sleep(ctx, wait) {
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (m *Manager) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.opts.BaseDelay
	b.MaxInterval = m.opts.MaxDelay
	b.RandomizationFactor = m.opts.Jitter
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (m *Manager) open(ctx context.Context, topic feed.Topic, log *zap.Logger) (Stream, error) {
	policy := backoff.WithContext(backoff.WithMaxRetries(m.newBackOff(), uint64(m.opts.MaxAttempts-1)), ctx)

	return backoff.RetryNotifyWithData(func() (Stream, error) {
		s, err := m.transport.Open(ctx, topic)
		if err != nil && (errors.Is(err, domain.ErrUnauthorized) || errors.Is(err, domain.ErrForbidden)) {
			return nil, backoff.Permanent(err)
		}
		return s, err
	}, policy, func(err error, wait time.Duration) {
		log.Debug("subscribe failed, retrying", zap.Error(err), zap.Duration("wait", wait))
	})
}

// pump forwards the stream's changes until it fails and reports how many
// were delivered.
func (m *Manager) pump(ctx context.Context, ch *channel, stream Stream, log *zap.Logger) (int, error) {
	delivered := 0
	for {
		env, err := stream.Recv(ctx)
		if err != nil {
			return delivered, err
		}
		if !ch.topic.Matches(env.Table, env.Kind) {
			log.Debug("dropping off-topic change", zap.String("table", env.Table), zap.String("kind", string(env.Kind)))
			continue
		}
		ev, err := feed.Decode(env)
		if err != nil {
			log.Debug("dropping invalid change", zap.Error(err))
			continue
		}
		delivered++
		m.dispatch(ch, Notification{Topic: ch.topic, Event: ev})
	}
}

// dispatch calls each handler outside the lock. A handler removed while
// the notification is going out is skipped if it has not been reached yet;
// one already running finishes.
func (m *Manager) dispatch(ch *channel, n Notification) {
	m.mu.Lock()
	ids := make([]uint64, 0, len(ch.handlers))
	for id := range ch.handlers {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		m.mu.Lock()
		h, ok := ch.handlers[id]
		m.mu.Unlock()
		if ok {
			h(n)
		}
	}
}

func (m *Manager) kill(ch *channel, err error) {
	m.mu.Lock()
	ch.dead = true
	m.mu.Unlock()

	m.log.Error("topic failed permanently", zap.Stringer("topic", ch.topic), zap.Error(err))
	m.dispatch(ch, Notification{Topic: ch.topic, Err: fmt.Errorf("%w: %s: %v", domain.ErrTopicDead, ch.topic, err)})
}

func (m *Manager) reconnected(topic feed.Topic) {
	m.mu.Lock()
	fns := make([]func(feed.Topic), 0, len(m.onReconnect))
	for _, fn := range m.onReconnect {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(topic)
	}
}

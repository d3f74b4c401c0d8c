package realtime_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"chatsync/internal/domain"
	"chatsync/internal/feed"
	"chatsync/internal/realtime"
)

type fakeStream struct {
	envs   chan feed.Envelope
	errs   chan error
	closed chan struct{}
	once   sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		envs:   make(chan feed.Envelope, 16),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (s *fakeStream) Recv(ctx context.Context) (feed.Envelope, error) {
	select {
	case env := <-s.envs:
		return env, nil
	case err := <-s.errs:
		return feed.Envelope{}, err
	case <-s.closed:
		return feed.Envelope{}, io.EOF
	case <-ctx.Done():
		return feed.Envelope{}, ctx.Err()
	}
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type fakeTransport struct {
	mu      sync.Mutex
	opens   int
	fail    error
	hangUp  bool
	streams []*fakeStream
}

func (f *fakeTransport) Open(_ context.Context, _ feed.Topic) (realtime.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if f.fail != nil {
		return nil, f.fail
	}
	s := newFakeStream()
	if f.hangUp {
		s.Close()
	}
	f.streams = append(f.streams, s)
	return s, nil
}

func (f *fakeTransport) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func (f *fakeTransport) stream(i int) *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.streams) {
		return nil
	}
	return f.streams[i]
}

func testOptions() realtime.Options {
	return realtime.Options{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, MaxAttempts: 3}
}

func insertEnvelope(t *testing.T, id string) feed.Envelope {
	env, err := feed.Encode(feed.MessageInserted{Message: domain.Message{
		ID: id, ChatID: "c1", SenderID: "u2", CreatedAt: time.Now().UTC(),
	}})
	require.NoError(t, err)
	return env
}

type recorder struct {
	mu  sync.Mutex
	got []realtime.Notification
}

func (r *recorder) handle(n realtime.Notification) {
	r.mu.Lock()
	r.got = append(r.got, n)
	r.mu.Unlock()
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func (r *recorder) last() realtime.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.got[len(r.got)-1]
}

const wait = 2 * time.Second
const tick = 5 * time.Millisecond

func TestSubscribeFanOut(t *testing.T) {
	req := require.New(t)
	tr := &fakeTransport{}
	m := realtime.NewManager(tr, zaptest.NewLogger(t), testOptions())
	defer m.Close()

	// Given three handlers on the same topic
	recs := []*recorder{{}, {}, {}}
	for _, r := range recs {
		_, err := m.Subscribe(feed.MessageInserts, r.handle)
		req.NoError(err)
	}

	// Then a single connection exists
	req.Eventually(func() bool { return tr.stream(0) != nil }, wait, tick)
	req.Equal(1, tr.openCount())
	req.Equal([]feed.Topic{feed.MessageInserts}, m.ActiveTopics())

	// When one event is pushed every handler sees it once
	tr.stream(0).envs <- insertEnvelope(t, "m1")
	for _, r := range recs {
		req.Eventually(func() bool { return r.len() == 1 }, wait, tick)
		req.Equal("m1", r.last().Event.(feed.MessageInserted).Message.ID)
	}
}

func TestUnsubscribeClosesOnLastHandler(t *testing.T) {
	req := require.New(t)
	tr := &fakeTransport{}
	m := realtime.NewManager(tr, zaptest.NewLogger(t), testOptions())
	defer m.Close()

	a, err := m.Subscribe(feed.ProfileUpdates, func(realtime.Notification) {})
	req.NoError(err)
	b, err := m.Subscribe(feed.ProfileUpdates, func(realtime.Notification) {})
	req.NoError(err)
	req.Eventually(func() bool { return tr.stream(0) != nil }, wait, tick)

	m.Unsubscribe(a)
	m.Unsubscribe(a)
	time.Sleep(20 * time.Millisecond)
	req.False(tr.stream(0).isClosed())
	req.True(m.IsActive(feed.ProfileUpdates))

	m.Unsubscribe(b)
	req.Eventually(func() bool { return tr.stream(0).isClosed() }, wait, tick)
	req.False(m.IsActive(feed.ProfileUpdates))
	req.Empty(m.ActiveTopics())
}

func TestReconnectAfterConnectionLoss(t *testing.T) {
	req := require.New(t)
	tr := &fakeTransport{}
	m := realtime.NewManager(tr, zaptest.NewLogger(t), testOptions())
	defer m.Close()

	var reconnects atomic.Int32
	m.OnReconnect(func(feed.Topic) { reconnects.Add(1) })

	rec := &recorder{}
	_, err := m.Subscribe(feed.MessageInserts, rec.handle)
	req.NoError(err)
	req.Eventually(func() bool { return tr.stream(0) != nil }, wait, tick)

	// When the connection drops
	tr.stream(0).errs <- errors.New("connection reset by peer")

	// Then a new connection is opened and the reconnect hook runs
	req.Eventually(func() bool { return tr.stream(1) != nil }, wait, tick)
	req.Eventually(func() bool { return reconnects.Load() == 1 }, wait, tick)

	// And handlers keep receiving without seeing the disconnect
	tr.stream(1).envs <- insertEnvelope(t, "m2")
	req.Eventually(func() bool { return rec.len() == 1 }, wait, tick)
	req.NoError(rec.last().Err)
}

func TestStreamsThatHangUpAreReopenedWithBackoff(t *testing.T) {
	req := require.New(t)
	tr := &fakeTransport{hangUp: true}
	opts := testOptions()
	opts.BaseDelay = 20 * time.Millisecond
	opts.MaxDelay = 200 * time.Millisecond
	m := realtime.NewManager(tr, zaptest.NewLogger(t), opts)

	var reconnects atomic.Int32
	m.OnReconnect(func(feed.Topic) { reconnects.Add(1) })

	// Given a server that accepts every connection and drops it at once
	_, err := m.Subscribe(feed.MessageInserts, func(realtime.Notification) {})
	req.NoError(err)
	req.Eventually(func() bool { return tr.openCount() >= 2 }, wait, tick)

	// Then re-opens are spaced out instead of spinning
	time.Sleep(200 * time.Millisecond)
	m.Close()
	req.LessOrEqual(tr.openCount(), 10)
	req.LessOrEqual(int(reconnects.Load()), 9)
	req.Empty(m.ActiveTopics())
}

func TestHandlerRemovedDuringDispatchIsSkipped(t *testing.T) {
	req := require.New(t)
	tr := &fakeTransport{}
	m := realtime.NewManager(tr, zaptest.NewLogger(t), testOptions())
	defer m.Close()

	// Given a handler that removes a later one when it runs
	late := &recorder{}
	var lateTok realtime.Token
	first := &recorder{}
	_, err := m.Subscribe(feed.MessageInserts, func(n realtime.Notification) {
		m.Unsubscribe(lateTok)
		first.handle(n)
	})
	req.NoError(err)
	lateTok, err = m.Subscribe(feed.MessageInserts, late.handle)
	req.NoError(err)
	req.Eventually(func() bool { return tr.stream(0) != nil }, wait, tick)

	// When an event goes out the removed handler never sees it
	tr.stream(0).envs <- insertEnvelope(t, "m1")
	req.Eventually(func() bool { return first.len() == 1 }, wait, tick)
	tr.stream(0).envs <- insertEnvelope(t, "m2")
	req.Eventually(func() bool { return first.len() == 2 }, wait, tick)
	req.Equal(0, late.len())
}

func TestTopicDiesAfterBoundedAttempts(t *testing.T) {
	req := require.New(t)
	tr := &fakeTransport{fail: errors.New("dial tcp: connection refused")}
	opts := testOptions()
	opts.BaseDelay = 30 * time.Millisecond
	opts.MaxDelay = 60 * time.Millisecond
	m := realtime.NewManager(tr, zaptest.NewLogger(t), opts)
	defer m.Close()

	a, b := &recorder{}, &recorder{}
	_, err := m.Subscribe(feed.MessageUpdates, a.handle)
	req.NoError(err)
	_, err = m.Subscribe(feed.MessageUpdates, b.handle)
	req.NoError(err)

	for _, r := range []*recorder{a, b} {
		req.Eventually(func() bool { return r.len() == 1 }, wait, tick)
		req.ErrorIs(r.last().Err, domain.ErrTopicDead)
	}
	req.Equal(3, tr.openCount())
	req.False(m.IsActive(feed.MessageUpdates))

	// Resubscribing explicitly starts over
	tr.mu.Lock()
	tr.fail = nil
	tr.mu.Unlock()
	_, err = m.Subscribe(feed.MessageUpdates, func(realtime.Notification) {})
	req.NoError(err)
	req.Eventually(func() bool { return m.IsActive(feed.MessageUpdates) && tr.stream(0) != nil }, wait, tick)
}

func TestUnauthorizedIsNotRetried(t *testing.T) {
	req := require.New(t)
	tr := &fakeTransport{fail: domain.ErrUnauthorized}
	m := realtime.NewManager(tr, zaptest.NewLogger(t), testOptions())
	defer m.Close()

	rec := &recorder{}
	_, err := m.Subscribe(feed.ProfileUpdates, rec.handle)
	req.NoError(err)

	req.Eventually(func() bool { return rec.len() == 1 }, wait, tick)
	req.ErrorIs(rec.last().Err, domain.ErrTopicDead)
	req.Equal(1, tr.openCount())
}

func TestInvalidChangesAreDropped(t *testing.T) {
	req := require.New(t)
	tr := &fakeTransport{}
	m := realtime.NewManager(tr, zaptest.NewLogger(t), testOptions())
	defer m.Close()

	rec := &recorder{}
	_, err := m.Subscribe(feed.MessageInserts, rec.handle)
	req.NoError(err)
	req.Eventually(func() bool { return tr.stream(0) != nil }, wait, tick)

	s := tr.stream(0)
	s.envs <- feed.Envelope{Table: "messages", Kind: feed.KindInsert, New: json.RawMessage(`{"id":1}`)}
	s.envs <- feed.Envelope{Table: "profiles", Kind: feed.KindUpdate, New: json.RawMessage(`{"id":"u1"}`)}
	s.envs <- insertEnvelope(t, "m3")

	req.Eventually(func() bool { return rec.len() == 1 }, wait, tick)
	time.Sleep(20 * time.Millisecond)
	req.Equal(1, rec.len())
	req.Equal("m3", rec.last().Event.(feed.MessageInserted).Message.ID)
}

func TestSubscribeAfterClose(t *testing.T) {
	tr := &fakeTransport{}
	m := realtime.NewManager(tr, zaptest.NewLogger(t), testOptions())
	_, err := m.Subscribe(feed.MessageInserts, func(realtime.Notification) {})
	require.NoError(t, err)
	m.Close()

	require.Empty(t, m.ActiveTopics())
	_, err = m.Subscribe(feed.MessageInserts, func(realtime.Notification) {})
	require.ErrorIs(t, err, domain.ErrSessionClosed)
}

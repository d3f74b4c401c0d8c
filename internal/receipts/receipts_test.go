package receipts_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"chatsync/internal/domain"
	"chatsync/internal/receipts"
	"chatsync/internal/state"
)

type MockMarker struct {
	mock.Mock
}

func (m *MockMarker) MarkRead(ctx context.Context, chatID, viewerID string) ([]*domain.Message, error) {
	args := m.Called(ctx, chatID, viewerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Message), args.Error(1)
}

var base = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func seed(store *state.Store) {
	for i, sender := range []string{"u2", "me", "u2", "u3"} {
		store.UpsertMessage("c1", domain.Message{
			ID:        string(rune('a' + i)),
			SenderID:  sender,
			Status:    domain.StatusUnread,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
	}
}

func TestMarkAsRead(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		req := require.New(t)
		store := state.New()
		seed(store)
		remote := new(MockMarker)
		remote.On("MarkRead", mock.Anything, "c1", "me").
			Return([]*domain.Message{{ID: "a"}, {ID: "c"}, {ID: "d"}}, nil).Once()
		m := receipts.New(remote, store, zaptest.NewLogger(t), time.Millisecond)

		req.Equal(3, m.UnreadCount("c1", "me"))
		rec, err := m.MarkAsRead(context.Background(), "c1", "me")
		req.NoError(err)
		req.True(rec.Synced)
		req.ElementsMatch([]string{"a", "c", "d"}, rec.Marked)
		req.Zero(m.UnreadCount("c1", "me"))

		// own message is untouched
		own, _ := store.Message("b")
		req.Equal(domain.StatusUnread, own.Status)

		// Idempotent: nothing left to mark means no write
		rec, err = m.MarkAsRead(context.Background(), "c1", "me")
		req.NoError(err)
		req.Empty(rec.Marked)
		remote.AssertNumberOfCalls(t, "MarkRead", 1)
	})

	t.Run("RetriesOnceThenSucceeds", func(t *testing.T) {
		store := state.New()
		seed(store)
		remote := new(MockMarker)
		remote.On("MarkRead", mock.Anything, "c1", "me").Return(nil, errors.New("timeout")).Once()
		remote.On("MarkRead", mock.Anything, "c1", "me").Return([]*domain.Message{}, nil).Once()
		m := receipts.New(remote, store, zaptest.NewLogger(t), time.Millisecond)

		rec, err := m.MarkAsRead(context.Background(), "c1", "me")
		require.NoError(t, err)
		assert.True(t, rec.Synced)
		remote.AssertNumberOfCalls(t, "MarkRead", 2)
	})

	t.Run("PersistentFailureKeepsLocalState", func(t *testing.T) {
		store := state.New()
		seed(store)
		remote := new(MockMarker)
		remote.On("MarkRead", mock.Anything, "c1", "me").Return(nil, errors.New("connection refused"))
		m := receipts.New(remote, store, zaptest.NewLogger(t), time.Millisecond)

		rec, err := m.MarkAsRead(context.Background(), "c1", "me")
		require.NoError(t, err)
		assert.False(t, rec.Synced)
		assert.Len(t, rec.Marked, 3)
		assert.Zero(t, m.UnreadCount("c1", "me"))
		remote.AssertNumberOfCalls(t, "MarkRead", 2)
	})

	t.Run("UnsyncedWriteIsRetriedOnNextCall", func(t *testing.T) {
		req := require.New(t)
		store := state.New()
		seed(store)
		remote := new(MockMarker)
		remote.On("MarkRead", mock.Anything, "c1", "me").Return(nil, errors.New("connection refused")).Twice()
		m := receipts.New(remote, store, zaptest.NewLogger(t), time.Millisecond)

		rec, err := m.MarkAsRead(context.Background(), "c1", "me")
		req.NoError(err)
		req.False(rec.Synced)

		// When the backend is back, the next call writes although nothing is unread
		remote.On("MarkRead", mock.Anything, "c1", "me").
			Return([]*domain.Message{{ID: "a"}, {ID: "c"}, {ID: "d"}}, nil).Once()
		rec, err = m.MarkAsRead(context.Background(), "c1", "me")
		req.NoError(err)
		req.True(rec.Synced)
		req.Empty(rec.Marked)
		remote.AssertNumberOfCalls(t, "MarkRead", 3)

		// And once synced no further write happens
		rec, err = m.MarkAsRead(context.Background(), "c1", "me")
		req.NoError(err)
		req.True(rec.Synced)
		remote.AssertNumberOfCalls(t, "MarkRead", 3)
	})

	t.Run("TerminalFailureSurfaces", func(t *testing.T) {
		store := state.New()
		seed(store)
		remote := new(MockMarker)
		remote.On("MarkRead", mock.Anything, "c1", "me").Return(nil, domain.ErrForbidden)
		m := receipts.New(remote, store, zaptest.NewLogger(t), time.Millisecond)

		_, err := m.MarkAsRead(context.Background(), "c1", "me")
		assert.ErrorIs(t, err, domain.ErrForbidden)
		assert.Zero(t, m.UnreadCount("c1", "me"))
		remote.AssertNumberOfCalls(t, "MarkRead", 1)
	})
}

func TestFocusedChatAutoRead(t *testing.T) {
	req := require.New(t)
	store := state.New()
	remote := new(MockMarker)
	remote.On("MarkRead", mock.Anything, "c1", "me").Return([]*domain.Message{}, nil)
	m := receipts.New(remote, store, zaptest.NewLogger(t), time.Millisecond)
	defer m.Close()

	_, err := m.Focus(context.Background(), "c1", "me")
	req.NoError(err)
	req.Equal("c1", m.Focused())

	// When a message from someone else lands in the focused chat
	incoming := domain.Message{ID: "x", ChatID: "c1", SenderID: "u2", Status: domain.StatusUnread, CreatedAt: base}
	store.UpsertMessage("c1", incoming)
	m.OnMessage(incoming)

	// Then it is read without an explicit call
	req.Eventually(func() bool {
		got, _ := store.Message("x")
		return got.Status == domain.StatusRead
	}, time.Second, 5*time.Millisecond)

	// And after blur new messages stay unread
	m.Blur()
	later := domain.Message{ID: "y", ChatID: "c1", SenderID: "u2", Status: domain.StatusUnread, CreatedAt: base.Add(time.Second)}
	store.UpsertMessage("c1", later)
	m.OnMessage(later)
	time.Sleep(20 * time.Millisecond)
	req.Equal(1, m.UnreadCount("c1", "me"))
}

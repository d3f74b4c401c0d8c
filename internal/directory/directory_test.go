package directory_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"chatsync/internal/directory"
	"chatsync/internal/domain"
	"chatsync/internal/feed"
	"chatsync/internal/realtime"
	"chatsync/internal/state"
	"chatsync/internal/store/sqlite"
)

type MockChatRepo struct {
	mock.Mock
}

func (m *MockChatRepo) Create(ctx context.Context, c *domain.Chat) error {
	return m.Called(ctx, c).Error(0)
}

func (m *MockChatRepo) GetByID(ctx context.Context, id string) (*domain.Chat, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Chat), args.Error(1)
}

func (m *MockChatRepo) ListForUser(ctx context.Context, userID string, limit int) ([]*domain.Chat, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Chat), args.Error(1)
}

func (m *MockChatRepo) ListDirectForUser(ctx context.Context, userID string) ([]*domain.Chat, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Chat), args.Error(1)
}

func (m *MockChatRepo) Touch(ctx context.Context, chatID string, at time.Time) error {
	return m.Called(ctx, chatID, at).Error(0)
}

type MockParticipantRepo struct {
	mock.Mock
}

func (m *MockParticipantRepo) Add(ctx context.Context, chatID string, userIDs ...string) error {
	return m.Called(ctx, chatID, userIDs).Error(0)
}

func (m *MockParticipantRepo) Remove(ctx context.Context, chatID, userID string) error {
	return m.Called(ctx, chatID, userID).Error(0)
}

func (m *MockParticipantRepo) ListParticipants(ctx context.Context, chatID string) ([]*domain.Participant, error) {
	args := m.Called(ctx, chatID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Participant), args.Error(1)
}

func (m *MockParticipantRepo) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	args := m.Called(ctx, chatID, userID)
	return args.Bool(0), args.Error(1)
}

type MockProfileRepo struct {
	mock.Mock
}

func (m *MockProfileRepo) Create(ctx context.Context, p *domain.Profile) error {
	return m.Called(ctx, p).Error(0)
}

func (m *MockProfileRepo) GetByID(ctx context.Context, id string) (*domain.Profile, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Profile), args.Error(1)
}

func (m *MockProfileRepo) Search(ctx context.Context, query string, limit int) ([]*domain.Profile, error) {
	args := m.Called(ctx, query, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Profile), args.Error(1)
}

func (m *MockProfileRepo) UpdateStatus(ctx context.Context, id string, status domain.Presence, at time.Time) (*domain.Profile, error) {
	args := m.Called(ctx, id, status, at)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Profile), args.Error(1)
}

func (m *MockProfileRepo) Touch(ctx context.Context, id string, at time.Time) error {
	return m.Called(ctx, id, at).Error(0)
}

func newSQLiteDirectory(t *testing.T) (*directory.Directory, *state.Store) {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "dir.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, sqlite.Migrate(db))

	profiles := sqlite.NewProfileRepo(db)
	for _, id := range []string{"me", "bob", "carol"} {
		require.NoError(t, profiles.Create(context.Background(), &domain.Profile{ID: id, Username: id}))
	}

	store := state.New()
	store.SetViewer("me")
	d := directory.New(sqlite.NewChatRepo(db), sqlite.NewParticipantRepo(db), profiles,
		store, zaptest.NewLogger(t), clock.New(), 0)
	t.Cleanup(d.Close)
	return d, store
}

func TestCreateDirectChat(t *testing.T) {
	t.Run("IsIdempotent", func(t *testing.T) {
		req := require.New(t)
		ctx := context.Background()
		d, store := newSQLiteDirectory(t)

		// Given no existing chat with bob
		first, err := d.CreateDirectChat(ctx, "me", "bob")
		req.NoError(err)

		// When asked again
		second, err := d.CreateDirectChat(ctx, "me", "bob")
		req.NoError(err)

		// Then the same chat comes back
		req.Equal(first, second)

		chat, ok := store.Chat(first)
		req.True(ok)
		req.Equal(domain.ChatDirect, chat.Kind)
		req.Equal("bob", chat.Name, "direct chats show the other member")
		req.Len(store.Participants(first), 2)

		id, ok := store.DirectChatWith("bob")
		req.True(ok)
		req.Equal(first, id)

		// And a chat with someone else is a different one
		other, err := d.CreateDirectChat(ctx, "me", "carol")
		req.NoError(err)
		req.NotEqual(first, other)

		chats, err := d.LoadChats(ctx, "me")
		req.NoError(err)
		req.Len(chats, 2)
	})

	t.Run("ConcurrentCallsShareOneChat", func(t *testing.T) {
		d, _ := newSQLiteDirectory(t)
		ids := make(chan string, 4)
		for range 4 {
			go func() {
				id, err := d.CreateDirectChat(context.Background(), "me", "bob")
				assert.NoError(t, err)
				ids <- id
			}()
		}
		first := <-ids
		for range 3 {
			require.Equal(t, first, <-ids)
		}
	})

	t.Run("InvalidInput", func(t *testing.T) {
		d, _ := newSQLiteDirectory(t)
		_, err := d.CreateDirectChat(context.Background(), "me", "me")
		require.ErrorIs(t, err, domain.ErrInvalidInput)
		_, err = d.CreateDirectChat(context.Background(), "me", "")
		require.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("MembersNotAdded", func(t *testing.T) {
		req := require.New(t)
		chats := new(MockChatRepo)
		parts := new(MockParticipantRepo)
		chats.On("ListDirectForUser", mock.Anything, "me").Return([]*domain.Chat{}, nil)
		chats.On("Create", mock.Anything, mock.AnythingOfType("*domain.Chat")).Return(nil)
		parts.On("Add", mock.Anything, mock.AnythingOfType("string"), []string{"me", "bob"}).
			Return(errors.New("insert participant: connection reset"))

		store := state.New()
		d := directory.New(chats, parts, new(MockProfileRepo), store, zaptest.NewLogger(t), clock.NewMock(), 0)
		defer d.Close()

		id, err := d.CreateDirectChat(context.Background(), "me", "bob")
		req.ErrorIs(err, domain.ErrPartialCreate)
		req.NotEmpty(id, "the orphaned chat is reported")
		_, known := store.Chat(id)
		req.False(known)
		chats.AssertExpectations(t)
		parts.AssertExpectations(t)
	})

	t.Run("ExistingChatSkipsCreate", func(t *testing.T) {
		req := require.New(t)
		existing := &domain.Chat{ID: "d1", Kind: domain.ChatDirect, Name: directory.DirectChatName}
		chats := new(MockChatRepo)
		parts := new(MockParticipantRepo)
		chats.On("ListDirectForUser", mock.Anything, "me").Return([]*domain.Chat{
			{ID: "d0", Kind: domain.ChatDirect}, existing,
		}, nil)
		parts.On("IsParticipant", mock.Anything, "d0", "bob").Return(false, nil)
		parts.On("IsParticipant", mock.Anything, "d1", "bob").Return(true, nil)
		parts.On("ListParticipants", mock.Anything, "d1").Return([]*domain.Participant{
			{ChatID: "d1", UserID: "me", Profile: domain.Profile{ID: "me", Username: "me"}},
			{ChatID: "d1", UserID: "bob", Profile: domain.Profile{ID: "bob", Username: "bob"}},
		}, nil)

		d := directory.New(chats, parts, new(MockProfileRepo), state.New(), zaptest.NewLogger(t), clock.NewMock(), 0)
		defer d.Close()

		id, err := d.CreateDirectChat(context.Background(), "me", "bob")
		req.NoError(err)
		req.Equal("d1", id)
		chats.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})
}

func TestSearchProfilesLeavesOutViewer(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	d, _ := newSQLiteDirectory(t)

	// Given a query matching every user
	found, err := d.SearchProfiles(ctx, "", 2)
	req.NoError(err)
	req.Len(found, 2)
	for _, p := range found {
		req.NotEqual("me", p.ID)
	}

	found, err = d.SearchProfiles(ctx, "me", 5)
	req.NoError(err)
	req.Empty(found)
}

func TestMembershipEvents(t *testing.T) {
	req := require.New(t)
	chats := new(MockChatRepo)
	parts := new(MockParticipantRepo)
	profiles := new(MockProfileRepo)

	store := state.New()
	store.SetViewer("me")
	store.UpsertChat(domain.Chat{ID: "g1", Name: "team", Kind: domain.ChatGroup})
	store.UpsertParticipants("g1", []domain.Participant{
		{ChatID: "g1", UserID: "me", Profile: domain.Profile{ID: "me", Username: "me"}},
	})

	d := directory.New(chats, parts, profiles, store, zaptest.NewLogger(t), clock.NewMock(), 0)
	defer d.Close()

	// A new member of a known chat is resolved to a profile
	profiles.On("GetByID", mock.Anything, "bob").Return(&domain.Profile{ID: "bob", Username: "bob"}, nil).Once()
	d.Handle(realtime.Notification{Topic: feed.MembershipAll, Event: feed.ParticipantInserted{
		Participant: domain.Participant{ChatID: "g1", UserID: "bob"},
	}})
	req.True(store.IsParticipant("g1", "bob"))

	// Being added to an unknown chat pulls it in
	chats.On("GetByID", mock.Anything, "g2").Return(&domain.Chat{ID: "g2", Name: "new", Kind: domain.ChatGroup}, nil).Once()
	parts.On("ListParticipants", mock.Anything, "g2").Return([]*domain.Participant{
		{ChatID: "g2", UserID: "me", Profile: domain.Profile{ID: "me", Username: "me"}},
	}, nil).Once()
	d.Handle(realtime.Notification{Topic: feed.MembershipAll, Event: feed.ParticipantInserted{
		Participant: domain.Participant{ChatID: "g2", UserID: "me"},
	}})
	_, ok := store.Chat("g2")
	req.True(ok)

	// Someone else joining a chat we do not hold is ignored
	d.Handle(realtime.Notification{Topic: feed.MembershipAll, Event: feed.ParticipantInserted{
		Participant: domain.Participant{ChatID: "g9", UserID: "carol"},
	}})
	_, ok = store.Chat("g9")
	req.False(ok)

	d.Handle(realtime.Notification{Topic: feed.MembershipAll, Event: feed.ParticipantDeleted{ChatID: "g1", UserID: "bob"}})
	req.False(store.IsParticipant("g1", "bob"))

	d.Handle(realtime.Notification{Topic: feed.ChatUpdates, Event: feed.ChatUpdated{
		Chat: domain.Chat{ID: "g1", Name: "renamed", Kind: domain.ChatGroup},
	}})
	c, _ := store.Chat("g1")
	req.Equal("renamed", c.Name)

	chats.AssertExpectations(t)
	parts.AssertExpectations(t)
	profiles.AssertExpectations(t)
}

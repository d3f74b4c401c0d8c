package httpapi_test

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"chatsync/internal/domain"
	"chatsync/internal/httpapi"
	"chatsync/internal/httpserver"
	"chatsync/internal/security"
	"chatsync/internal/service"
	"chatsync/internal/store/sqlite"
	"chatsync/internal/ws"
)

type backend struct {
	url    string
	tokens *security.TokenService
}

func newBackend(t *testing.T) backend {
	t.Helper()
	log := zaptest.NewLogger(t)
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, sqlite.Migrate(db))

	chats, parts := sqlite.NewChatRepo(db), sqlite.NewParticipantRepo(db)
	hub := ws.NewHub(log)
	tokens := security.NewTokenService("secret", time.Hour)
	srv := httptest.NewServer(httpserver.NewRouter(httpserver.Deps{
		Chats:    service.NewChatService(chats, parts, hub, log),
		Messages: service.NewMessageService(chats, parts, sqlite.NewMessageRepo(db), hub, log),
		Profiles: service.NewProfileService(sqlite.NewProfileRepo(db), hub, log),
		Hub:      hub,
		Tokens:   tokens,
		Log:      log,
	}))
	t.Cleanup(srv.Close)
	return backend{url: srv.URL, tokens: tokens}
}

func (b backend) client(t *testing.T, userID string) *httpapi.Client {
	t.Helper()
	tok, err := b.tokens.CreateForUser(userID, userID)
	require.NoError(t, err)
	c, err := httpapi.New(b.url, func(context.Context) (string, error) { return tok, nil }, nil)
	require.NoError(t, err)
	return c
}

func TestRepositoriesOverHTTP(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	b := newBackend(t)
	alice := b.client(t, "alice")
	bob := b.client(t, "bob")

	// profiles are provisioned on first contact
	me, err := alice.Profiles().GetByID(ctx, "alice")
	req.NoError(err)
	req.Equal("alice", me.Username)
	_, err = bob.Profiles().GetByID(ctx, "bob")
	req.NoError(err)

	chat := &domain.Chat{ID: "d1", Name: "Direct Chat", Kind: domain.ChatDirect}
	req.NoError(alice.Chats().Create(ctx, chat))
	req.Equal("alice", chat.CreatedBy)
	req.NoError(alice.Participants().Add(ctx, "d1", "alice", "bob"))

	ok, err := bob.Participants().IsParticipant(ctx, "d1", "alice")
	req.NoError(err)
	req.True(ok)
	ok, err = bob.Participants().IsParticipant(ctx, "d1", "carol")
	req.NoError(err)
	req.False(ok)

	direct, err := bob.Chats().ListDirectForUser(ctx, "bob")
	req.NoError(err)
	req.Equal([]string{"d1"}, lo.Map(direct, func(c *domain.Chat, _ int) string { return c.ID }))

	members, err := bob.Participants().ListParticipants(ctx, "d1")
	req.NoError(err)
	req.Len(members, 2)
	req.Equal("alice", members[0].Profile.Username)

	msg := &domain.Message{ID: "m1", ChatID: "d1", SenderID: "alice", Content: "hello",
		Status: domain.StatusPending, CreatedAt: time.Now().Add(-time.Second).UTC()}
	req.NoError(alice.Messages().Create(ctx, msg))
	req.Equal(domain.StatusUnread, msg.Status)
	req.ErrorIs(alice.Messages().Create(ctx, msg), domain.ErrConflict)

	recent, err := bob.Messages().ListRecent(ctx, "d1", 10)
	req.NoError(err)
	req.Len(recent, 1)

	read, err := bob.Messages().MarkRead(ctx, "d1", "bob")
	req.NoError(err)
	req.Len(read, 1)
	req.Equal(domain.StatusRead, read[0].Status)

	got, err := alice.Messages().GetByID(ctx, "m1")
	req.NoError(err)
	req.Equal(domain.StatusRead, got.Status)

	p, err := alice.Profiles().UpdateStatus(ctx, "alice", domain.PresenceDND, time.Now().UTC())
	req.NoError(err)
	req.Equal(domain.PresenceDND, p.Status)
	req.NoError(alice.Profiles().Touch(ctx, "alice", time.Now()))

	found, err := bob.Profiles().Search(ctx, "ali", 5)
	req.NoError(err)
	req.Len(found, 1)

	req.NoError(alice.Chats().Touch(ctx, "d1", time.Now().UTC()))
	req.NoError(bob.Participants().Remove(ctx, "d1", "bob"))
}

func TestErrorMapping(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	alice := b.client(t, "alice")
	mallory := b.client(t, "mallory")

	require.NoError(t, alice.Chats().Create(ctx, &domain.Chat{ID: "g1", Name: "team", Kind: domain.ChatGroup}))
	require.NoError(t, alice.Participants().Add(ctx, "g1", "alice"))

	_, err := mallory.Chats().GetByID(ctx, "g1")
	require.ErrorIs(t, err, domain.ErrForbidden)
	_, err = mallory.Messages().MarkRead(ctx, "g1", "mallory")
	require.ErrorIs(t, err, domain.ErrForbidden)
	_, err = alice.Chats().GetByID(ctx, "nope")
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = alice.Profiles().UpdateStatus(ctx, "mallory", domain.PresenceOnline, time.Now())
	require.ErrorIs(t, err, domain.ErrForbidden)
	require.ErrorIs(t, alice.Chats().Create(ctx, &domain.Chat{Kind: "channel"}), domain.ErrInvalidInput)

	anon, err := httpapi.New(b.url, func(context.Context) (string, error) { return "bad", nil }, nil)
	require.NoError(t, err)
	_, err = anon.Chats().ListForUser(ctx, "x", 10)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

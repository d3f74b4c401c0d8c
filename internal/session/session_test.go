package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatsync/internal/domain"
	"chatsync/internal/security"
	"chatsync/internal/session"
)

func TestHolder(t *testing.T) {
	t.Run("WaitBlocksUntilSet", func(t *testing.T) {
		req := require.New(t)
		h := session.NewHolder()
		_, ok := h.Current()
		req.False(ok)

		got := make(chan string, 1)
		go func() {
			id, _ := h.Wait(context.Background())
			got <- id
		}()

		time.Sleep(10 * time.Millisecond)
		req.NoError(h.Set("u1"))
		select {
		case id := <-got:
			req.Equal("u1", id)
		case <-time.After(time.Second):
			t.Fatal("Wait did not return")
		}
	})

	t.Run("NotReady", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err := session.NewHolder().Wait(ctx)
		require.ErrorIs(t, err, domain.ErrNotReady)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("IdentityIsFixed", func(t *testing.T) {
		h := session.NewHolder()
		require.NoError(t, h.Set("u1"))
		require.NoError(t, h.Set("u1"))
		require.ErrorIs(t, h.Set("u2"), domain.ErrConflict)
		require.ErrorIs(t, h.Set(""), domain.ErrInvalidInput)
	})
}

func TestFromToken(t *testing.T) {
	tok, err := security.NewTokenService("secret", time.Hour).CreateForUser("u1", "alice")
	require.NoError(t, err)

	id, err := session.FromToken(tok)
	require.NoError(t, err)
	got, err := id.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, "u1", got)
	require.Equal(t, "alice", id.Username())

	bearer, err := id.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, tok, bearer)

	_, err = session.FromToken("junk")
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

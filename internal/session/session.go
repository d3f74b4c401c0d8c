// Package session supplies the signed-in user's identity. Until an
// identity is known the engine stays idle.
package session

import (
	"context"
	"fmt"
	"sync"

	"chatsync/internal/domain"
	"chatsync/internal/security"
)

// Identity resolves the current user id, blocking until one is available.
type Identity interface {
	Wait(ctx context.Context) (string, error)
}

// Holder is an Identity that becomes ready once Set is called.
type Holder struct {
	mu    sync.Mutex
	id    string
	ready chan struct{}
}

var _ Identity = (*Holder)(nil)

func NewHolder() *Holder {
	return &Holder{ready: make(chan struct{})}
}

// Set records the user id. A holder never changes identity; switching
// users means a new session.
func (h *Holder) Set(userID string) error {
	if userID == "" {
		return fmt.Errorf("set identity: %w", domain.ErrInvalidInput)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	switch h.id {
	case "":
		h.id = userID
		close(h.ready)
		return nil
	case userID:
		return nil
	default:
		return fmt.Errorf("set identity %s over %s: %w", userID, h.id, domain.ErrConflict)
	}
}

func (h *Holder) Current() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.id, h.id != ""
}

// Wait returns the user id once known. If ctx ends first the error wraps
// domain.ErrNotReady.
func (h *Holder) Wait(ctx context.Context) (string, error) {
	select {
	case <-h.ready:
		id, _ := h.Current()
		return id, nil
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %w", domain.ErrNotReady, ctx.Err())
	}
}

// TokenIdentity is the identity carried by a bearer token.
type TokenIdentity struct {
	*Holder
	token    string
	username string
}

func FromToken(token string) (*TokenIdentity, error) {
	claims, err := security.ParseUnverified(token)
	if err != nil {
		return nil, err
	}
	h := NewHolder()
	if err := h.Set(claims.UserID()); err != nil {
		return nil, err
	}
	return &TokenIdentity{Holder: h, token: token, username: claims.Username}, nil
}

// Token satisfies the transports' token callbacks.
func (t *TokenIdentity) Token(context.Context) (string, error) {
	return t.token, nil
}

func (t *TokenIdentity) Username() string {
	return t.username
}

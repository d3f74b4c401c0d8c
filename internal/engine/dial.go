package engine

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"chatsync/internal/httpapi"
	"chatsync/internal/session"
	"chatsync/internal/ws"
)

// Dial builds a session against a chatsync server, authenticated by a
// bearer token whose subject becomes the session's user.
func Dial(serverURL, token string, cfg Config, log *zap.Logger) (*Session, error) {
	id, err := session.FromToken(token)
	if err != nil {
		return nil, fmt.Errorf("session token: %w", err)
	}
	api, err := httpapi.New(serverURL, id.Token, nil)
	if err != nil {
		return nil, err
	}
	endpoint, err := FeedURL(serverURL)
	if err != nil {
		return nil, err
	}
	return New(Deps{
		Identity:     id,
		Chats:        api.Chats(),
		Participants: api.Participants(),
		Messages:     api.Messages(),
		Profiles:     api.Profiles(),
		Transport:    ws.NewDialer(endpoint, id.Token, log),
		Log:          log,
		Clock:        clock.New(),
	}, cfg), nil
}

// FeedURL turns a server base URL into its change-feed websocket URL.
func FeedURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("server url %q: unsupported scheme", serverURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}

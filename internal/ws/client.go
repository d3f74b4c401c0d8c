package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chatsync/internal/domain"
	"chatsync/internal/feed"
	"chatsync/internal/realtime"
)

// TokenFunc supplies the bearer token for each new connection.
type TokenFunc func(ctx context.Context) (string, error)

// Dialer opens change-feed streams against a MakeHandler endpoint. It is
// the client's realtime.Transport.
type Dialer struct {
	endpoint string
	token    TokenFunc
	dialer   *websocket.Dialer
	log      *zap.Logger
}

var _ realtime.Transport = (*Dialer)(nil)

// NewDialer takes the feed endpoint, for example ws://localhost:8000/ws.
func NewDialer(endpoint string, token TokenFunc, log *zap.Logger) *Dialer {
	d := *websocket.DefaultDialer
	return &Dialer{endpoint: endpoint, token: token, dialer: &d, log: log.Named("ws")}
}

func (d *Dialer) Open(ctx context.Context, topic feed.Topic) (realtime.Stream, error) {
	tok, err := d.token(ctx)
	if err != nil {
		return nil, fmt.Errorf("feed token: %w", err)
	}
	u, err := url.Parse(d.endpoint)
	if err != nil {
		return nil, fmt.Errorf("feed endpoint: %w", err)
	}
	q := u.Query()
	q.Set("topic", topic.String())
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+tok)

	conn, resp, err := d.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusUnauthorized:
				return nil, fmt.Errorf("dial %s: %w", topic, domain.ErrUnauthorized)
			case http.StatusForbidden:
				return nil, fmt.Errorf("dial %s: %w", topic, domain.ErrForbidden)
			}
		}
		return nil, fmt.Errorf("dial %s: %w", topic, err)
	}
	return &stream{conn: conn, log: d.log}, nil
}

type stream struct {
	conn *websocket.Conn
	log  *zap.Logger
}

// Recv blocks for the next envelope. Cancelling ctx closes the connection.
func (s *stream) Recv(ctx context.Context) (feed.Envelope, error) {
	stop := context.AfterFunc(ctx, func() { s.conn.Close() })
	defer stop()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return feed.Envelope{}, ctx.Err()
			}
			return feed.Envelope{}, err
		}
		var env feed.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.log.Debug("skipping malformed frame", zap.Error(err))
			continue
		}
		return env, nil
	}
}

func (s *stream) Close() error {
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return s.conn.Close()
}

package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"chatsync/internal/feed"
)

const writeWait = 10 * time.Second

// client is one subscriber connection: a user following one topic.
type client struct {
	userID string
	topic  feed.Topic
	conn   *websocket.Conn

	// gorilla allows a single concurrent writer
	writeMu sync.Mutex
}

func (c *client) write(messageType int, payload any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if messageType == websocket.PingMessage {
		return c.conn.WriteMessage(websocket.PingMessage, nil)
	}
	return c.conn.WriteJSON(payload)
}

// Hub tracks feed subscribers and fans published changes out to them.
type Hub struct {
	mu    sync.RWMutex
	conns map[*client]struct{}
	log   *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		conns: make(map[*client]struct{}),
		log:   log.Named("hub"),
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c)
}

// Subscribers counts open connections following topic.
func (h *Hub) Subscribers(topic feed.Topic) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return lo.CountBy(lo.Keys(h.conns), func(c *client) bool { return c.topic == topic })
}

// Publish sends ev to every connection whose topic covers it and whose user
// is in audience. A nil audience reaches every such connection.
func (h *Hub) Publish(ev feed.Event, audience []string) {
	env, err := feed.Encode(ev)
	if err != nil {
		h.log.Error("encode change", zap.Stringer("topic", ev.Topic()), zap.Error(err))
		return
	}

	var allowed map[string]struct{}
	if audience != nil {
		allowed = lo.SliceToMap(audience, func(id string) (string, struct{}) { return id, struct{}{} })
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.conns))
	for c := range h.conns {
		if !c.topic.Matches(env.Table, env.Kind) {
			continue
		}
		if allowed != nil {
			if _, ok := allowed[c.userID]; !ok {
				continue
			}
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.write(websocket.TextMessage, env); err != nil {
			h.log.Debug("dropping subscriber", zap.String("user_id", c.userID), zap.Error(err))
			// the read loop notices and unregisters
			c.conn.Close()
		}
	}
}

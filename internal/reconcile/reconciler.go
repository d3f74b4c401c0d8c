// Package reconcile merges fetched history, pushed changes and optimistic
// sends into the per-chat message sequences held by the state store.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"chatsync/internal/domain"
	"chatsync/internal/feed"
	"chatsync/internal/realtime"
	"chatsync/internal/state"
)

const (
	DefaultHistoryLimit = 50
	resyncParallelism   = 4
)

type Reconciler struct {
	messages domain.MessageRepository
	store    *state.Store
	log      *zap.Logger
	clock    clock.Clock
	limit    int

	resync singleflight.Group
}

func New(messages domain.MessageRepository, store *state.Store, log *zap.Logger, clk clock.Clock, limit int) *Reconciler {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &Reconciler{
		messages: messages,
		store:    store,
		log:      log.Named("reconcile"),
		clock:    clk,
		limit:    limit,
	}
}

// LoadHistory fetches the most recent messages of a chat and merges them
// into the store. The chat is marked loaded before the fetch so pushes
// racing with it are kept, and unmarked again if the fetch fails and it
// had not been loaded before. The merged, ordered sequence is returned.
func (r *Reconciler) LoadHistory(ctx context.Context, chatID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = r.limit
	}
	wasLoaded := r.store.IsLoaded(chatID)
	r.store.MarkLoaded(chatID)

	list, err := r.messages.ListRecent(ctx, chatID, limit)
	if err == nil {
		err = ctx.Err()
	} else {
		err = fmt.Errorf("load history %s: %w", chatID, err)
	}
	if err != nil {
		if !wasLoaded {
			r.store.UnmarkLoaded(chatID)
		}
		return nil, err
	}

	sort.Slice(list, func(i, j int) bool { return list[i].Before(list[j]) })
	for _, m := range list {
		r.store.UpsertMessage(chatID, *m)
	}
	return r.store.Messages(chatID), nil
}

// Handle is a realtime.Handler for message topics.
func (r *Reconciler) Handle(n realtime.Notification) {
	if n.Err != nil {
		r.log.Warn("message feed unavailable", zap.Stringer("topic", n.Topic), zap.Error(n.Err))
		return
	}
	r.OnPushEvent(n.Event)
}

// OnPushEvent applies one pushed message change.
func (r *Reconciler) OnPushEvent(ev feed.Event) {
	switch e := ev.(type) {
	case feed.MessageInserted:
		if !r.store.IsLoaded(e.Message.ChatID) {
			r.log.Debug("insert for unloaded chat dropped",
				zap.String("chat_id", e.Message.ChatID), zap.String("message_id", e.Message.ID))
			return
		}
		r.store.UpsertMessage(e.Message.ChatID, e.Message)

	case feed.MessageUpdated:
		if r.store.UpdateMessageStatus(e.Message.ID, e.Message.Status) {
			return
		}
		// An update can overtake its insert; a loaded chat takes the whole row.
		if _, known := r.store.Message(e.Message.ID); !known && r.store.IsLoaded(e.Message.ChatID) {
			r.store.UpsertMessage(e.Message.ChatID, e.Message)
		}

	case feed.MessageDeleted:
		r.log.Debug("message delete ignored", zap.String("message_id", e.ID))
	}
}

// Resync reloads history for every loaded chat. Concurrent calls share one
// run. Per-chat failures are combined into the returned error.
func (r *Reconciler) Resync(ctx context.Context) error {
	_, err, _ := r.resync.Do("resync", func() (any, error) {
		chats := r.store.LoadedChats()
		r.log.Info("resyncing", zap.Int("chats", len(chats)))

		var (
			mu   sync.Mutex
			errs error
		)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(resyncParallelism)
		for _, id := range chats {
			g.Go(func() error {
				if _, err := r.LoadHistory(gctx, id, r.limit); err != nil {
					mu.Lock()
					errs = multierr.Append(errs, err)
					mu.Unlock()
				}
				return nil
			})
		}
		_ = g.Wait()
		return nil, errs
	})
	return err
}

// Send inserts a pending message, writes it, and then settles it as unread
// or error. A failed send is not retried.
func (r *Reconciler) Send(ctx context.Context, chatID, senderID, content string, kind domain.MessageType) (domain.Message, error) {
	if strings.TrimSpace(content) == "" || chatID == "" || senderID == "" {
		return domain.Message{}, fmt.Errorf("send message: %w", domain.ErrInvalidInput)
	}
	if kind == "" {
		kind = domain.MessageText
	}
	id, err := uuid.NewV7()
	if err != nil {
		return domain.Message{}, fmt.Errorf("send message: %w", err)
	}

	now := r.clock.Now().UTC()
	pending := domain.Message{
		ID:        id.String(),
		ChatID:    chatID,
		SenderID:  senderID,
		Content:   content,
		Type:      kind,
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.store.UpsertMessage(chatID, pending)

	sent := pending
	sent.Status = domain.StatusUnread
	if err := r.messages.Create(ctx, &sent); err != nil {
		r.store.UpdateMessageStatus(pending.ID, domain.StatusError)
		r.log.Warn("send failed", zap.String("chat_id", chatID), zap.String("message_id", pending.ID), zap.Error(err))
		failed := pending
		failed.Status = domain.StatusError
		return failed, fmt.Errorf("send message: %w", err)
	}

	r.store.UpsertMessage(chatID, sent)
	if m, ok := r.store.Message(sent.ID); ok {
		return m, nil
	}
	return sent, nil
}

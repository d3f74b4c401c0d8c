// Package directory loads the chat list, finds or creates direct chats and
// follows membership changes.
package directory

import (
	"context"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chatsync/internal/domain"
	"chatsync/internal/feed"
	"chatsync/internal/realtime"
	"chatsync/internal/state"
)

const (
	DefaultChatListLimit = 20
	DirectChatName       = "Direct Chat"
	fetchParallelism     = 4
)

type Directory struct {
	chats        domain.ChatRepository
	participants domain.ParticipantRepository
	profiles     domain.ProfileRepository
	store        *state.Store
	log          *zap.Logger
	clock        clock.Clock
	listLimit    int

	ctx    context.Context
	cancel context.CancelFunc

	// serializes find-or-create within this client
	createMu sync.Mutex
}

func New(
	chats domain.ChatRepository,
	participants domain.ParticipantRepository,
	profiles domain.ProfileRepository,
	store *state.Store,
	log *zap.Logger,
	clk clock.Clock,
	listLimit int,
) *Directory {
	if listLimit <= 0 {
		listLimit = DefaultChatListLimit
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Directory{
		chats:        chats,
		participants: participants,
		profiles:     profiles,
		store:        store,
		log:          log.Named("directory"),
		clock:        clk,
		listLimit:    listLimit,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// LoadChats fetches the user's most recent chats with their members and
// merges them into the store.
func (d *Directory) LoadChats(ctx context.Context, userID string) ([]domain.Chat, error) {
	chats, err := d.chats.ListForUser(ctx, userID, d.listLimit)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}

	members := make([][]*domain.Participant, len(chats))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchParallelism)
	for i, c := range chats {
		g.Go(func() error {
			list, err := d.participants.ListParticipants(gctx, c.ID)
			if err != nil {
				return fmt.Errorf("list participants of %s: %w", c.ID, err)
			}
			members[i] = list
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, c := range chats {
		d.store.UpsertChat(*c)
		d.store.UpsertParticipants(c.ID, deref(members[i]))
	}
	return d.store.Chats(), nil
}

// CreateDirectChat returns the caller's direct chat with otherID, creating
// it when none exists. A chat whose members could not be added is reported
// with domain.ErrPartialCreate alongside its id.
func (d *Directory) CreateDirectChat(ctx context.Context, selfID, otherID string) (string, error) {
	if otherID == "" || otherID == selfID {
		return "", fmt.Errorf("create direct chat: %w", domain.ErrInvalidInput)
	}
	d.createMu.Lock()
	defer d.createMu.Unlock()

	direct, err := d.chats.ListDirectForUser(ctx, selfID)
	if err != nil {
		return "", fmt.Errorf("list direct chats: %w", err)
	}
	for _, c := range direct {
		ok, err := d.participants.IsParticipant(ctx, c.ID, otherID)
		if err != nil {
			return "", fmt.Errorf("check participant: %w", err)
		}
		if ok {
			if err := d.refresh(ctx, c); err != nil {
				d.log.Warn("refresh existing direct chat", zap.String("chat_id", c.ID), zap.Error(err))
			}
			return c.ID, nil
		}
	}

	now := d.clock.Now().UTC()
	chat := &domain.Chat{
		ID:        uuid.NewString(),
		Name:      DirectChatName,
		Kind:      domain.ChatDirect,
		CreatedBy: selfID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := d.chats.Create(ctx, chat); err != nil {
		return "", fmt.Errorf("create direct chat: %w", err)
	}
	if err := d.participants.Add(ctx, chat.ID, selfID, otherID); err != nil {
		d.log.Error("direct chat left without members", zap.String("chat_id", chat.ID), zap.Error(err))
		return chat.ID, fmt.Errorf("%w: chat %s: %v", domain.ErrPartialCreate, chat.ID, err)
	}

	if err := d.refresh(ctx, chat); err != nil {
		d.log.Warn("load new direct chat", zap.String("chat_id", chat.ID), zap.Error(err))
	}
	d.log.Info("direct chat created", zap.String("chat_id", chat.ID), zap.String("with", otherID))
	return chat.ID, nil
}

// SearchProfiles looks up users to start a chat with. The viewer is never
// among them.
func (d *Directory) SearchProfiles(ctx context.Context, query string, limit int) ([]domain.Profile, error) {
	fetch := limit
	if limit > 0 {
		fetch = limit + 1
	}
	list, err := d.profiles.Search(ctx, query, fetch)
	if err != nil {
		return nil, fmt.Errorf("search profiles: %w", err)
	}
	viewer := d.store.Viewer()
	found := lo.Filter(deref(list), func(p domain.Profile, _ int) bool { return p.ID != viewer })
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}
	return found, nil
}

// Handle is a realtime.Handler for membership and chat topics.
func (d *Directory) Handle(n realtime.Notification) {
	if n.Err != nil {
		d.log.Warn("membership feed unavailable", zap.Stringer("topic", n.Topic), zap.Error(n.Err))
		return
	}
	if err := d.apply(d.ctx, n.Event); err != nil && d.ctx.Err() == nil {
		d.log.Warn("membership change not applied", zap.Error(err))
	}
}

func (d *Directory) apply(ctx context.Context, ev feed.Event) error {
	switch e := ev.(type) {
	case feed.ParticipantInserted:
		p := e.Participant
		if _, known := d.store.Chat(p.ChatID); !known {
			if p.UserID != d.store.Viewer() {
				return nil
			}
			c, err := d.chats.GetByID(ctx, p.ChatID)
			if err != nil {
				return fmt.Errorf("get chat %s: %w", p.ChatID, err)
			}
			return d.refresh(ctx, c)
		}
		if p.Profile.Username == "" {
			prof, err := d.profiles.GetByID(ctx, p.UserID)
			if err != nil {
				return fmt.Errorf("get profile %s: %w", p.UserID, err)
			}
			p.Profile = *prof
		}
		d.store.UpsertParticipants(p.ChatID, []domain.Participant{p})

	case feed.ParticipantDeleted:
		d.store.RemoveParticipant(e.ChatID, e.UserID)

	case feed.ChatInserted:
		if _, known := d.store.Chat(e.Chat.ID); known {
			d.store.UpsertChat(e.Chat)
		}

	case feed.ChatUpdated:
		if _, known := d.store.Chat(e.Chat.ID); known {
			d.store.UpsertChat(e.Chat)
		}
	}
	return nil
}

func (d *Directory) refresh(ctx context.Context, c *domain.Chat) error {
	list, err := d.participants.ListParticipants(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("list participants of %s: %w", c.ID, err)
	}
	d.store.UpsertChat(*c)
	d.store.UpsertParticipants(c.ID, deref(list))
	return nil
}

// Close cancels fetches started by pushed membership changes.
func (d *Directory) Close() {
	d.cancel()
}

func deref[T any](list []*T) []T {
	return lo.FilterMap(list, func(p *T, _ int) (T, bool) {
		if p == nil {
			var zero T
			return zero, false
		}
		return *p, true
	})
}

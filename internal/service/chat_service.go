package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"chatsync/internal/domain"
	"chatsync/internal/feed"
)

type ChatService struct {
	access
	pub Publisher
	log *zap.Logger
}

func NewChatService(
	chats domain.ChatRepository,
	participants domain.ParticipantRepository,
	pub Publisher,
	log *zap.Logger,
) *ChatService {
	return &ChatService{
		access: access{chats: chats, participants: participants},
		pub:    pub,
		log:    log.Named("chats"),
	}
}

func (s *ChatService) ListForUser(ctx context.Context, callerID string, limit int, directOnly bool) ([]*domain.Chat, error) {
	if directOnly {
		return s.chats.ListDirectForUser(ctx, callerID)
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.chats.ListForUser(ctx, callerID, limit)
}

type ChatCreateInput struct {
	ID   string          `validate:"omitempty,max=64"`
	Name string          `validate:"max=100"`
	Kind domain.ChatKind `validate:"required,oneof=direct group"`
}

// Create inserts the chat row only. Members are added separately, which is
// what lets a chat exist without them.
func (s *ChatService) Create(ctx context.Context, callerID string, in ChatCreateInput) (*domain.Chat, error) {
	if err := validate.Struct(in); err != nil {
		return nil, invalid(err)
	}
	now := time.Now().UTC()
	chat := &domain.Chat{
		ID:        lo.Ternary(in.ID != "", in.ID, uuid.NewString()),
		Name:      in.Name,
		Kind:      in.Kind,
		CreatedBy: callerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.chats.Create(ctx, chat); err != nil {
		return nil, err
	}
	s.pub.Publish(feed.ChatInserted{Chat: *chat}, []string{callerID})
	return chat, nil
}

func (s *ChatService) Get(ctx context.Context, callerID, chatID string) (*domain.Chat, error) {
	return s.chatFor(ctx, chatID, callerID)
}

func (s *ChatService) Participants(ctx context.Context, callerID, chatID string) ([]*domain.Participant, error) {
	if _, err := s.chatFor(ctx, chatID, callerID); err != nil {
		return nil, err
	}
	return s.participants.ListParticipants(ctx, chatID)
}

func (s *ChatService) IsParticipant(ctx context.Context, callerID, chatID, userID string) (bool, error) {
	if _, err := s.chatFor(ctx, chatID, callerID); err != nil {
		return false, err
	}
	return s.participants.IsParticipant(ctx, chatID, userID)
}

// AddParticipants adds members and announces each of them to everyone now
// in the chat.
func (s *ChatService) AddParticipants(ctx context.Context, callerID, chatID string, userIDs []string) error {
	userIDs = lo.Uniq(lo.Compact(userIDs))
	if len(userIDs) == 0 {
		return invalid(fmt.Errorf("no participants"))
	}
	if _, err := s.chatFor(ctx, chatID, callerID); err != nil {
		return err
	}
	if err := s.participants.Add(ctx, chatID, userIDs...); err != nil {
		return err
	}

	members, err := s.participants.ListParticipants(ctx, chatID)
	if err != nil {
		s.log.Warn("participants added but not announced", zap.String("chat_id", chatID), zap.Error(err))
		return nil
	}
	audience := lo.Map(members, func(p *domain.Participant, _ int) string { return p.UserID })
	for _, p := range members {
		if lo.Contains(userIDs, p.UserID) {
			s.pub.Publish(feed.ParticipantInserted{Participant: *p}, audience)
		}
	}
	return nil
}

// RemoveParticipant lets members leave and lets the creator remove others.
func (s *ChatService) RemoveParticipant(ctx context.Context, callerID, chatID, userID string) error {
	chat, err := s.chatFor(ctx, chatID, callerID)
	if err != nil {
		return err
	}
	if userID != callerID && chat.CreatedBy != callerID {
		return domain.ErrForbidden
	}
	audience, err := s.memberIDs(ctx, chatID)
	if err != nil {
		return err
	}
	if err := s.participants.Remove(ctx, chatID, userID); err != nil {
		return err
	}
	s.pub.Publish(feed.ParticipantDeleted{ChatID: chatID, UserID: userID}, audience)
	return nil
}

func (s *ChatService) Touch(ctx context.Context, callerID, chatID string, at time.Time) error {
	if _, err := s.chatFor(ctx, chatID, callerID); err != nil {
		return err
	}
	if at.IsZero() {
		at = time.Now()
	}
	if err := s.chats.Touch(ctx, chatID, at.UTC()); err != nil {
		return err
	}
	s.announce(ctx, chatID)
	return nil
}

func (s *ChatService) announce(ctx context.Context, chatID string) {
	chat, err := s.chats.GetByID(ctx, chatID)
	if err != nil {
		s.log.Warn("chat update not announced", zap.String("chat_id", chatID), zap.Error(err))
		return
	}
	audience, err := s.memberIDs(ctx, chatID)
	if err != nil {
		s.log.Warn("chat update not announced", zap.String("chat_id", chatID), zap.Error(err))
		return
	}
	s.pub.Publish(feed.ChatUpdated{Chat: *chat}, audience)
}

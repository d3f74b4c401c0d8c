package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatsync/internal/domain"
	"chatsync/internal/feed"
)

type MessageService struct {
	access
	messages domain.MessageRepository
	pub      Publisher
	log      *zap.Logger
}

func NewMessageService(
	chats domain.ChatRepository,
	participants domain.ParticipantRepository,
	messages domain.MessageRepository,
	pub Publisher,
	log *zap.Logger,
) *MessageService {
	return &MessageService{
		access:   access{chats: chats, participants: participants},
		messages: messages,
		pub:      pub,
		log:      log.Named("messages"),
	}
}

type MessageCreateInput struct {
	ID        string             `validate:"omitempty,max=64"`
	Content   string             `validate:"required,max=5000"`
	Type      domain.MessageType `validate:"omitempty,oneof=text image file audio"`
	CreatedAt time.Time
}

// Create stores a message from callerID. The client may choose the id so
// that its optimistic copy and the confirmation merge.
func (s *MessageService) Create(ctx context.Context, callerID, chatID string, in MessageCreateInput) (*domain.Message, error) {
	if err := validate.Struct(in); err != nil {
		return nil, invalid(err)
	}
	if len([]rune(in.Content)) > MaxContentLength {
		return nil, invalid(fmt.Errorf("content exceeds %d characters", MaxContentLength))
	}
	if _, err := s.chatFor(ctx, chatID, callerID); err != nil {
		return nil, err
	}

	msg := &domain.Message{
		ID:        in.ID,
		ChatID:    chatID,
		SenderID:  callerID,
		Content:   in.Content,
		Type:      in.Type,
		Status:    domain.StatusUnread,
		CreatedAt: in.CreatedAt.UTC(),
	}
	if msg.ID == "" {
		msg.ID = uuid.Must(uuid.NewV7()).String()
	}
	// client clocks drift; never accept a time from the future
	if now := time.Now().UTC(); msg.CreatedAt.IsZero() || msg.CreatedAt.After(now) {
		msg.CreatedAt = now
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, err
	}

	audience, err := s.memberIDs(ctx, chatID)
	if err != nil {
		s.log.Warn("message stored but not announced", zap.String("message_id", msg.ID), zap.Error(err))
		return msg, nil
	}
	s.pub.Publish(feed.MessageInserted{Message: *msg}, audience)
	if chat, err := s.chats.GetByID(ctx, chatID); err == nil {
		s.pub.Publish(feed.ChatUpdated{Chat: *chat}, audience)
	}
	return msg, nil
}

func (s *MessageService) Get(ctx context.Context, callerID, messageID string) (*domain.Message, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if _, err := s.chatFor(ctx, msg.ChatID, callerID); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *MessageService) ListRecent(ctx context.Context, callerID, chatID string, limit int) ([]*domain.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if _, err := s.chatFor(ctx, chatID, callerID); err != nil {
		return nil, err
	}
	return s.messages.ListRecent(ctx, chatID, limit)
}

// MarkRead marks every unread message from others read for callerID and
// publishes each changed row.
func (s *MessageService) MarkRead(ctx context.Context, callerID, chatID string) ([]*domain.Message, error) {
	if _, err := s.chatFor(ctx, chatID, callerID); err != nil {
		return nil, err
	}
	changed, err := s.messages.MarkRead(ctx, chatID, callerID)
	if err != nil {
		return nil, err
	}
	if len(changed) == 0 {
		return changed, nil
	}

	audience, err := s.memberIDs(ctx, chatID)
	if err != nil {
		s.log.Warn("read receipts not announced", zap.String("chat_id", chatID), zap.Error(err))
		return changed, nil
	}
	for _, m := range changed {
		s.pub.Publish(feed.MessageUpdated{Message: *m}, audience)
	}
	return changed, nil
}

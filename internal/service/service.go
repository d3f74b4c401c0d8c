// Package service holds the server's application logic: membership checks
// in front of the repositories and publication of every change to the
// realtime feed.
package service

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"chatsync/internal/domain"
	"chatsync/internal/feed"
)

const MaxContentLength = 5000

// Publisher delivers a change to the subscribers of its topic. A nil
// audience means every subscriber.
type Publisher interface {
	Publish(ev feed.Event, audience []string)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

type access struct {
	chats        domain.ChatRepository
	participants domain.ParticipantRepository
}

// chatFor returns the chat when caller is a member or its creator.
func (a access) chatFor(ctx context.Context, chatID, callerID string) (*domain.Chat, error) {
	chat, err := a.chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	if chat.CreatedBy == callerID {
		return chat, nil
	}
	ok, err := a.participants.IsParticipant(ctx, chatID, callerID)
	if err != nil {
		return nil, fmt.Errorf("check participant: %w", err)
	}
	if !ok {
		return nil, domain.ErrForbidden
	}
	return chat, nil
}

func (a access) memberIDs(ctx context.Context, chatID string) ([]string, error) {
	list, err := a.participants.ListParticipants(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return lo.Map(list, func(p *domain.Participant, _ int) string { return p.UserID }), nil
}

func invalid(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
}

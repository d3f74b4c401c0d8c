package service_test

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"chatsync/internal/domain"
	"chatsync/internal/feed"
)

type MockChatRepo struct {
	mock.Mock
}

func (m *MockChatRepo) Create(ctx context.Context, c *domain.Chat) error {
	return m.Called(ctx, c).Error(0)
}

func (m *MockChatRepo) GetByID(ctx context.Context, id string) (*domain.Chat, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Chat), args.Error(1)
}

func (m *MockChatRepo) ListForUser(ctx context.Context, userID string, limit int) ([]*domain.Chat, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Chat), args.Error(1)
}

func (m *MockChatRepo) ListDirectForUser(ctx context.Context, userID string) ([]*domain.Chat, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Chat), args.Error(1)
}

func (m *MockChatRepo) Touch(ctx context.Context, chatID string, at time.Time) error {
	return m.Called(ctx, chatID, at).Error(0)
}

type MockParticipantRepo struct {
	mock.Mock
}

func (m *MockParticipantRepo) Add(ctx context.Context, chatID string, userIDs ...string) error {
	return m.Called(ctx, chatID, userIDs).Error(0)
}

func (m *MockParticipantRepo) Remove(ctx context.Context, chatID, userID string) error {
	return m.Called(ctx, chatID, userID).Error(0)
}

func (m *MockParticipantRepo) ListParticipants(ctx context.Context, chatID string) ([]*domain.Participant, error) {
	args := m.Called(ctx, chatID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Participant), args.Error(1)
}

func (m *MockParticipantRepo) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	args := m.Called(ctx, chatID, userID)
	return args.Bool(0), args.Error(1)
}

type MockMessageRepo struct {
	mock.Mock
}

func (m *MockMessageRepo) Create(ctx context.Context, msg *domain.Message) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *MockMessageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Message), args.Error(1)
}

func (m *MockMessageRepo) ListRecent(ctx context.Context, chatID string, limit int) ([]*domain.Message, error) {
	args := m.Called(ctx, chatID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Message), args.Error(1)
}

func (m *MockMessageRepo) MarkRead(ctx context.Context, chatID, viewerID string) ([]*domain.Message, error) {
	args := m.Called(ctx, chatID, viewerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Message), args.Error(1)
}

type MockProfileRepo struct {
	mock.Mock
}

func (m *MockProfileRepo) Create(ctx context.Context, p *domain.Profile) error {
	return m.Called(ctx, p).Error(0)
}

func (m *MockProfileRepo) GetByID(ctx context.Context, id string) (*domain.Profile, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Profile), args.Error(1)
}

func (m *MockProfileRepo) Search(ctx context.Context, query string, limit int) ([]*domain.Profile, error) {
	args := m.Called(ctx, query, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Profile), args.Error(1)
}

func (m *MockProfileRepo) UpdateStatus(ctx context.Context, id string, status domain.Presence, at time.Time) (*domain.Profile, error) {
	args := m.Called(ctx, id, status, at)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Profile), args.Error(1)
}

func (m *MockProfileRepo) Touch(ctx context.Context, id string, at time.Time) error {
	return m.Called(ctx, id, at).Error(0)
}

type published struct {
	event    feed.Event
	audience []string
}

type recordingPublisher struct {
	mu  sync.Mutex
	got []published
}

func (p *recordingPublisher) Publish(ev feed.Event, audience []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, published{event: ev, audience: audience})
}

func (p *recordingPublisher) events() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.got...)
}

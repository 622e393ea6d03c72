package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"conversation-service/internal/models"
	"conversation-service/internal/repositories"
)

type UserRepositoryMock struct {
	mock.Mock
}

func (m *UserRepositoryMock) GetUser(ctx context.Context, userID int) (models.User, error) {
	args := m.Called(ctx, userID)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *UserRepositoryMock) GetUserByExternalID(ctx context.Context, externalID string) (models.User, error) {
	args := m.Called(ctx, externalID)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *UserRepositoryMock) GetUsers(ctx context.Context, userIDs []int) ([]models.User, error) {
	args := m.Called(ctx, userIDs)
	var users []models.User
	if val := args.Get(0); val != nil {
		users = val.([]models.User)
	}
	return users, args.Error(1)
}

type ConversationRepositoryMock struct {
	mock.Mock
}

func (m *ConversationRepositoryMock) conversation(args mock.Arguments) (models.Conversation, error) {
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) conversations(args mock.Arguments) ([]models.Conversation, error) {
	var list []models.Conversation
	if val := args.Get(0); val != nil {
		list = val.([]models.Conversation)
	}
	return list, args.Error(1)
}

func (m *ConversationRepositoryMock) FindDirect(ctx context.Context, userA, userB int) ([]models.Conversation, error) {
	return m.conversations(m.Called(ctx, userA, userB))
}

func (m *ConversationRepositoryMock) GetDirectByKey(ctx context.Context, key string) (models.Conversation, error) {
	return m.conversation(m.Called(ctx, key))
}

func (m *ConversationRepositoryMock) CreateDirect(ctx context.Context, creatorID, otherID int, at time.Time) (models.Conversation, error) {
	return m.conversation(m.Called(ctx, creatorID, otherID, at))
}

func (m *ConversationRepositoryMock) GetConversation(ctx context.Context, conversationID int) (models.Conversation, error) {
	return m.conversation(m.Called(ctx, conversationID))
}

func (m *ConversationRepositoryMock) ListForUser(ctx context.Context, userID int, includeArchived bool) ([]models.Conversation, error) {
	return m.conversations(m.Called(ctx, userID, includeArchived))
}

func (m *ConversationRepositoryMock) UpdateFlags(ctx context.Context, conversationID int, flags models.ConversationFlags, at time.Time) (models.Conversation, error) {
	return m.conversation(m.Called(ctx, conversationID, flags, at))
}

func (m *ConversationRepositoryMock) Deactivate(ctx context.Context, conversationID int, at time.Time) error {
	args := m.Called(ctx, conversationID, at)
	return args.Error(0)
}

func (m *ConversationRepositoryMock) FindDuplicateDirects(ctx context.Context) ([]models.DuplicateDirect, error) {
	args := m.Called(ctx)
	var list []models.DuplicateDirect
	if val := args.Get(0); val != nil {
		list = val.([]models.DuplicateDirect)
	}
	return list, args.Error(1)
}

var (
	_ repositories.UserRepository         = (*UserRepositoryMock)(nil)
	_ repositories.ConversationRepository = (*ConversationRepositoryMock)(nil)
)

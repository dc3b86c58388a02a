package database

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

type MockMessengerRepository struct {
	mock.Mock
}

func (m *MockMessengerRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockMessengerRepository) GetAccountById(ctx context.Context, accountId int) (Account, error) {
	args := m.Called(ctx, accountId)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockMessengerRepository) GetAccountByEmail(ctx context.Context, email string) (Account, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockMessengerRepository) GetConversation(ctx context.Context, id int64) (Conversation, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Conversation), args.Error(1)
}
func (m *MockMessengerRepository) GetOrCreateConversation(ctx context.Context, newId int64, initiatorId, otherId int) (Conversation, bool, error) {
	args := m.Called(ctx, newId, initiatorId, otherId)
	return args.Get(0).(Conversation), args.Bool(1), args.Error(2)
}
func (m *MockMessengerRepository) ListConversations(ctx context.Context, accountId int) ([]ConversationListing, error) {
	args := m.Called(ctx, accountId)
	if listings, ok := args.Get(0).([]ConversationListing); ok {
		return listings, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockMessengerRepository) LeaveConversation(ctx context.Context, conversationId int64, accountId int) error {
	args := m.Called(ctx, conversationId, accountId)
	return args.Error(0)
}
func (m *MockMessengerRepository) CreateMessage(ctx context.Context, msg Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}
func (m *MockMessengerRepository) GetMessages(ctx context.Context, conversationId, before int64, limit, offset int) ([]Message, error) {
	args := m.Called(ctx, conversationId, before, limit, offset)
	if messages, ok := args.Get(0).([]Message); ok {
		return messages, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockMessengerRepository) MarkMessagesRead(ctx context.Context, conversationId int64, readerId int, readAt time.Time) (int64, error) {
	args := m.Called(ctx, conversationId, readerId, readAt)
	return args.Get(0).(int64), args.Error(1)
}

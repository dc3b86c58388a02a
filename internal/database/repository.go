package database

import (
	"context"
	"time"
)

const DefaultPageSize = 50

type MessengerRepository interface {
	Ping() error
	GetAccountById(ctx context.Context, accountId int) (Account, error)
	GetAccountByEmail(ctx context.Context, email string) (Account, error)
	GetConversation(ctx context.Context, id int64) (Conversation, error)
	GetOrCreateConversation(ctx context.Context, newId int64, initiatorId, otherId int) (Conversation, bool, error)
	ListConversations(ctx context.Context, accountId int) ([]ConversationListing, error)
	LeaveConversation(ctx context.Context, conversationId int64, accountId int) error
	CreateMessage(ctx context.Context, msg Message) error
	GetMessages(ctx context.Context, conversationId, before int64, limit, offset int) ([]Message, error)
	MarkMessagesRead(ctx context.Context, conversationId int64, readerId int, readAt time.Time) (int64, error)
}

var _ MessengerRepository = (*DB)(nil)

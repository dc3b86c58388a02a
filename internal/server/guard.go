package server

import (
	"context"
	"errors"

	"github.com/npezzotti/go-messenger/internal/database"
)

// authorize loads the conversation and checks that userId is still one of
// its members. On failure it returns the error response for the client.
func (cs *ChatServer) authorize(ctx context.Context, msgId int, conversationId int64, userId int) (database.Conversation, *ServerMessage) {
	if conversationId <= 0 {
		return database.Conversation{}, ErrInvalidMessage(msgId)
	}

	conv, err := cs.db.GetConversation(ctx, conversationId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return database.Conversation{}, ErrConversationNotFound(msgId)
		}

		cs.log.Printf("get conversation %d: %v", conversationId, err)
		return database.Conversation{}, ErrInternalError(msgId)
	}

	if !conv.IsMember(userId) {
		return database.Conversation{}, ErrUnauthorized(msgId)
	}

	return conv, nil
}

package server

import (
	"context"
	"errors"
	"strings"

	"github.com/npezzotti/go-messenger/internal/database"
	"github.com/npezzotti/go-messenger/internal/media"
	"github.com/npezzotti/go-messenger/internal/stats"
	"github.com/npezzotti/go-messenger/internal/types"
)

// handleSend persists a message and fans it out to the counterpart and to
// the sender's other connections. The originating connection receives the
// stored message as its acknowledgement.
func (cs *ChatServer) handleSend(ctx context.Context, msg *ClientMessage) {
	c := msg.client
	send := msg.Send

	conv, errResp := cs.resolveConversation(ctx, msg)
	if errResp != nil {
		c.queueMessage(errResp)
		return
	}

	if errResp := cs.validateContent(msg); errResp != nil {
		c.queueMessage(errResp)
		return
	}

	unlock := cs.convLocks.lock(conv.Id)
	defer unlock()

	id := cs.ids.NextID()

	var attachmentURL string
	if send.Attachment != nil {
		url, err := cs.media.Save(ctx, send.Attachment.Data, send.Attachment.MimeType)
		if err != nil {
			cs.log.Printf("save attachment for message %d: %v", id, err)
			c.queueMessage(ErrAttachmentFailed(msg.Id))
			return
		}
		attachmentURL = url
	}

	stored := database.Message{
		Id:             id,
		ConversationId: conv.Id,
		SenderId:       msg.UserId,
		Content:        send.Content,
		AttachmentURL:  attachmentURL,
		CreatedAt:      Now(),
	}
	if err := cs.db.CreateMessage(ctx, stored); err != nil {
		cs.log.Printf("create message %d: %v", id, err)
		c.queueMessage(ErrInternalError(msg.Id))
		return
	}

	cs.typing.clear(conv.Id, msg.UserId)

	out := &types.Message{
		Id:             stored.Id,
		ConversationId: stored.ConversationId,
		SenderId:       stored.SenderId,
		Content:        stored.Content,
		AttachmentURL:  stored.AttachmentURL,
		CreatedAt:      stored.CreatedAt,
	}

	// acks share the hub queue with fan-out to keep store order per connection
	ack := NoErrOK(msg.Id, out)
	ack.Target = c
	cs.broadcast(ack)

	// other devices of the sender
	cs.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: stored.CreatedAt},
		Message:     out,
		UserId:      msg.UserId,
		SkipClient:  c,
	})

	if recipient := conv.Counterpart(msg.UserId); conv.IsMember(recipient) {
		cs.broadcast(&ServerMessage{
			BaseMessage: BaseMessage{Timestamp: stored.CreatedAt},
			Message:     out,
			UserId:      recipient,
		})
	}

	cs.stats.Incr(stats.MessagesDelivered)
}

// resolveConversation finds the conversation a message is sent to. The
// recipient is only used when no conversation id is given, in which case
// the conversation is found or started with that account.
func (cs *ChatServer) resolveConversation(ctx context.Context, msg *ClientMessage) (database.Conversation, *ServerMessage) {
	send := msg.Send
	if send.ConversationId != 0 {
		return cs.authorize(ctx, msg.Id, send.ConversationId, msg.UserId)
	}

	if send.RecipientId <= 0 || send.RecipientId == msg.UserId {
		return database.Conversation{}, ErrInvalidMessage(msg.Id)
	}

	if _, err := cs.db.GetAccountById(ctx, send.RecipientId); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return database.Conversation{}, ErrRecipientNotFound(msg.Id)
		}
		cs.log.Printf("get account %d: %v", send.RecipientId, err)
		return database.Conversation{}, ErrInternalError(msg.Id)
	}

	conv, created, err := cs.db.GetOrCreateConversation(ctx, cs.ids.NextID(), msg.UserId, send.RecipientId)
	if err != nil {
		cs.log.Printf("get or create conversation between %d and %d: %v", msg.UserId, send.RecipientId, err)
		return database.Conversation{}, ErrInternalError(msg.Id)
	}
	if created {
		cs.log.Printf("started conversation %d between %d and %d", conv.Id, msg.UserId, send.RecipientId)
	}

	return conv, nil
}

func (cs *ChatServer) validateContent(msg *ClientMessage) *ServerMessage {
	send := msg.Send
	if send.Attachment == nil {
		if strings.TrimSpace(send.Content) == "" {
			return ErrEmptyMessage(msg.Id)
		}
		return nil
	}

	err := media.Validate(send.Attachment.Data, send.Attachment.MimeType, cs.maxAttachmentSize)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, media.ErrTooLarge):
		return ErrAttachmentTooLarge(msg.Id)
	case errors.Is(err, media.ErrUnsupportedType):
		return ErrUnsupportedAttachment(msg.Id)
	default:
		return ErrInvalidAttachment(msg.Id)
	}
}

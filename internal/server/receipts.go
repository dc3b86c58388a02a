package server

import (
	"context"

	"github.com/npezzotti/go-messenger/internal/stats"
)

// handleRead marks the counterpart's unread messages as read by the
// connection's user. The counterpart is notified once per batch, and only
// when something changed.
func (cs *ChatServer) handleRead(ctx context.Context, msg *ClientMessage) {
	c := msg.client

	conv, errResp := cs.authorize(ctx, msg.Id, msg.Read.ConversationId, msg.UserId)
	if errResp != nil {
		c.queueMessage(errResp)
		return
	}

	n, err := cs.db.MarkMessagesRead(ctx, conv.Id, msg.UserId, Now())
	if err != nil {
		cs.log.Printf("mark messages read in %d by %d: %v", conv.Id, msg.UserId, err)
		c.queueMessage(ErrInternalError(msg.Id))
		return
	}

	c.queueMessage(NoErrOK(msg.Id, map[string]int64{"marked": n}))

	if n == 0 {
		return
	}

	cs.stats.Incr(stats.ReadReceipts)

	counterpart := conv.Counterpart(msg.UserId)
	if !conv.IsMember(counterpart) {
		return
	}

	cs.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Read:        &MessagesRead{ConversationId: conv.Id},
		UserId:      counterpart,
	})
}

package server

import (
	"context"
	"sync"
	"time"

	"github.com/npezzotti/go-messenger/internal/stats"
)

type typingKey struct {
	conversationId int64
	userId         int
}

// typingTracker holds the users currently typing in each conversation.
// An entry goes idle once its timeout passes, it is never extended.
type typingTracker struct {
	mu      sync.Mutex
	timeout time.Duration
	active  map[typingKey]*time.Timer
}

func newTypingTracker(timeout time.Duration) *typingTracker {
	return &typingTracker{
		timeout: timeout,
		active:  make(map[typingKey]*time.Timer),
	}
}

// signal marks the user as typing and reports whether they were idle.
func (t *typingTracker) signal(conversationId int64, userId int) bool {
	key := typingKey{conversationId, userId}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.active[key]; ok {
		return false
	}

	var timer *time.Timer
	timer = time.AfterFunc(t.timeout, func() {
		t.expire(key, timer)
	})
	t.active[key] = timer

	return true
}

func (t *typingTracker) expire(key typingKey, timer *time.Timer) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active[key] == timer {
		delete(t.active, key)
	}
}

func (t *typingTracker) isTyping(conversationId int64, userId int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.active[typingKey{conversationId, userId}]
	return ok
}

// clear returns the user to idle in one conversation.
func (t *typingTracker) clear(conversationId int64, userId int) {
	key := typingKey{conversationId, userId}

	t.mu.Lock()
	defer t.mu.Unlock()

	if timer, ok := t.active[key]; ok {
		timer.Stop()
		delete(t.active, key)
	}
}

// clearUser returns the user to idle in every conversation.
func (t *typingTracker) clearUser(userId int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, timer := range t.active {
		if key.userId == userId {
			timer.Stop()
			delete(t.active, key)
		}
	}
}

func (t *typingTracker) stopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, timer := range t.active {
		timer.Stop()
		delete(t.active, key)
	}
}

// handleTyping relays a typing signal to the counterpart on the idle to
// active transition. Typing signals are never acknowledged.
func (cs *ChatServer) handleTyping(ctx context.Context, msg *ClientMessage) {
	conv, errResp := cs.authorize(ctx, msg.Id, msg.Typing.ConversationId, msg.UserId)
	if errResp != nil {
		msg.client.queueMessage(errResp)
		return
	}

	if !cs.typing.signal(conv.Id, msg.UserId) {
		return
	}

	counterpart := conv.Counterpart(msg.UserId)
	if !conv.IsMember(counterpart) {
		return
	}

	cs.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Typing: &TypingStarted{
			ConversationId: conv.Id,
			SenderId:       msg.UserId,
		},
		UserId: counterpart,
	})
	cs.stats.Incr(stats.TypingSignals)
}

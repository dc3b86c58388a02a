package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/npezzotti/go-messenger/internal/database"
	"github.com/npezzotti/go-messenger/internal/media"
	"github.com/npezzotti/go-messenger/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func testConversation(members ...int) database.Conversation {
	return database.Conversation{Id: 5, UserA: 1, UserB: 2, Members: members}
}

func sendMsg(c *Client, id int, send *SendMessage) *ClientMessage {
	return &ClientMessage{
		BaseMessage: BaseMessage{Id: id, Timestamp: Now()},
		Send:        send,
		UserId:      c.user.Id,
		client:      c,
	}
}

func TestHandleSend_FanOut(t *testing.T) {
	db := &database.MockMessengerRepository{}
	defer db.AssertExpectations(t)

	db.On("GetConversation", mock.Anything, int64(5)).Return(testConversation(1, 2), nil).Once()
	db.On("CreateMessage", mock.Anything, mock.MatchedBy(func(m database.Message) bool {
		return m.Id == 1001 && m.ConversationId == 5 && m.SenderId == 1 && m.Content == "hi" && !m.CreatedAt.IsZero()
	})).Return(nil).Once()

	cs := newTestChatServer(t, db, nil)
	runChatServer(t, cs)

	a1 := registerTestClient(t, cs, 1)
	a2 := registerTestClient(t, cs, 1)
	b1 := registerTestClient(t, cs, 2)
	b2 := registerTestClient(t, cs, 2)

	cs.typing.signal(5, 1)
	cs.handleSend(context.Background(), sendMsg(a1, 3, &SendMessage{ConversationId: 5, Content: "hi"}))

	ack := expectMessage(t, a1)
	require.NotNil(t, ack.Response)
	assert.Equal(t, 3, ack.Id)
	assert.Equal(t, http.StatusOK, ack.Response.ResponseCode)
	stored, ok := ack.Response.Data.(*types.Message)
	require.True(t, ok, "expected the stored message as response data")
	assert.Equal(t, int64(1001), stored.Id)

	for _, c := range []*Client{a2, b1, b2} {
		msg := expectMessage(t, c)
		if assert.NotNil(t, msg.Message) {
			assert.Equal(t, stored, msg.Message)
		}
	}

	expectNoMessage(t, a1)
	assert.False(t, cs.typing.isTyping(5, 1), "expected sending to end the typing state")
}

func TestHandleSend_StartsConversation(t *testing.T) {
	db := &database.MockMessengerRepository{}
	defer db.AssertExpectations(t)

	db.On("GetAccountById", mock.Anything, 2).Return(database.Account{Id: 2, Username: "bob"}, nil).Once()
	db.On("GetOrCreateConversation", mock.Anything, int64(1001), 1, 2).Return(testConversation(1, 2), true, nil).Once()
	db.On("CreateMessage", mock.Anything, mock.MatchedBy(func(m database.Message) bool {
		return m.Id == 1002 && m.ConversationId == 5
	})).Return(nil).Once()

	cs := newTestChatServer(t, db, nil)
	runChatServer(t, cs)

	a := registerTestClient(t, cs, 1)
	b := registerTestClient(t, cs, 2)

	cs.handleSend(context.Background(), sendMsg(a, 1, &SendMessage{RecipientId: 2, Content: "hello"}))

	ack := expectMessage(t, a)
	assert.Equal(t, http.StatusOK, ack.Response.ResponseCode)
	msg := expectMessage(t, b)
	if assert.NotNil(t, msg.Message) {
		assert.Equal(t, int64(5), msg.Message.ConversationId)
	}
}

func TestHandleSend_Rejected(t *testing.T) {
	tcases := []struct {
		name  string
		setup func(db *database.MockMessengerRepository, store *media.MockStore)
		send  *SendMessage
		code  int
		text  string
	}{
		{
			name: "empty message",
			setup: func(db *database.MockMessengerRepository, _ *media.MockStore) {
				db.On("GetConversation", mock.Anything, int64(5)).Return(testConversation(1, 2), nil)
			},
			send: &SendMessage{ConversationId: 5, Content: "   "},
			code: http.StatusBadRequest,
			text: "message must have content or an attachment",
		},
		{
			name: "not a member",
			setup: func(db *database.MockMessengerRepository, _ *media.MockStore) {
				db.On("GetConversation", mock.Anything, int64(5)).Return(database.Conversation{Id: 5, UserA: 2, UserB: 3, Members: []int{2, 3}}, nil)
			},
			send: &SendMessage{ConversationId: 5, Content: "hi"},
			code: http.StatusForbidden,
			text: "unauthorized to perform this action",
		},
		{
			name: "left conversation",
			setup: func(db *database.MockMessengerRepository, _ *media.MockStore) {
				db.On("GetConversation", mock.Anything, int64(5)).Return(testConversation(2), nil)
			},
			send: &SendMessage{ConversationId: 5, Content: "hi"},
			code: http.StatusForbidden,
			text: "unauthorized to perform this action",
		},
		{
			name: "conversation not found",
			setup: func(db *database.MockMessengerRepository, _ *media.MockStore) {
				db.On("GetConversation", mock.Anything, int64(5)).Return(database.Conversation{}, database.ErrNotFound)
			},
			send: &SendMessage{ConversationId: 5, Content: "hi"},
			code: http.StatusNotFound,
			text: "conversation not found",
		},
		{
			name: "store failure on lookup",
			setup: func(db *database.MockMessengerRepository, _ *media.MockStore) {
				db.On("GetConversation", mock.Anything, int64(5)).Return(database.Conversation{}, errors.New("db error"))
			},
			send: &SendMessage{ConversationId: 5, Content: "hi"},
			code: http.StatusInternalServerError,
			text: "internal server error",
		},
		{
			name:  "no conversation or recipient",
			setup: func(*database.MockMessengerRepository, *media.MockStore) {},
			send:  &SendMessage{Content: "hi"},
			code:  http.StatusBadRequest,
			text:  "invalid message format",
		},
		{
			name:  "message to self",
			setup: func(*database.MockMessengerRepository, *media.MockStore) {},
			send:  &SendMessage{RecipientId: 1, Content: "hi"},
			code:  http.StatusBadRequest,
			text:  "invalid message format",
		},
		{
			name: "unknown recipient",
			setup: func(db *database.MockMessengerRepository, _ *media.MockStore) {
				db.On("GetAccountById", mock.Anything, 9).Return(database.Account{}, database.ErrNotFound)
			},
			send: &SendMessage{RecipientId: 9, Content: "hi"},
			code: http.StatusNotFound,
			text: "recipient not found",
		},
		{
			name: "attachment too large",
			setup: func(db *database.MockMessengerRepository, _ *media.MockStore) {
				db.On("GetConversation", mock.Anything, int64(5)).Return(testConversation(1, 2), nil)
			},
			send: &SendMessage{ConversationId: 5, Attachment: &Attachment{Data: make([]byte, 65), MimeType: "image/png"}},
			code: http.StatusRequestEntityTooLarge,
			text: "attachment exceeds size limit",
		},
		{
			name: "unsupported attachment",
			setup: func(db *database.MockMessengerRepository, _ *media.MockStore) {
				db.On("GetConversation", mock.Anything, int64(5)).Return(testConversation(1, 2), nil)
			},
			send: &SendMessage{ConversationId: 5, Attachment: &Attachment{Data: []byte("%PDF-1.4"), MimeType: "application/pdf"}},
			code: http.StatusUnsupportedMediaType,
			text: "unsupported attachment type",
		},
		{
			name: "attachment not stored",
			setup: func(db *database.MockMessengerRepository, store *media.MockStore) {
				db.On("GetConversation", mock.Anything, int64(5)).Return(testConversation(1, 2), nil)
				store.On("Save", mock.Anything, pngHeader, "image/png").Return("", errors.New("disk full"))
			},
			send: &SendMessage{ConversationId: 5, Attachment: &Attachment{Data: pngHeader, MimeType: "image/png"}},
			code: http.StatusInternalServerError,
			text: "failed to store attachment",
		},
		{
			name: "message not persisted",
			setup: func(db *database.MockMessengerRepository, _ *media.MockStore) {
				db.On("GetConversation", mock.Anything, int64(5)).Return(testConversation(1, 2), nil)
				db.On("CreateMessage", mock.Anything, mock.Anything).Return(errors.New("db error"))
			},
			send: &SendMessage{ConversationId: 5, Content: "hi"},
			code: http.StatusInternalServerError,
			text: "internal server error",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			db := &database.MockMessengerRepository{}
			store := &media.MockStore{}
			tc.setup(db, store)

			cs := newTestChatServer(t, db, store)
			cs.maxAttachmentSize = 64
			runChatServer(t, cs)

			a := registerTestClient(t, cs, 1)
			b := registerTestClient(t, cs, 2)

			cs.handleSend(context.Background(), sendMsg(a, 4, tc.send))

			res := expectMessage(t, a)
			if assert.NotNil(t, res.Response) {
				assert.Equal(t, 4, res.Id)
				assert.Equal(t, tc.code, res.Response.ResponseCode)
				assert.Equal(t, tc.text, res.Response.Error)
			}
			expectNoMessage(t, b)

			if tc.code != http.StatusInternalServerError || tc.text == "failed to store attachment" {
				db.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
			}
		})
	}
}

func TestHandleSend_Attachment(t *testing.T) {
	db := &database.MockMessengerRepository{}
	defer db.AssertExpectations(t)
	store := &media.MockStore{}
	defer store.AssertExpectations(t)

	db.On("GetConversation", mock.Anything, int64(5)).Return(testConversation(1, 2), nil).Once()
	store.On("Save", mock.Anything, pngHeader, "image/png").Return("/media/abc.png", nil).Once()
	db.On("CreateMessage", mock.Anything, mock.MatchedBy(func(m database.Message) bool {
		return m.AttachmentURL == "/media/abc.png" && m.Content == ""
	})).Return(nil).Once()

	cs := newTestChatServer(t, db, store)
	runChatServer(t, cs)

	a := registerTestClient(t, cs, 1)
	b := registerTestClient(t, cs, 2)

	cs.handleSend(context.Background(), sendMsg(a, 1, &SendMessage{
		ConversationId: 5,
		Attachment:     &Attachment{Data: pngHeader, MimeType: "image/png"},
	}))

	ack := expectMessage(t, a)
	assert.Equal(t, http.StatusOK, ack.Response.ResponseCode)
	msg := expectMessage(t, b)
	if assert.NotNil(t, msg.Message) {
		assert.Equal(t, "/media/abc.png", msg.Message.AttachmentURL)
	}
}

func TestHandleSend_CounterpartLeft(t *testing.T) {
	db := &database.MockMessengerRepository{}
	db.On("GetConversation", mock.Anything, int64(5)).Return(testConversation(1), nil).Once()
	db.On("CreateMessage", mock.Anything, mock.Anything).Return(nil).Once()

	cs := newTestChatServer(t, db, nil)
	runChatServer(t, cs)

	a := registerTestClient(t, cs, 1)
	b := registerTestClient(t, cs, 2)

	cs.handleSend(context.Background(), sendMsg(a, 1, &SendMessage{ConversationId: 5, Content: "still there?"}))

	ack := expectMessage(t, a)
	assert.Equal(t, http.StatusOK, ack.Response.ResponseCode)
	expectNoMessage(t, b)
}

func TestHandleSend_Ordering(t *testing.T) {
	db := &database.MockMessengerRepository{}
	db.On("GetConversation", mock.Anything, int64(5)).Return(testConversation(1, 2), nil)

	var (
		storedMu sync.Mutex
		stored   []int64
	)
	db.On("CreateMessage", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		storedMu.Lock()
		defer storedMu.Unlock()
		stored = append(stored, args.Get(1).(database.Message).Id)
	}).Return(nil)

	cs := newTestChatServer(t, db, nil)
	runChatServer(t, cs)

	senders := []*Client{registerTestClient(t, cs, 1), registerTestClient(t, cs, 1)}
	b := registerTestClient(t, cs, 2)

	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cs.handleSend(context.Background(), sendMsg(senders[i%2], i+1, &SendMessage{ConversationId: 5, Content: "msg"}))
		}(i)
	}
	wg.Wait()

	var received []int64
	for i := 0; i < n; i++ {
		msg := expectMessage(t, b)
		require.NotNil(t, msg.Message)
		received = append(received, msg.Message.Id)
	}

	assert.Equal(t, stored, received, "expected delivery order to match store order")
	for i := 1; i < len(received); i++ {
		assert.Greater(t, received[i], received[i-1], "expected ids to increase in delivery order")
	}

	// each sender device sees its own acks and the other device's messages
	for _, c := range senders {
		var seen []int64
		for i := 0; i < n; i++ {
			seen = append(seen, messageId(t, expectMessage(t, c)))
		}
		assert.Equal(t, stored, seen, "expected sender connection to see store order")
	}
}

func TestHandleSend_AckOrderedAfterPendingFanOut(t *testing.T) {
	db := &database.MockMessengerRepository{}
	db.On("GetConversation", mock.Anything, int64(5)).Return(testConversation(1, 2), nil)
	db.On("CreateMessage", mock.Anything, mock.Anything).Return(nil)

	cs := newTestChatServer(t, db, nil)

	// registered before the hub runs so that fan-out stays queued
	a1 := newTestClient(t, cs, 1)
	a2 := newTestClient(t, cs, 1)
	b := newTestClient(t, cs, 2)
	for _, c := range []*Client{a1, a2, b} {
		cs.dir.register(c)
	}

	cs.handleSend(context.Background(), sendMsg(b, 1, &SendMessage{ConversationId: 5, Content: "first"}))
	cs.handleSend(context.Background(), sendMsg(a2, 2, &SendMessage{ConversationId: 5, Content: "second"}))

	runChatServer(t, cs)

	first := expectMessage(t, a2)
	second := expectMessage(t, a2)
	assert.Equal(t, int64(1001), messageId(t, first))
	assert.Equal(t, int64(1002), messageId(t, second))
	assert.NotNil(t, second.Response, "expected the acknowledgement after the earlier message")
}

// messageId returns the id of a delivered message or of the message carried
// by an acknowledgement.
func messageId(t *testing.T, msg *ServerMessage) int64 {
	t.Helper()

	if msg.Message != nil {
		return msg.Message.Id
	}
	require.NotNil(t, msg.Response, "expected a message or an acknowledgement")
	stored, ok := msg.Response.Data.(*types.Message)
	require.True(t, ok, "expected the stored message as response data")
	return stored.Id
}

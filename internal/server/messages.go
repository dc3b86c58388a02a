package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/npezzotti/go-messenger/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is an inbound frame. Exactly one of Send, Typing and Read
// must be set.
type ClientMessage struct {
	BaseMessage
	Send   *SendMessage `json:"send,omitempty"`
	Typing *Typing      `json:"typing,omitempty"`
	Read   *MarkRead    `json:"read,omitempty"`
	UserId int          `json:"-"`
	client *Client      `json:"-"`
}

// valid reports whether exactly one event variant is present.
func (m *ClientMessage) valid() bool {
	n := 0
	if m.Send != nil {
		n++
	}
	if m.Typing != nil {
		n++
	}
	if m.Read != nil {
		n++
	}
	return n == 1
}

type Attachment struct {
	Data     []byte `json:"data"`
	MimeType string `json:"mimetype"`
}

// SendMessage carries a chat message. RecipientId is only consulted when
// ConversationId is empty, to find or start the conversation.
type SendMessage struct {
	ConversationId int64       `json:"conversation_id,string,omitempty"`
	RecipientId    int         `json:"recipient_id,omitempty"`
	Content        string      `json:"message"`
	Attachment     *Attachment `json:"attachment,omitempty"`
}

type Typing struct {
	ConversationId int64 `json:"conversation_id,string"`
	RecipientId    int   `json:"recipient_id,omitempty"`
}

// MarkRead acknowledges every unread message in a conversation. The reader
// is always the connection's user, UserId and RecipientId are informational.
type MarkRead struct {
	ConversationId int64 `json:"conversation_id,string"`
	UserId         int   `json:"user_id,omitempty"`
	RecipientId    int   `json:"recipient_id,omitempty"`
}

// ServerMessage is an outbound frame. UserId, Target and SkipClient address
// fan-out and are never serialized. A message with a Target goes to that
// connection only.
type ServerMessage struct {
	BaseMessage
	Response   *Response      `json:"response,omitempty"`
	Message    *types.Message `json:"message,omitempty"`
	Typing     *TypingStarted `json:"typing,omitempty"`
	Read       *MessagesRead  `json:"read,omitempty"`
	UserId     int            `json:"-"`
	Target     *Client        `json:"-"`
	SkipClient *Client        `json:"-"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

type TypingStarted struct {
	ConversationId int64 `json:"conversation_id,string"`
	SenderId       int   `json:"sender_id"`
}

type MessagesRead struct {
	ConversationId int64 `json:"conversation_id,string"`
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func NoErrOK(id int, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func errResponse(id, code int, text string) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: code,
			Error:        text,
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func ErrUnauthenticated(id int) *ServerMessage {
	return errResponse(id, http.StatusUnauthorized, "authentication required")
}

func ErrUnauthorized(id int) *ServerMessage {
	return errResponse(id, http.StatusForbidden, "unauthorized to perform this action")
}

func ErrConversationNotFound(id int) *ServerMessage {
	return errResponse(id, http.StatusNotFound, "conversation not found")
}

func ErrRecipientNotFound(id int) *ServerMessage {
	return errResponse(id, http.StatusNotFound, "recipient not found")
}

func ErrInvalidMessage(id int) *ServerMessage {
	return errResponse(id, http.StatusBadRequest, "invalid message format")
}

func ErrEmptyMessage(id int) *ServerMessage {
	return errResponse(id, http.StatusBadRequest, "message must have content or an attachment")
}

func ErrInvalidAttachment(id int) *ServerMessage {
	return errResponse(id, http.StatusBadRequest, "invalid attachment")
}

func ErrAttachmentTooLarge(id int) *ServerMessage {
	return errResponse(id, http.StatusRequestEntityTooLarge, "attachment exceeds size limit")
}

func ErrUnsupportedAttachment(id int) *ServerMessage {
	return errResponse(id, http.StatusUnsupportedMediaType, "unsupported attachment type")
}

func ErrAttachmentFailed(id int) *ServerMessage {
	return errResponse(id, http.StatusInternalServerError, "failed to store attachment")
}

func ErrInternalError(id int) *ServerMessage {
	return errResponse(id, http.StatusInternalServerError, "internal server error")
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return errResponse(id, http.StatusServiceUnavailable, "service unavailable")
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}

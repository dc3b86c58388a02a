package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"slices"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-messenger/internal/database"
	"github.com/npezzotti/go-messenger/internal/server"
	"github.com/npezzotti/go-messenger/internal/types"
)

// offsets beyond this are past the end of any conversation
const maxHistoryOffset = math.MaxInt32

type StartConversationRequest struct {
	RecipientId int `json:"recipient_id"`
}

func (s *MessengerApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *MessengerApp) healthCheck(w http.ResponseWriter, _ *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.log.Println("health check:", err)
		errResp := NewServiceUnavailableError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *MessengerApp) isOnline(userId int) bool {
	return s.cs != nil && s.cs.IsOnline(userId)
}

func (s *MessengerApp) listConversations(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	listings, err := s.db.ListConversations(r.Context(), userId)
	if err != nil {
		s.log.Println("list conversations:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	convs := make([]types.Conversation, 0, len(listings))
	for _, l := range listings {
		counterpart := toUser(l.Counterpart)
		counterpart.IsPresent = s.isOnline(counterpart.Id)

		convs = append(convs, types.Conversation{
			Id:          l.Conversation.Id,
			Counterpart: counterpart,
			CreatedAt:   l.Conversation.CreatedAt,
		})
	}

	s.writeJson(w, http.StatusOK, convs)
}

// startConversation returns the caller's conversation with the recipient,
// creating it, or rejoining it if the caller had left.
func (s *MessengerApp) startConversation(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req StartConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RecipientId <= 0 || req.RecipientId == userId {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	recipient, err := s.db.GetAccountById(r.Context(), req.RecipientId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, database.ErrNotFound) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	conv, created, err := s.db.GetOrCreateConversation(r.Context(), s.ids.NextID(), userId, recipient.Id)
	if err != nil {
		s.log.Println("get or create conversation:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	counterpart := toUser(recipient)
	counterpart.IsPresent = s.isOnline(recipient.Id)

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}

	s.writeJson(w, status, types.Conversation{
		Id:          conv.Id,
		Counterpart: counterpart,
		CreatedAt:   conv.CreatedAt,
	})
}

func (s *MessengerApp) leaveConversation(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	convId, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.db.LeaveConversation(r.Context(), convId, userId); err != nil {
		var errResp *ApiError
		if errors.Is(err, database.ErrNotFound) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

// getMessages serves one page of history, newest first. Pages start at 1;
// a page shorter than database.DefaultPageSize is the last one.
func (s *MessengerApp) getMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	convId, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	page := 1
	if pageStr := r.URL.Query().Get("page"); pageStr != "" {
		page, err = strconv.Atoi(pageStr)
		if err != nil || page < 1 {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	var before int64
	if beforeStr := r.URL.Query().Get("before"); beforeStr != "" {
		before, err = strconv.ParseInt(beforeStr, 10, 64)
		if err != nil || before < 1 {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	conv, err := s.db.GetConversation(r.Context(), convId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, database.ErrNotFound) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !conv.IsMember(userId) {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if page-1 > maxHistoryOffset/database.DefaultPageSize {
		s.writeJson(w, http.StatusOK, []types.Message{})
		return
	}

	messages, err := s.db.GetMessages(r.Context(), conv.Id, before, database.DefaultPageSize, (page-1)*database.DefaultPageSize)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	userMessages := make([]types.Message, 0, len(messages))
	for _, msg := range messages {
		userMessages = append(userMessages, types.Message{
			Id:             msg.Id,
			ConversationId: msg.ConversationId,
			SenderId:       msg.SenderId,
			Content:        msg.Content,
			AttachmentURL:  msg.AttachmentURL,
			CreatedAt:      msg.CreatedAt,
			WasRead:        msg.WasRead,
		})
	}

	s.writeJson(w, http.StatusOK, userMessages)
}

func (s *MessengerApp) serveWs(w http.ResponseWriter, r *http.Request) {
	session, ok := SessionFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(session, tokenFrom(r.Context()), s.resolver, conn, s.cs, s.log)
	if !s.cs.RegisterClient(client) {
		conn.Close()
		return
	}

	go client.Write()
	go client.Read()
}

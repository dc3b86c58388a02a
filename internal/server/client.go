package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-messenger/internal/auth"
	"github.com/npezzotti/go-messenger/internal/types"
)

const (
	writeWait          = 10 * time.Second
	pongWait           = 60 * time.Second
	pingInterval       = (pongWait * 9) / 10
	sendQueueSize      = 256
	revalidateInterval = time.Minute
	eventTimeout       = 15 * time.Second

	// room for the frame around a base64 attachment
	frameOverhead = 64 << 10
)

type Client struct {
	id          string
	conn        *websocket.Conn
	chatServer  *ChatServer
	log         *log.Logger
	user        types.User
	token       string
	resolver    auth.SessionResolver
	sessionMu   sync.Mutex
	expiresAt   time.Time
	validatedAt time.Time
	readLimit   int64
	send        chan *ServerMessage
	stop        chan struct{}
	stopOnce    sync.Once
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewClient binds an authenticated session to a websocket connection.
// The resolver may be nil, in which case only the session expiry is checked.
func NewClient(session auth.Session, token string, resolver auth.SessionResolver, conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		id:          uuid.NewString(),
		conn:        conn,
		chatServer:  cs,
		log:         l,
		user:        session.User,
		token:       token,
		resolver:    resolver,
		expiresAt:   session.ExpiresAt,
		validatedAt: time.Now(),
		readLimit:   cs.maxAttachmentSize*4/3 + frameOverhead,
		send:        make(chan *ServerMessage, sendQueueSize),
		stop:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			if !c.writeServerMessage(msg, time.Now().Add(writeWait)) {
				return
			}
		case <-c.stop:
			c.flush()
			return
		case <-ticker.C:
			if !c.keepalive() {
				return
			}
		}
	}
}

// keepalive pings the peer. Connections that only listen are revalidated
// here, a failed check queues a 401 and stops the client so that the next
// loop iteration flushes it.
func (c *Client) keepalive() bool {
	if err := c.revalidate(); err != nil {
		c.log.Printf("session for %q no longer valid: %v", c.user.Username, err)
		c.queueMessage(ErrUnauthenticated(0))
		c.stopClient()
		return true
	}

	return c.sendMessage(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// flush writes what is still queued and closes the connection normally.
func (c *Client) flush() {
	deadline := time.Now().Add(writeWait)
	for {
		select {
		case msg := <-c.send:
			if !c.writeServerMessage(msg, deadline) {
				return
			}
		default:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		}
	}
}

func (c *Client) Read() {
	defer c.cleanup()

	c.conn.SetReadLimit(c.readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil || !msg.valid() {
			c.queueMessage(ErrInvalidMessage(msg.Id))
			continue
		}

		if err := c.revalidate(); err != nil {
			c.log.Printf("session for %q no longer valid: %v", c.user.Username, err)
			c.queueMessage(ErrUnauthenticated(msg.Id))
			return
		}

		msg.client = c
		msg.UserId = c.user.Id
		msg.Timestamp = Now()

		ctx, cancel := context.WithTimeout(c.ctx, eventTimeout)
		c.chatServer.dispatch(ctx, &msg)
		cancel()
	}
}

// revalidate rejects expired sessions and periodically resolves the token
// again so that restricted or deleted accounts are cut off.
func (c *Client) revalidate() error {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	now := time.Now()
	if !c.expiresAt.IsZero() && now.After(c.expiresAt) {
		return auth.ErrInvalidToken
	}

	if c.resolver == nil || now.Sub(c.validatedAt) < revalidateInterval {
		return nil
	}

	ctx, cancel := context.WithTimeout(c.ctx, writeWait)
	defer cancel()

	session, err := c.resolver.Resolve(ctx, c.token)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrAccountNotFound),
		errors.Is(err, auth.ErrAccountRestricted):
		return err
	default:
		// store unavailable, try again on the next event
		c.log.Printf("revalidate session for %q: %v", c.user.Username, err)
		return nil
	}

	if session.User.Id != c.user.Id {
		return auth.ErrInvalidToken
	}

	c.expiresAt = session.ExpiresAt
	c.validatedAt = now
	return nil
}

// queueMessage hands msg to the write loop. A client whose queue is full
// is too slow to keep up and gets disconnected.
func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
		return true
	default:
		c.log.Printf("send queue full for connection %s, disconnecting", c.id)
		c.stopClient()
		return false
	}
}

func (c *Client) writeServerMessage(msg *ServerMessage, deadline time.Time) bool {
	bytes, err := serializeMessage(msg)
	if err != nil {
		c.log.Println("failed to serialize message:", err)
		return true
	}

	return c.sendMessage(websocket.TextMessage, bytes, deadline)
}

func (c *Client) sendMessage(msgType int, msg []byte, deadline time.Time) bool {
	c.conn.SetWriteDeadline(deadline)

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
		if c.cancel != nil {
			c.cancel()
		}
	})
}

func (c *Client) cleanup() {
	c.chatServer.unregisterClient(c)
	c.stopClient()
}

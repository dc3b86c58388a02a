package server

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/npezzotti/go-messenger/internal/config"
	"github.com/npezzotti/go-messenger/internal/database"
	"github.com/npezzotti/go-messenger/internal/idgen"
	"github.com/npezzotti/go-messenger/internal/media"
	"github.com/npezzotti/go-messenger/internal/stats"
)

type Options struct {
	MaxAttachmentSize int64
	TypingTimeout     time.Duration
}

type stopReq struct {
	done chan struct{}
}

// ChatServer is the connection gateway. Run owns registration and fan-out,
// events from clients are handled on their read goroutines.
type ChatServer struct {
	log               *log.Logger
	db                database.MessengerRepository
	media             media.Store
	ids               idgen.IDGenerator
	stats             stats.StatsProvider
	dir               *directory
	typing            *typingTracker
	convLocks         *keyedMutex
	maxAttachmentSize int64
	registerChan      chan *Client
	deregisterChan    chan *Client
	broadcastChan     chan *ServerMessage
	stop              chan stopReq
	done              chan struct{}
}

func NewChatServer(logger *log.Logger, db database.MessengerRepository, store media.Store, ids idgen.IDGenerator, su stats.StatsProvider, opts Options) (*ChatServer, error) {
	if db == nil || store == nil || ids == nil {
		return nil, errors.New("chat server requires a repository, media store and id generator")
	}

	if su == nil {
		su = stats.NopStats{}
	}
	if opts.MaxAttachmentSize <= 0 {
		opts.MaxAttachmentSize = config.DefaultMaxAttachmentSize
	}
	if opts.TypingTimeout <= 0 {
		opts.TypingTimeout = config.DefaultTypingTimeout
	}

	su.RegisterMetric(stats.NumActiveClients)
	su.RegisterMetric(stats.NumOnlineUsers)
	su.RegisterMetric(stats.MessagesDelivered)
	su.RegisterMetric(stats.ReadReceipts)
	su.RegisterMetric(stats.TypingSignals)

	return &ChatServer{
		log:               logger,
		db:                db,
		media:             store,
		ids:               ids,
		stats:             su,
		dir:               newDirectory(),
		typing:            newTypingTracker(opts.TypingTimeout),
		convLocks:         newKeyedMutex(),
		maxAttachmentSize: opts.MaxAttachmentSize,
		registerChan:      make(chan *Client),
		deregisterChan:    make(chan *Client),
		broadcastChan:     make(chan *ServerMessage, 256),
		stop:              make(chan stopReq),
		done:              make(chan struct{}),
	}, nil
}

func (cs *ChatServer) Run() {
	for {
		select {
		case c := <-cs.registerChan:
			cs.addClient(c)
		case c := <-cs.deregisterChan:
			cs.removeClient(c)
		case msg := <-cs.broadcastChan:
			cs.deliver(msg)
		case req := <-cs.stop:
			cs.log.Println("shutting down chat server")
			for _, c := range cs.dir.all() {
				cs.dir.unregister(c)
				c.stopClient()
			}
			cs.typing.stopAll()

			close(cs.done)
			close(req.done)
			return
		}
	}
}

func (cs *ChatServer) addClient(c *Client) {
	first := cs.dir.register(c)
	cs.stats.Incr(stats.NumActiveClients)
	if first {
		cs.stats.Incr(stats.NumOnlineUsers)
	}
	cs.log.Printf("registered connection %s for %q", c.id, c.user.Username)
}

func (cs *ChatServer) removeClient(c *Client) {
	removed, last := cs.dir.unregister(c)
	if !removed {
		return
	}

	cs.stats.Decr(stats.NumActiveClients)
	if last {
		cs.typing.clearUser(c.user.Id)
		cs.stats.Decr(stats.NumOnlineUsers)
	}
	cs.log.Printf("removed connection %s for %q", c.id, c.user.Username)
}

// deliver queues msg on its target connection, or on every connection of
// its target user.
func (cs *ChatServer) deliver(msg *ServerMessage) {
	if msg.Target != nil {
		msg.Target.queueMessage(msg)
		return
	}

	for _, c := range cs.dir.lookup(msg.UserId) {
		if c == msg.SkipClient {
			continue
		}
		c.queueMessage(msg)
	}
}

// RegisterClient adds c to the directory. It returns false once the server
// has shut down.
func (cs *ChatServer) RegisterClient(c *Client) bool {
	select {
	case cs.registerChan <- c:
		return true
	case <-cs.done:
		return false
	}
}

func (cs *ChatServer) unregisterClient(c *Client) {
	select {
	case cs.deregisterChan <- c:
	case <-cs.done:
	}
}

func (cs *ChatServer) broadcast(msg *ServerMessage) {
	select {
	case cs.broadcastChan <- msg:
	case <-cs.done:
	}
}

// IsOnline reports whether the user has at least one live connection.
func (cs *ChatServer) IsOnline(userId int) bool {
	return cs.dir.online(userId)
}

func (cs *ChatServer) dispatch(ctx context.Context, msg *ClientMessage) {
	switch {
	case msg.Send != nil:
		cs.handleSend(ctx, msg)
	case msg.Typing != nil:
		cs.handleTyping(ctx, msg)
	case msg.Read != nil:
		cs.handleRead(ctx, msg)
	}
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")

	req := stopReq{done: make(chan struct{})}
	select {
	case cs.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

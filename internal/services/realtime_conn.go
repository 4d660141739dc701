package services

import (
	"fmt"
	"log/slog"
	"sync"

	"evetia/internal/status"
	"evetia/models"

	"github.com/pocketbase/pocketbase/tools/subscriptions"
)

// RealtimeConn adapts a PocketBase SSE subscription client to Conn.
// Messages are queued in a bounded outbox and written by a single pump
// goroutine, since subscriptions.Client.Send blocks until the SSE loop
// reads the message.
type RealtimeConn struct {
	client subscriptions.Client
	outbox chan models.Message

	done      chan struct{}
	closeOnce sync.Once
}

func NewRealtimeConn(client subscriptions.Client, outboxSize int) *RealtimeConn {
	if outboxSize <= 0 {
		outboxSize = 64
	}
	c := &RealtimeConn{
		client: client,
		outbox: make(chan models.Message, outboxSize),
		done:   make(chan struct{}),
	}
	go c.pump()
	return c
}

func (c *RealtimeConn) ID() string {
	return c.client.Id()
}

func (c *RealtimeConn) Send(msg models.Message) error {
	select {
	case <-c.done:
		return status.ErrConnClosed
	default:
	}
	if c.client.IsDiscarded() {
		c.Close()
		return status.ErrConnClosed
	}

	select {
	case c.outbox <- msg:
		return nil
	default:
		return status.ErrSlowConsumer
	}
}

// Close stops the pump. Queued messages are discarded.
func (c *RealtimeConn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *RealtimeConn) pump() {
	defer func() {
		// the client channel is closed when PocketBase discards the client
		if r := recover(); r != nil {
			slog.Debug("Realtime pump stopped", "client_id", c.client.Id(), "reason", r)
			c.Close()
		}
	}()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.outbox:
			if c.client.IsDiscarded() {
				c.Close()
				return
			}
			c.client.Send(subscriptions.Message{Name: msg.Kind, Data: msg.Data})
		}
	}
}

// ClientLookup resolves PocketBase realtime client ids.
// *subscriptions.Broker satisfies it.
type ClientLookup interface {
	ClientById(clientId string) (subscriptions.Client, error)
}

// ConnRegistry hands out one RealtimeConn per realtime client id so every
// room and unicast for a client shares a single outbox.
type ConnRegistry struct {
	mu    sync.Mutex
	conns map[string]*RealtimeConn

	clients    ClientLookup
	outboxSize int
}

func NewConnRegistry(clients ClientLookup, outboxSize int) *ConnRegistry {
	return &ConnRegistry{
		conns:      make(map[string]*RealtimeConn),
		clients:    clients,
		outboxSize: outboxSize,
	}
}

// Conn returns the connection for clientID, creating it on first use.
func (r *ConnRegistry) Conn(clientID string) (Conn, error) {
	if clientID == "" {
		return nil, status.Invalid("client_id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if conn, ok := r.conns[clientID]; ok && !conn.closed() {
		return conn, nil
	}

	client, err := r.clients.ClientById(clientID)
	if err != nil || client.IsDiscarded() {
		return nil, fmt.Errorf("%w: %s", status.ErrClientNotFound, clientID)
	}

	conn := NewRealtimeConn(client, r.outboxSize)
	r.conns[clientID] = conn
	return conn, nil
}

// Drop closes and forgets the client's connection.
func (r *ConnRegistry) Drop(clientID string) {
	r.mu.Lock()
	conn, ok := r.conns[clientID]
	delete(r.conns, clientID)
	r.mu.Unlock()

	if ok {
		conn.Close()
	}
}

func (r *ConnRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

func (c *RealtimeConn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

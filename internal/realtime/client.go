package realtime

import (
	"companion-backend/internal/models"
	"companion-backend/internal/services"
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Submitter accepts chat turns arriving over a realtime connection.
type Submitter interface {
	Submit(ctx context.Context, req models.ChatRequest) (*services.TurnHandle, error)
}

// ClientConfig tunes one realtime connection.
type ClientConfig struct {
	PingInterval    time.Duration
	PongWait        time.Duration
	WriteTimeout    time.Duration
	SendBuffer      int
	MaxMessageBytes int64
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.PongWait <= 0 || c.PongWait <= c.PingInterval {
		c.PongWait = c.PingInterval * 3
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 64 << 10
	}
	return c
}

// Client is one websocket connection. It reads inbound frames, joins and
// leaves user channels on the hub, and writes outbound events from a
// buffered queue on its own goroutine.
type Client struct {
	id        string
	conn      *websocket.Conn
	hub       *Hub
	submitter Submitter
	cfg       ClientConfig

	send chan models.OutboundEvent
	done chan struct{}
	once sync.Once

	mu   sync.Mutex
	subs map[string]func()
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, hub *Hub, submitter Submitter, cfg ClientConfig) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		id:        uuid.NewString(),
		conn:      conn,
		hub:       hub,
		submitter: submitter,
		cfg:       cfg,
		send:      make(chan models.OutboundEvent, cfg.SendBuffer),
		done:      make(chan struct{}),
		subs:      make(map[string]func()),
	}
}

// ID identifies the connection.
func (c *Client) ID() string { return c.id }

// Send queues ev for writing. It never blocks: when the queue is full or the
// connection is closing the event is dropped and false is returned.
func (c *Client) Send(ev models.OutboundEvent) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- ev:
		return true
	default:
		log.Printf("WARN [Realtime]: Send queue full for client %s, dropping %s event", c.id, ev.Type)
		return false
	}
}

// Run serves the connection until the peer disconnects or ctx is cancelled.
// All channel subscriptions are released before it returns.
func (c *Client) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := c.writeLoop(ctx); err != nil {
			log.Printf("[Realtime] Writer for client %s stopped: %v", c.id, err)
		}
		// A failed writer must also stop the reader.
		_ = c.conn.Close()
	}()

	c.readLoop(ctx)

	cancel()
	c.close()
	wg.Wait()
	log.Printf("[Realtime] Client %s disconnected", c.id)
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)

		c.mu.Lock()
		subs := c.subs
		c.subs = make(map[string]func())
		c.mu.Unlock()

		for _, unsubscribe := range subs {
			unsubscribe()
		}
	})
}

func (c *Client) readLoop(ctx context.Context) {
	c.conn.SetReadLimit(c.cfg.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("WARN [Realtime]: Read error for client %s: %v", c.id, err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))

		if msgType != websocket.TextMessage {
			c.Send(models.ErrorEvent("", "only text frames are supported"))
			continue
		}

		ev, err := models.DecodeInbound(data)
		if err != nil {
			c.Send(models.ErrorEvent("", err.Error()))
			continue
		}
		c.dispatch(ev)
	}
}

// dispatch routes one validated inbound event.
func (c *Client) dispatch(ev models.InboundEvent) {
	switch ev.Kind {
	case models.InboundJoinConversation:
		c.join(ev.UserID)

	case models.InboundLeaveConversation:
		c.leave(ev.UserID)

	case models.InboundNewMessage:
		// The sender always sees the turn it started.
		c.join(ev.UserID)
		if c.submitter == nil {
			c.Send(models.ErrorEvent(ev.UserID, "chat is unavailable"))
			return
		}
		// The turn outlives this connection; replies reach the channel, not the caller.
		if _, err := c.submitter.Submit(context.Background(), ev.ChatRequest()); err != nil {
			msg := err.Error()
			if !models.IsValidationError(err) && !errors.Is(err, services.ErrQueueFull) {
				msg = "Failed to process message"
			}
			log.Printf("WARN [Realtime]: Rejected message from client %s for user %s: %v", c.id, ev.UserID, err)
			c.Send(models.ErrorEvent(ev.UserID, msg))
		}
	}
}

func (c *Client) join(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return
	default:
	}
	if _, ok := c.subs[userID]; ok {
		return
	}
	c.subs[userID] = c.hub.Subscribe(userID, c)
}

func (c *Client) leave(userID string) {
	c.mu.Lock()
	unsubscribe, ok := c.subs[userID]
	delete(c.subs, userID)
	c.mu.Unlock()

	if ok {
		unsubscribe()
	}
}

func (c *Client) writeLoop(ctx context.Context) error {
	pingTicker := time.NewTicker(c.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return nil

		case <-pingTicker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				return err
			}

		case ev := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteJSON(ev); err != nil {
				return err
			}
		}
	}
}

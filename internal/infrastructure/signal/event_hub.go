package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"localmedia/internal/core/domain"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// HubConfig tunes websocket keepalive and buffering.
type HubConfig struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	SendBuffer     int
	AllowedOrigins []string
}

func DefaultHubConfig() HubConfig {
	return HubConfig{
		PingInterval: 30 * time.Second,
		PongTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
		SendBuffer:   32,
	}
}

// EventHub broadcasts lifecycle events to websocket clients. A client can
// narrow the feed to one controller with the "controller" query parameter.
type EventHub struct {
	cfg      HubConfig
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client
	closed  bool

	logger *zap.SugaredLogger
}

type client struct {
	id         string
	conn       *websocket.Conn
	controller string
	send       chan []byte
	done       chan struct{}
	closeOnce  sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func NewEventHub(cfg HubConfig, logger *zap.SugaredLogger) *EventHub {
	defaults := DefaultHubConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaults.PingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaults.PongTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaults.SendBuffer
	}
	h := &EventHub{
		cfg:     cfg,
		clients: make(map[string]*client),
		logger:  logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *EventHub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Publish queues event for every matching client. Clients whose buffer is
// full are disconnected rather than allowed to stall the publisher.
func (h *EventHub) Publish(ctx context.Context, event *domain.LifecycleEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		if c.controller == "" || c.controller == event.Controller {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- payload:
		case <-c.done:
		default:
			h.logger.Warnw("dropping slow websocket client", "client_id", c.id)
			c.close()
		}
	}
	return ctx.Err()
}

// Clients returns the number of connected clients.
func (h *EventHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *EventHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "event hub closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		id:         uuid.NewString(),
		conn:       conn,
		controller: r.URL.Query().Get("controller"),
		send:       make(chan []byte, h.cfg.SendBuffer),
		done:       make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.logger.Infow("event client connected", "client_id", c.id, "controller", c.controller)

	go h.readPump(c)
	h.writePump(c)

	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	conn.Close()
	h.logger.Infow("event client disconnected", "client_id", c.id)
}

// readPump only services control frames; clients have nothing to say.
func (h *EventHub) readPump(c *client) {
	defer c.close()

	c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Infow("error reading from event client", "client_id", c.id, "error", err)
			}
			return
		}
	}
}

func (h *EventHub) writePump(c *client) {
	pingTicker := time.NewTicker(h.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.logger.Infow("error writing to event client", "client_id", c.id, "error", err)
				c.close()
				return
			}

		case <-pingTicker.C:
			c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Close disconnects every client and refuses new ones.
func (h *EventHub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

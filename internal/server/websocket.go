package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dagbolade/munin-core/internal/auth"
	"github.com/dagbolade/munin-core/internal/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4 * 1024
	sendBuffer     = 256
)

// WSMessage is one event delivered to subscribers, tagged with the session
// that produced it.
type WSMessage struct {
	SessionID string         `json:"session_id"`
	Event     protocol.Event `json:"event"`
}

type Client struct {
	id       string
	conn     *websocket.Conn
	send     chan WSMessage
	hub      *Hub
	closedMu sync.Mutex
	closed   bool
}

// Hub fans events out to every connected websocket client. Slow clients
// are dropped rather than slowing down the publisher.
type Hub struct {
	clients      map[*Client]bool
	broadcast    chan WSMessage
	register     chan *Client
	unregister   chan *Client
	mu           sync.RWMutex
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
}

func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan WSMessage, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
	}
	go h.run()
	return h
}

// Emit queues an event for broadcast. It never blocks; events are dropped
// when the hub is saturated or shut down.
func (h *Hub) Emit(sessionID string, event protocol.Event) {
	if h.ctx.Err() != nil {
		return
	}

	select {
	case h.broadcast <- WSMessage{SessionID: sessionID, Event: event}:
	default:
		log.Warn().Str("session_id", sessionID).Str("event", string(event.Type)).Msg("websocket broadcast buffer full, event dropped")
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Shutdown() {
	h.shutdownOnce.Do(func() {
		log.Info().Msg("shutting down websocket hub")
		h.cancel()

		h.mu.Lock()
		for client := range h.clients {
			delete(h.clients, client)
			client.safeClose()
		}
		h.mu.Unlock()
	})
}

func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			log.Info().Str("client_id", client.id).Int("total", total).Msg("client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			total := len(h.clients)
			h.mu.Unlock()
			log.Info().Str("client_id", client.id).Int("total", total).Msg("client disconnected")

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					log.Warn().Str("client_id", client.id).Msg("client send buffer full, disconnecting")
					h.remove(client)
				}
			}
			h.mu.Unlock()

		case <-h.ctx.Done():
			return
		}
	}
}

// remove must be called with h.mu held.
func (h *Hub) remove(client *Client) {
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.safeClose()
	}
}

func (h *Hub) join(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

func (c *Client) safeClose() {
	c.closedMu.Lock()
	defer c.closedMu.Unlock()

	if c.closed {
		return
	}
	c.closed = true

	close(c.send)
}

// readPump discards inbound frames; it exists to process control frames
// and notice disconnects.
func (c *Client) readPump() {
	defer c.hub.leave(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("client_id", c.id).Msg("websocket read error")
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type WSHandler struct {
	hub      *Hub
	auth     *auth.Manager
	upgrader websocket.Upgrader
}

func NewWSHandler(hub *Hub, authManager *auth.Manager) *WSHandler {
	return &WSHandler{
		hub:  hub,
		auth: authManager,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Auth is handled via token validation
			},
		},
	}
}

// HandleWebSocket subscribes the caller to every event the server produces.
// Browsers cannot set headers on upgrade requests, so the token may also be
// passed as ?token=.
func (h *WSHandler) HandleWebSocket(c echo.Context) error {
	clientID := uuid.NewString()

	if h.auth != nil && h.auth.Required() {
		token := c.QueryParam("token")
		if token == "" {
			token, _ = auth.BearerToken(c.Request())
		}
		if token == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing authentication token")
		}

		principal, err := h.auth.ValidateToken(token)
		if err != nil {
			log.Warn().Err(err).Msg("websocket auth failed")
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}
		clientID = principal.Subject + "-" + clientID
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return err
	}

	client := &Client{
		id:   clientID,
		conn: conn,
		send: make(chan WSMessage, sendBuffer),
		hub:  h.hub,
	}

	if !h.hub.join(client) {
		_ = conn.Close()
		return nil
	}

	go client.writePump()
	go client.readPump()

	return nil
}

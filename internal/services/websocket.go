package services

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/chachabrian/campusride-backend/internal/observability"
	"github.com/chachabrian/campusride-backend/pkg/logger"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// Client is one websocket connection of an authenticated user.
type Client struct {
	UserID uint
	Conn   *websocket.Conn
	Send   chan []byte
	Hub    *Hub
}

// Hub tracks connected clients by user. A user may hold several connections.
type Hub struct {
	upgrader websocket.Upgrader
	log      *logger.Logger

	mutex   sync.RWMutex
	clients map[uint]map[*Client]struct{}
}

// WebSocketMessage is the envelope of every frame sent to clients.
type WebSocketMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// userFrame is what instances exchange over redis to reach users connected elsewhere.
type userFrame struct {
	UserID  uint            `json:"userId"`
	Payload json.RawMessage `json:"payload"`
}

func NewHub(allowedOrigins []string, log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Discard()
	}
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = struct{}{}
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || len(origins) == 0 {
					return true
				}
				_, ok := origins[origin]
				return ok
			},
		},
		log:     log.WithField("component", "websocket"),
		clients: make(map[uint]map[*Client]struct{}),
	}
}

func (h *Hub) register(c *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	set, ok := h.clients[c.UserID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.UserID] = set
	}
	set[c] = struct{}{}
	observability.WebsocketClients.Inc()
	h.log.WithField("userId", c.UserID).Debug("client connected")
}

func (h *Hub) unregister(c *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	set, ok := h.clients[c.UserID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.UserID)
	}
	close(c.Send)
	observability.WebsocketClients.Dec()
	h.log.WithField("userId", c.UserID).Debug("client disconnected")
}

// BroadcastToUser queues message on every connection of userID. Slow clients are
// dropped rather than blocking the caller. Returns the number of connections reached.
func (h *Hub) BroadcastToUser(userID uint, message []byte) int {
	h.mutex.RLock()
	var slow []*Client
	sent := 0
	for c := range h.clients[userID] {
		select {
		case c.Send <- message:
			sent++
		default:
			slow = append(slow, c)
		}
	}
	h.mutex.RUnlock()

	for _, c := range slow {
		h.log.WithField("userId", c.UserID).Warn("dropping slow websocket client")
		h.unregister(c)
	}
	return sent
}

// SendToUser wraps data in a typed envelope and delivers it locally.
func (h *Hub) SendToUser(userID uint, msgType string, data interface{}) error {
	payload, err := json.Marshal(WebSocketMessage{Type: msgType, Data: data})
	if err != nil {
		return err
	}
	h.BroadcastToUser(userID, payload)
	return nil
}

// IsOnline reports whether userID has a connection on this instance.
func (h *Hub) IsOnline(userID uint) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients[userID]) > 0
}

// GetConnectedClients returns the number of open connections.
func (h *Hub) GetConnectedClients() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

// Relay delivers frames published on channel by any instance to local clients until
// ctx is cancelled.
func (h *Hub) Relay(ctx context.Context, client *redis.Client, channel string) {
	sub := client.Subscribe(ctx, channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var frame userFrame
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				h.log.WithError(err).Warn("invalid relay frame")
				continue
			}
			h.BroadcastToUser(frame.UserID, frame.Payload)
		}
	}
}

// PublishToUser sends a typed message to userID through redis so every instance
// delivers it to its own connections.
func PublishToUser(ctx context.Context, client *redis.Client, channel string, userID uint, msgType string, data interface{}) error {
	payload, err := json.Marshal(WebSocketMessage{Type: msgType, Data: data})
	if err != nil {
		return err
	}
	return PublishEvent(ctx, client, channel, userFrame{UserID: userID, Payload: payload})
}

// HandleWebSocket upgrades the request and serves the connection for userID.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request, userID uint) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := &Client{
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, sendBuffer),
		Hub:    h,
	}
	h.register(client)

	go client.writePump()
	go client.readPump()
}

// readPump drains the connection so control frames are processed. Clients do not
// send commands.
func (c *Client) readPump() {
	defer func() {
		c.Hub.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(4096)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.log.WithError(err).WithField("userId", c.UserID).Warn("websocket read error")
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

package handlers

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"github.com/kubelens/kubelens/pkg/api/middleware"
	"github.com/kubelens/kubelens/pkg/observability"
)

// WebSocket message types sent by the server
const (
	MessageAuthenticated     = "authenticated"
	MessageError             = "error"
	MessagePong              = "pong"
	MessageResourcesUpdated  = "resources_updated"
	MessageKubeconfigChanged = "kubeconfig_changed"
)

const wsAuthTimeout = 5 * time.Second

// Message represents a WebSocket message
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Client represents a WebSocket client
type Client struct {
	conn   *websocket.Conn
	userID uuid.UUID
	send   chan []byte
}

// Hub maintains active WebSocket connections
type Hub struct {
	clients    map[*Client]bool
	userIndex  map[uuid.UUID][]*Client
	broadcast  chan broadcastMessage
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	done       chan struct{}
	closeOnce  sync.Once
	jwtSecret  string
	metrics    *observability.Metrics
	logger     *slog.Logger
}

type broadcastMessage struct {
	userID uuid.UUID
	data   []byte
}

// NewHub creates a new Hub. metrics may be nil.
func NewHub(jwtSecret string, metrics *observability.Metrics) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		userIndex:  make(map[uuid.UUID][]*Client),
		broadcast:  make(chan broadcastMessage, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		jwtSecret:  jwtSecret,
		metrics:    metrics,
		logger:     slog.Default().With("component", "websocket"),
	}
}

// Run starts the hub
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.userIndex[client.userID] = append(h.userIndex[client.userID], client)
			h.mu.Unlock()
			if h.metrics != nil {
				h.metrics.WebSocketConnections.Inc()
			}
			h.logger.Debug("client connected", "user", client.userID)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)

				clients := h.userIndex[client.userID]
				for i, c := range clients {
					if c == client {
						h.userIndex[client.userID] = append(clients[:i], clients[i+1:]...)
						break
					}
				}
				if len(h.userIndex[client.userID]) == 0 {
					delete(h.userIndex, client.userID)
				}
				if h.metrics != nil {
					h.metrics.WebSocketConnections.Dec()
				}
			}
			h.mu.Unlock()
			h.logger.Debug("client disconnected", "user", client.userID)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for _, client := range h.userIndex[msg.userID] {
				select {
				case client.send <- msg.data:
				default:
					// Client buffer full, skip
				}
			}
			h.mu.RUnlock()

		case <-h.done:
			return
		}
	}
}

// Close shuts down the hub
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// Broadcast sends a message to all clients of a user
func (h *Hub) Broadcast(userID uuid.UUID, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal message", "type", msg.Type, "error", err)
		return
	}
	select {
	case h.broadcast <- broadcastMessage{userID: userID, data: data}:
	case <-h.done:
	}
}

// Push implements notify.Pusher.
func (h *Hub) Push(userID uuid.UUID, msgType string, data any) {
	h.Broadcast(userID, Message{Type: msgType, Data: data})
}

// BroadcastAll sends a message to all connected clients
func (h *Hub) BroadcastAll(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal message", "type", msg.Type, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			// Client buffer full, skip
		}
	}
}

// GetActiveUsersCount returns the number of unique users with active connections
func (h *Hub) GetActiveUsersCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userIndex)
}

// GetTotalConnectionsCount returns the total number of active WebSocket connections
func (h *Hub) GetTotalConnectionsCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func rejectConn(conn *websocket.Conn, message string) {
	conn.WriteJSON(Message{Type: MessageError, Data: map[string]string{"message": message}})
	conn.Close()
}

// HandleConnection authenticates a new connection with its first message,
// {"type":"auth","token":"<jwt>"}, then relays messages for the user until
// the connection closes. Tokens stay out of URLs and access logs.
func (h *Hub) HandleConnection(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(wsAuthTimeout))

	var authMsg struct {
		Type  string `json:"type"`
		Token string `json:"token"`
	}
	if err := conn.ReadJSON(&authMsg); err != nil {
		h.logger.Warn("failed to read auth message", "error", err)
		rejectConn(conn, "authentication required")
		return
	}
	if authMsg.Type != "auth" || authMsg.Token == "" {
		rejectConn(conn, "authentication required")
		return
	}

	claims, err := middleware.ValidateJWT(authMsg.Token, h.jwtSecret)
	if err != nil {
		h.logger.Warn("rejected connection", "error", err)
		rejectConn(conn, "invalid token")
		return
	}

	conn.WriteJSON(Message{Type: MessageAuthenticated, Data: map[string]string{"status": "connected"}})
	conn.SetReadDeadline(time.Time{})
	h.logger.Info("authenticated connection", "username", claims.Username)

	client := &Client{
		conn:   conn,
		userID: claims.UserID,
		send:   make(chan []byte, 256),
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debug("write failed", "error", err)
				return
			}
		}
	}()

	defer func() {
		select {
		case h.unregister <- client:
		case <-h.done:
		}
		conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn("read failed", "error", err)
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			select {
			case client.send <- []byte(`{"type":"pong"}`):
			default:
			}
		}
	}
}

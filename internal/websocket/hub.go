package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/emotiscan/domain/entities"
	"github.com/satriahrh/emotiscan/internal/metrics"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Commands are small JSON documents.
	maxMessageSize = 4 * 1024

	// Time allowed for a command to reach the detection service.
	commandTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// SessionService is the part of the detection service the hub drives
type SessionService interface {
	Snapshot() entities.DetectionSession
	Subscribe() (<-chan entities.DetectionSession, func())
	ToggleActive(ctx context.Context) (entities.DetectionSession, error)
	SelectModel(ctx context.Context, id entities.ModelID) (entities.DetectionSession, error)
	RequestHealthRecheck(ctx context.Context) entities.HealthState
}

// Hub maintains the set of active clients and broadcasts session snapshots to them.
type Hub struct {
	// Registered clients.
	clients map[string]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Closed when Run returns.
	done chan struct{}

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex

	service   SessionService
	validator *MessageValidator
	metrics   *metrics.Metrics

	logger *zap.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(service SessionService, m *metrics.Metrics, logger *zap.Logger) *Hub {
	if m == nil {
		m = metrics.New()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		service:    service,
		validator:  NewMessageValidator(),
		metrics:    m,
		logger:     logger,
	}
}

// Run starts the hub's main loop and returns when ctx is done
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	updates, unsubscribe := h.service.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.clients {
				delete(h.clients, id)
				close(client.done)
			}
			h.mu.Unlock()
			h.logger.Info("WebSocket hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			h.metrics.WebSocketConnected()
			client.offerSnapshot(encodeSnapshot(h.service.Snapshot()))
			h.logger.Info("Client registered",
				zap.String("clientID", client.id),
				zap.String("operatorID", client.operatorID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.done)
				h.metrics.WebSocketDisconnected()
			}
			h.mu.Unlock()
			h.logger.Info("Client unregistered", zap.String("clientID", client.id))

		case session, ok := <-updates:
			if !ok {
				return
			}
			payload := encodeSnapshot(session)
			h.mu.RLock()
			for _, client := range h.clients {
				client.offerSnapshot(payload)
			}
			h.mu.RUnlock()
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func encodeSnapshot(session entities.DetectionSession) []byte {
	payload, _ := json.Marshal(CreateSessionSnapshotMessage(session))
	return payload
}

type WriteData struct {
	// MessageType is the type of the websocket message.
	// Expect websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of command replies.
	send chan WriteData

	// Latest session snapshot not yet written; older ones are replaced.
	snapshots chan []byte

	// Closed by the hub once the client is unregistered.
	done chan struct{}

	id         string
	operatorID string

	logger *zap.Logger
}

// HandleWebSocket upgrades the request and attaches the client to the hub.
// operatorID identifies the authenticated caller and may be empty when auth is disabled.
func HandleWebSocket(hub *Hub, c echo.Context, operatorID string, logger *zap.Logger) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	if operatorID == "" {
		operatorID = "anonymous"
	}
	client := &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan WriteData, 16),
		snapshots:  make(chan []byte, 1),
		done:       make(chan struct{}),
		id:         uuid.NewString(),
		operatorID: operatorID,
		logger:     logger.With(zap.String("operatorID", operatorID)),
	}

	select {
	case client.hub.register <- client:
	case <-client.hub.done:
		conn.Close()
		return echo.NewHTTPError(http.StatusServiceUnavailable, "websocket hub stopped")
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()

	return nil
}

// offerSnapshot replaces any unsent snapshot with payload. Only the hub goroutine calls it.
func (c *Client) offerSnapshot(payload []byte) {
	select {
	case c.snapshots <- payload:
		return
	default:
	}
	select {
	case <-c.snapshots:
	default:
	}
	select {
	case c.snapshots <- payload:
	default:
	}
}

// readPump pumps commands from the websocket connection to the detection service.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}

		switch messageType {
		case websocket.TextMessage:
			c.processMessage(message)
		default:
			c.logger.Warn("Received unsupported message type", zap.Int("type", messageType))
			c.reply(CreateErrorMessage("unsupported_frame", "only JSON text messages are accepted", ""))
		}
	}
}

// writePump pumps replies and snapshots to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case payload := <-c.snapshots:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Error("Failed to write snapshot", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// processMessage validates a command and runs it against the detection service
func (c *Client) processMessage(message []byte) {
	msg, err := c.hub.validator.ValidateMessage(message)
	if err != nil {
		c.logger.Warn("Rejected websocket message", zap.Error(err))
		c.reply(CreateErrorMessage("invalid_message", "message rejected", err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	switch msg := msg.(type) {
	case *PingMessage:
		c.reply(CreatePongMessage(msg.Data))

	case *ToggleMessage:
		session, err := c.hub.service.ToggleActive(ctx)
		result := CreateCommandResultMessage(MessageTypeToggle, msg.MessageID, err)
		if err == nil {
			result.Session = &session
		}
		c.logger.Info("Toggle requested", zap.Bool("active", session.Active), zap.Error(err))
		c.reply(result)

	case *SelectModelMessage:
		session, err := c.hub.service.SelectModel(ctx, msg.Model)
		result := CreateCommandResultMessage(MessageTypeSelectModel, msg.MessageID, err)
		if err == nil {
			result.Session = &session
		}
		c.logger.Info("Model selection requested", zap.String("model", string(msg.Model)), zap.Error(err))
		c.reply(result)

	case *RecheckHealthMessage:
		state := c.hub.service.RequestHealthRecheck(ctx)
		result := CreateCommandResultMessage(MessageTypeRecheckHealth, msg.MessageID, nil)
		result.Health = state
		c.reply(result)
	}
}

// reply queues a message for this client, dropping it if the client is not keeping up
func (c *Client) reply(v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to encode reply", zap.Error(err))
		return
	}

	select {
	case <-c.done:
		c.logger.Debug("Dropping reply for closed client")
		return
	default:
	}

	select {
	case c.send <- WriteData{Type: websocket.TextMessage, Payload: payload}:
	case <-c.done:
		c.logger.Debug("Dropping reply for closed client")
	default:
		c.logger.Warn("Dropping reply, client send buffer full")
	}
}

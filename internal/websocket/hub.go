package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"depotwatch-backend/internal/models"
	"depotwatch-backend/internal/notify"
)

// Hub maintains active WebSocket connections and broadcasts messages
type Hub struct {
	// Registered clients keyed by clientKey(companyID, userID)
	clients map[string]*Client

	// Direct messages for a single user
	broadcast chan *Message

	// Closed when Run returns
	done    chan struct{}
	stopped bool

	logger *zap.Logger

	// Guards clients; closing a client's send channel requires the write lock
	mu sync.RWMutex
}

// Message represents a message to broadcast to a specific user of a company
type Message struct {
	CompanyID string
	UserID    string
	Data      interface{}
}

func clientKey(companyID, userID string) string {
	return companyID + ":" + userID
}

// Envelope is the frame shape sent to browsers and devices
type Envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// NewHub creates a new Hub instance
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:   make(map[string]*Client),
		broadcast: make(chan *Message, 256),
		done:      make(chan struct{}),
		logger:    logger,
	}
}

// Run starts the hub's main loop and returns when ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		h.mu.Lock()
		for key, client := range h.clients {
			close(client.send)
			delete(h.clients, key)
		}
		h.stopped = true
		h.mu.Unlock()
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case message := <-h.broadcast:
			data, err := json.Marshal(message.Data)
			if err != nil {
				h.logger.Error("❌ Failed to marshal message", zap.Error(err))
				continue
			}
			key := clientKey(message.CompanyID, message.UserID)
			h.mu.Lock()
			if client, ok := h.clients[key]; ok {
				select {
				case client.send <- data:
				default:
					// Client buffer full, disconnect
					close(client.send)
					delete(h.clients, key)
					h.logger.Warn("⚠️ Client buffer full, disconnecting", zap.String("user_id", message.UserID))
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register adds a client, replacing an older connection of the same user.
// False means the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return false
	}
	key := client.key()
	if previous, ok := h.clients[key]; ok && previous != client {
		close(previous.send)
	}
	h.clients[key] = client
	h.logger.Info("✅ [WEBSOCKET] Client connected",
		zap.String("user_id", client.UserID),
		zap.String("company_id", client.CompanyID),
		zap.String("role", client.UserRole),
		zap.Int("clients", len(h.clients)))
	return true
}

// Unregister removes client unless a newer connection already replaced it
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := client.key()
	if current, ok := h.clients[key]; ok && current == client {
		delete(h.clients, key)
		close(client.send)
		h.logger.Info("🔴 [WEBSOCKET] Client disconnected",
			zap.String("user_id", client.UserID),
			zap.String("role", client.UserRole),
			zap.Int("clients", len(h.clients)))
	}
}

// BroadcastToUser sends a message to one user of a company
func (h *Hub) BroadcastToUser(ctx context.Context, companyID, userID string, data interface{}) error {
	select {
	case h.broadcast <- &Message{CompanyID: companyID, UserID: userID, Data: data}:
		return nil
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BroadcastToCompanyRole sends data to every connected user of one company with
// the given role and returns how many clients received it. Admins receive
// dispatcher traffic. Clients with a full buffer are skipped.
func (h *Hub) BroadcastToCompanyRole(companyID, role string, data interface{}) (int, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return 0, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for _, client := range h.clients {
		if client.CompanyID != companyID || !roleMatches(client.UserRole, role) {
			continue
		}
		select {
		case client.send <- dataBytes:
			sent++
		default:
			h.logger.Warn("⚠️ Client buffer full, skipping", zap.String("user_id", client.UserID))
		}
	}
	return sent, nil
}

func roleMatches(clientRole, target string) bool {
	return clientRole == target || (target == models.RoleDispatcher && clientRole == models.RoleAdmin)
}

// Notify pushes an engine event to the live dashboards of the company. Shift
// events are also sent to the driver they concern.
func (h *Hub) Notify(ctx context.Context, companyID, recipientRole string, event notify.Event) error {
	frame := Envelope{Type: event.Type, Data: event}
	if _, err := h.BroadcastToCompanyRole(companyID, recipientRole, frame); err != nil {
		return err
	}

	switch event.Type {
	case notify.EventTimesheetOpened, notify.EventTimesheetClosed:
		if event.DriverID != "" {
			return h.BroadcastToUser(ctx, companyID, event.DriverID, frame)
		}
	}
	return nil
}

func (h *Hub) Name() string { return "websocket" }

// deliver sends a frame to one registered client without blocking
func (h *Hub) deliver(client *Client, data []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if current, ok := h.clients[client.key()]; !ok || current != client {
		return false
	}
	select {
	case client.send <- data:
		return true
	default:
		return false
	}
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// IsUserConnected checks if a user of the company is currently connected
func (h *Hub) IsUserConnected(companyID, userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[clientKey(companyID, userID)]
	return ok
}

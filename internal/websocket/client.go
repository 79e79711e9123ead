package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"depotwatch-backend/internal/engine"
	"depotwatch-backend/internal/models"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 2048

	// Upper bound for evaluating one location_update
	ingestTimeout = 15 * time.Second
)

// PingSubmitter ingests one driver ping
type PingSubmitter interface {
	SubmitPing(ctx context.Context, in models.PingInput) (*models.LocationPing, error)
}

// Client represents a WebSocket client connection
type Client struct {
	UserID    string
	CompanyID string
	UserRole  string // "driver", "dispatcher" or "admin"
	conn      *websocket.Conn
	hub       *Hub
	send      chan []byte
	ingest    PingSubmitter
	logger    *zap.Logger
}

// IncomingMessage represents a message from the client
type IncomingMessage struct {
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewClient creates a new WebSocket client
func NewClient(userID, companyID, userRole string, conn *websocket.Conn, hub *Hub, ingest PingSubmitter, logger *zap.Logger) *Client {
	return &Client{
		UserID:    userID,
		CompanyID: companyID,
		UserRole:  userRole,
		conn:      conn,
		hub:       hub,
		send:      make(chan []byte, 256),
		ingest:    ingest,
		logger:    logger.With(zap.String("user_id", userID), zap.String("company_id", companyID)),
	}
}

func (c *Client) key() string {
	return clientKey(c.CompanyID, c.UserID)
}

// ReadPump pumps messages from the WebSocket connection to the hub
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket error", zap.Error(err))
			}
			break
		}

		var msg IncomingMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.logger.Debug("Invalid message format", zap.Error(err))
			continue
		}

		switch msg.Type {
		case "ping":
			c.reply(Envelope{Type: "pong", Data: map[string]string{"timestamp": time.Now().Format(time.RFC3339)}})

		case "location_update":
			c.reply(c.handleLocationUpdate(msg.Data))
		}
	}
}

// WritePump pumps messages from the hub to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// handleLocationUpdate runs a ping received over the socket through the engine
func (c *Client) handleLocationUpdate(data json.RawMessage) Envelope {
	if c.UserRole != models.RoleDriver {
		return locationError("only drivers may send location updates")
	}

	var in models.PingInput
	if err := json.Unmarshal(data, &in); err != nil {
		return locationError("invalid location payload")
	}
	in.CompanyID = c.CompanyID
	in.DriverID = c.UserID

	ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
	defer cancel()

	ping, err := c.ingest.SubmitPing(ctx, in)
	if err != nil {
		if engine.IsValidation(err) {
			return locationError(err.Error())
		}
		c.logger.Error("❌ Failed to ingest location_update", zap.Error(err))
		return locationError("failed to process location")
	}

	c.logger.Debug("📍 location_update ingested", zap.Int64("timestamp", ping.Timestamp))
	return Envelope{Type: "location_ack", Data: map[string]interface{}{
		"id":        ping.ID,
		"timestamp": ping.Timestamp,
	}}
}

func locationError(message string) Envelope {
	return Envelope{Type: "location_error", Data: map[string]string{"error": message}}
}

func (c *Client) reply(frame Envelope) {
	data, err := json.Marshal(frame)
	if err != nil {
		c.logger.Error("❌ Failed to marshal reply", zap.Error(err))
		return
	}
	if !c.hub.deliver(c, data) {
		c.logger.Debug("⚠️ Reply dropped", zap.String("type", frame.Type))
	}
}

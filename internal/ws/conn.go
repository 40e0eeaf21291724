package ws

import (
	"context"
	"errors"
	"time"

	"vendorbox/internal/auth"
	"vendorbox/internal/codec"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	writeWait  = 10 * time.Second
)

// Conn is one websocket client
type Conn struct {
	ws        *websocket.Conn
	send      chan []byte
	hub       *Hub
	principal auth.Principal
	subs      map[string]bool // only touched under hub.mu
	ctx       context.Context
}

type clientMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	Cursor  string `json:"cursor"`
	Since   string `json:"since"`
}

func NewConn(ctx context.Context, ws *websocket.Conn, hub *Hub, p auth.Principal) *Conn {
	return &Conn{
		ws:        ws,
		send:      make(chan []byte, 256),
		hub:       hub,
		principal: p,
		subs:      make(map[string]bool),
		ctx:       ctx,
	}
}

// ReadPump handles reading from the WebSocket connection
func (c *Conn) ReadPump() {
	defer func() {
		c.hub.unregister(c)
		c.ws.Close()
	}()

	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Error("WebSocket error", zap.Error(err))
			}
			return
		}

		var msg clientMessage
		if err := codec.Unmarshal(message, &msg); err != nil {
			c.hub.log.Warn("Failed to parse message", zap.Error(err))
			c.sendError("", "malformed message")
			continue
		}
		c.handleMessage(msg)
	}
}

// WritePump handles writing to the WebSocket connection
func (c *Conn) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Conn) handleMessage(msg clientMessage) {
	switch msg.Type {
	case "subscribe":
		if msg.Channel == "" {
			c.sendError("", "channel required")
			return
		}
		if err := c.hub.Subscribe(c, msg.Channel); err != nil {
			if errors.Is(err, ErrForbidden) {
				c.sendError(msg.Channel, "forbidden")
			}
			return
		}
		c.sendAck("subscribed", msg.Channel)
	case "unsubscribe":
		if msg.Channel != "" {
			c.hub.Unsubscribe(c, msg.Channel)
			c.sendAck("unsubscribed", msg.Channel)
		}
	case "ack":
		if msg.Channel != "" && msg.Cursor != "" {
			c.hub.Acknowledge(c.ctx, c, msg.Channel, msg.Cursor)
		}
	case "resume":
		if msg.Channel != "" {
			c.hub.Resume(c.ctx, c, msg.Channel, msg.Since)
		}
	case "ping":
		c.sendAck("pong", "")
	default:
		c.hub.log.Warn("Unknown message type", zap.String("type", msg.Type))
		c.sendError("", "unknown message type")
	}
}

func (c *Conn) sendAck(kind, channel string) {
	ack := map[string]interface{}{
		"type": "ack",
		"ack":  kind,
	}
	if channel != "" {
		ack["channel"] = channel
	}
	msg, _ := codec.Marshal(ack)
	c.hub.deliver(c, msg)
}

func (c *Conn) sendError(channel, message string) {
	e := map[string]interface{}{
		"type":    "error",
		"message": message,
	}
	if channel != "" {
		e["channel"] = channel
	}
	msg, _ := codec.Marshal(e)
	c.hub.deliver(c, msg)
}

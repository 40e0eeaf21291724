package ws

import (
	"context"
	"errors"
	"strings"
	"sync"

	"vendorbox/internal/auth"
	"vendorbox/internal/codec"
	"vendorbox/internal/model"
	"vendorbox/internal/pubsub"

	"go.uber.org/zap"
)

const replayLimit = 100

var (
	ErrForbidden = errors.New("channel not permitted")
	ErrClosed    = errors.New("connection closed")
)

// Journal replays events a connection missed
type Journal interface {
	Since(ctx context.Context, channel, cursor string, limit int64) ([]pubsub.Entry, error)
	Ack(ctx context.Context, channel, consumer, cursor string) error
	LastAck(ctx context.Context, channel, consumer string) (string, error)
}

// Hub manages WebSocket connections and channel subscriptions
type Hub struct {
	mu      sync.RWMutex
	conns   map[*Conn]bool
	subs    map[string]map[*Conn]bool // channel -> connections
	publish chan Event
	log     *zap.Logger
	journal Journal
}

// Event is a message queued for fan-out
type Event struct {
	Channel string
	Message map[string]interface{}
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		conns:   make(map[*Conn]bool),
		subs:    make(map[string]map[*Conn]bool),
		publish: make(chan Event, 256),
		log:     log,
	}
}

// SetJournal enables ack and resume
func (h *Hub) SetJournal(j Journal) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.journal = j
}

// CanSubscribe reports whether a principal may listen on a channel.
// Admins see everything, vendors only their own vendor channel.
func CanSubscribe(p auth.Principal, channel string) bool {
	switch p.Role {
	case model.RoleAdmin:
		return true
	case model.RoleVendor:
		return p.VendorID != "" && channel == pubsub.VendorChannel(p.VendorID)
	default:
		return false
	}
}

// Run fans out published events until ctx is done
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case event := <-h.publish:
			h.broadcast(event)
		}
	}
}

func (h *Hub) broadcast(event Event) {
	msg, err := codec.Marshal(map[string]interface{}{
		"type":    "event",
		"channel": event.Channel,
		"cursor":  event.Message["cursor"],
		"data":    event.Message,
	})
	if err != nil {
		h.log.Error("Failed to marshal event", zap.String("channel", event.Channel), zap.Error(err))
		return
	}

	var slow []*Conn
	h.mu.RLock()
	for conn := range h.subs[event.Channel] {
		select {
		case conn.send <- msg:
		default:
			slow = append(slow, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range slow {
		h.log.Warn("Dropping slow connection", zap.String("user", conn.principal.UserID))
		h.unregister(conn)
	}
}

// Register adds a new connection to the hub
func (h *Hub) Register(conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = true
}

func (h *Hub) unregister(conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[conn]; !ok {
		return
	}
	delete(h.conns, conn)
	close(conn.send)
	for channel := range conn.subs {
		h.removeSub(conn, channel)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		close(conn.send)
	}
	h.conns = make(map[*Conn]bool)
	h.subs = make(map[string]map[*Conn]bool)
}

// removeSub expects h.mu to be held
func (h *Hub) removeSub(conn *Conn, channel string) {
	if subs := h.subs[channel]; subs != nil {
		delete(subs, conn)
		if len(subs) == 0 {
			delete(h.subs, channel)
		}
	}
}

// Subscribe adds a connection to a channel
func (h *Hub) Subscribe(conn *Conn, channel string) error {
	if !CanSubscribe(conn.principal, channel) {
		return ErrForbidden
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.conns[conn] {
		return ErrClosed
	}
	if h.subs[channel] == nil {
		h.subs[channel] = make(map[*Conn]bool)
	}
	h.subs[channel][conn] = true
	conn.subs[channel] = true
	return nil
}

func (h *Hub) Unsubscribe(conn *Conn, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeSub(conn, channel)
	delete(conn.subs, channel)
}

// Publish queues an event for all subscribers of a channel
func (h *Hub) Publish(channel string, message map[string]interface{}) {
	select {
	case h.publish <- Event{Channel: channel, Message: message}:
	default:
		h.log.Warn("Hub publish channel full, dropping event", zap.String("channel", channel))
	}
}

// Subscribers returns the number of connections on a channel
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channel])
}

// deliver sends to a registered connection without blocking
func (h *Hub) deliver(conn *Conn, msg []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.conns[conn] {
		return false
	}
	select {
	case conn.send <- msg:
		return true
	default:
		return false
	}
}

// Acknowledge records the last cursor a user has processed
func (h *Hub) Acknowledge(ctx context.Context, conn *Conn, channel, cursor string) {
	h.mu.RLock()
	j := h.journal
	h.mu.RUnlock()
	if j == nil {
		return
	}
	if err := j.Ack(ctx, channel, conn.principal.UserID, cursor); err != nil {
		h.log.Warn("Failed to acknowledge cursor",
			zap.String("channel", channel),
			zap.String("cursor", cursor),
			zap.Error(err),
		)
	}
}

// Resume replays events after since, or after the user's last ack when
// since is empty
func (h *Hub) Resume(ctx context.Context, conn *Conn, channel, since string) {
	h.mu.RLock()
	j := h.journal
	h.mu.RUnlock()
	if j == nil {
		conn.sendError(channel, "replay unavailable")
		return
	}
	if !CanSubscribe(conn.principal, channel) {
		conn.sendError(channel, "forbidden")
		return
	}

	since = strings.TrimSpace(since)
	if since == "" {
		last, err := j.LastAck(ctx, channel, conn.principal.UserID)
		if err != nil {
			h.log.Error("Failed to load last ack", zap.String("channel", channel), zap.Error(err))
			conn.sendError(channel, "replay failed")
			return
		}
		since = last
	}

	entries, err := j.Since(ctx, channel, since, replayLimit)
	if err != nil {
		h.log.Error("Failed to replay events",
			zap.String("channel", channel),
			zap.String("since", since),
			zap.Error(err),
		)
		conn.sendError(channel, "replay failed")
		return
	}

	for _, e := range entries {
		msg, _ := codec.Marshal(map[string]interface{}{
			"type":    "event",
			"channel": e.Channel,
			"cursor":  e.Cursor,
			"replay":  true,
			"data":    e.Event,
		})
		if !h.deliver(conn, msg) {
			h.log.Warn("Failed to send replayed event, connection buffer full")
			return
		}
	}

	h.log.Info("Resumed events",
		zap.String("channel", channel),
		zap.String("user", conn.principal.UserID),
		zap.String("since", since),
		zap.Int("count", len(entries)),
	)
}

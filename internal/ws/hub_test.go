package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"vendorbox/internal/auth"
	"vendorbox/internal/codec"
	"vendorbox/internal/model"
	"vendorbox/internal/pubsub"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeJournal struct {
	mu      sync.Mutex
	entries []pubsub.Entry
	acks    map[string]string
}

func (f *fakeJournal) Since(ctx context.Context, channel, cursor string, limit int64) ([]pubsub.Entry, error) {
	var out []pubsub.Entry
	for _, e := range f.entries {
		if e.Channel == channel && e.Cursor > cursor {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeJournal) Ack(ctx context.Context, channel, consumer, cursor string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks[channel+"|"+consumer] = cursor
	return nil
}

func (f *fakeJournal) LastAck(ctx context.Context, channel, consumer string) (string, error) {
	return f.ack(channel, consumer), nil
}

func (f *fakeJournal) ack(channel, consumer string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acks[channel+"|"+consumer]
}

func startHub(t *testing.T, p auth.Principal) (*Hub, *websocket.Conn) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(zap.NewNop())
	go hub.Run(ctx)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := NewConn(ctx, c, hub, p)
		hub.Register(conn)
		go conn.WritePump()
		go conn.ReadPump()
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return hub, client
}

func send(t *testing.T, c *websocket.Conn, msg map[string]interface{}) {
	t.Helper()
	data, err := codec.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, c.WriteMessage(websocket.TextMessage, data))
}

func read(t *testing.T, c *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := c.ReadMessage()
	require.NoError(t, err)
	var msg map[string]interface{}
	require.NoError(t, codec.Unmarshal(data, &msg))
	return msg
}

func TestHub_AdminReceivesEvents(t *testing.T) {
	hub, client := startHub(t, auth.Principal{UserID: "admin-1", Role: model.RoleAdmin})

	send(t, client, map[string]interface{}{"type": "subscribe", "channel": pubsub.AdminChannel})
	ack := read(t, client)
	assert.Equal(t, "subscribed", ack["ack"])
	assert.Equal(t, 1, hub.Subscribers(pubsub.AdminChannel))

	hub.Publish(pubsub.AdminChannel, map[string]interface{}{"type": "editrequest.submitted", "id": "r1"})
	hub.Publish("vendor:other", map[string]interface{}{"type": "ignored"})

	msg := read(t, client)
	assert.Equal(t, "event", msg["type"])
	assert.Equal(t, pubsub.AdminChannel, msg["channel"])
	data := msg["data"].(map[string]interface{})
	assert.Equal(t, "editrequest.submitted", data["type"])

	send(t, client, map[string]interface{}{"type": "ping"})
	assert.Equal(t, "pong", read(t, client)["ack"])
}

func TestHub_VendorRestrictedToOwnChannel(t *testing.T) {
	hub, client := startHub(t, auth.Principal{UserID: "u9", Role: model.RoleVendor, VendorID: "v9"})

	send(t, client, map[string]interface{}{"type": "subscribe", "channel": pubsub.AdminChannel})
	msg := read(t, client)
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, 0, hub.Subscribers(pubsub.AdminChannel))

	send(t, client, map[string]interface{}{"type": "subscribe", "channel": pubsub.VendorChannel("v9")})
	assert.Equal(t, "subscribed", read(t, client)["ack"])
}

func TestHub_ResumeFromLastAck(t *testing.T) {
	hub, client := startHub(t, auth.Principal{UserID: "admin-1", Role: model.RoleAdmin})
	journal := &fakeJournal{
		entries: []pubsub.Entry{
			{Cursor: "1-0", Channel: pubsub.AdminChannel, Event: map[string]interface{}{"n": 1}},
			{Cursor: "2-0", Channel: pubsub.AdminChannel, Event: map[string]interface{}{"n": 2}},
			{Cursor: "3-0", Channel: pubsub.AdminChannel, Event: map[string]interface{}{"n": 3}},
		},
		acks: map[string]string{},
	}
	hub.SetJournal(journal)

	send(t, client, map[string]interface{}{"type": "ack", "channel": pubsub.AdminChannel, "cursor": "1-0"})
	send(t, client, map[string]interface{}{"type": "resume", "channel": pubsub.AdminChannel})

	first := read(t, client)
	assert.Equal(t, "2-0", first["cursor"])
	assert.Equal(t, true, first["replay"])
	assert.Equal(t, "3-0", read(t, client)["cursor"])
	assert.Equal(t, "1-0", journal.ack(pubsub.AdminChannel, "admin-1"))
}

func TestHub_ResumeWithoutJournal(t *testing.T) {
	_, client := startHub(t, auth.Principal{UserID: "admin-1", Role: model.RoleAdmin})
	send(t, client, map[string]interface{}{"type": "resume", "channel": pubsub.AdminChannel, "since": "1-0"})
	msg := read(t, client)
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, "replay unavailable", msg["message"])
}

func TestCanSubscribe(t *testing.T) {
	admin := auth.Principal{UserID: "a", Role: model.RoleAdmin}
	vendor := auth.Principal{UserID: "u", Role: model.RoleVendor, VendorID: "v1"}
	agent := auth.Principal{UserID: "g", Role: model.RoleAgent}

	assert.True(t, CanSubscribe(admin, "editrequest:r1"))
	assert.True(t, CanSubscribe(vendor, "vendor:v1"))
	assert.False(t, CanSubscribe(vendor, "vendor:v2"))
	assert.False(t, CanSubscribe(auth.Principal{Role: model.RoleVendor}, "vendor:"))
	assert.False(t, CanSubscribe(agent, pubsub.AdminChannel))
}

package pubsub

import (
	"context"
	"time"

	"vendorbox/internal/codec"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	AdminChannel      = "admin"
	vendorPrefix      = "vendor:"
	editRequestPrefix = "editrequest:"
)

func VendorChannel(vendorID string) string       { return vendorPrefix + vendorID }
func EditRequestChannel(requestID string) string { return editRequestPrefix + requestID }

// Hub receives every published event for local websocket fan-out
type Hub interface {
	Publish(channel string, message map[string]interface{})
}

// Recorder counts published events
type Recorder interface {
	EventPublished(channel string)
}

// Bus publishes live events to Redis pub/sub, records them in the
// replay journal and forwards them to the local websocket hub. A Bus
// without a Redis client only forwards to the hub.
type Bus struct {
	rdb      *redis.Client
	log      *zap.Logger
	ctx      context.Context
	hub      Hub
	journal  *Journal
	recorder Recorder
}

func New(rdb *redis.Client, log *zap.Logger) *Bus {
	b := &Bus{
		rdb: rdb,
		log: log,
		ctx: context.Background(),
	}
	if rdb != nil {
		b.journal = NewJournal(rdb, log, DefaultJournalLength)
	}
	return b
}

// SetHub sets the websocket hub for event broadcasting
func (b *Bus) SetHub(hub Hub) {
	b.hub = hub
}

func (b *Bus) SetRecorder(r Recorder) {
	b.recorder = r
}

// Journal returns the replay journal, nil when running without Redis
func (b *Bus) Journal() *Journal {
	return b.journal
}

func (b *Bus) PublishAdmin(event map[string]interface{}) error {
	return b.Publish(AdminChannel, event)
}

func (b *Bus) PublishVendor(vendorID string, event map[string]interface{}) error {
	return b.Publish(VendorChannel(vendorID), event)
}

func (b *Bus) PublishEditRequest(requestID string, event map[string]interface{}) error {
	return b.Publish(EditRequestChannel(requestID), event)
}

// Publish publishes an event to a channel
func (b *Bus) Publish(channel string, event map[string]interface{}) error {
	out := make(map[string]interface{}, len(event)+3)
	for k, v := range event {
		out[k] = v
	}
	out["channel"] = channel
	if _, ok := out["at"]; !ok {
		out["at"] = time.Now().UTC().Format(time.RFC3339Nano)
	}

	// A failed Redis publish still reaches local subscribers; the error is
	// returned once they have it.
	var pubErr error
	if b.rdb != nil {
		pubErr = b.publishRemote(channel, out)
	}

	if b.hub != nil {
		b.hub.Publish(channel, out)
	}
	if b.recorder != nil {
		b.recorder.EventPublished(channel)
	}
	if pubErr != nil {
		return pubErr
	}

	b.log.Debug("Published event", zap.String("channel", channel), zap.Any("type", out["type"]))
	return nil
}

// publishRemote sends the event to Redis and appends it to the journal,
// setting its cursor
func (b *Bus) publishRemote(channel string, out map[string]interface{}) error {
	data, err := codec.Marshal(out)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(b.ctx, channel, data).Err(); err != nil {
		b.log.Error("Failed to publish event", zap.String("channel", channel), zap.Error(err))
		return err
	}
	cursor, err := b.journal.Append(b.ctx, channel, out)
	if err != nil {
		// live delivery still goes out, only replay is lost
		b.log.Warn("Failed to append event to journal", zap.String("channel", channel), zap.Error(err))
		return nil
	}
	out["cursor"] = cursor
	return nil
}

package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"vendorbox/internal/codec"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultJournalLength = 1000
	ackTTL               = 24 * time.Hour
)

// Entry is one journaled event. Cursor is the Redis stream id and is
// what clients hand back to resume after it.
type Entry struct {
	Cursor  string
	Channel string
	Event   map[string]interface{}
	At      time.Time
}

// Journal keeps a capped Redis Stream per channel so admin consoles can
// catch up on events missed while disconnected.
type Journal struct {
	rdb    *redis.Client
	log    *zap.Logger
	maxLen int64
}

func NewJournal(rdb *redis.Client, log *zap.Logger, maxLen int64) *Journal {
	if maxLen <= 0 {
		maxLen = DefaultJournalLength
	}
	return &Journal{rdb: rdb, log: log, maxLen: maxLen}
}

func streamKey(channel string) string {
	return "vendorbox:stream:" + channel
}

func ackKey(channel, consumer string) string {
	return "vendorbox:ack:" + channel + ":" + consumer
}

// Append adds an event and returns its cursor
func (j *Journal) Append(ctx context.Context, channel string, event map[string]interface{}) (string, error) {
	data, err := codec.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event: %w", err)
	}
	id, err := j.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(channel),
		MaxLen: j.maxLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{"data": string(data)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to add to stream: %w", err)
	}
	return id, nil
}

// Since returns up to limit events strictly after cursor, oldest first.
// An empty cursor replays from the start of the retained window.
func (j *Journal) Since(ctx context.Context, channel, cursor string, limit int64) ([]Entry, error) {
	start := "-"
	if cursor != "" {
		if _, err := cursorTime(cursor); err != nil {
			return nil, err
		}
		start = "(" + cursor
	}
	msgs, err := j.rdb.XRangeN(ctx, streamKey(channel), start, "+", limit).Result()
	if errors.Is(err, redis.Nil) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}

	entries := make([]Entry, 0, len(msgs))
	for _, msg := range msgs {
		data, ok := msg.Values["data"].(string)
		if !ok {
			continue
		}
		var event map[string]interface{}
		if err := codec.Unmarshal([]byte(data), &event); err != nil {
			j.log.Warn("Failed to unmarshal journaled event", zap.String("cursor", msg.ID), zap.Error(err))
			continue
		}
		at, _ := cursorTime(msg.ID)
		event["cursor"] = msg.ID
		entries = append(entries, Entry{Cursor: msg.ID, Channel: channel, Event: event, At: at})
	}
	return entries, nil
}

// Ack records the last cursor a consumer has processed on a channel
func (j *Journal) Ack(ctx context.Context, channel, consumer, cursor string) error {
	if _, err := cursorTime(cursor); err != nil {
		return err
	}
	if err := j.rdb.Set(ctx, ackKey(channel, consumer), cursor, ackTTL).Err(); err != nil {
		return fmt.Errorf("failed to acknowledge cursor: %w", err)
	}
	return nil
}

// LastAck returns the consumer's last acknowledged cursor, "" if none
func (j *Journal) LastAck(ctx context.Context, channel, consumer string) (string, error) {
	cursor, err := j.rdb.Get(ctx, ackKey(channel, consumer)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get last ack: %w", err)
	}
	return cursor, nil
}

// cursorTime parses the millisecond part of a stream id
func cursorTime(cursor string) (time.Time, error) {
	ms, seq, ok := strings.Cut(cursor, "-")
	if !ok {
		return time.Time{}, fmt.Errorf("invalid cursor %q", cursor)
	}
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cursor %q", cursor)
	}
	if _, err := strconv.ParseUint(seq, 10, 64); err != nil {
		return time.Time{}, fmt.Errorf("invalid cursor %q", cursor)
	}
	return time.UnixMilli(n).UTC(), nil
}

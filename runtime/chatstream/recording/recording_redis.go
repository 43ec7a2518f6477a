package recording

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"goa.design/chatstream/runtime/chatstream/event"
	"goa.design/chatstream/runtime/chatstream/message"
)

// commands is the subset of go-redis operations the store uses. *redis.Client
// satisfies it; tests substitute a fake so no server is needed.
type commands interface {
	RPush(ctx context.Context, key string, values ...any) *redis.IntCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

type (
	// RedisStore implements Store on Redis: one list of JSON-encoded entries
	// per recording, plus a string key holding the finalized conversation.
	// Entries survive process restarts, which is what makes captured runs
	// usable as replay fixtures across sessions.
	RedisStore struct {
		rdb       commands
		keyPrefix string
		ttl       time.Duration
	}

	// RedisOptions configures a RedisStore.
	RedisOptions struct {
		// Client is the Redis client. Required.
		Client *redis.Client
		// KeyPrefix namespaces this store's keys. Defaults to
		// "chatstream:recording".
		KeyPrefix string
		// TTL, when positive, expires a recording's keys that long after
		// the last append or finalize. Zero means no expiry.
		TTL time.Duration
	}

	wireEntry struct {
		Seq   int64           `json:"seq"`
		At    time.Time       `json:"at"`
		Event json.RawMessage `json:"event"`
	}

	wireFinal struct {
		Messages []json.RawMessage `json:"messages"`
	}
)

const defaultKeyPrefix = "chatstream:recording"

// NewRedisStore returns a Store backed by the given Redis client.
func NewRedisStore(opts RedisOptions) (*RedisStore, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{rdb: opts.Client, keyPrefix: prefix, ttl: opts.TTL}, nil
}

func (s *RedisStore) entriesKey(recordingID string) string {
	return s.keyPrefix + ":" + recordingID + ":entries"
}

func (s *RedisStore) finalKey(recordingID string) string {
	return s.keyPrefix + ":" + recordingID + ":final"
}

// Append implements Store. The entry's sequence number is the length of the
// Redis list after the push, so sequence assignment is atomic even with
// concurrent appenders.
func (s *RedisStore) Append(ctx context.Context, recordingID string, e Entry) error {
	if recordingID == "" {
		return fmt.Errorf("recording id is required")
	}
	if e.Event == nil {
		return fmt.Errorf("event is required")
	}
	rawEvent, err := event.MarshalJSON(e.Event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	raw, err := json.Marshal(wireEntry{At: e.At, Event: rawEvent})
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	key := s.entriesKey(recordingID)
	if err := s.rdb.RPush(ctx, key, raw).Err(); err != nil {
		return fmt.Errorf("append entry: %w", err)
	}
	if s.ttl > 0 {
		if err := s.rdb.Expire(ctx, key, s.ttl).Err(); err != nil {
			return fmt.Errorf("refresh entries ttl: %w", err)
		}
	}
	return nil
}

// Finalize implements Store.
func (s *RedisStore) Finalize(ctx context.Context, recordingID string, messages []message.UIMessage) error {
	if recordingID == "" {
		return fmt.Errorf("recording id is required")
	}
	final := wireFinal{Messages: make([]json.RawMessage, 0, len(messages))}
	for _, m := range messages {
		raw, err := message.MarshalUIMessage(m)
		if err != nil {
			return fmt.Errorf("encode message %q: %w", m.ID, err)
		}
		final.Messages = append(final.Messages, raw)
	}
	raw, err := json.Marshal(final)
	if err != nil {
		return fmt.Errorf("encode final messages: %w", err)
	}
	if err := s.rdb.Set(ctx, s.finalKey(recordingID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("finalize recording: %w", err)
	}
	return nil
}

// List implements Store. The cursor is the zero-based index of the first
// entry of the next page.
func (s *RedisStore) List(ctx context.Context, recordingID, cursor string, limit int) (Page, error) {
	if recordingID == "" {
		return Page{}, fmt.Errorf("recording id is required")
	}
	if limit <= 0 {
		return Page{}, fmt.Errorf("limit must be > 0")
	}
	var start int64
	if cursor != "" {
		idx, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return Page{}, fmt.Errorf("invalid cursor %q: %w", cursor, err)
		}
		start = idx
	}

	// Fetch one extra entry to learn whether a further page exists.
	raws, err := s.rdb.LRange(ctx, s.entriesKey(recordingID), start, start+int64(limit)).Result()
	if err != nil {
		return Page{}, fmt.Errorf("list entries: %w", err)
	}
	more := len(raws) > limit
	if more {
		raws = raws[:limit]
	}

	entries := make([]Entry, 0, len(raws))
	for i, raw := range raws {
		e, err := decodeEntry([]byte(raw), start+int64(i)+1)
		if err != nil {
			return Page{}, err
		}
		entries = append(entries, e)
	}
	page := Page{Entries: entries}
	if more {
		page.NextCursor = strconv.FormatInt(start+int64(limit), 10)
	}
	return page, nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, recordingID string) (Recording, error) {
	if recordingID == "" {
		return Recording{}, fmt.Errorf("recording id is required")
	}
	raws, err := s.rdb.LRange(ctx, s.entriesKey(recordingID), 0, -1).Result()
	if err != nil {
		return Recording{}, fmt.Errorf("load entries: %w", err)
	}

	rawFinal, err := s.rdb.Get(ctx, s.finalKey(recordingID)).Result()
	hasFinal := err == nil
	if err != nil && err != redis.Nil {
		return Recording{}, fmt.Errorf("load final messages: %w", err)
	}
	if len(raws) == 0 && !hasFinal {
		return Recording{}, ErrNotFound
	}

	rec := Recording{Entries: make([]Entry, 0, len(raws))}
	for i, raw := range raws {
		e, err := decodeEntry([]byte(raw), int64(i)+1)
		if err != nil {
			return Recording{}, err
		}
		rec.Entries = append(rec.Entries, e)
	}
	if hasFinal {
		var final wireFinal
		if err := json.Unmarshal([]byte(rawFinal), &final); err != nil {
			return Recording{}, fmt.Errorf("decode final messages: %w", err)
		}
		rec.FinalMessages = make([]message.UIMessage, 0, len(final.Messages))
		for _, raw := range final.Messages {
			m, err := message.UnmarshalUIMessage(raw)
			if err != nil {
				return Recording{}, fmt.Errorf("decode final message: %w", err)
			}
			rec.FinalMessages = append(rec.FinalMessages, m)
		}
		rec.Finalized = true
	}
	return rec, nil
}

func decodeEntry(raw []byte, seq int64) (Entry, error) {
	var w wireEntry
	if err := json.Unmarshal(raw, &w); err != nil {
		return Entry{}, fmt.Errorf("decode entry: %w", err)
	}
	e, err := event.UnmarshalJSON(w.Event)
	if err != nil {
		return Entry{}, fmt.Errorf("decode entry event: %w", err)
	}
	if e == nil {
		return Entry{}, fmt.Errorf("decode entry event: unknown type")
	}
	return Entry{Seq: seq, Event: e, At: w.At}, nil
}

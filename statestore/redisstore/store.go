// Package redisstore is a durable statestore.Store backed by Redis,
// exercising the capability contract against a real external store. It
// also satisfies pause.Store, so pauses persisted here survive a process
// restart.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hurtener/penguiflow-sub005/event"
	"github.com/hurtener/penguiflow-sub005/pause"
	"github.com/hurtener/penguiflow-sub005/statestore"
)

// Store is a statestore.Store/pause.Store implementation over a
// *redis.Client.
type Store struct {
	rdb    *redis.Client
	prefix string
}

// New constructs a Store. prefix namespaces all keys this Store touches
// (e.g. "penguiflow:") so one Redis instance can host multiple runtimes.
func New(rdb *redis.Client, prefix string) *Store {
	return &Store{rdb: rdb, prefix: prefix}
}

func (s *Store) historyKey(traceID string) string { return s.prefix + "history:" + traceID }
func (s *Store) bindingsKey() string              { return s.prefix + "bindings" }
func (s *Store) pauseKey(token string) string      { return s.prefix + "pause:" + token }

func (s *Store) SaveEvent(ctx context.Context, e event.Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("redisstore: marshal event: %w", err)
	}
	return s.rdb.RPush(ctx, s.historyKey(e.TraceID), b).Err()
}

// SaveEvents implements statestore.BulkEventSaver via a single pipelined
// RPUSH per distinct trace id.
func (s *Store) SaveEvents(ctx context.Context, es []event.Event) error {
	byTrace := make(map[string][]any)
	for _, e := range es {
		b, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("redisstore: marshal event: %w", err)
		}
		byTrace[e.TraceID] = append(byTrace[e.TraceID], b)
	}
	pipe := s.rdb.Pipeline()
	for traceID, vals := range byTrace {
		pipe.RPush(ctx, s.historyKey(traceID), vals...)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) LoadHistory(ctx context.Context, traceID string) ([]statestore.HistoryEntry, error) {
	vals, err := s.rdb.LRange(ctx, s.historyKey(traceID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: load history: %w", err)
	}
	out := make([]statestore.HistoryEntry, 0, len(vals))
	for i, v := range vals {
		var e event.Event
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			return nil, fmt.Errorf("redisstore: decode history entry: %w", err)
		}
		out = append(out, statestore.HistoryEntry{Event: e, InsertionID: uint64(i) + 1})
	}
	return out, nil
}

func (s *Store) SaveRemoteBinding(ctx context.Context, b statestore.RemoteBinding) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("redisstore: marshal binding: %w", err)
	}
	return s.rdb.RPush(ctx, s.bindingsKey(), raw).Err()
}

// SavePause implements pause.Store.
func (s *Store) SavePause(ctx context.Context, rec pause.Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redisstore: marshal pause record: %w", err)
	}
	var ttl time.Duration
	if !rec.ExpiresAt.IsZero() {
		ttl = time.Until(rec.ExpiresAt)
		if ttl <= 0 {
			ttl = time.Millisecond // already expired; let Redis reap it immediately
		}
	}
	return s.rdb.Set(ctx, s.pauseKey(rec.Token), raw, ttl).Err()
}

// LoadPause implements pause.Store. A Redis key miss (absent or TTL-expired)
// is reported as pause.ErrNotFound; the two cases are indistinguishable by
// construction once Redis has reaped the key.
func (s *Store) LoadPause(ctx context.Context, token string) (pause.Record, error) {
	raw, err := s.rdb.Get(ctx, s.pauseKey(token)).Bytes()
	if err == redis.Nil {
		return pause.Record{}, pause.ErrNotFound
	}
	if err != nil {
		return pause.Record{}, fmt.Errorf("redisstore: load pause: %w", err)
	}
	var rec pause.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return pause.Record{}, fmt.Errorf("redisstore: decode pause record: %w", err)
	}
	return rec, nil
}

// DeletePause implements pause.Store.
func (s *Store) DeletePause(ctx context.Context, token string) error {
	return s.rdb.Del(ctx, s.pauseKey(token)).Err()
}

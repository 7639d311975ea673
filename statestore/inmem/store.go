// Package inmem provides a process-local statestore.Store implementation.
// It also satisfies pause.Store and statestore.BulkEventSaver, so it is the
// default backend wired when no durable store is configured.
package inmem

import (
	"context"
	"sync"

	"github.com/hurtener/penguiflow-sub005/event"
	"github.com/hurtener/penguiflow-sub005/pause"
	"github.com/hurtener/penguiflow-sub005/statestore"
)

// Store is an in-memory, concurrency-safe statestore.Store.
type Store struct {
	mu       sync.Mutex
	nextID   uint64
	history  map[string][]statestore.HistoryEntry
	bindings []statestore.RemoteBinding
	pauses   map[string]pause.Record
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		history: make(map[string][]statestore.HistoryEntry),
		pauses:  make(map[string]pause.Record),
	}
}

func (s *Store) SaveEvent(_ context.Context, e event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.history[e.TraceID] = append(s.history[e.TraceID], statestore.HistoryEntry{Event: e, InsertionID: s.nextID})
	return nil
}

// SaveEvents implements statestore.BulkEventSaver.
func (s *Store) SaveEvents(_ context.Context, es []event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range es {
		s.nextID++
		s.history[e.TraceID] = append(s.history[e.TraceID], statestore.HistoryEntry{Event: e, InsertionID: s.nextID})
	}
	return nil
}

func (s *Store) LoadHistory(_ context.Context, traceID string) ([]statestore.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.history[traceID]
	out := make([]statestore.HistoryEntry, len(src))
	copy(out, src)
	return out, nil
}

func (s *Store) SaveRemoteBinding(_ context.Context, b statestore.RemoteBinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings = append(s.bindings, b)
	return nil
}

// SavePause implements pause.Store.
func (s *Store) SavePause(_ context.Context, rec pause.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pauses[rec.Token] = rec
	return nil
}

// LoadPause implements pause.Store.
func (s *Store) LoadPause(_ context.Context, token string) (pause.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.pauses[token]
	if !ok {
		return pause.Record{}, pause.ErrNotFound
	}
	return rec, nil
}

// DeletePause implements pause.Store.
func (s *Store) DeletePause(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pauses, token)
	return nil
}

// Package inmem provides an in-memory implementation of artifact.Store with
// content-addressed dedup, TTL expiry, and LRU/FIFO/none eviction.
package inmem

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/hurtener/penguiflow-sub005/artifact"
	"github.com/hurtener/penguiflow-sub005/tool"
)

type record struct {
	ref      artifact.Ref
	data     []byte
	elem     *list.Element // LRU/FIFO order element
	sessionK string
	traceK   string
}

// Store is a process-local artifact.Store. It is safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	retention artifact.Retention
	byID      map[string]*record
	order     *list.List // front = most-recently-used (LRU) or newest (FIFO); pickVictim takes the back
	subs      []func(artifact.StoredEvent)

	sessionBytes map[string]int64
	sessionCount map[string]int
	traceBytes   map[string]int64
	traceCount   map[string]int

	now func() time.Time
}

// New constructs an empty Store governed by retention.
func New(retention artifact.Retention) *Store {
	if retention.MaxArtifactBytes <= 0 {
		retention.MaxArtifactBytes = 64 << 20 // 64MiB default ceiling
	}
	return &Store{
		retention:    retention,
		byID:         make(map[string]*record),
		order:        list.New(),
		sessionBytes: make(map[string]int64),
		sessionCount: make(map[string]int),
		traceBytes:   make(map[string]int64),
		traceCount:   make(map[string]int),
		now:          time.Now,
	}
}

func (s *Store) PutBytes(_ context.Context, data []byte, mimeType, filename, namespace string, scope tool.Scope, meta map[string]any) (artifact.Ref, error) {
	if int64(len(data)) > s.retention.MaxArtifactBytes {
		return artifact.Ref{}, artifact.ErrTooLarge
	}
	sum := sha256.Sum256(data)
	hexSum := hex.EncodeToString(sum[:])
	if namespace == "" {
		namespace = "default"
	}
	id := fmt.Sprintf("%s_%s", namespace, hexSum[:12])

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byID[id]; ok && !s.expired(existing) {
		s.touch(existing)
		return existing.ref, nil
	}

	if err := s.reserve(scope, int64(len(data))); err != nil {
		return artifact.Ref{}, err
	}

	ref := artifact.Ref{
		ID:         id,
		MimeType:   mimeType,
		SizeBytes:  int64(len(data)),
		SHA256:     hexSum,
		Filename:   filename,
		Scope:      scope,
		SourceMeta: meta,
		StoredAt:   s.now(),
	}
	if s.retention.DefaultTTL > 0 {
		ref.ExpiresAt = ref.StoredAt.Add(s.retention.DefaultTTL)
	}

	rec := &record{ref: ref, data: data, sessionK: scope.SessionID, traceK: scope.TraceID}
	rec.elem = s.order.PushFront(rec)
	s.byID[id] = rec
	s.account(scope, int64(len(data)), 1)

	s.notify(artifact.StoredEvent{Ref: ref})
	return ref, nil
}

func (s *Store) PutText(ctx context.Context, text string, mimeType, filename, namespace string, scope tool.Scope, meta map[string]any) (artifact.Ref, error) {
	if mimeType == "" {
		mimeType = "text/plain"
	}
	return s.PutBytes(ctx, []byte(text), mimeType, filename, namespace, scope, meta)
}

func (s *Store) Get(_ context.Context, id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok || s.expired(rec) {
		return nil, artifact.ErrNotFound
	}
	s.touch(rec)
	out := make([]byte, len(rec.data))
	copy(out, rec.data)
	return out, nil
}

func (s *Store) GetRef(_ context.Context, id string) (artifact.Ref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok || s.expired(rec) {
		return artifact.Ref{}, artifact.ErrNotFound
	}
	return rec.ref, nil
}

func (s *Store) Exists(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok || s.expired(rec) {
		return false, nil
	}
	return true, nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return nil
	}
	s.removeLocked(rec)
	return nil
}

func (s *Store) Subscribe(fn func(artifact.StoredEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

func (s *Store) notify(ev artifact.StoredEvent) {
	for _, fn := range s.subs {
		fn(ev)
	}
}

func (s *Store) expired(rec *record) bool {
	if rec.ref.ExpiresAt.IsZero() {
		return false
	}
	return s.now().After(rec.ref.ExpiresAt)
}

func (s *Store) touch(rec *record) {
	if s.retention.Strategy == artifact.EvictionLRU {
		s.order.MoveToFront(rec.elem)
	}
}

// reserve evicts entries (when strategy != none) until scope's caps can
// admit size additional bytes, or fails with ErrQuotaExceeded.
func (s *Store) reserve(scope tool.Scope, size int64) error {
	for s.overCap(scope, size) {
		if s.retention.Strategy == artifact.EvictionNone {
			return artifact.ErrQuotaExceeded
		}
		victim := s.pickVictim()
		if victim == nil {
			return artifact.ErrQuotaExceeded
		}
		s.removeLocked(victim)
	}
	return nil
}

func (s *Store) overCap(scope tool.Scope, size int64) bool {
	if s.retention.MaxBytesPerSession > 0 && scope.SessionID != "" {
		if s.sessionBytes[scope.SessionID]+size > s.retention.MaxBytesPerSession {
			return true
		}
	}
	if s.retention.MaxCountPerSession > 0 && scope.SessionID != "" {
		if s.sessionCount[scope.SessionID]+1 > s.retention.MaxCountPerSession {
			return true
		}
	}
	if s.retention.MaxBytesPerTrace > 0 && scope.TraceID != "" {
		if s.traceBytes[scope.TraceID]+size > s.retention.MaxBytesPerTrace {
			return true
		}
	}
	if s.retention.MaxCountPerTrace > 0 && scope.TraceID != "" {
		if s.traceCount[scope.TraceID]+1 > s.retention.MaxCountPerTrace {
			return true
		}
	}
	return false
}

// pickVictim selects the back of s.order: least-recently-used under LRU
// (touch moves reads to the front), oldest-inserted under FIFO (touch is a
// no-op for that strategy, so insertion order is preserved).
func (s *Store) pickVictim() *record {
	back := s.order.Back()
	if back == nil {
		return nil
	}
	return back.Value.(*record)
}

func (s *Store) removeLocked(rec *record) {
	s.order.Remove(rec.elem)
	delete(s.byID, rec.ref.ID)
	s.account(rec.ref.Scope, -rec.ref.SizeBytes, -1)
}

func (s *Store) account(scope tool.Scope, size int64, count int) {
	if scope.SessionID != "" {
		s.sessionBytes[scope.SessionID] += size
		s.sessionCount[scope.SessionID] += count
	}
	if scope.TraceID != "" {
		s.traceBytes[scope.TraceID] += size
		s.traceCount[scope.TraceID] += count
	}
}

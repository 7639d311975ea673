package pause

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hurtener/penguiflow-sub005/planner"
)

// fakeStore is a minimal in-memory Store used only by this package's tests,
// kept local so this file never has to import statestore/inmem (which
// imports pause to satisfy this very interface).
type fakeStore struct {
	mu      sync.Mutex
	records map[string]Record
	deleted map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]Record), deleted: make(map[string]bool)}
}

func (s *fakeStore) SavePause(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Token] = rec
	return nil
}

func (s *fakeStore) LoadPause(ctx context.Context, token string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[token]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *fakeStore) DeletePause(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, token)
	s.deleted[token] = true
	return nil
}

func TestControllerPauseResumeRoundTrip(t *testing.T) {
	store := newFakeStore()
	ctrl := New(store, 0)

	snapshot := planner.PauseSnapshot{
		TraceID:       "trace-1",
		SessionID:     "session-1",
		History:       []map[string]any{{"step": 1}},
		ActionSeq:     4,
		HopsRemaining: 2,
		Reason:        "awaiting approval",
		Payload:       map[string]any{"foo": "bar"},
	}

	token, err := ctrl.Pause(context.Background(), snapshot)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(token), 32)

	got, err := ctrl.Resume(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, snapshot, got)
}

func TestControllerResumeTokenIsSingleUse(t *testing.T) {
	store := newFakeStore()
	ctrl := New(store, 0)

	token, err := ctrl.Pause(context.Background(), planner.PauseSnapshot{TraceID: "t1"})
	require.NoError(t, err)

	_, err = ctrl.Resume(context.Background(), token)
	require.NoError(t, err)

	_, err = ctrl.Resume(context.Background(), token)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestControllerResumeUnknownTokenFails(t *testing.T) {
	store := newFakeStore()
	ctrl := New(store, 0)

	_, err := ctrl.Resume(context.Background(), "nonexistent-token")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestControllerResumeExpiredRecordFails(t *testing.T) {
	store := newFakeStore()
	ctrl := New(store, time.Millisecond)

	token, err := ctrl.Pause(context.Background(), planner.PauseSnapshot{TraceID: "t1"})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = ctrl.Resume(context.Background(), token)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestNewResumeTokenHasSufficientEntropyAndIsUnique(t *testing.T) {
	a := newResumeToken()
	b := newResumeToken()

	require.NotEqual(t, a, b)
	require.GreaterOrEqual(t, len(a)*4, 128)
}

// Package statestore defines a narrow, capability-probed persistence
// boundary for event history, pause records, and remote bindings. The
// runtime holds typed optional references to the duck-typed capabilities
// rather than probing by reflection.
package statestore

import (
	"context"
	"errors"
	"time"

	"github.com/hurtener/penguiflow-sub005/event"
	"github.com/hurtener/penguiflow-sub005/pause"
)

// ErrMissing indicates a load found nothing for the given key. Both an
// empty record and an absent one are reported this way, so callers never
// need to distinguish "stored empty" from "never stored".
var ErrMissing = errors.New("statestore: missing")

// RemoteBinding associates a trace with an out-of-process handle (e.g. a
// webhook callback or a remote worker id) the runtime must notify on
// completion.
type RemoteBinding struct {
	TraceID string
	Kind    string
	Target  string
	SetAt   time.Time
}

// HistoryEntry is one durable record of a bus event, with the insertion
// order the store assigned it.
type HistoryEntry struct {
	Event       event.Event
	InsertionID uint64
}

// Store is the required capability surface every backend must implement.
type Store interface {
	SaveEvent(ctx context.Context, e event.Event) error
	LoadHistory(ctx context.Context, traceID string) ([]HistoryEntry, error)
	SaveRemoteBinding(ctx context.Context, b RemoteBinding) error
}

// BulkEventSaver is an optional capability: backends that can write a batch
// more efficiently than one call per event implement it. DetectBulkSaver
// reports it and SaveEventsFallback is the per-event alternative; the event
// bus in this module persists one event at a time through SaveEvent and
// calls neither.
type BulkEventSaver interface {
	SaveEvents(ctx context.Context, es []event.Event) error
}

// PauseCapable is an optional capability satisfying pause.Store. A backend
// that does not implement it makes pauses process-local only: the pause
// controller falls back to an in-memory pause.Store in that case.
type PauseCapable interface {
	pause.Store
}

// DetectBulkSaver returns s's BulkEventSaver capability if present.
func DetectBulkSaver(s Store) (BulkEventSaver, bool) {
	b, ok := s.(BulkEventSaver)
	return b, ok
}

// DetectPauseCapable returns s's PauseCapable capability if present.
func DetectPauseCapable(s Store) (PauseCapable, bool) {
	p, ok := s.(PauseCapable)
	return p, ok
}

// SaveEventsFallback writes es one at a time through s, for backends
// without BulkEventSaver. Stops and returns the first error.
func SaveEventsFallback(ctx context.Context, s Store, es []event.Event) error {
	for _, e := range es {
		if err := s.SaveEvent(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

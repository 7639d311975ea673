// Package inmem provides an in-memory trajectory.Recorder.
package inmem

import (
	"context"
	"sync"

	"github.com/hurtener/penguiflow-sub005/trajectory"
)

// Recorder is a process-local, concurrency-safe trajectory.Recorder.
type Recorder struct {
	mu       sync.Mutex
	steps    map[string][]trajectory.Step
	metadata map[string]map[string]any
}

// New constructs an empty Recorder.
func New() *Recorder {
	return &Recorder{
		steps:    make(map[string][]trajectory.Step),
		metadata: make(map[string]map[string]any),
	}
}

func (r *Recorder) Append(_ context.Context, traceID string, step trajectory.Step) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing := r.steps[traceID]
	if step.Index != len(existing) {
		return &trajectory.ErrOutOfOrder{TraceID: traceID, Expected: len(existing), Got: step.Index}
	}
	r.steps[traceID] = append(existing, step)
	return nil
}

func (r *Recorder) Steps(_ context.Context, traceID string) ([]trajectory.Step, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	src := r.steps[traceID]
	out := make([]trajectory.Step, len(src))
	copy(out, src)
	return out, nil
}

func (r *Recorder) Metadata(_ context.Context, traceID string) (map[string]any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]any, len(r.metadata[traceID]))
	for k, v := range r.metadata[traceID] {
		out[k] = v
	}
	return out, nil
}

func (r *Recorder) SetMetadata(_ context.Context, traceID string, kv map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.metadata[traceID]
	if !ok {
		m = make(map[string]any)
		r.metadata[traceID] = m
	}
	for k, v := range kv {
		m[k] = v
	}
	return nil
}

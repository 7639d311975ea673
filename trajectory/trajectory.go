// Package trajectory implements a per-trace append-only sequence of Steps,
// queryable by trace id.
package trajectory

import (
	"context"
)

// ActionKind discriminates which Planner Action variant a Step recorded.
type ActionKind string

const (
	ActionThink ActionKind = "think"
	ActionPlan  ActionKind = "plan"
	ActionFinish ActionKind = "finish"
	ActionPause ActionKind = "pause"
)

// Action is the compact record of the planner action that produced a Step.
type Action struct {
	Kind ActionKind
	// ActionSeq is the answer-gate ordinal.
	ActionSeq int
	// Detail carries kind-specific content (Think.text, Plan.tool names,
	// Finish.answer, Pause.reason) as a plain map for storage-agnostic
	// serialization.
	Detail map[string]any
}

// Step is one planner decision and its redacted observation. Observation
// is always the redacted view; raw observations are never persisted here.
type Step struct {
	Index      int
	Action     Action
	Observation map[string]any
	LatencyMS  int64
	Metadata   map[string]any
	Error      string
}

// Recorder is the trajectory storage contract. Append must reject
// out-of-order or non-contiguous indices.
type Recorder interface {
	// Append adds step to traceID's trajectory. Returns an error if
	// step.Index != len(existing steps for traceID).
	Append(ctx context.Context, traceID string, step Step) error
	// Steps returns the full, ordered trajectory for traceID.
	Steps(ctx context.Context, traceID string) ([]Step, error)
	// Metadata returns trace-level metadata (e.g. start time, query).
	Metadata(ctx context.Context, traceID string) (map[string]any, error)
	// SetMetadata merges kv into traceID's metadata map.
	SetMetadata(ctx context.Context, traceID string, kv map[string]any) error
}

// ErrOutOfOrder indicates Append was called with a non-contiguous index.
type ErrOutOfOrder struct {
	TraceID  string
	Expected int
	Got      int
}

func (e *ErrOutOfOrder) Error() string {
	return "trajectory: out-of-order append for " + e.TraceID
}

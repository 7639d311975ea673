// Package event implements a per-trace ordered event log with
// multi-subscriber fan-out, bounded per-subscriber buffers, and
// lossy/preserved backpressure semantics.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Kind enumerates the event kinds the planner and session controller emit.
type Kind string

const (
	KindStepStart      Kind = "step_start"
	KindStepEnd        Kind = "step_end"
	KindToolCallStart  Kind = "tool_call_start"
	KindToolCallArgs   Kind = "tool_call_args"
	KindToolCallEnd    Kind = "tool_call_end"
	KindToolCallResult Kind = "tool_call_result"
	KindChunk          Kind = "chunk"
	KindArtifactChunk  Kind = "artifact_chunk"
	KindArtifactStored Kind = "artifact_stored"
	KindThinking       Kind = "thinking"
	KindRevision       Kind = "revision"
	KindPause          Kind = "pause"
	KindDone           Kind = "done"
	KindError          Kind = "error"
	KindStateUpdate    Kind = "state_update"

	// KindSubscriberLagged is a diagnostic kind delivered only to the
	// offending subscriber when events were dropped for it.
	KindSubscriberLagged Kind = "subscriber_lagged"
)

// lossyKinds are dropped under subscriber backpressure; every other kind is
// "preserved" and the producer blocks (or the subscriber is disconnected)
// rather than drop it.
var lossyKinds = map[Kind]bool{
	KindChunk:         true,
	KindArtifactChunk: true,
}

// IsLossy reports whether events of this kind may be dropped under
// subscriber backpressure.
func IsLossy(k Kind) bool { return lossyKinds[k] }

// Event is a single entry in a trace's event log. Node is optional (e.g.
// the tool name for tool_call_* kinds).
type Event struct {
	EventID string
	Seq     uint64
	Ts      time.Time
	TraceID string
	Kind    Kind
	Node    string
	Payload any
}

func newEventID() string {
	return uuid.NewString()
}

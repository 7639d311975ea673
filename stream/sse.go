package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hurtener/penguiflow-sub005/event"
)

// SSE is the server-sent-event encoder: one named event per event kind,
// `chunk`/`artifact_chunk` carrying their documented payload shapes.
type SSE struct {
	bus *event.Bus
}

// NewSSE constructs an SSE encoder over bus.
func NewSSE(bus *event.Bus) *SSE {
	return &SSE{bus: bus}
}

type wireEvent struct {
	EventID string    `json:"event_id"`
	Seq     uint64    `json:"seq"`
	Ts      time.Time `json:"ts"`
	TraceID string    `json:"trace_id"`
	Node    string    `json:"node,omitempty"`
	Payload any       `json:"payload"`
}

// Stream writes traceID's events to w as SSE frames until the trace emits
// done/error or ctx is cancelled. sinceSeq lets a reconnecting client
// resume from the bus's retained tail.
func (s *SSE) Stream(ctx context.Context, traceID string, sinceSeq uint64, w io.Writer) error {
	sub := s.bus.Subscribe(traceID, sinceSeq, 256)
	defer sub.Close()

	flusher, _ := w.(http.Flusher)
	gate := newAnswerGate()

	for {
		select {
		case <-ctx.Done():
			s.write(w, event.Event{Kind: event.KindError, TraceID: traceID, Payload: map[string]any{"error": "cancelled"}})
			if flusher != nil {
				flusher.Flush()
			}
			return ctx.Err()

		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if gate.bufferChunk(ev) {
				continue
			}
			if ev.Kind == event.KindDone {
				if gatedSeq, ok := doneGateSeq(ev); ok {
					for _, buffered := range gate.release(gatedSeq) {
						s.write(w, buffered)
					}
				}
			}
			s.write(w, ev)
			if flusher != nil {
				flusher.Flush()
			}
			if ev.Kind == event.KindDone || ev.Kind == event.KindError {
				return nil
			}
		}
	}
}

func (s *SSE) write(w io.Writer, ev event.Event) {
	we := wireEvent{EventID: ev.EventID, Seq: ev.Seq, Ts: ev.Ts, TraceID: ev.TraceID, Node: ev.Node, Payload: ev.Payload}
	data, err := json.Marshal(we)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
}

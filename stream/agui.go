package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hurtener/penguiflow-sub005/event"
)

// AGUI is the typed run-event encoder (AG-UI-style): RUN_STARTED,
// TEXT_MESSAGE_{START,CONTENT,END}, TOOL_CALL_{START,ARGS,END,RESULT},
// CUSTOM{name,value}, RUN_FINISHED/RUN_ERROR.
type AGUI struct {
	bus *event.Bus
}

// NewAGUI constructs an AG-UI-style encoder over bus.
func NewAGUI(bus *event.Bus) *AGUI {
	return &AGUI{bus: bus}
}

// RunEvent is the typed wire shape written one-per-line as JSON.
type RunEvent struct {
	Type       string `json:"type"`
	TraceID    string `json:"trace_id"`
	Seq        uint64 `json:"seq"`
	MessageID  string `json:"message_id,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	Name       string `json:"name,omitempty"`
	Delta      string `json:"delta,omitempty"`
	Value      any    `json:"value,omitempty"`
}

// Stream writes traceID's events to w as newline-delimited RunEvent JSON
// until the trace finishes/errors or ctx is cancelled.
func (a *AGUI) Stream(ctx context.Context, traceID string, sinceSeq uint64, w io.Writer) error {
	sub := a.bus.Subscribe(traceID, sinceSeq, 256)
	defer sub.Close()

	flusher, _ := w.(http.Flusher)
	gate := newAnswerGate()
	messageID := ""
	a.write(w, RunEvent{Type: "RUN_STARTED", TraceID: traceID})

	for {
		select {
		case <-ctx.Done():
			a.write(w, RunEvent{Type: "RUN_ERROR", TraceID: traceID, Value: map[string]any{"error": "cancelled"}})
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
						messageID = a.emitAnswerChunk(w, buffered, messageID)
					}
				}
				if messageID != "" {
					a.write(w, RunEvent{Type: "TEXT_MESSAGE_END", TraceID: traceID, MessageID: messageID})
				}
				a.write(w, RunEvent{Type: "RUN_FINISHED", TraceID: traceID, Seq: ev.Seq, Value: ev.Payload})
				if flusher != nil {
					flusher.Flush()
				}
				return nil
			}
			a.translate(w, ev, &messageID)
			if flusher != nil {
				flusher.Flush()
			}
			if ev.Kind == event.KindError {
				return nil
			}
		}
	}
}

func (a *AGUI) translate(w io.Writer, ev event.Event, messageID *string) {
	switch ev.Kind {
	case event.KindToolCallStart:
		a.write(w, RunEvent{Type: "TOOL_CALL_START", TraceID: ev.TraceID, Seq: ev.Seq, Name: ev.Node, Value: ev.Payload})
	case event.KindToolCallArgs:
		a.write(w, RunEvent{Type: "TOOL_CALL_ARGS", TraceID: ev.TraceID, Seq: ev.Seq, Name: ev.Node, Value: ev.Payload})
	case event.KindToolCallEnd:
		a.write(w, RunEvent{Type: "TOOL_CALL_END", TraceID: ev.TraceID, Seq: ev.Seq, Name: ev.Node, Value: ev.Payload})
	case event.KindToolCallResult:
		a.write(w, RunEvent{Type: "TOOL_CALL_RESULT", TraceID: ev.TraceID, Seq: ev.Seq, Name: ev.Node, Value: ev.Payload})
	default:
		a.write(w, RunEvent{Type: "CUSTOM", TraceID: ev.TraceID, Seq: ev.Seq, Name: string(ev.Kind), Value: ev.Payload})
	}
}

// emitAnswerChunk writes a TEXT_MESSAGE_START on first call, then a
// TEXT_MESSAGE_CONTENT delta, returning the (possibly newly allocated)
// message id so the caller can close it with TEXT_MESSAGE_END.
func (a *AGUI) emitAnswerChunk(w io.Writer, ev event.Event, messageID string) string {
	payload, _ := ev.Payload.(map[string]any)
	if messageID == "" {
		messageID = ev.EventID
		a.write(w, RunEvent{Type: "TEXT_MESSAGE_START", TraceID: ev.TraceID, MessageID: messageID})
	}
	text, _ := payload["text"].(string)
	a.write(w, RunEvent{Type: "TEXT_MESSAGE_CONTENT", TraceID: ev.TraceID, Seq: ev.Seq, MessageID: messageID, Delta: text})
	return messageID
}

func (a *AGUI) write(w io.Writer, re RunEvent) {
	data, err := json.Marshal(re)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "%s\n", data)
}

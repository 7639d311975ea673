// Package stream implements encoders that consume an event.Bus subscription
// and translate events into a wire format, preserving bus seq order and
// enforcing the answer gate.
package stream

import "github.com/hurtener/penguiflow-sub005/event"

// answerGate buffers answer-channel chunk events by action_seq until the
// trace's done event names the gated action_seq, then releases only the
// matching buffer and drops the rest — this is what keeps intermediate
// LLM drafts from ever reaching the wire.
type answerGate struct {
	pending map[int][]event.Event
}

func newAnswerGate() *answerGate {
	return &answerGate{pending: make(map[int][]event.Event)}
}

// bufferChunk stages an answer-channel chunk under its action_seq. Returns
// false if the event isn't an answer-channel chunk (caller should forward
// it immediately instead).
func (g *answerGate) bufferChunk(ev event.Event) bool {
	payload, ok := ev.Payload.(map[string]any)
	if !ok {
		return false
	}
	channel, _ := payload["channel"].(string)
	if ev.Kind != event.KindChunk || channel != "answer" {
		return false
	}
	seq := actionSeqOf(payload)
	g.pending[seq] = append(g.pending[seq], ev)
	return true
}

// release returns the buffered answer chunks for gatedSeq, in arrival
// order, discarding every other action_seq's buffer.
func (g *answerGate) release(gatedSeq int) []event.Event {
	out := g.pending[gatedSeq]
	g.pending = make(map[int][]event.Event)
	return out
}

func actionSeqOf(payload map[string]any) int {
	switch v := payload["action_seq"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return -1
	}
}

// doneGateSeq extracts answer_action_seq from a done event's payload.
func doneGateSeq(ev event.Event) (int, bool) {
	payload, ok := ev.Payload.(map[string]any)
	if !ok {
		return 0, false
	}
	v, ok := payload["answer_action_seq"]
	if !ok {
		return 0, false
	}
	return actionSeqOf(map[string]any{"action_seq": v}), true
}

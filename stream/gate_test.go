package stream

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hurtener/penguiflow-sub005/event"
)

func TestAnswerGateReleasesOnlyMatchingActionSeq(t *testing.T) {
	g := newAnswerGate()

	draft := event.Event{Kind: event.KindChunk, Payload: map[string]any{"channel": "answer", "action_seq": 1, "text": "draft"}}
	final := event.Event{Kind: event.KindChunk, Payload: map[string]any{"channel": "answer", "action_seq": 2, "text": "final"}}

	require.True(t, g.bufferChunk(draft))
	require.True(t, g.bufferChunk(final))

	released := g.release(2)
	require.Len(t, released, 1)
	payload := released[0].Payload.(map[string]any)
	require.Equal(t, "final", payload["text"])
}

func TestAnswerGateIgnoresNonAnswerChunks(t *testing.T) {
	g := newAnswerGate()

	toolChunk := event.Event{Kind: event.KindArtifactChunk, Payload: map[string]any{"channel": "artifact"}}
	require.False(t, g.bufferChunk(toolChunk))

	other := event.Event{Kind: event.KindToolCallStart}
	require.False(t, g.bufferChunk(other))
}

func TestAnswerGateReleaseClearsAllBuffers(t *testing.T) {
	g := newAnswerGate()

	g.bufferChunk(event.Event{Kind: event.KindChunk, Payload: map[string]any{"channel": "answer", "action_seq": 1}})
	g.bufferChunk(event.Event{Kind: event.KindChunk, Payload: map[string]any{"channel": "answer", "action_seq": 5}})

	require.Len(t, g.release(5), 1)
	require.Empty(t, g.release(1))
}

func TestDoneGateSeqExtractsAnswerActionSeq(t *testing.T) {
	done := event.Event{Kind: event.KindDone, Payload: map[string]any{"answer_action_seq": 3}}
	seq, ok := doneGateSeq(done)
	require.True(t, ok)
	require.Equal(t, 3, seq)

	noSeq := event.Event{Kind: event.KindDone, Payload: map[string]any{}}
	_, ok = doneGateSeq(noSeq)
	require.False(t, ok)
}

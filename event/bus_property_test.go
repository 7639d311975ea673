package event

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestPublishOrderingProperty verifies that for any sequence of published
// events on one trace, a subscriber observes them in strictly increasing
// Seq order with no gaps, regardless of which kinds (lossy or preserved)
// are interleaved. The test buffers the subscriber generously enough that
// lossy kinds are never actually dropped, isolating the ordering property
// from backpressure behavior.
func TestPublishOrderingProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("subscriber observes published events in seq order", prop.ForAll(
		func(kinds []Kind) bool {
			bus := NewBus()
			traceID := "trace-ordering"
			sub := bus.Subscribe(traceID, 0, len(kinds)+1)
			defer sub.Close()

			for _, k := range kinds {
				bus.Publish(context.Background(), traceID, k, "", nil)
			}

			var lastSeq uint64
			first := true
			for range kinds {
				ev := <-sub.Events()
				if (first && ev.Seq != 0) || (!first && ev.Seq != lastSeq+1) {
					return false
				}
				first = false
				lastSeq = ev.Seq
			}
			return true
		},
		genKindSlice(),
	))

	properties.TestingRun(t)
}

// TestSubscribeTailReplayProperty verifies that a late subscriber seeded
// with sinceSeq only ever receives tail events whose Seq is >= sinceSeq,
// still delivered in order.
func TestSubscribeTailReplayProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("replay honors sinceSeq and preserves order", prop.ForAll(
		func(n int, sinceSeqInt int) bool {
			sinceSeq := uint64(sinceSeqInt)
			bus := NewBus(WithRetainedTail(n + 1))
			traceID := "trace-replay"
			ctx := context.Background()
			for i := 0; i < n; i++ {
				bus.Publish(ctx, traceID, KindStepStart, "", nil)
			}

			sub := bus.Subscribe(traceID, sinceSeq, n+1)
			defer sub.Close()

			var lastSeq uint64
			first := true
			for {
				select {
				case ev := <-sub.Events():
					if ev.Seq < sinceSeq {
						return false
					}
					if !first && ev.Seq <= lastSeq {
						return false
					}
					first = false
					lastSeq = ev.Seq
				default:
					return true
				}
			}
		},
		gen.IntRange(0, 20),
		gen.IntRange(0, 20),
	))

	properties.TestingRun(t)
}

func genKindSlice() gopter.Gen {
	return gen.SliceOf(genKind())
}

func genKind() gopter.Gen {
	return gen.OneConstOf(
		KindStepStart,
		KindStepEnd,
		KindChunk,
		KindToolCallStart,
		KindToolCallEnd,
		KindDone,
	)
}

package inmem

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/hurtener/penguiflow-sub005/artifact"
	"github.com/hurtener/penguiflow-sub005/tool"
)

// TestPutBytesDedupProperty verifies that two PutBytes calls with identical
// bytes in the same namespace return the same ref id without growing the
// store's per-scope accounting, regardless of scope or namespace chosen.
func TestPutBytesDedupProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("duplicate bytes in the same namespace dedup to one ref", prop.ForAll(
		func(payload, namespace, sessionID, traceID string) bool {
			store := New(artifact.Retention{
				MaxBytesPerSession: 0,
				MaxCountPerSession: 0,
			})
			scope := tool.Scope{SessionID: sessionID, TraceID: traceID}
			ctx := context.Background()
			data := []byte(payload)

			ref1, err := store.PutBytes(ctx, data, "application/octet-stream", "f", namespace, scope, nil)
			if err != nil {
				return false
			}
			ref2, err := store.PutBytes(ctx, data, "application/octet-stream", "f", namespace, scope, nil)
			if err != nil {
				return false
			}
			if ref1.ID != ref2.ID {
				return false
			}
			if store.sessionCount[sessionID] != 1 {
				return false
			}
			return true
		},
		gen.AlphaString(),
		gen.AlphaString(),
		genNonEmptyAlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func genNonEmptyAlphaString() gopter.Gen {
	return gen.AlphaString().SuchThat(func(s string) bool { return s != "" })
}

// TestPutBytesTooLargeProperty verifies that a put exceeding
// MaxArtifactBytes always fails with ErrTooLarge and never reserves space.
func TestPutBytesTooLargeProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("oversize payloads are rejected without side effects", prop.ForAll(
		func(extra int) bool {
			store := New(artifact.Retention{MaxArtifactBytes: 16})
			data := make([]byte, 16+extra+1)
			scope := tool.Scope{SessionID: "s1", TraceID: "t1"}

			_, err := store.PutBytes(context.Background(), data, "application/octet-stream", "f", "ns", scope, nil)
			if err != artifact.ErrTooLarge {
				return false
			}
			return store.sessionCount["s1"] == 0 && len(store.byID) == 0
		},
		gen.IntRange(0, 1<<16),
	))

	properties.TestingRun(t)
}

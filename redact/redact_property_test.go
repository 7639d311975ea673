package redact

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/hurtener/penguiflow-sub005/tool"
)

// TestRedactIdempotentProperty verifies that redacting an already-redacted
// tree is a no-op: Redact(Redact(x)) == Redact(x), field for field, for any
// combination of declared marker paths and observation shape.
func TestRedactIdempotentProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("redacting twice matches redacting once", prop.ForAll(
		func(output map[string]any, markedPaths []string) bool {
			redactor := New(func(tool.Ident) []RedactMarker {
				markers := make([]RedactMarker, len(markedPaths))
				for i, p := range markedPaths {
					markers[i] = RedactMarker{Path: p, TypeName: "value"}
				}
				return markers
			})

			once := redactor.Redact("demo.tool", "call-1", output, NewSideChannel())
			twice := redactor.Redact("demo.tool", "call-1", once, NewSideChannel())

			return reflect.DeepEqual(once, twice)
		},
		genObservation(),
		gen.SliceOf(genFieldPath()),
	))

	properties.TestingRun(t)
}

// TestRedactPreservesUnmarkedFieldsProperty verifies that fields never
// declared artifact-bearing (and not binary-looking) survive Redact
// unchanged.
func TestRedactPreservesUnmarkedFieldsProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("unmarked plain-text fields pass through unchanged", prop.ForAll(
		func(value string) bool {
			if looksBinary(value) {
				return true // excluded by construction, not a counterexample
			}
			redactor := New(func(tool.Ident) []RedactMarker { return nil })
			out := redactor.Redact("demo.tool", "call-1", map[string]any{"text": value}, NewSideChannel())
			return out["text"] == value
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func genObservation() gopter.Gen {
	return gen.MapOf(genFieldPath(), genLeafValue())
}

func genFieldPath() gopter.Gen {
	return gen.OneConstOf("result", "text", "summary", "image", "payload")
}

func genLeafValue() gopter.Gen {
	return gen.OneGenOf(
		gen.AlphaString().Map(func(s string) any { return s }),
		gen.Int().Map(func(n int) any { return n }),
	)
}

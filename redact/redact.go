// Package redact removes artifact-marked fields from tool output before
// the value reaches the LLM, and enforces an absolute size budget on the
// remaining observation.
package redact

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hurtener/penguiflow-sub005/artifact"
	"github.com/hurtener/penguiflow-sub005/tool"
)

// Policy configures Clamp thresholds.
type Policy struct {
	MaxObservationChars  int
	AutoArtifactThreshold int
	PreviewChars          int
}

// DefaultPolicy returns sane defaults (MaxObservationChars <=
// AutoArtifactThreshold).
func DefaultPolicy() Policy {
	return Policy{
		MaxObservationChars:   4000,
		AutoArtifactThreshold: 16000,
		PreviewChars:          512,
	}
}

// binaryMagicPrefixes are base64 magic-byte prefixes the redactor always
// treats as artifact-bearing, regardless of schema declarations.
var binaryMagicPrefixes = []string{
	"JVBERi0", // %PDF-
	"iVBORw0", // PNG
	"/9j/",    // JPEG
	"UEsDB",   // ZIP
	"R0lGOD",  // GIF
}

// SideChannel holds the original (unredacted) values removed from an
// observation, keyed by tool call id then by field path, so downstream UI
// or lateral tools can retrieve them without the values passing through
// the language model.
type SideChannel struct {
	mu     sync.RWMutex
	values map[string]map[string]any
}

func newSideChannel() *SideChannel {
	return &SideChannel{values: make(map[string]map[string]any)}
}

// Put stores the original value for toolCallID at path.
func (s *SideChannel) Put(toolCallID, path string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.values[toolCallID]
	if !ok {
		m = make(map[string]any)
		s.values[toolCallID] = m
	}
	m[path] = value
}

// Get retrieves the original value for toolCallID at path.
func (s *SideChannel) Get(toolCallID, path string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.values[toolCallID]
	if !ok {
		return nil, false
	}
	v, ok := m[path]
	return v, ok
}

// Redactor walks a structured tool output and replaces artifact-bearing
// fields with compact placeholders.
type Redactor struct {
	markers func(tool.Ident) []RedactMarker
}

// RedactMarker names a field (by dotted path, e.g. "result.image") that the
// Registry declared artifact-bearing for a tool's output schema.
type RedactMarker struct {
	Path     string
	TypeName string
}

// New constructs a Redactor. markers supplies the Registry's declared
// artifact-bearing output fields for a given tool name.
func New(markers func(tool.Ident) []RedactMarker) *Redactor {
	return &Redactor{markers: markers}
}

// Redact walks output, replacing fields declared artifact-bearing by the
// Registry (or matching a binary magic prefix, regardless of schema) with a
// placeholder string, storing originals in side for retrieval. Redact is
// idempotent: redacting an already-redacted tree is a no-op.
func (r *Redactor) Redact(toolName tool.Ident, toolCallID string, output map[string]any, side *SideChannel) map[string]any {
	declared := map[string]bool{}
	if r.markers != nil {
		for _, m := range r.markers(toolName) {
			declared[m.Path] = true
		}
	}
	return redactMap(output, "", declared, toolCallID, side)
}

func redactMap(m map[string]any, prefix string, declared map[string]bool, toolCallID string, side *SideChannel) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		out[k] = redactValue(v, path, declared, toolCallID, side)
	}
	return out
}

func redactValue(v any, path string, declared map[string]bool, toolCallID string, side *SideChannel) any {
	if isPlaceholder(v) {
		return v // already redacted; idempotent
	}
	if declared[path] || looksBinary(v) {
		placeholder := placeholderFor(v)
		side.Put(toolCallID, path, v)
		return placeholder
	}
	switch t := v.(type) {
	case map[string]any:
		return redactMap(t, path, declared, toolCallID, side)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = redactValue(item, fmt.Sprintf("%s[%d]", path, i), declared, toolCallID, side)
		}
		return out
	default:
		return v
	}
}

func isPlaceholder(v any) bool {
	s, ok := v.(string)
	return ok && strings.HasPrefix(s, "<artifact:")
}

func placeholderFor(v any) string {
	typeName := "value"
	size := 0
	switch t := v.(type) {
	case string:
		typeName = "string"
		size = len(t)
	case map[string]any:
		typeName = "object"
		if b, err := json.Marshal(t); err == nil {
			size = len(b)
		}
	case []any:
		typeName = "array"
		if b, err := json.Marshal(t); err == nil {
			size = len(b)
		}
	}
	return fmt.Sprintf("<artifact:%s size=%d>", typeName, size)
}

func looksBinary(v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	for _, prefix := range binaryMagicPrefixes {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

// NewSideChannel constructs an empty SideChannel. Exported so the planner
// can create one per Plan step and pass it through Redact calls.
func NewSideChannel() *SideChannel { return newSideChannel() }

// Clamp enforces an observation size budget: oversize observations are
// truncated or, past a second threshold, spilled to the artifact store.
type Clamp struct {
	policy Policy
	store  artifact.Store
}

// NewClamp constructs a Clamp backed by store for the auto-artifact path.
func NewClamp(policy Policy, store artifact.Store) *Clamp {
	return &Clamp{policy: policy, store: store}
}

// ClampResult is the final, LLM-visible observation value.
type ClampResult struct {
	Value     any
	Truncated bool
	Artifact  *artifact.Ref
}

// Apply enforces the Clamp policy on a redacted observation for toolName,
// scoped to scope. Observations past AutoArtifactThreshold are always
// converted to a reference, never truncated and inlined.
func (c *Clamp) Apply(ctx context.Context, toolName tool.Ident, redacted map[string]any, scope tool.Scope) (ClampResult, error) {
	raw, err := json.Marshal(redacted)
	if err != nil {
		return ClampResult{}, fmt.Errorf("redact: marshal observation: %w", err)
	}

	if len(raw) <= c.policy.MaxObservationChars {
		return ClampResult{Value: redacted}, nil
	}

	if len(raw) >= c.policy.AutoArtifactThreshold {
		ns := fmt.Sprintf("observation.%s", toolName)
		ref, err := c.store.PutBytes(ctx, raw, "application/json", "", ns, scope, nil)
		if err != nil {
			return ClampResult{}, fmt.Errorf("redact: auto-store oversize observation: %w", err)
		}
		preview := string(raw)
		if len(preview) > c.policy.PreviewChars {
			preview = preview[:c.policy.PreviewChars]
		}
		return ClampResult{
			Value: map[string]any{
				"artifact": ref,
				"summary":  fmt.Sprintf("observation from %s (%d bytes)", toolName, len(raw)),
				"preview":  preview,
			},
			Artifact: &ref,
		}, nil
	}

	truncated := truncateRecursive(redacted, len(raw)-c.policy.MaxObservationChars)
	return ClampResult{Value: withTruncatedTag(truncated), Truncated: true}, nil
}

func withTruncatedTag(v map[string]any) map[string]any {
	out := make(map[string]any, len(v)+1)
	for k, val := range v {
		out[k] = val
	}
	out["truncated"] = true
	return out
}

// truncateRecursive truncates string and array fields, largest first (size
// plus nesting depth), until the removed amount reaches overBudget or no
// target is left. Strings are cut to 64 bytes plus an ellipsis and arrays
// to 3 elements; string removal is counted in bytes and array removal in
// elements, so the result is not guaranteed to fit the budget.
func truncateRecursive(v map[string]any, overBudget int) map[string]any {
	type target struct {
		path []any // chain of map/index accessors for in-place mutation
		size int
		kind string // "string" or "array"
	}
	var targets []target
	var walk func(node any, path []any, depth int)
	walk = func(node any, path []any, depth int) {
		switch t := node.(type) {
		case map[string]any:
			for k, val := range t {
				walk(val, append(append([]any{}, path...), k), depth+1)
			}
		case []any:
			for i, val := range t {
				walk(val, append(append([]any{}, path...), i), depth+1)
			}
			if b, err := json.Marshal(t); err == nil {
				targets = append(targets, target{path: append([]any{}, path...), size: len(b) + depth, kind: "array"})
			}
		case string:
			targets = append(targets, target{path: append([]any{}, path...), size: len(t) + depth, kind: "string"})
		}
	}
	walk(v, nil, 0)

	sort.Slice(targets, func(i, j int) bool { return targets[i].size > targets[j].size })

	out := deepCopyMap(v)
	remaining := overBudget
	for _, t := range targets {
		if remaining <= 0 {
			break
		}
		remaining -= applyTruncation(out, t.path, t.kind)
	}
	return out
}

func deepCopyMap(v map[string]any) map[string]any {
	out := make(map[string]any, len(v))
	for k, val := range v {
		out[k] = deepCopyValue(val)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}

// applyTruncation mutates the value at path within root to a truncated
// form, returning the number of characters/elements removed.
func applyTruncation(root any, path []any, kind string) int {
	if len(path) == 0 {
		return 0
	}
	parent, key, ok := navigateToParent(root, path)
	if !ok {
		return 0
	}
	switch p := parent.(type) {
	case map[string]any:
		k := key.(string)
		return truncateInPlace(p, k, kind)
	case []any:
		i := key.(int)
		if i < 0 || i >= len(p) {
			return 0
		}
		switch kind {
		case "string":
			if s, ok := p[i].(string); ok {
				removed := len(s)
				p[i] = truncateString(s)
				return removed - len(p[i].(string))
			}
		case "array":
			if arr, ok := p[i].([]any); ok {
				before := len(arr)
				p[i] = truncateArray(arr)
				return before - len(p[i].([]any))
			}
		}
	}
	return 0
}

func truncateInPlace(m map[string]any, key, kind string) int {
	switch kind {
	case "string":
		if s, ok := m[key].(string); ok {
			removed := len(s)
			m[key] = truncateString(s)
			return removed - len(m[key].(string))
		}
	case "array":
		if arr, ok := m[key].([]any); ok {
			before := len(arr)
			m[key] = truncateArray(arr)
			return before - len(m[key].([]any))
		}
	}
	return 0
}

func truncateString(s string) string {
	const keep = 64
	if len(s) <= keep {
		return s
	}
	return s[:keep] + "…"
}

func truncateArray(arr []any) []any {
	const keep = 3
	if len(arr) <= keep {
		return arr
	}
	return arr[:keep]
}

func navigateToParent(root any, path []any) (parent any, key any, ok bool) {
	cur := root
	for i := 0; i < len(path)-1; i++ {
		switch seg := path[i].(type) {
		case string:
			m, isMap := cur.(map[string]any)
			if !isMap {
				return nil, nil, false
			}
			cur = m[seg]
		case int:
			arr, isArr := cur.([]any)
			if !isArr || seg < 0 || seg >= len(arr) {
				return nil, nil, false
			}
			cur = arr[seg]
		}
	}
	return cur, path[len(path)-1], true
}

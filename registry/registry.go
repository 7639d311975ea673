// Package registry maps tool qualified names to input/output JSON Schemas
// and validates values against them structurally, enforcing required
// fields, types, and ranges. It also records each tool's declared
// artifact-bearing output fields for the redactor.
package registry

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/hurtener/penguiflow-sub005/tool"
)

// NameCollision indicates two different schemas were registered for the
// same tool name.
type NameCollision struct {
	Name tool.Ident
}

func (e *NameCollision) Error() string {
	return fmt.Sprintf("registry: name collision for %q: differing schema registered", e.Name)
}

// SchemaMismatch indicates a value failed structural validation against a
// registered schema. Path identifies the offending field.
type SchemaMismatch struct {
	Name tool.Ident
	Path string
	Err  error
}

func (e *SchemaMismatch) Error() string {
	return fmt.Sprintf("registry: %q schema mismatch at %s: %v", e.Name, e.Path, e.Err)
}

func (e *SchemaMismatch) Unwrap() error { return e.Err }

// ErrNotRegistered indicates validate was called for a name with no
// registered schemas.
type ErrNotRegistered struct {
	Name tool.Ident
}

func (e *ErrNotRegistered) Error() string {
	return fmt.Sprintf("registry: %q is not registered", e.Name)
}

// ArtifactMarker records that a field at the given path is artifact-bearing.
// Paths are dotted field paths relative to the output root (e.g.
// "result.image", with "[i]" for array elements), the form the redactor
// matches against.
type ArtifactMarker struct {
	Path     string
	TypeName string
}

type entry struct {
	rawIn, rawOut               string
	inSchema, outSchema         *jsonschema.Schema
	outArtifactMarkers          []ArtifactMarker
}

// Registry maps tool qualified names to compiled input/output validators.
// Registration is idempotent for identical schemas; registering a differing
// schema for an already-registered name fails with NameCollision.
//
// Registry is read-mostly: registration happens at startup, validation calls
// are safe for concurrent use without additional synchronization from
// callers.
type Registry struct {
	mu      sync.RWMutex
	entries map[tool.Ident]*entry
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[tool.Ident]*entry)}
}

// Register compiles and stores the input/output JSON Schemas for name.
// inSchema and outSchema are JSON-Schema documents (already marshaled JSON
// or any value json.Marshal accepts). outArtifactMarkers declares which
// output fields (by dotted field path) are artifact-bearing regardless of
// what the schema itself states, so the redactor can consult the Registry
// instead of re-parsing schemas.
func (r *Registry) Register(name tool.Ident, inSchema, outSchema any, outArtifactMarkers []ArtifactMarker) error {
	inRaw, err := marshalSchema(inSchema)
	if err != nil {
		return fmt.Errorf("registry: encode input schema for %q: %w", name, err)
	}
	outRaw, err := marshalSchema(outSchema)
	if err != nil {
		return fmt.Errorf("registry: encode output schema for %q: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[name]; ok {
		if existing.rawIn == inRaw && existing.rawOut == outRaw {
			return nil // idempotent re-registration
		}
		return &NameCollision{Name: name}
	}

	compiledIn, err := compile(name, inRaw)
	if err != nil {
		return err
	}
	compiledOut, err := compile(name, outRaw)
	if err != nil {
		return err
	}

	r.entries[name] = &entry{
		rawIn:              inRaw,
		rawOut:             outRaw,
		inSchema:           compiledIn,
		outSchema:          compiledOut,
		outArtifactMarkers: outArtifactMarkers,
	}
	return nil
}

// ValidateIn validates value against the registered input schema for name.
func (r *Registry) ValidateIn(name tool.Ident, value any) error {
	return r.validate(name, value, true)
}

// ValidateOut validates value against the registered output schema for name.
func (r *Registry) ValidateOut(name tool.Ident, value any) error {
	return r.validate(name, value, false)
}

// ArtifactMarkers returns the declared artifact-bearing output fields for
// name, empty if none were declared or name is unregistered.
func (r *Registry) ArtifactMarkers(name tool.Ident) []ArtifactMarker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil
	}
	return e.outArtifactMarkers
}

func (r *Registry) validate(name tool.Ident, value any, input bool) error {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return &ErrNotRegistered{Name: name}
	}

	schema := e.outSchema
	if input {
		schema = e.inSchema
	}

	// jsonschema validates against any value that round-trips through the
	// standard decoder's native types (map[string]any, []any, etc).
	normalized, err := roundTrip(value)
	if err != nil {
		return &SchemaMismatch{Name: name, Path: "", Err: err}
	}

	if err := schema.Validate(normalized); err != nil {
		path := ""
		var verr *jsonschema.ValidationError
		if asValidationError(err, &verr) {
			path = verr.InstanceLocation
		}
		return &SchemaMismatch{Name: name, Path: path, Err: err}
	}
	return nil
}

func marshalSchema(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func compile(name tool.Ident, raw string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	url := "mem://" + string(name)
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("registry: invalid schema JSON for %q: %w", name, err)
	}
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("registry: add schema resource for %q: %w", name, err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("registry: compile schema for %q: %w", name, err)
	}
	return schema, nil
}

func roundTrip(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func asValidationError(err error, target **jsonschema.ValidationError) bool {
	for err != nil {
		if ve, ok := err.(*jsonschema.ValidationError); ok {
			*target = ve
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Package catalog implements an indexed, namespaced registry of
// ToolDescriptor records with collision detection, visibility filtering,
// and a deterministic listing order.
package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/hurtener/penguiflow-sub005/tool"
)

// RetryPolicy configures the dispatcher's retry behavior for a tool.
type RetryPolicy struct {
	MaxAttempts   int
	MinBackoff    float64 // seconds
	MaxBackoff    float64 // seconds
	RetryOnStatus []int
}

// Example is a usage example attached to a descriptor for prompt context.
type Example struct {
	Description string
	Input       map[string]any
	Output      map[string]any
}

// Descriptor is the immutable metadata the catalog owns for the lifetime of
// the runtime.
type Descriptor struct {
	QualifiedName   tool.Ident
	Description     string
	InputSchema     any
	OutputSchema    any
	Tags            []string
	SideEffects     tool.SideEffect
	LoadingMode     tool.LoadingMode
	Examples        []Example
	RetryPolicy     *RetryPolicy
	TimeoutSeconds  float64
	MaxConcurrency  int
	Impl            tool.Impl
}

// ErrDuplicate indicates a tool with the same qualified name was already
// registered (native-vs-external or otherwise).
type ErrDuplicate struct {
	Name tool.Ident
}

func (e *ErrDuplicate) Error() string {
	return fmt.Sprintf("catalog: %q already registered", e.Name)
}

// ErrNotFound indicates lookup found no descriptor for the given name.
type ErrNotFound struct {
	Name tool.Ident
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("catalog: %q not found", e.Name)
}

// VisibilityFilter controls which tools List returns: Tags restricts to
// descriptors carrying at least one of the given tags (empty means no tag
// filter); IncludeDeferred controls whether deferred-loading tools are
// listed at all (they may still be activated on first use by the
// dispatcher even when excluded here).
type VisibilityFilter struct {
	Tags            []string
	IncludeDeferred bool
}

// Catalog owns Descriptor records for the lifetime of the runtime. Writes
// (Register) only happen at startup; List/Lookup/Fingerprint are safe for
// concurrent read access.
type Catalog struct {
	mu    sync.RWMutex
	byKey map[tool.Ident]*Descriptor
}

// New constructs an empty Catalog.
func New() *Catalog {
	return &Catalog{byKey: make(map[tool.Ident]*Descriptor)}
}

// Register namespaces descriptor.QualifiedName as "{ns}.{local_name}" and
// stores it. Registering a tool under a name that already exists — whether
// the existing registration is native or external — fails with
// ErrDuplicate.
func (c *Catalog) Register(ns string, d Descriptor) error {
	if d.QualifiedName == "" {
		return fmt.Errorf("catalog: empty qualified name")
	}
	qualified := tool.New(ns, d.QualifiedName.LocalName())
	d.QualifiedName = qualified

	if d.MaxConcurrency <= 0 {
		d.MaxConcurrency = 10 // default in-flight cap per tool
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.byKey[qualified]; exists {
		return &ErrDuplicate{Name: qualified}
	}
	cp := d
	c.byKey[qualified] = &cp
	return nil
}

// Lookup returns the descriptor for qualifiedName, or ErrNotFound.
func (c *Catalog) Lookup(qualifiedName tool.Ident) (Descriptor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.byKey[qualifiedName]
	if !ok {
		return Descriptor{}, &ErrNotFound{Name: qualifiedName}
	}
	return *d, nil
}

// List returns descriptors matching filter, ordered by tie-breaks:
// (1) loading_mode always before deferred, (2) namespace
// (lexical, stands in for "declared preferred namespace" absent an
// explicit preference list), (3) safer side-effects first, (4) shorter
// names.
func (c *Catalog) List(filter VisibilityFilter) []Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tagSet := make(map[string]bool, len(filter.Tags))
	for _, t := range filter.Tags {
		tagSet[t] = true
	}

	out := make([]Descriptor, 0, len(c.byKey))
	for _, d := range c.byKey {
		if d.LoadingMode == tool.LoadingDeferred && !filter.IncludeDeferred {
			continue
		}
		if len(tagSet) > 0 && !anyTagMatches(d.Tags, tagSet) {
			continue
		}
		out = append(out, *d)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.LoadingMode != b.LoadingMode {
			return a.LoadingMode < b.LoadingMode
		}
		if a.QualifiedName.Namespace() != b.QualifiedName.Namespace() {
			return a.QualifiedName.Namespace() < b.QualifiedName.Namespace()
		}
		if a.SideEffects != b.SideEffects {
			return a.SideEffects < b.SideEffects
		}
		if len(a.QualifiedName) != len(b.QualifiedName) {
			return len(a.QualifiedName) < len(b.QualifiedName)
		}
		return a.QualifiedName < b.QualifiedName
	})
	return out
}

func anyTagMatches(tags []string, want map[string]bool) bool {
	for _, t := range tags {
		if want[t] {
			return true
		}
	}
	return false
}

// Fingerprint returns a stable hash of the currently visible catalog
// (loading_mode always, no tag filter), used by prompt-layer caches to
// detect when the tool list has changed.
func (c *Catalog) Fingerprint() string {
	descriptors := c.List(VisibilityFilter{IncludeDeferred: false})
	h := sha256.New()
	for _, d := range descriptors {
		fmt.Fprintf(h, "%s|%s|%d|%d\n", d.QualifiedName, d.Description, d.SideEffects, d.LoadingMode)
		if b, err := json.Marshal(d.InputSchema); err == nil {
			h.Write(b)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

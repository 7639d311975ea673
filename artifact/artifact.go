// Package artifact defines the artifact store contract: a content-addressed
// blob store with scopes, TTL, and eviction. Only the contract and an
// in-memory implementation live in this module; byte storage backends (S3,
// Redis) are external collaborators.
package artifact

import (
	"context"
	"errors"
	"time"

	"github.com/hurtener/penguiflow-sub005/tool"
)

// EvictionStrategy selects how the store reclaims space under pressure.
type EvictionStrategy int

const (
	// EvictionLRU evicts least-recently-used refs first.
	EvictionLRU EvictionStrategy = iota
	// EvictionFIFO evicts oldest-written refs first.
	EvictionFIFO
	// EvictionNone disables eviction; Put fails with ErrQuotaExceeded
	// instead of reclaiming space.
	EvictionNone
)

// Retention configures per-scope byte/count caps, default TTL, and the
// eviction strategy used when a put would exceed those caps.
type Retention struct {
	MaxBytesPerSession int64
	MaxCountPerSession int
	MaxBytesPerTrace   int64
	MaxCountPerTrace   int
	DefaultTTL         time.Duration
	Strategy           EvictionStrategy
	MaxArtifactBytes   int64
}

// Ref is the compact reference returned by Put* and Get operations.
type Ref struct {
	ID         string
	MimeType   string
	SizeBytes  int64
	SHA256     string
	Filename   string
	Scope      tool.Scope
	SourceMeta map[string]any
	StoredAt   time.Time
	ExpiresAt  time.Time
}

// ErrNotFound indicates no artifact exists for the given id, or its TTL has
// elapsed — the two cases are indistinguishable to callers.
var ErrNotFound = errors.New("artifact: not found")

// ErrTooLarge indicates Put was called with more bytes than MaxArtifactBytes.
var ErrTooLarge = errors.New("artifact: exceeds max_artifact_bytes")

// ErrQuotaExceeded indicates a retention cap was hit under EvictionNone.
var ErrQuotaExceeded = errors.New("artifact: quota exceeded")

// StoredEvent is emitted by a Store only when Put writes new bytes (not on
// a dedup hit).
type StoredEvent struct {
	Ref Ref
}

// Store is the artifact store contract. Implementations must make put_bytes
// content-addressed: two calls with identical bytes in the same namespace
// return the identical ref id without rewriting bytes.
type Store interface {
	// PutBytes stores data, computing sha256 and deriving
	// id = "{namespace}_{first12(sha256)}". Returns ErrTooLarge if
	// len(data) exceeds MaxArtifactBytes.
	PutBytes(ctx context.Context, data []byte, mimeType, filename, namespace string, scope tool.Scope, meta map[string]any) (Ref, error)

	// PutText stores UTF-8 text with mimeType defaulting to "text/plain".
	PutText(ctx context.Context, text string, mimeType, filename, namespace string, scope tool.Scope, meta map[string]any) (Ref, error)

	// Get returns the raw bytes for id, touching LRU order. Returns
	// ErrNotFound if id is absent or expired.
	Get(ctx context.Context, id string) ([]byte, error)

	// GetRef returns the reference metadata without the bytes.
	GetRef(ctx context.Context, id string) (Ref, error)

	// Exists reports whether id is present and unexpired.
	Exists(ctx context.Context, id string) (bool, error)

	// Delete removes id, if present. Deleting an absent id is a no-op.
	Delete(ctx context.Context, id string) error

	// Subscribe registers fn to be called for every StoredEvent (new writes
	// only). The runtime wiring subscribes the event bus to translate these
	// into artifact_stored events.
	Subscribe(fn func(StoredEvent))
}

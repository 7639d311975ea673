// Package pause persists a planner.PauseSnapshot under an opaque,
// high-entropy resume token and reconstructs it later so a run can
// continue in a different process.
package pause

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hurtener/penguiflow-sub005/planner"
)

// ErrNotFound indicates no pause record exists for the given token, or its
// TTL has elapsed. The two cases are indistinguishable to callers, matching
// the artifact store's not-found semantics for the same reason: leaking
// "expired" vs "never existed" would let a caller fingerprint valid tokens.
var ErrNotFound = errors.New("pause: not found")

// Record is the durable form of a paused run.
type Record struct {
	Token     string
	Snapshot  planner.PauseSnapshot
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Store is the narrow persistence contract the Controller depends on.
// statestore's implementations satisfy this structurally; pause does not
// import statestore, keeping the dependency direction out of this package
// (capability detection happens one level up, at wiring time, rather than
// here).
type Store interface {
	SavePause(ctx context.Context, rec Record) error
	LoadPause(ctx context.Context, token string) (Record, error)
	DeletePause(ctx context.Context, token string) error
}

// Controller allocates resume tokens and round-trips PauseSnapshots through
// a Store.
type Controller struct {
	store Store
	ttl   time.Duration
}

// New constructs a Controller. ttl <= 0 means pause records never expire.
func New(store Store, ttl time.Duration) *Controller {
	return &Controller{store: store, ttl: ttl}
}

// Pause persists snapshot under a newly allocated token and satisfies
// planner.PauseHandler.
func (c *Controller) Pause(ctx context.Context, snapshot planner.PauseSnapshot) (string, error) {
	token := newResumeToken()
	rec := Record{Token: token, Snapshot: snapshot, CreatedAt: time.Now()}
	if c.ttl > 0 {
		rec.ExpiresAt = rec.CreatedAt.Add(c.ttl)
	}
	if err := c.store.SavePause(ctx, rec); err != nil {
		return "", err
	}
	return token, nil
}

// Resume loads and deletes the pause record for token (a resume token is
// opaque and single-use), then returns the snapshot the caller feeds into
// Machine.Resume.
func (c *Controller) Resume(ctx context.Context, token string) (planner.PauseSnapshot, error) {
	rec, err := c.store.LoadPause(ctx, token)
	if err != nil {
		return planner.PauseSnapshot{}, err
	}
	if !rec.ExpiresAt.IsZero() && time.Now().After(rec.ExpiresAt) {
		_ = c.store.DeletePause(ctx, token)
		return planner.PauseSnapshot{}, ErrNotFound
	}
	if err := c.store.DeletePause(ctx, token); err != nil {
		return planner.PauseSnapshot{}, err
	}
	return rec.Snapshot, nil
}

// newResumeToken allocates an opaque resume token with well over 128 bits
// of entropy: a single v4 UUID only carries ~122 random bits once its
// fixed version/variant bits are excluded, so two are concatenated.
func newResumeToken() string {
	a := strings.ReplaceAll(uuid.NewString(), "-", "")
	b := strings.ReplaceAll(uuid.NewString(), "-", "")
	return a + b
}

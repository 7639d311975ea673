// Package session implements session/task lifecycle, steering input, and
// task-state publication over the Event Bus.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hurtener/penguiflow-sub005/event"
)

// Status enumerates TaskState.Status values.
type Status string

const (
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusSteering  Status = "steering"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// StateUpdateKind enumerates the state_update payload kinds the controller
// publishes.
type StateUpdateKind string

const (
	KindTaskState    StateUpdateKind = "TASK_STATE"
	KindNotification StateUpdateKind = "NOTIFICATION"
	KindContextPatch StateUpdateKind = "CONTEXT_PATCH"
)

// ErrSessionMismatch indicates CreateSession was called again for an
// existing session id with a different tenant/user: session ownership is
// fixed at creation.
var ErrSessionMismatch = errors.New("session: tenant/user mismatch for existing session")

// ErrUnknownSession/ErrUnknownTask indicate an operation referenced a
// session or task that was never created.
var (
	ErrUnknownSession = errors.New("session: unknown session")
	ErrUnknownTask    = errors.New("session: unknown task")
)

// Session is a tenant/user-scoped container for one or more TaskStates.
type Session struct {
	ID        string
	TenantID  string
	UserID    string
	CreatedAt time.Time
}

// TaskState is the Session Controller's durable view of one background
// task.
type TaskState struct {
	TaskID       string
	SessionID    string
	Status       Status
	LastUpdateID uint64
	Attributes   map[string]any
}

// SteeringEvent is a USER_MESSAGE (or other steering kind) targeting a
// running task.
type SteeringEvent struct {
	SessionID string
	TaskID    string
	EventType string
	Payload   map[string]any
	Source    string
}

// Controller owns sessions and tasks and publishes state_update events.
type Controller struct {
	mu       sync.Mutex
	bus      *event.Bus
	sessions map[string]*Session
	tasks    map[string]*TaskState // keyed by taskID
	steering map[string][]SteeringEvent
}

// New constructs a Controller publishing onto bus.
func New(bus *event.Bus) *Controller {
	return &Controller{
		bus:      bus,
		sessions: make(map[string]*Session),
		tasks:    make(map[string]*TaskState),
		steering: make(map[string][]SteeringEvent),
	}
}

// CreateSession is idempotent: calling it again for the same id with the
// same tenant/user returns the existing session unchanged.
func (c *Controller) CreateSession(id, tenantID, userID string) (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.sessions[id]; ok {
		if existing.TenantID != tenantID || existing.UserID != userID {
			return Session{}, ErrSessionMismatch
		}
		return *existing, nil
	}
	s := &Session{ID: id, TenantID: tenantID, UserID: userID, CreatedAt: time.Now()}
	c.sessions[id] = s
	return *s, nil
}

// GetSession returns sessionID's Session, for callers (e.g. the resume
// entry point) that need to reconstruct tenant/user scope from a session
// id alone.
func (c *Controller) GetSession(sessionID string) (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// StartTask registers a new running TaskState under sessionID.
func (c *Controller) StartTask(ctx context.Context, sessionID, taskID string, attrs map[string]any) (TaskState, error) {
	c.mu.Lock()
	if _, ok := c.sessions[sessionID]; !ok {
		c.mu.Unlock()
		return TaskState{}, ErrUnknownSession
	}
	ts := &TaskState{TaskID: taskID, SessionID: sessionID, Status: StatusRunning, Attributes: attrs}
	c.tasks[taskID] = ts
	c.mu.Unlock()

	c.publish(ctx, sessionID, KindTaskState, *ts)
	return *ts, nil
}

// UpdateTaskState transitions taskID to status, merges attrs, and publishes
// a TASK_STATE state_update event.
func (c *Controller) UpdateTaskState(ctx context.Context, taskID string, status Status, attrs map[string]any) (TaskState, error) {
	c.mu.Lock()
	ts, ok := c.tasks[taskID]
	if !ok {
		c.mu.Unlock()
		return TaskState{}, ErrUnknownTask
	}
	ts.Status = status
	ts.LastUpdateID++
	if ts.Attributes == nil {
		ts.Attributes = make(map[string]any, len(attrs))
	}
	for k, v := range attrs {
		ts.Attributes[k] = v
	}
	snapshot := *ts
	sessionID := ts.SessionID
	c.mu.Unlock()

	c.publish(ctx, sessionID, KindTaskState, snapshot)
	return snapshot, nil
}

// Notify publishes a NOTIFICATION state_update unrelated to task lifecycle
// (e.g. a background alert the UI should surface).
func (c *Controller) Notify(ctx context.Context, sessionID string, payload map[string]any) {
	c.publish(ctx, sessionID, KindNotification, payload)
}

// PatchContext publishes a CONTEXT_PATCH state_update describing an
// incremental change to the session's shared context.
func (c *Controller) PatchContext(ctx context.Context, sessionID string, patch map[string]any) {
	c.publish(ctx, sessionID, KindContextPatch, patch)
}

// Steer accepts a steering message targeting taskID and queues it for
// DrainSteering; accepted reports whether taskID is known and not yet
// completed or failed. Nothing in this module drains the queue or passes
// queued messages to the planner.
func (c *Controller) Steer(ev SteeringEvent) (accepted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts, ok := c.tasks[ev.TaskID]
	if !ok {
		return false
	}
	if ts.Status == StatusCompleted || ts.Status == StatusFailed {
		return false
	}
	c.steering[ev.TaskID] = append(c.steering[ev.TaskID], ev)
	if ts.Status == StatusRunning {
		ts.Status = StatusSteering
	}
	return true
}

// DrainSteering returns and clears taskID's pending steering events, for
// the orchestrating layer to fold into the planner's next observation.
func (c *Controller) DrainSteering(taskID string) []SteeringEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	pending := c.steering[taskID]
	delete(c.steering, taskID)
	return pending
}

// publish reuses the Bus's per-key ordering for session-scoped events by
// keying on sessionID rather than a trace id; the Bus treats its key as an
// opaque stream identifier, so a session's state_update stream is just
// another stream sharing the same ordering/backpressure machinery as a
// query trace.
func (c *Controller) publish(ctx context.Context, sessionID string, kind StateUpdateKind, payload any) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(ctx, sessionID, event.KindStateUpdate, fmt.Sprintf("state_update.%s", kind), payload)
}

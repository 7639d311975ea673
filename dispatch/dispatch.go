// Package dispatch turns a planner-produced tool call into an observation
// under bounded concurrency, with retries, timeouts, and structured
// failure semantics.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/hurtener/penguiflow-sub005/catalog"
	"github.com/hurtener/penguiflow-sub005/registry"
	"github.com/hurtener/penguiflow-sub005/tool"
)

// ErrorClass enumerates ToolError classes.
type ErrorClass string

const (
	ClassSchemaMismatch   ErrorClass = "SchemaMismatch"
	ClassArgsRejected     ErrorClass = "ArgsRejected"
	ClassNotActivatable   ErrorClass = "NotActivatable"
	ClassAuthConfigError  ErrorClass = "AuthConfigError"
	ClassQuotaExceeded    ErrorClass = "QuotaExceeded"
	ClassArtifactTooLarge ErrorClass = "ArtifactTooLarge"
	ClassUpstream5xx      ErrorClass = "Upstream5xx"
	ClassTimeout          ErrorClass = "Timeout"
	ClassCancelled        ErrorClass = "Cancelled"
	ClassInternal         ErrorClass = "Internal"
)

// ToolError is the structured, non-throwing failure observation produced
// when a tool call does not succeed.
type ToolError struct {
	Class   ErrorClass
	Message string
	Retries int
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s (retries=%d)", e.Class, e.Message, e.Retries)
}

// Result is the tagged union of a tool call's outcome.
type Result struct {
	ToolCallID string
	Index      int
	ToolName   tool.Ident
	Output     map[string]any // set on success
	Err        *ToolError      // set on failure
}

// Ok reports whether the call succeeded.
func (r Result) Ok() bool { return r.Err == nil }

// VisibilityPolicy decides whether a deferred tool may be activated on
// first use.
type VisibilityPolicy interface {
	CanActivate(name tool.Ident) bool
}

// AllowAll is a VisibilityPolicy that activates every deferred tool.
type AllowAll struct{}

func (AllowAll) CanActivate(tool.Ident) bool { return true }

// EventSink receives dispatcher lifecycle notifications for the event bus
// without dispatch importing package event directly, keeping the
// dependency direction one-way.
type EventSink interface {
	ToolCallStart(traceID string, toolCallID string, name tool.Ident)
	ToolCallArgsSuspect(traceID string, toolCallID string, reason string)
	ToolCallEnd(traceID string, toolCallID string, name tool.Ident, latencyMS int64, err error)
}

type noopSink struct{}

func (noopSink) ToolCallStart(string, string, tool.Ident)                {}
func (noopSink) ToolCallArgsSuspect(string, string, string)              {}
func (noopSink) ToolCallEnd(string, string, tool.Ident, int64, error)    {}

var placeholderPattern = regexp.MustCompile(`\$\{[A-Za-z_][A-Za-z0-9_]*\}`)

// Options configures a Dispatcher.
type Options struct {
	// GlobalParallelism caps concurrent tool invocations across all tools
	// for one planner; default 50.
	GlobalParallelism int
	// RejectPlaceholders, if true, reports an input-validation failure as
	// ArgsRejected (without invoking the tool) when the payload still holds
	// an unsubstituted "${VAR}" value. A payload that passes validation is
	// invoked even if it contains such a value.
	RejectPlaceholders bool
	Visibility         VisibilityPolicy
	Sink               EventSink
	// Artifacts is exposed to native tool implementations via ToolContext.
	// May be nil for tests that don't exercise artifact writes.
	Artifacts tool.ArtifactWriter
	// Rand supplies jitter; overridable for deterministic tests.
	Rand *rand.Rand
}

// Dispatcher executes validated tool calls under bounded concurrency.
type Dispatcher struct {
	catalog  *catalog.Catalog
	registry *registry.Registry

	opts        Options
	globalSlots chan struct{}

	mu         sync.Mutex
	perTool    map[tool.Ident]chan struct{}
	activated  map[tool.Ident]bool
}

// New constructs a Dispatcher bound to catalog c and registry r.
func New(c *catalog.Catalog, r *registry.Registry, opts Options) *Dispatcher {
	if opts.GlobalParallelism <= 0 {
		opts.GlobalParallelism = 50
	}
	if opts.Visibility == nil {
		opts.Visibility = AllowAll{}
	}
	if opts.Sink == nil {
		opts.Sink = noopSink{}
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Dispatcher{
		catalog:     c,
		registry:    r,
		opts:        opts,
		globalSlots: make(chan struct{}, opts.GlobalParallelism),
		perTool:     make(map[tool.Ident]chan struct{}),
		activated:   make(map[tool.Ident]bool),
	}
}

func (d *Dispatcher) slotFor(name tool.Ident, max int) chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch, ok := d.perTool[name]
	if !ok {
		ch = make(chan struct{}, max)
		d.perTool[name] = ch
	}
	return ch
}

// Dispatch executes a single call end to end: activation check, auth
// substitution, input validation, bounded-concurrency acquire, invocation
// with retry, and output validation. It never returns an error for
// tool-level failures; those are encoded in Result.Err.
func (d *Dispatcher) Dispatch(ctx context.Context, call tool.Call, maxParallelHint int) Result {
	start := time.Now()
	desc, err := d.catalog.Lookup(call.Name)
	if err != nil {
		return d.fail(call, ClassInternal, err.Error(), 0)
	}

	if desc.LoadingMode == tool.LoadingDeferred && !d.isActivated(call.Name) {
		if !d.opts.Visibility.CanActivate(call.Name) {
			return d.fail(call, ClassNotActivatable, "tool not activatable", 0)
		}
		d.markActivated(call.Name)
	}

	if desc.Impl.Kind == tool.ImplExternal && desc.Impl.External != nil {
		if _, err := substituteAuthConfig(desc.Impl.External.Auth); err != nil {
			return d.fail(call, ClassAuthConfigError, err.Error(), 0)
		}
	}

	if err := d.registry.ValidateIn(call.Name, call.Payload); err != nil {
		d.opts.Sink.ToolCallArgsSuspect(call.TraceID, call.ToolCallID, err.Error())
		if d.opts.RejectPlaceholders && payloadHasPlaceholder(call.Payload) {
			return d.fail(call, ClassArgsRejected, "unsubstituted placeholder in arguments: "+err.Error(), 0)
		}
		var mismatch *registry.SchemaMismatch
		if errors.As(err, &mismatch) {
			return d.fail(call, ClassSchemaMismatch, err.Error(), 0)
		}
		return d.fail(call, ClassInternal, err.Error(), 0)
	}
	payload := call.Payload

	d.opts.Sink.ToolCallStart(call.TraceID, call.ToolCallID, call.Name)

	if err := d.acquire(ctx, desc, maxParallelHint); err != nil {
		res := d.fail(call, classifyCtxErr(err), err.Error(), 0)
		d.opts.Sink.ToolCallEnd(call.TraceID, call.ToolCallID, call.Name, time.Since(start).Milliseconds(), err)
		return res
	}
	defer d.release(desc)

	res := d.invokeWithRetry(ctx, call, desc, payload)

	var endErr error
	if !res.Ok() {
		endErr = res.Err
	}
	d.opts.Sink.ToolCallEnd(call.TraceID, call.ToolCallID, call.Name, time.Since(start).Milliseconds(), endErr)
	return res
}

func (d *Dispatcher) isActivated(name tool.Ident) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.activated[name]
}

func (d *Dispatcher) markActivated(name tool.Ident) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.activated[name] = true
}

// acquire takes a global slot then a per-tool slot, both fair FIFO via
// buffered channels. The maxParallelHint argument is ignored here: the
// caller (planner) enforces the hint by running at most maxParallelHint
// concurrent Dispatch calls, so acquire only respects the dispatcher-wide
// and per-tool caps.
func (d *Dispatcher) acquire(ctx context.Context, desc catalog.Descriptor, _ int) error {
	select {
	case d.globalSlots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	toolSlots := d.slotFor(desc.QualifiedName, desc.MaxConcurrency)
	select {
	case toolSlots <- struct{}{}:
		return nil
	case <-ctx.Done():
		<-d.globalSlots
		return ctx.Err()
	}
}

func (d *Dispatcher) release(desc catalog.Descriptor) {
	toolSlots := d.slotFor(desc.QualifiedName, desc.MaxConcurrency)
	<-toolSlots
	<-d.globalSlots
}

func (d *Dispatcher) invokeWithRetry(ctx context.Context, call tool.Call, desc catalog.Descriptor, payload map[string]any) Result {
	policy := desc.RetryPolicy
	maxAttempts := 1
	minBackoff, maxBackoff := 0.1, 2.0
	var retryStatus map[int]bool
	if policy != nil {
		if policy.MaxAttempts > 0 {
			maxAttempts = policy.MaxAttempts
		}
		if policy.MinBackoff > 0 {
			minBackoff = policy.MinBackoff
		}
		if policy.MaxBackoff > 0 {
			maxBackoff = policy.MaxBackoff
		}
		retryStatus = make(map[int]bool, len(policy.RetryOnStatus))
		for _, s := range policy.RetryOnStatus {
			retryStatus[s] = true
		}
	}

	timeout := desc.TimeoutSeconds
	if timeout <= 0 {
		timeout = 30
	}

	var lastErr *ToolError
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			d.sleepBackoff(ctx, attempt, minBackoff, maxBackoff)
		}

		callCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout*float64(time.Second)))
		out, status, err := d.invokeOnce(callCtx, desc, call, payload)
		cancel()

		if err == nil {
			if outErr := d.registry.ValidateOut(call.Name, out); outErr != nil {
				lastErr = &ToolError{Class: ClassSchemaMismatch, Message: outErr.Error(), Retries: attempt}
				continue
			}
			return Result{ToolCallID: call.ToolCallID, Index: call.Index, ToolName: call.Name, Output: out}
		}

		if ctx.Err() != nil {
			return Result{ToolCallID: call.ToolCallID, Index: call.Index, ToolName: call.Name,
				Err: &ToolError{Class: ClassCancelled, Message: "cancelled", Retries: attempt}}
		}

		class := classifyInvokeErr(err, status)
		lastErr = &ToolError{Class: class, Message: err.Error(), Retries: attempt}

		retriable := retryStatus[status] || errors.Is(err, context.DeadlineExceeded)
		if !retriable {
			break
		}
	}
	return Result{ToolCallID: call.ToolCallID, Index: call.Index, ToolName: call.Name, Err: lastErr}
}

func (d *Dispatcher) sleepBackoff(ctx context.Context, attempt int, min, max float64) {
	backoff := min * math.Pow(2, float64(attempt-1))
	if backoff > max {
		backoff = max
	}
	jitter := backoff * (0.5 + d.opts.Rand.Float64()*0.5)
	select {
	case <-time.After(time.Duration(jitter * float64(time.Second))):
	case <-ctx.Done():
	}
}

// StatusAwareError lets a tool implementation report an HTTP-like status
// code so retry policy can match retry_on_status.
type StatusAwareError struct {
	Status int
	Err    error
}

func (e *StatusAwareError) Error() string { return e.Err.Error() }
func (e *StatusAwareError) Unwrap() error { return e.Err }

func (d *Dispatcher) invokeOnce(ctx context.Context, desc catalog.Descriptor, call tool.Call, payload map[string]any) (map[string]any, int, error) {
	if desc.Impl.Kind != tool.ImplNative || desc.Impl.Native == nil {
		return nil, 0, fmt.Errorf("dispatch: %q has no native implementation wired", call.Name)
	}
	tc := tool.Context{Context: ctx, ToolCallID: call.ToolCallID, Scope: call.Scope, Artifacts: d.opts.Artifacts}
	if dl, ok := ctx.Deadline(); ok {
		tc.Deadline = dl
	}
	out, err := desc.Impl.Native(tc, payload)
	if err == nil {
		return out, 0, nil
	}
	var sae *StatusAwareError
	if errors.As(err, &sae) {
		return nil, sae.Status, sae.Err
	}
	return nil, 0, err
}

func classifyInvokeErr(err error, status int) ErrorClass {
	if status >= 500 || status == 429 {
		return ClassUpstream5xx
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	return ClassInternal
}

func classifyCtxErr(err error) ErrorClass {
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	return ClassCancelled
}

func (d *Dispatcher) fail(call tool.Call, class ErrorClass, msg string, retries int) Result {
	return Result{
		ToolCallID: call.ToolCallID,
		Index:      call.Index,
		ToolName:   call.Name,
		Err:        &ToolError{Class: class, Message: msg, Retries: retries},
	}
}

// substituteAuthConfig replaces "${VAR}" occurrences in an external tool's
// connection/auth config values from the process environment. A missing
// variable is a fatal AuthConfigError.
func substituteAuthConfig(auth map[string]string) (map[string]string, error) {
	var missing []string
	out := make(map[string]string, len(auth))
	for k, v := range auth {
		resolved := placeholderPattern.ReplaceAllStringFunc(v, func(match string) string {
			name := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
			val, ok := os.LookupEnv(name)
			if !ok {
				missing = append(missing, name)
				return match
			}
			return val
		})
		out[k] = resolved
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("dispatch: missing environment variable(s): %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// payloadHasPlaceholder reports whether any string value in payload still
// contains literal "${VAR}" syntax — a sign the planner emitted an
// unresolved placeholder as a tool argument rather than a real value.
func payloadHasPlaceholder(payload map[string]any) bool {
	for _, v := range payload {
		if valueHasPlaceholder(v) {
			return true
		}
	}
	return false
}

func valueHasPlaceholder(v any) bool {
	switch t := v.(type) {
	case string:
		return placeholderPattern.MatchString(t)
	case map[string]any:
		return payloadHasPlaceholder(t)
	case []any:
		for _, item := range t {
			if valueHasPlaceholder(item) {
				return true
			}
		}
	}
	return false
}

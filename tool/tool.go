// Package tool defines the cross-cutting primitives shared by the catalog,
// registry, dispatcher, and planner: tool identifiers, the tool call shape,
// the side-effect hazard classification, and the ToolContext handed to tool
// implementations at invocation time.
package tool

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Ident identifies a tool uniquely within a catalog, of the form
// "{namespace}.{local_name}".
type Ident string

// Namespace returns the portion of the identifier before the first dot.
func (i Ident) Namespace() string {
	ns, _, _ := strings.Cut(string(i), ".")
	return ns
}

// LocalName returns the portion of the identifier after the first dot.
func (i Ident) LocalName() string {
	_, name, ok := strings.Cut(string(i), ".")
	if !ok {
		return string(i)
	}
	return name
}

// New builds a qualified Ident from a namespace and local name.
func New(namespace, localName string) Ident {
	return Ident(fmt.Sprintf("%s.%s", namespace, localName))
}

// SideEffect classifies the hazard level of a tool invocation. Values are
// ordered from safest to most hazardous; Catalog listing tie-breaks prefer
// lower values first.
type SideEffect int

const (
	// SideEffectPure indicates the tool has no observable side effects.
	SideEffectPure SideEffect = iota
	// SideEffectRead indicates the tool only reads external state.
	SideEffectRead
	// SideEffectWrite indicates the tool mutates state it owns.
	SideEffectWrite
	// SideEffectExternal indicates the tool mutates state outside the
	// runtime's ownership (third-party APIs, outbound messages).
	SideEffectExternal
	// SideEffectStateful indicates the tool carries invocation-to-invocation
	// state that affects future calls (e.g., opens a session).
	SideEffectStateful
)

// String renders the side-effect class for logging and prompts.
func (s SideEffect) String() string {
	switch s {
	case SideEffectPure:
		return "pure"
	case SideEffectRead:
		return "read"
	case SideEffectWrite:
		return "write"
	case SideEffectExternal:
		return "external"
	case SideEffectStateful:
		return "stateful"
	default:
		return "unknown"
	}
}

// LoadingMode controls when a tool is visible to the planner's prompt.
type LoadingMode int

const (
	// LoadingAlways means the tool is always listed to the planner.
	LoadingAlways LoadingMode = iota
	// LoadingDeferred means the tool is activated on first use, subject to
	// the visibility policy.
	LoadingDeferred
)

// Call is a single tool invocation produced by the planner, validated and
// scheduled by the dispatcher.
type Call struct {
	// Name identifies the tool to invoke.
	Name Ident
	// Index is the declared position within the enclosing Plan's parallel
	// batch; results are joined and reported in this order regardless of
	// completion order.
	Index int
	// Payload is the tool-specific, not-yet-validated argument payload.
	Payload map[string]any
	// ToolCallID uniquely identifies this invocation, assigned by the
	// planner from the trace id, action_seq and Index when it builds the call.
	ToolCallID string
	// TraceID identifies the enclosing trace.
	TraceID string
	// Scope carries tenant/user/session/trace identifiers through to the
	// invoked tool's Context.
	Scope Scope
}

// Scope is authorization metadata describing which tenant/user/session/trace
// a value is associated with. Scope is metadata only: it is not enforced by
// in-process stores, only by the external HTTP surface.
type Scope struct {
	TenantID  string
	UserID    string
	SessionID string
	TraceID   string
}

// ArtifactWriter is the subset of the artifact store exposed to tool
// implementations via ToolContext.
type ArtifactWriter interface {
	PutBytes(ctx context.Context, data []byte, mimeType, filename, namespace string, scope Scope, meta map[string]any) (ArtifactRefView, error)
	PutText(ctx context.Context, text string, namespace string, scope Scope, meta map[string]any) (ArtifactRefView, error)
}

// ArtifactRefView is the minimal artifact reference shape tool
// implementations receive back from ArtifactWriter; the full ArtifactRef
// type lives in package artifact to avoid an import cycle (tool is a leaf
// package imported by artifact's callers, not the reverse).
type ArtifactRefView struct {
	ID        string
	MimeType  string
	SizeBytes int64
	SHA256    string
	Filename  string
}

// Context is handed to a tool implementation at invocation time. It exposes
// artifact access, a field for a partial-output chunk side-channel (left
// nil by this module's dispatcher), the per-call deadline, and scope
// metadata.
type Context struct {
	context.Context

	// Artifacts lets the tool store large outputs out-of-band.
	Artifacts ArtifactWriter
	// Scope carries tenant/user/session/trace identifiers.
	Scope Scope
	// ToolCallID identifies this specific invocation.
	ToolCallID string
	// Deadline is the absolute time by which the tool must return.
	Deadline time.Time
	// EmitChunk streams a partial output chunk for stream_id, marking done
	// on the final call. The dispatcher in this module does not set it, so
	// it is nil when a tool is invoked through dispatch.
	EmitChunk func(streamID string, data []byte, done bool)
}

// Func is the callable shape a native tool implementation provides:
// input is the validated payload, output is returned for Registry
// output-validation and Redactor processing.
type Func func(ctx Context, input map[string]any) (map[string]any, error)

// ImplKind discriminates the two ToolImpl variants: an in-process callable
// or a remote transport configuration.
type ImplKind int

const (
	// ImplNative wraps an in-process Go function.
	ImplNative ImplKind = iota
	// ImplExternal wraps a remote transport the runtime invokes over a
	// narrow contract (MCP/UTCP/HTTP clients live outside this module;
	// ExternalConfig only carries what the dispatcher needs to substitute
	// placeholders and time out calls).
	ImplExternal
)

// ExternalConfig carries the connection/auth configuration for an external
// tool implementation. Values may contain "${VAR}" placeholders substituted
// from the process environment at call time.
type ExternalConfig struct {
	Endpoint string
	Auth     map[string]string
}

// Impl is the sum-type tool implementation value registered into the
// Catalog: either a native callable or an external transport configuration.
type Impl struct {
	Kind     ImplKind
	Native   Func
	External *ExternalConfig
}

// Package server binds the runtime's components to an HTTP surface: the
// query/resume entry points, the artifact download surface, and the
// steering surface, plus a Prometheus /metrics endpoint, in the gin-based
// API layer style used elsewhere in this codebase.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hurtener/penguiflow-sub005/artifact"
	"github.com/hurtener/penguiflow-sub005/event"
	"github.com/hurtener/penguiflow-sub005/internal/telemetry"
	"github.com/hurtener/penguiflow-sub005/pause"
	"github.com/hurtener/penguiflow-sub005/planner"
	"github.com/hurtener/penguiflow-sub005/session"
	"github.com/hurtener/penguiflow-sub005/stream"
	"github.com/hurtener/penguiflow-sub005/tool"
)

// LLMAdapterFactory builds the LLMAdapter for one query. Concrete provider
// adapters (Anthropic/OpenAI/Bedrock/etc) live outside this module; the
// factory is how a caller plugs one in per request.
type LLMAdapterFactory func(req QueryRequest) (planner.LLMAdapter, error)

// Options configures a Server. Machine, Sessions, Pauses, Artifacts, and
// Bus are the already-wired runtime collaborators; NewLLMAdapter is
// the only per-query seam the HTTP layer itself resolves.
type Options struct {
	Machine       *planner.Machine
	Sessions      *session.Controller
	Pauses        *pause.Controller
	Artifacts     artifact.Store
	Bus           *event.Bus
	NewLLMAdapter LLMAdapterFactory
	Logger        telemetry.Logger
}

// Server owns the gin Engine and the runtime collaborators its handlers
// call into.
type Server struct {
	opts Options
	sse  *stream.SSE
	agui *stream.AGUI
}

// New constructs a Server. It does not start listening; call Engine().Run
// or ListenAndServe.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	return &Server{
		opts: opts,
		sse:  stream.NewSSE(opts.Bus),
		agui: stream.NewAGUI(opts.Bus),
	}
}

// Engine builds the gin.Engine with all routes registered.
func (s *Server) Engine() *gin.Engine {
	r := gin.Default()

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.POST("/query", s.handleQuery)
	v1.POST("/resume", s.handleResume)
	v1.POST("/steering", s.handleSteering)
	v1.GET("/stream/:trace_id", s.handleStream)

	r.GET("/artifact/:id", s.handleArtifactGet)
	r.GET("/artifact/:id/meta", s.handleArtifactMeta)

	return r
}

// ListenAndServe starts the HTTP server on addr.
func (s *Server) ListenAndServe(addr string) error {
	return s.Engine().Run(addr)
}

func newTraceID() string {
	return uuid.NewString()
}

func scopeFromSession(sess session.Session, traceID string) tool.Scope {
	return tool.Scope{TenantID: sess.TenantID, UserID: sess.UserID, SessionID: sess.ID, TraceID: traceID}
}

// taskIDForTrace derives the Session Controller's task id from a trace id.
// This server wires exactly one TaskState per query trace, so the trace id
// doubles as the task id rather than threading a second generated
// identifier through the query/resume/steering surfaces.
func taskIDForTrace(traceID string) string { return traceID }

func (s *Server) runAsync(sess session.Session, traceID string, llm planner.LLMAdapter, scope tool.Scope, hints planner.PlanningHints, hasImages bool) {
	go func() {
		ctx := context.Background()
		outcome := s.opts.Machine.Run(ctx, traceID, scope, llm, hints, hasImages)
		s.finishTask(ctx, sess, traceID, outcome)
	}()
}

func (s *Server) resumeAsync(sess session.Session, snapshot planner.PauseSnapshot, llm planner.LLMAdapter, scope tool.Scope, hints planner.PlanningHints, extraInputs map[string]any) {
	go func() {
		ctx := context.Background()
		outcome := s.opts.Machine.Resume(ctx, snapshot, scope, llm, hints, extraInputs)
		s.finishTask(ctx, sess, snapshot.TraceID, outcome)
	}()
}

func (s *Server) finishTask(ctx context.Context, sess session.Session, traceID string, outcome planner.Outcome) {
	taskID := taskIDForTrace(traceID)
	switch outcome.State {
	case planner.StateFinished:
		_, _ = s.opts.Sessions.UpdateTaskState(ctx, taskID, session.StatusCompleted, map[string]any{"answer": outcome.Answer, "sources": outcome.Sources})
	case planner.StatePaused:
		_, _ = s.opts.Sessions.UpdateTaskState(ctx, taskID, session.StatusPaused, map[string]any{"resume_token": outcome.ResumeToken})
	default:
		msg := ""
		if outcome.Err != nil {
			msg = outcome.Err.Error()
		}
		_, _ = s.opts.Sessions.UpdateTaskState(ctx, taskID, session.StatusFailed, map[string]any{"error": msg})
		s.opts.Logger.Error(ctx, "penguiflow: run failed", "trace_id", traceID, "error", msg)
	}
}

func streamURL(traceID, format string) string {
	if format == "" {
		format = "sse"
	}
	return fmt.Sprintf("/v1/stream/%s?format=%s", traceID, format)
}

package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/hurtener/penguiflow-sub005/pause"
	"github.com/hurtener/penguiflow-sub005/planner"
	"github.com/hurtener/penguiflow-sub005/session"
	"github.com/hurtener/penguiflow-sub005/tool"
)

// handleQuery is the query entry point: it creates or reuses the session,
// starts a task, launches the planner run in the background, and returns a
// stream handle immediately.
func (s *Server) handleQuery(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, err := s.opts.Sessions.CreateSession(req.SessionID, req.TenantID, req.UserID)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	traceID := newTraceID()
	scope := scopeFromSession(sess, traceID)

	llm, err := s.opts.NewLLMAdapter(req)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	if _, err := s.opts.Sessions.StartTask(c.Request.Context(), sess.ID, taskIDForTrace(traceID), map[string]any{"query": req.Query}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	hints := req.PlanningHints.toHints()
	s.runAsync(sess, traceID, llm, scope, hints, len(req.Images) > 0)

	c.JSON(http.StatusOK, QueryResponse{TraceID: traceID, StreamURL: streamURL(traceID, req.Format)})
}

// handleResume is the resume entry point: it redeems the (single-use)
// resume token, reconstructs scope from the paused run's session, and
// continues the planner loop in the background.
func (s *Server) handleResume(c *gin.Context) {
	var req ResumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snapshot, err := s.opts.Pauses.Resume(c.Request.Context(), req.ResumeToken)
	if err != nil {
		status := http.StatusInternalServerError
		if err == pause.ErrNotFound {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	sess, ok := s.opts.Sessions.GetSession(snapshot.SessionID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session: unknown session"})
		return
	}
	scope := scopeFromSession(sess, snapshot.TraceID)

	llm, err := s.opts.NewLLMAdapter(QueryRequest{SessionID: snapshot.SessionID, TenantID: sess.TenantID, UserID: sess.UserID, ToolContext: req.ToolContext})
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	var extraInputs map[string]any
	if req.Result != nil {
		extraInputs = map[string]any{"resumed_result": req.Result}
	}

	// The resume request body carries no planning hints of its own; Resume
	// reads hop budget from snapshot.HopsRemaining, not from hints.MaxHops,
	// so a zero-value PlanningHints only affects max_parallel/disallow_nodes
	// for the calls made after resuming, which default to "no restriction"
	// in that case.
	s.resumeAsync(sess, snapshot, llm, scope, planner.PlanningHints{}, extraInputs)

	c.JSON(http.StatusOK, QueryResponse{TraceID: snapshot.TraceID, StreamURL: streamURL(snapshot.TraceID, "")})
}

// handleSteering accepts a steering event and forwards it to the session
// controller.
func (s *Server) handleSteering(c *gin.Context) {
	var req SteeringRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	accepted := s.opts.Sessions.Steer(session.SteeringEvent{
		SessionID: req.SessionID,
		TaskID:    req.TaskID,
		EventType: req.EventType,
		Payload:   req.Payload,
		Source:    req.Source,
	})
	c.JSON(http.StatusOK, SteeringResponse{Accepted: accepted})
}

// handleStream upgrades to one of the two §4.11 streaming encoders.
func (s *Server) handleStream(c *gin.Context) {
	traceID := c.Param("trace_id")
	format := c.DefaultQuery("format", "sse")

	var sinceSeq uint64
	if v := c.Query("since_seq"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since_seq must be a non-negative integer"})
			return
		}
		sinceSeq = parsed
	}

	switch format {
	case "sse":
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		_ = s.sse.Stream(c.Request.Context(), traceID, sinceSeq, c.Writer)
	case "agui":
		c.Header("Content-Type", "application/x-ndjson")
		_ = s.agui.Stream(c.Request.Context(), traceID, sinceSeq, c.Writer)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be sse or agui"})
	}
}

// handleArtifactGet serves an artifact's bytes. A scope mismatch returns
// not-found rather than forbidden, so an
// unauthorized caller cannot distinguish "wrong scope" from "never
// existed".
func (s *Server) handleArtifactGet(c *gin.Context) {
	id := c.Param("id")
	ref, err := s.opts.Artifacts.GetRef(c.Request.Context(), id)
	if err != nil || !scopeAuthorized(c, ref.Scope) {
		c.JSON(http.StatusNotFound, gin.H{"error": "artifact: not found"})
		return
	}
	data, err := s.opts.Artifacts.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "artifact: not found"})
		return
	}
	c.Data(http.StatusOK, ref.MimeType, data)
}

func (s *Server) handleArtifactMeta(c *gin.Context) {
	id := c.Param("id")
	ref, err := s.opts.Artifacts.GetRef(c.Request.Context(), id)
	if err != nil || !scopeAuthorized(c, ref.Scope) {
		c.JSON(http.StatusNotFound, gin.H{"error": "artifact: not found"})
		return
	}
	c.JSON(http.StatusOK, ArtifactMetaResponse{
		ID: ref.ID, MimeType: ref.MimeType, SizeBytes: ref.SizeBytes, SHA256: ref.SHA256, Filename: ref.Filename,
	})
}

// scopeAuthorized compares the caller-supplied session/user/tenant query
// parameters against the artifact's stored scope. Callers
// that omit all three are treated as unscoped/internal callers (e.g. the
// demo CLI) and always authorized; any query parameter present must match.
func scopeAuthorized(c *gin.Context, scope tool.Scope) bool {
	if sid := c.Query("session_id"); sid != "" && sid != scope.SessionID {
		return false
	}
	if uid := c.Query("user_id"); uid != "" && uid != scope.UserID {
		return false
	}
	if tid := c.Query("tenant_id"); tid != "" && tid != scope.TenantID {
		return false
	}
	return true
}

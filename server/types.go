package server

import (
	"github.com/hurtener/penguiflow-sub005/artifact"
	"github.com/hurtener/penguiflow-sub005/planner"
	"github.com/hurtener/penguiflow-sub005/tool"
)

// QueryRequest is the query entry point body.
type QueryRequest struct {
	Query          string               `json:"query" binding:"required"`
	SessionID      string               `json:"session_id" binding:"required"`
	TenantID       string               `json:"tenant_id"`
	UserID         string               `json:"user_id"`
	Images         []artifact.Ref       `json:"images,omitempty"`
	ToolContext    map[string]any       `json:"tool_context,omitempty"`
	LLMContext     map[string]any       `json:"llm_context,omitempty"`
	PlanningHints  PlanningHintsRequest `json:"planning_hints,omitempty"`
	Format         string               `json:"format,omitempty"` // "sse" (default) or "agui"
}

// PlanningHintsRequest is the wire shape of planner.PlanningHints.
type PlanningHintsRequest struct {
	MaxParallel    int           `json:"max_parallel,omitempty"`
	PreferredOrder []tool.Ident  `json:"preferred_order,omitempty"`
	ParallelGroups [][]tool.Ident `json:"parallel_groups,omitempty"`
	DisallowNodes  []tool.Ident  `json:"disallow_nodes,omitempty"`
	PreferredNodes []tool.Ident  `json:"preferred_nodes,omitempty"`
	Budget         struct {
		MaxHops int `json:"max_hops"`
	} `json:"budget,omitempty"`
}

func (r PlanningHintsRequest) toHints() planner.PlanningHints {
	return planner.PlanningHints{
		MaxParallel:    r.MaxParallel,
		PreferredOrder: r.PreferredOrder,
		ParallelGroups: r.ParallelGroups,
		DisallowNodes:  r.DisallowNodes,
		PreferredNodes: r.PreferredNodes,
		MaxHops:        r.Budget.MaxHops,
	}
}

// QueryResponse hands back the stream handle a client polls/consumes.
type QueryResponse struct {
	TraceID  string `json:"trace_id"`
	StreamURL string `json:"stream_url"`
}

// ResumeRequest is the resume entry point body.
type ResumeRequest struct {
	ResumeToken string         `json:"resume_token" binding:"required"`
	Result      map[string]any `json:"result,omitempty"`
	ToolContext map[string]any `json:"tool_context,omitempty"`
}

// SteeringRequest is the steering surface body.
type SteeringRequest struct {
	SessionID string         `json:"session_id" binding:"required"`
	TaskID    string         `json:"task_id" binding:"required"`
	EventType string         `json:"event_type" binding:"required"`
	Payload   map[string]any `json:"payload,omitempty"`
	Source    string         `json:"source,omitempty"`
}

// SteeringResponse reports whether the steering event was accepted.
type SteeringResponse struct {
	Accepted bool `json:"accepted"`
}

// ArtifactMetaResponse is the GET /artifact/{id}/meta body.
type ArtifactMetaResponse struct {
	ID        string `json:"id"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
	SHA256    string `json:"sha256"`
	Filename  string `json:"filename,omitempty"`
}

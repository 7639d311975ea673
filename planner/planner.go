// Package planner implements the ReAct loop that plans, dispatches,
// observes, reflects, finishes, or pauses. Deterministic given the same
// LLM outputs.
package planner

import (
	"github.com/hurtener/penguiflow-sub005/tool"
)

// State enumerates planner states.
type State string

const (
	StatePlanning   State = "planning"
	StateActing     State = "acting"
	StateObserving  State = "observing"
	StateReflecting State = "reflecting"
	StateFinishing  State = "finishing"
	StatePausing    State = "pausing"
	StateFinished   State = "finished"
	StateFailed     State = "failed"
	StatePaused     State = "paused"
)

// ActionKind discriminates the four Planner Action variants.
type ActionKind string

const (
	ActionThink  ActionKind = "think"
	ActionPlan   ActionKind = "plan"
	ActionFinish ActionKind = "finish"
	ActionPause  ActionKind = "pause"
)

// ToolCallSpec is one tool invocation requested within a Plan action.
type ToolCallSpec struct {
	Name    tool.Ident
	Payload map[string]any
	// Index is this call's declared position within the batch; results
	// are joined and reported in this order regardless of completion order.
	Index int
}

// Action is the structurally validated command an LLM adapter produces at
// each decision point.
type Action struct {
	Kind ActionKind

	// Think
	Text string

	// Plan
	Parallel []ToolCallSpec

	// Finish
	Answer  string
	Sources []string

	// Pause
	Reason  string
	Payload map[string]any
}

// PlanningHints narrows tool dispatch for one query.
type PlanningHints struct {
	MaxParallel     int
	PreferredOrder  []tool.Ident
	ParallelGroups  [][]tool.Ident
	DisallowNodes   []tool.Ident
	PreferredNodes  []tool.Ident
	MaxHops         int
}

// LLMAdapter is the narrow seam the planner depends on to produce Actions.
// Concrete provider adapters (Anthropic/OpenAI/Bedrock/etc) are out of
// scope for this module; tests and the demo CLI supply a scripted or
// deterministic implementation.
type LLMAdapter interface {
	// Next produces the next Action given the accumulated observations.
	// history holds {tool_results, parallel} observation objects from
	// prior steps in order; nil on the first call.
	Next(history []map[string]any) (Action, error)
}

// ReflectionResult is the structured outcome of a reflector invocation.
type ReflectionResult struct {
	Score    float64
	Revise   bool
	Critique string
	Revised  string
}

// Reflector is a bounded LLM call the planner may invoke after each step
// when reflection is enabled.
type Reflector interface {
	Reflect(answerDraft string, trajectorySoFar []map[string]any) (ReflectionResult, error)
}

package planner

import (
	"context"
	"fmt"
	"sync"

	"github.com/hurtener/penguiflow-sub005/dispatch"
	"github.com/hurtener/penguiflow-sub005/event"
	"github.com/hurtener/penguiflow-sub005/redact"
	"github.com/hurtener/penguiflow-sub005/tool"
	"github.com/hurtener/penguiflow-sub005/trajectory"
)

// ErrVisionUnsupported is returned by Run when the query carries image
// attachments but the wired LLMAdapter is not vision-capable.
var ErrVisionUnsupported = fmt.Errorf("planner: vision unsupported")

// PauseSnapshot is the minimum state needed to resume a paused run:
// trajectory id, pending action context, the answer-gate value, and
// reflection counters.
type PauseSnapshot struct {
	TraceID         string
	SessionID       string
	History         []map[string]any
	ActionSeq       int
	HopsRemaining   int
	RevisionsDone   int
	Reason          string
	Payload         map[string]any
}

// PauseHandler persists a PauseSnapshot and allocates a resume token.
// Implemented by package pause's Controller.
type PauseHandler interface {
	Pause(ctx context.Context, snapshot PauseSnapshot) (resumeToken string, err error)
}

// Options configures a Machine.
type Options struct {
	Dispatcher       *dispatch.Dispatcher
	Redactor         *redact.Redactor
	Clamp            *redact.Clamp
	Recorder         trajectory.Recorder
	Bus              *event.Bus
	PauseHandler     PauseHandler
	Reflector        Reflector
	MaxRevisions     int
	VisionCapable    bool
}

// Machine runs the ReAct loop for a single query/trace.
type Machine struct {
	opts Options
}

// New constructs a Machine.
func New(opts Options) *Machine {
	if opts.MaxRevisions <= 0 {
		opts.MaxRevisions = 1
	}
	return &Machine{opts: opts}
}

// Outcome is the terminal result of Run/Resume.
type Outcome struct {
	State       State
	Answer      string
	Sources     []string
	ResumeToken string
	Err         error
}

// runState threads mutable loop state through Run/Resume so both share the
// same step loop: the state machine behaves identically whether entered
// fresh or via resume.
type runState struct {
	traceID       string
	scope         tool.Scope
	history       []map[string]any
	actionSeq     int
	hopsRemaining int
	revisionsDone int
}

// Run starts a new planner run for traceID against llm, subject to hints.
// hasImages indicates the query carries image attachments; if true and
// !VisionCapable, Run fails fast with ErrVisionUnsupported without
// consuming any hop budget.
func (m *Machine) Run(ctx context.Context, traceID string, scope tool.Scope, llm LLMAdapter, hints PlanningHints, hasImages bool) Outcome {
	if hasImages && !m.opts.VisionCapable {
		return Outcome{State: StateFailed, Err: ErrVisionUnsupported}
	}
	// A negative MaxHops means unlimited (decHops never decrements below
	// zero from a negative start); zero forces an immediate budget-exhausted
	// Finish on the first iteration.
	rs := &runState{traceID: traceID, scope: scope, hopsRemaining: hints.MaxHops}
	return m.loop(ctx, rs, llm, hints)
}

// Resume reconstructs planner state from snapshot, merges extraInputs as
// the next observation (e.g. a user's form submission), and continues the
// loop from Observing.
func (m *Machine) Resume(ctx context.Context, snapshot PauseSnapshot, scope tool.Scope, llm LLMAdapter, hints PlanningHints, extraInputs map[string]any) Outcome {
	rs := &runState{
		traceID:       snapshot.TraceID,
		scope:         scope,
		history:       append([]map[string]any{}, snapshot.History...),
		actionSeq:     snapshot.ActionSeq,
		hopsRemaining: snapshot.HopsRemaining,
		revisionsDone: snapshot.RevisionsDone,
	}
	if extraInputs != nil {
		rs.history = append(rs.history, extraInputs)
	}
	return m.loop(ctx, rs, llm, hints)
}

func (m *Machine) loop(ctx context.Context, rs *runState, llm LLMAdapter, hints PlanningHints) Outcome {
	for {
		if ctx.Err() != nil {
			m.emit(ctx, rs.traceID, event.KindError, "", map[string]any{"class": "cancelled"})
			return Outcome{State: StateFailed, Err: ctx.Err()}
		}

		m.emit(ctx, rs.traceID, event.KindStepStart, "", map[string]any{
			"action_seq":     rs.actionSeq,
			"hops_remaining": rs.hopsRemaining,
		})

		if rs.hopsRemaining == 0 {
			return m.forceFinish(ctx, rs)
		}

		action, err := llm.Next(rs.history)
		if err != nil {
			return Outcome{State: StateFailed, Err: err}
		}

		switch action.Kind {
		case ActionThink:
			m.recordThink(ctx, rs, action)
			rs.actionSeq++
			m.decHops(rs)
			continue

		case ActionPlan:
			outcome, done := m.runPlan(ctx, rs, action, hints, llm)
			if done {
				return outcome
			}
			rs.actionSeq++
			m.decHops(rs)
			continue

		case ActionFinish:
			return m.finish(ctx, rs, action)

		case ActionPause:
			return m.pause(ctx, rs, action)

		default:
			return Outcome{State: StateFailed, Err: fmt.Errorf("planner: unknown action kind %q", action.Kind)}
		}
	}
}

func (m *Machine) decHops(rs *runState) {
	if rs.hopsRemaining > 0 {
		rs.hopsRemaining--
	}
}

func (m *Machine) recordThink(ctx context.Context, rs *runState, action Action) {
	step := trajectory.Step{
		Index:  len(rs.history),
		Action: trajectory.Action{Kind: trajectory.ActionThink, ActionSeq: rs.actionSeq, Detail: map[string]any{"text": action.Text}},
	}
	_ = m.opts.Recorder.Append(ctx, rs.traceID, step)
	m.emit(ctx, rs.traceID, event.KindThinking, "", map[string]any{"text": action.Text, "action_seq": rs.actionSeq})
	rs.history = append(rs.history, nil)
}

// runPlan executes one Plan action's tool calls, returning a terminal
// Outcome and done=true only if the caller's context was cancelled mid
// fan-out.
func (m *Machine) runPlan(ctx context.Context, rs *runState, action Action, hints PlanningHints, llm LLMAdapter) (Outcome, bool) {
	calls := filterDisallowed(action.Parallel, hints.DisallowNodes)
	maxParallel := hints.MaxParallel
	if maxParallel <= 0 {
		maxParallel = len(calls)
		if maxParallel == 0 {
			maxParallel = 1
		}
	}

	results := make([]dispatch.Result, len(calls))
	sem := make(chan struct{}, maxParallel)
	var wg sync.WaitGroup
	for i, spec := range calls {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, spec ToolCallSpec) {
			defer wg.Done()
			defer func() { <-sem }()
			call := tool.Call{
				Name:       spec.Name,
				Index:      spec.Index,
				Payload:    spec.Payload,
				ToolCallID: fmt.Sprintf("%s-%d-%d", rs.traceID, rs.actionSeq, spec.Index),
				TraceID:    rs.traceID,
				Scope:      rs.scope,
			}
			m.emit(ctx, rs.traceID, event.KindToolCallStart, string(spec.Name), map[string]any{"tool_call_id": call.ToolCallID})
			res := m.opts.Dispatcher.Dispatch(ctx, call, maxParallel)
			m.emit(ctx, rs.traceID, event.KindToolCallEnd, string(spec.Name), map[string]any{"tool_call_id": call.ToolCallID, "ok": res.Ok()})
			results[i] = res
		}(i, spec)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return Outcome{State: StateFailed, Err: ctx.Err()}, true
	}

	side := redact.NewSideChannel()
	toolResults := make([]map[string]any, len(results))
	for i, res := range results {
		var redacted map[string]any
		if res.Ok() {
			redacted = m.opts.Redactor.Redact(res.ToolName, res.ToolCallID, res.Output, side)
			clamped, err := m.opts.Clamp.Apply(ctx, res.ToolName, redacted, rs.scope)
			if err == nil {
				if v, ok := clamped.Value.(map[string]any); ok {
					redacted = v
				}
			}
			toolResults[i] = map[string]any{"tool": string(res.ToolName), "redacted_output": redacted}
		} else {
			toolResults[i] = map[string]any{"tool": string(res.ToolName), "error": map[string]any{
				"class": string(res.Err.Class), "message": res.Err.Message, "retries": res.Err.Retries,
			}}
		}
		m.emit(ctx, rs.traceID, event.KindToolCallResult, string(res.ToolName), toolResults[i])
	}

	observation := map[string]any{"tool_results": toolResults, "parallel": len(calls) > 1}

	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = string(c.Name)
	}
	step := trajectory.Step{
		Index:       len(rs.history),
		Action:      trajectory.Action{Kind: trajectory.ActionPlan, ActionSeq: rs.actionSeq, Detail: map[string]any{"tools": names}},
		Observation: observation,
	}
	_ = m.opts.Recorder.Append(ctx, rs.traceID, step)
	m.emit(ctx, rs.traceID, event.KindStepEnd, "", map[string]any{"action_seq": rs.actionSeq})

	if m.opts.Reflector != nil && rs.revisionsDone < m.opts.MaxRevisions {
		m.reflect(ctx, rs, observation)
	}

	rs.history = append(rs.history, observation)
	return Outcome{}, false
}

func (m *Machine) reflect(ctx context.Context, rs *runState, observation map[string]any) {
	result, err := m.opts.Reflector.Reflect("", rs.history)
	if err != nil {
		return
	}
	if result.Revise {
		rs.revisionsDone++
		observation["revised"] = result.Revised
		m.emit(ctx, rs.traceID, event.KindRevision, "", map[string]any{
			"action_seq": rs.actionSeq, "critique": result.Critique, "revised": result.Revised,
		})
	}
}

func filterDisallowed(calls []ToolCallSpec, disallow []tool.Ident) []ToolCallSpec {
	if len(disallow) == 0 {
		return calls
	}
	blocked := make(map[tool.Ident]bool, len(disallow))
	for _, n := range disallow {
		blocked[n] = true
	}
	out := make([]ToolCallSpec, 0, len(calls))
	for _, c := range calls {
		if !blocked[c.Name] {
			out = append(out, c)
		}
	}
	return out
}

func (m *Machine) finish(ctx context.Context, rs *runState, action Action) Outcome {
	step := trajectory.Step{
		Index:       len(rs.history),
		Action:      trajectory.Action{Kind: trajectory.ActionFinish, ActionSeq: rs.actionSeq, Detail: map[string]any{"answer": action.Answer}},
		Observation: map[string]any{"answer": action.Answer},
	}
	_ = m.opts.Recorder.Append(ctx, rs.traceID, step)
	m.emit(ctx, rs.traceID, event.KindChunk, "", map[string]any{
		"channel": "answer", "text": action.Answer, "done": true, "action_seq": rs.actionSeq,
	})
	m.emit(ctx, rs.traceID, event.KindDone, "", map[string]any{"answer_action_seq": rs.actionSeq})
	return Outcome{State: StateFinished, Answer: action.Answer, Sources: action.Sources}
}

func (m *Machine) forceFinish(ctx context.Context, rs *runState) Outcome {
	answer := bestEffortAnswer(rs.history)
	step := trajectory.Step{
		Index:       len(rs.history),
		Action:      trajectory.Action{Kind: trajectory.ActionFinish, ActionSeq: rs.actionSeq, Detail: map[string]any{"answer": answer, "budget_exhausted": true}},
		Observation: map[string]any{"answer": answer, "budget_exhausted": true},
	}
	_ = m.opts.Recorder.Append(ctx, rs.traceID, step)
	m.emit(ctx, rs.traceID, event.KindChunk, "", map[string]any{
		"channel": "answer", "text": answer, "done": true, "action_seq": rs.actionSeq,
	})
	m.emit(ctx, rs.traceID, event.KindDone, "", map[string]any{"answer_action_seq": rs.actionSeq, "budget_exhausted": true})
	return Outcome{State: StateFinished, Answer: answer}
}

// bestEffortAnswer builds the forced answer used when the hop budget is
// exhausted before a Finish action was produced. It does not extract
// observation content: it returns a fixed message naming how many tool
// results the most recent Plan observation held, or a fixed "before any
// result" message when there is none.
func bestEffortAnswer(history []map[string]any) string {
	for i := len(history) - 1; i >= 0; i-- {
		obs := history[i]
		if obs == nil {
			continue
		}
		if results, ok := obs["tool_results"].([]map[string]any); ok && len(results) > 0 {
			return fmt.Sprintf("budget exhausted after %d tool result(s); best-effort summary unavailable", len(results))
		}
	}
	return "budget exhausted before any result was produced"
}

func (m *Machine) pause(ctx context.Context, rs *runState, action Action) Outcome {
	if m.opts.PauseHandler == nil {
		return Outcome{State: StateFailed, Err: fmt.Errorf("planner: pause requested but no PauseHandler configured")}
	}
	snapshot := PauseSnapshot{
		TraceID:       rs.traceID,
		SessionID:     rs.scope.SessionID,
		History:       rs.history,
		ActionSeq:     rs.actionSeq,
		HopsRemaining: rs.hopsRemaining,
		RevisionsDone: rs.revisionsDone,
		Reason:        action.Reason,
		Payload:       action.Payload,
	}
	token, err := m.opts.PauseHandler.Pause(ctx, snapshot)
	if err != nil {
		return Outcome{State: StateFailed, Err: err}
	}
	m.emit(ctx, rs.traceID, event.KindPause, "", map[string]any{
		"resume_token": token, "reason": action.Reason, "payload": action.Payload,
	})
	return Outcome{State: StatePaused, ResumeToken: token}
}

func (m *Machine) emit(ctx context.Context, traceID string, kind event.Kind, node string, payload map[string]any) {
	if m.opts.Bus == nil {
		return
	}
	m.opts.Bus.Publish(ctx, traceID, kind, node, payload)
}

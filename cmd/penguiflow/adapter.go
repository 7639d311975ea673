package main

import (
	"fmt"

	"github.com/hurtener/penguiflow-sub005/planner"
	"github.com/hurtener/penguiflow-sub005/tool"
)

// scriptedAdapter is a deterministic planner.LLMAdapter used by the demo
// commands in place of a real LLM provider: it thinks once, optionally
// dispatches one tool call, then finishes.
type scriptedAdapter struct {
	query    string
	toolName tool.Ident // zero value skips the Plan step
	step     int
}

func newEchoAdapter(query string) *scriptedAdapter {
	return &scriptedAdapter{query: query}
}

func newToolAdapter(query string, toolName tool.Ident) *scriptedAdapter {
	return &scriptedAdapter{query: query, toolName: toolName}
}

func (a *scriptedAdapter) Next(history []map[string]any) (planner.Action, error) {
	a.step++
	switch a.step {
	case 1:
		return planner.Action{Kind: planner.ActionThink, Text: fmt.Sprintf("considering: %s", a.query)}, nil
	case 2:
		if a.toolName != "" {
			return planner.Action{Kind: planner.ActionPlan, Parallel: []planner.ToolCallSpec{
				{Name: a.toolName, Payload: map[string]any{"text": a.query}, Index: 0},
			}}, nil
		}
		return a.finish(history), nil
	default:
		return a.finish(history), nil
	}
}

func (a *scriptedAdapter) finish(history []map[string]any) planner.Action {
	answer := fmt.Sprintf("echo: %s", a.query)
	if text, ok := lastToolText(history); ok {
		answer = text
	}
	return planner.Action{Kind: planner.ActionFinish, Answer: answer}
}

// lastToolText extracts the first tool result's redacted "text" field from
// the most recent observation, if any.
func lastToolText(history []map[string]any) (string, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		obs := history[i]
		if obs == nil {
			continue
		}
		results, ok := obs["tool_results"].([]map[string]any)
		if !ok || len(results) == 0 {
			continue
		}
		out, ok := results[0]["redacted_output"].(map[string]any)
		if !ok {
			continue
		}
		text, ok := out["text"].(string)
		return text, ok
	}
	return "", false
}

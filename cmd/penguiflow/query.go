package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hurtener/penguiflow-sub005/catalog"
	"github.com/hurtener/penguiflow-sub005/internal/config"
	"github.com/hurtener/penguiflow-sub005/planner"
	"github.com/hurtener/penguiflow-sub005/tool"
)

// demoEchoTool is registered into every query-command runtime so the
// scripted adapter has something to dispatch, exercising the full
// Plan/Dispatch/Redact/Clamp path end to end instead of just Think/Finish.
var demoEchoTool = tool.New("demo", "echo")

func buildQueryCmd() *cobra.Command {
	var configPath string
	var sessionID, tenantID, userID string

	cmd := &cobra.Command{
		Use:   "query [text]",
		Short: "Run a one-shot query against a scripted demo planner",
		Long: `Run a one-shot query against an in-memory runtime and a scripted
planner.LLMAdapter in place of a real LLM provider, printing the resulting
answer. Useful for exercising the wired runtime components without a
server.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(configPath, sessionID, tenantID, userID, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file (uses built-in defaults if omitted)")
	cmd.Flags().StringVar(&sessionID, "session", "demo-session", "Session id to create or reuse")
	cmd.Flags().StringVar(&tenantID, "tenant", "demo-tenant", "Tenant id")
	cmd.Flags().StringVar(&userID, "user", "demo-user", "User id")
	return cmd
}

func runQuery(configPath, sessionID, tenantID, userID, query string) error {
	cfg := config.Defaults()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		return fmt.Errorf("penguiflow: build runtime: %w", err)
	}
	if err := registerDemoEchoTool(rt); err != nil {
		return fmt.Errorf("penguiflow: register demo tool: %w", err)
	}

	sess, err := rt.sessions.CreateSession(sessionID, tenantID, userID)
	if err != nil {
		return err
	}

	ctx := context.Background()
	traceID := "demo-" + sess.ID
	if _, err := rt.sessions.StartTask(ctx, sess.ID, traceID, map[string]any{"query": query}); err != nil {
		return err
	}

	scope := tool.Scope{TenantID: sess.TenantID, UserID: sess.UserID, SessionID: sess.ID, TraceID: traceID}
	adapter := newToolAdapter(query, demoEchoTool)

	outcome := rt.machine.Run(ctx, traceID, scope, adapter, planner.PlanningHints{MaxHops: 10}, false)
	if outcome.Err != nil {
		return fmt.Errorf("penguiflow: run failed: %w", outcome.Err)
	}

	fmt.Printf("state: %s\n", outcome.State)
	fmt.Printf("answer: %s\n", outcome.Answer)
	if len(outcome.Sources) > 0 {
		fmt.Printf("sources: %v\n", outcome.Sources)
	}
	return nil
}

// registerDemoEchoTool wires a trivial native tool into the registry and
// catalog so the query command's scripted adapter can dispatch a real tool
// call rather than only exercising Think/Finish.
func registerDemoEchoTool(rt *runtime) error {
	schema := map[string]any{"type": "object"}
	if err := rt.registry.Register(demoEchoTool, schema, schema, nil); err != nil {
		return err
	}
	return rt.catalog.Register("demo", catalog.Descriptor{
		QualifiedName: demoEchoTool,
		Description:   "Echoes the given text back, prefixed to show it round-tripped through the dispatcher.",
		InputSchema:   schema,
		OutputSchema:  schema,
		SideEffects:   tool.SideEffectPure,
		LoadingMode:   tool.LoadingAlways,
		Impl: tool.Impl{
			Kind:   tool.ImplNative,
			Native: echoToolFunc,
		},
	})
}

func echoToolFunc(ctx tool.Context, input map[string]any) (map[string]any, error) {
	text, _ := input["text"].(string)
	return map[string]any{"text": fmt.Sprintf("tool echoed: %s", text)}, nil
}

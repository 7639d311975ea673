package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hurtener/penguiflow-sub005/internal/config"
	"github.com/hurtener/penguiflow-sub005/planner"
	"github.com/hurtener/penguiflow-sub005/server"
)

// buildServeCmd creates the "serve" command that starts the HTTP-bound
// runtime.
func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the PenguiFlow HTTP server",
		Long: `Start the PenguiFlow HTTP server with all twelve runtime
components wired together: model registry, tool catalog, artifact store,
redactor/clamp, event bus, trajectory recorder, tool dispatcher, planner,
pause/resume controller, state store, streaming adapters, and session
controller.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file (uses built-in defaults if omitted)")
	return cmd
}

func runServe(configPath string) error {
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

	srv := server.New(server.Options{
		Machine:       rt.machine,
		Sessions:      rt.sessions,
		Pauses:        rt.pauses,
		Artifacts:     rt.artifacts,
		Bus:           rt.bus,
		Logger:        rt.logger,
		NewLLMAdapter: func(req server.QueryRequest) (planner.LLMAdapter, error) { return newEchoAdapter(req.Query), nil },
	})

	return srv.ListenAndServe(cfg.Server.Addr)
}

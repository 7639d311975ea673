// Command penguiflow runs the PenguiFlow agent-orchestration runtime: an
// HTTP-bound server with every component wired together, or a one-shot
// local query against a scripted demo planner.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "penguiflow",
		Short: "PenguiFlow agent-orchestration runtime",
	}
	root.AddCommand(buildServeCmd(), buildQueryCmd())
	return root
}

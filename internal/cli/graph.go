package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackd-io/stackd/internal/engine"
	"github.com/stackd-io/stackd/internal/eval"
)

var graphCmd = &cobra.Command{
	Use:   "graph [path]",
	Short: "Print the dependency graph as DOT",
	Long:  `Renders the declaration dependency graph in Graphviz DOT format.`,
	RunE:  runGraphCmd,
}

func runGraphCmd(cmd *cobra.Command, args []string) error {
	wd, entryPoint, err := configContext(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	evaluator := eval.NewEvaluator(wd)
	cfg, err := evaluator.LoadConfig(ctx, entryPoint, nil)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	expanded := engine.ExpandDeclarations(cfg.Declarations)
	graph, err := engine.BuildGraph(expanded)
	if err != nil {
		return err
	}

	fmt.Println("digraph {")
	fmt.Println("  rankdir = \"RL\";")
	for _, addr := range graph.CreationOrder() {
		fmt.Printf("  %q;\n", addr)
		for _, dep := range graph.Dependencies(addr) {
			fmt.Printf("  %q -> %q;\n", addr, dep)
		}
	}
	fmt.Println("}")
	return nil
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackd-io/stackd/internal/engine"
	"github.com/stackd-io/stackd/internal/eval"
	"github.com/stackd-io/stackd/internal/provider"
	"github.com/stackd-io/stackd/internal/state"
)

var planVars map[string]string

var planCmd = &cobra.Command{
	Use:   "plan [path]",
	Short: "Generate an execution plan",
	Long: `Generates an execution plan showing what actions stackd would take
to reach the declared state. Planning never mutates infrastructure.

The plan shows:
  • Resources to be created
  • Resources to be updated (with diff)
  • Resources to be deleted`,
	RunE: runPlanCmd,
}

func init() {
	planCmd.Flags().StringToStringVar(&planVars, "var", nil, "Set input variables (format: key=value)")
}

func runPlanCmd(cmd *cobra.Command, args []string) error {
	wd, entryPoint, err := configContext(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	evaluator := eval.NewEvaluator(wd)
	stateMgr, err := state.OpenBackend(wd, evaluator)
	if err != nil {
		return err
	}
	registry := provider.NewRegistry()
	eng := engine.New(registry)

	fmt.Print("Loading configuration... ")
	cfg, err := evaluator.LoadConfig(ctx, entryPoint, planVars)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("failed to load config: %w", err)
	}
	fmt.Println("OK")

	if err := engine.BindVariables(cfg, planVars); err != nil {
		return err
	}
	if err := loadRequiredProviders(registry, cfg); err != nil {
		return err
	}

	currentState, err := stateMgr.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}
	if err := loadStateProviders(registry, currentState); err != nil {
		return err
	}

	fmt.Print("Calculating plan... ")
	plan, err := eng.CreatePlan(ctx, cfg, currentState)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("plan generation failed: %w", err)
	}
	fmt.Println("OK")

	if len(plan.Changes) == 0 || plan.Summary.Total() == 0 {
		fmt.Println("\nNo changes. Infrastructure is up-to-date.")
		return nil
	}

	fmt.Println("\nStackd will perform the following actions:")
	renderPlanChanges(plan)
	renderPlanSummary(plan)
	return nil
}

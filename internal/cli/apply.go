package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackd-io/stackd/internal/engine"
	"github.com/stackd-io/stackd/internal/eval"
	"github.com/stackd-io/stackd/internal/provider"
	"github.com/stackd-io/stackd/internal/state"
)

var (
	applyAutoApprove bool
	applyVars        map[string]string
)

var applyCmd = &cobra.Command{
	Use:   "apply [path]",
	Short: "Apply a configuration",
	Long:  `Builds or changes infrastructure according to stackd declaration files.`,
	RunE:  runApplyCmd,
}

func init() {
	applyCmd.Flags().BoolVar(&applyAutoApprove, "auto-approve", false, "Skip interactive approval of plan before applying")
	applyCmd.Flags().StringToStringVar(&applyVars, "var", nil, "Set input variables (format: key=value)")
}

func runApplyCmd(cmd *cobra.Command, args []string) error {
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
	cfg, err := evaluator.LoadConfig(ctx, entryPoint, applyVars)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("failed to load config: %w", err)
	}
	fmt.Println("OK")

	if err := engine.BindVariables(cfg, applyVars); err != nil {
		return err
	}

	// The lock is scoped to the environment so concurrent applies against
	// the same environment are rejected, not interleaved.
	if err := stateMgr.Lock(cfg.Environment); err != nil {
		return err
	}
	defer stateMgr.Unlock()

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

	if plan.Summary.Total() == 0 {
		fmt.Println("No changes. Infrastructure is up-to-date.")
		return nil
	}

	fmt.Println("\nStackd will perform the following actions:")
	renderPlanChanges(plan)
	renderPlanSummary(plan)

	if !applyAutoApprove {
		fmt.Print("\nDo you want to perform these actions? (y/n): ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "yes" {
			fmt.Println("Apply cancelled.")
			return nil
		}
	}

	fmt.Printf("\nApplying %d changes...\n", plan.Summary.Total())

	newState, applyErr := eng.ApplyPlan(ctx, plan, currentState)
	// Persist whatever converged so successful changes aren't lost.
	if newState != nil {
		if err := stateMgr.Write(ctx, newState); err != nil {
			if applyErr != nil {
				return fmt.Errorf("apply failed: %w (state write also failed: %v)", applyErr, err)
			}
			return fmt.Errorf("failed to write state: %w", err)
		}
	}
	if applyErr != nil {
		return fmt.Errorf("apply failed: %w", applyErr)
	}

	fmt.Printf("\nApply complete! Resources: %d added, %d changed, %d destroyed.\n",
		plan.Summary.Create, plan.Summary.Update, plan.Summary.Delete)

	if len(newState.Outputs) > 0 {
		fmt.Println("\nOutputs:")
		for k, v := range newState.Outputs {
			fmt.Printf("  %s = %v\n", k, v)
		}
	}

	return nil
}

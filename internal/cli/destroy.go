package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackd-io/stackd/internal/engine"
	"github.com/stackd-io/stackd/internal/eval"
	"github.com/stackd-io/stackd/internal/provider"
	"github.com/stackd-io/stackd/internal/state"
)

var destroyAutoApprove bool

var destroyCmd = &cobra.Command{
	Use:   "destroy [path]",
	Short: "Destroy managed infrastructure",
	Long: `Deletes every resource recorded in state, in reverse dependency
order. Resources outside state are never touched.`,
	RunE: runDestroyCmd,
}

func init() {
	destroyCmd.Flags().BoolVar(&destroyAutoApprove, "auto-approve", false, "Skip interactive approval before destroying")
}

func runDestroyCmd(cmd *cobra.Command, args []string) error {
	wd, _, err := configContext(args)
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

	currentState, err := stateMgr.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}
	if len(currentState.Resources) == 0 {
		fmt.Println("Nothing to destroy. State is empty.")
		return nil
	}

	if err := stateMgr.Lock(currentState.Environment); err != nil {
		return err
	}
	defer stateMgr.Unlock()

	if err := loadStateProviders(registry, currentState); err != nil {
		return err
	}

	plan, err := eng.CreateDestroyPlan(ctx, currentState)
	if err != nil {
		return fmt.Errorf("destroy plan generation failed: %w", err)
	}

	fmt.Println("Stackd will destroy the following resources:")
	renderPlanChanges(plan)
	fmt.Printf("\nTotal: %d resource(s) to destroy.\n", plan.Summary.Delete)

	if !destroyAutoApprove {
		fmt.Print("\nDo you really want to destroy all resources? (y/n): ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "yes" {
			fmt.Println("Destroy cancelled.")
			return nil
		}
	}

	newState, applyErr := eng.ApplyPlan(ctx, plan, currentState)
	if newState != nil {
		if err := stateMgr.Write(ctx, newState); err != nil {
			if applyErr != nil {
				return fmt.Errorf("destroy failed: %w (state write also failed: %v)", applyErr, err)
			}
			return fmt.Errorf("failed to write state: %w", err)
		}
	}
	if applyErr != nil {
		return fmt.Errorf("destroy failed: %w", applyErr)
	}

	fmt.Printf("\nDestroy complete! Resources: %d destroyed.\n", plan.Summary.Delete)
	return nil
}

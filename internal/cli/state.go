package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackd-io/stackd/internal/eval"
	"github.com/stackd-io/stackd/internal/ir"
	"github.com/stackd-io/stackd/internal/state"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect recorded state",
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List resources in state",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := readState(cmd)
		if err != nil {
			return err
		}
		if len(st.Resources) == 0 {
			fmt.Println("State is empty.")
			return nil
		}
		for _, res := range st.Resources {
			fmt.Println(res.Addr())
		}
		return nil
	},
}

var stateShowCmd = &cobra.Command{
	Use:   "show <address>",
	Short: "Show one resource's recorded attributes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := readState(cmd)
		if err != nil {
			return err
		}
		for _, res := range st.Resources {
			if res.Addr() != args[0] {
				continue
			}
			fmt.Printf("# %s\n", res.Addr())
			fmt.Printf("provider = %s\n", res.Provider)
			fmt.Printf("status   = %s\n", res.Status)
			if len(res.Outputs) > 0 {
				fmt.Println("outputs:")
				for k, v := range res.Outputs {
					fmt.Printf("  %s = %v\n", k, formatValue(v))
				}
			}
			if len(res.Dependencies) > 0 {
				fmt.Printf("dependencies = %v\n", res.Dependencies)
			}
			return nil
		}
		return fmt.Errorf("resource %q not found in state", args[0])
	},
}

func readState(cmd *cobra.Command) (*ir.State, error) {
	wd, _, err := configContext(nil)
	if err != nil {
		return nil, err
	}
	evaluator := eval.NewEvaluator(wd)
	mgr, err := state.OpenBackend(wd, evaluator)
	if err != nil {
		return nil, err
	}
	s, err := mgr.Read(cmd.Context())
	if err != nil {
		return nil, fmt.Errorf("failed to read state: %w", err)
	}
	return s, nil
}

func init() {
	stateCmd.AddCommand(stateListCmd)
	stateCmd.AddCommand(stateShowCmd)
}

package cli

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/stackd-io/stackd/internal/eval"
	"github.com/stackd-io/stackd/internal/state"
)

var outputJSON bool

var outputCmd = &cobra.Command{
	Use:   "output [name]",
	Short: "Read output bindings from state",
	Long: `Prints output bindings recorded by the last apply. With a name,
prints only that binding's value; an unknown name is an error.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runOutputCmd,
}

func init() {
	outputCmd.Flags().BoolVar(&outputJSON, "json", false, "Print outputs as JSON")
}

func runOutputCmd(cmd *cobra.Command, args []string) error {
	wd, _, err := configContext(nil)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	evaluator := eval.NewEvaluator(wd)
	stateMgr, err := state.OpenBackend(wd, evaluator)
	if err != nil {
		return err
	}

	st, err := stateMgr.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	if len(args) == 1 {
		name := args[0]
		value, ok := st.Outputs[name]
		if !ok {
			return fmt.Errorf("output %q not found", name)
		}
		if outputJSON {
			data, err := json.Marshal(value)
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}
		fmt.Printf("%v\n", value)
		return nil
	}

	if len(st.Outputs) == 0 {
		fmt.Println("No outputs recorded. Run apply first.")
		return nil
	}

	if outputJSON {
		data, err := json.MarshalIndent(st.Outputs, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	names := make([]string, 0, len(st.Outputs))
	for name := range st.Outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("%s = %v\n", name, st.Outputs[name])
	}
	return nil
}

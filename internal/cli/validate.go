package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackd-io/stackd/internal/engine"
	"github.com/stackd-io/stackd/internal/eval"
)

var validateVars map[string]string

var validateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Validate a configuration",
	Long: `Checks that the configuration evaluates, every variable reference is
bound, and the declaration graph is acyclic. Nothing is provisioned.`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringToStringVar(&validateVars, "var", nil, "Set input variables (format: key=value)")
}

func runValidate(cmd *cobra.Command, args []string) error {
	wd, entryPoint, err := configContext(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	evaluator := eval.NewEvaluator(wd)

	fmt.Print("Loading configuration... ")
	cfg, err := evaluator.LoadConfig(ctx, entryPoint, validateVars)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("failed to load config: %w", err)
	}
	fmt.Println("OK")

	// Every variable reference has to resolve before anything else; a
	// single unbound name fails the whole config.
	if unbound := engine.UnboundReferences(cfg, validateVars); len(unbound) > 0 {
		for _, name := range unbound {
			fmt.Printf("  ✗ variable %q is not bound\n", name)
		}
		return fmt.Errorf("%d unbound variable(s)", len(unbound))
	}

	if err := engine.BindVariables(cfg, validateVars); err != nil {
		return err
	}

	expanded := engine.ExpandDeclarations(cfg.Declarations)
	if _, err := engine.BuildGraph(expanded); err != nil {
		return err
	}

	fmt.Printf("Success! Configuration is valid: %d declaration(s), %d output(s).\n",
		len(expanded), len(cfg.Outputs))
	return nil
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackd-io/stackd/internal/eval"
	"github.com/stackd-io/stackd/internal/ir"
	"github.com/stackd-io/stackd/internal/state"
)

var taintCmd = &cobra.Command{
	Use:   "taint <address>",
	Short: "Mark a resource for rebuild on the next apply",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setResourceStatus(cmd, args[0], ir.StatusTainted)
	},
}

var untaintCmd = &cobra.Command{
	Use:   "untaint <address>",
	Short: "Clear a taint mark",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setResourceStatus(cmd, args[0], ir.StatusApplied)
	},
}

func setResourceStatus(cmd *cobra.Command, addr string, status string) error {
	wd, _, err := configContext(nil)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	evaluator := eval.NewEvaluator(wd)
	mgr, err := state.OpenBackend(wd, evaluator)
	if err != nil {
		return err
	}

	st, err := mgr.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	if err := mgr.Lock(st.Environment); err != nil {
		return err
	}
	defer mgr.Unlock()

	for _, res := range st.Resources {
		if res.Addr() != addr {
			continue
		}
		res.Status = status
		if err := mgr.Write(ctx, st); err != nil {
			return fmt.Errorf("failed to write state: %w", err)
		}
		fmt.Printf("Resource %s marked %s.\n", addr, status)
		return nil
	}
	return fmt.Errorf("resource %q not found in state", addr)
}

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/spf13/cobra"

	"github.com/stackd-io/stackd/internal/eval"
	"github.com/stackd-io/stackd/internal/ir"
	"github.com/stackd-io/stackd/internal/provider"
	"github.com/stackd-io/stackd/internal/state"
	pkgprovider "github.com/stackd-io/stackd/pkg/provider"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh [path]",
	Short: "Update state to match real infrastructure",
	Long: `Reads the current state of every managed resource from its provider
and updates the state record to reflect actual infrastructure. This
detects drift between recorded and real attributes.`,
	RunE: runRefreshCmd,
}

// Refresh outcomes per resource.
const (
	refreshUnchanged = "unchanged"
	refreshDrifted   = "drifted"
	refreshGone      = "gone"
)

// refreshResource reconciles one state entry against the provider's view.
// Drift updates the entry in place; a vanished resource is reported so
// the caller can drop it.
func refreshResource(ctx context.Context, registry *provider.Registry, res *ir.ResourceState) (string, error) {
	prov, err := registry.Get(res.Provider)
	if err != nil {
		return "", err
	}

	var resourceID string
	if id, ok := res.Outputs["id"]; ok {
		resourceID = fmt.Sprintf("%v", id)
	}

	var currentJSON []byte
	if res.Outputs != nil {
		currentJSON, _ = json.Marshal(res.Outputs)
	}

	resp, err := prov.Read(ctx, &pkgprovider.ReadRequest{
		Type:    res.Type,
		ID:      resourceID,
		Current: currentJSON,
	})
	if err != nil {
		return "", err
	}

	if !resp.Exists {
		return refreshGone, nil
	}

	if len(resp.NewState) > 0 {
		var outputs map[string]any
		if err := json.Unmarshal(resp.NewState, &outputs); err != nil {
			return "", fmt.Errorf("failed to unmarshal refreshed state for %s: %w", res.Addr(), err)
		}
		if !reflect.DeepEqual(outputs, res.Outputs) {
			res.Outputs = outputs
			return refreshDrifted, nil
		}
	}
	return refreshUnchanged, nil
}

func runRefreshCmd(cmd *cobra.Command, args []string) error {
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

	currentState, err := stateMgr.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}
	if len(currentState.Resources) == 0 {
		fmt.Println("No resources to refresh.")
		return nil
	}

	if err := stateMgr.Lock(currentState.Environment); err != nil {
		return err
	}
	defer stateMgr.Unlock()

	if err := loadStateProviders(registry, currentState); err != nil {
		return err
	}

	fmt.Printf("Refreshing %d resource(s)...\n\n", len(currentState.Resources))

	var kept []*ir.ResourceState
	drifted := 0
	gone := 0

	for _, res := range currentState.Resources {
		outcome, err := refreshResource(ctx, registry, res)
		if err != nil {
			fmt.Printf("  %s: ERROR (%v)\n", res.Addr(), err)
			kept = append(kept, res)
			continue
		}
		switch outcome {
		case refreshGone:
			fmt.Printf("  \033[31m%s: gone (no longer exists in provider)\033[0m\n", res.Addr())
			gone++
		case refreshDrifted:
			fmt.Printf("  \033[33m%s: drifted (state updated)\033[0m\n", res.Addr())
			drifted++
			kept = append(kept, res)
		default:
			fmt.Printf("  %s: ok\n", res.Addr())
			kept = append(kept, res)
		}
	}

	if drifted > 0 || gone > 0 {
		currentState.Resources = kept
		currentState.Serial++
		if err := stateMgr.Write(ctx, currentState); err != nil {
			return fmt.Errorf("failed to write state: %w", err)
		}
	}

	fmt.Printf("\nRefresh complete. %d drifted, %d gone.\n", drifted, gone)
	return nil
}

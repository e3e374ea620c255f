package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/stackd-io/stackd/internal/ir"
	"github.com/stackd-io/stackd/internal/logging"
	regpkg "github.com/stackd-io/stackd/internal/provider"
	"github.com/stackd-io/stackd/pkg/provider"
)

// Engine converges declaration graphs against real infrastructure.
type Engine struct {
	registry *regpkg.Registry

	// ContinueOnError keeps applying past individual resource failures
	// and reports an aggregate error at the end.
	ContinueOnError bool
}

func New(registry *regpkg.Registry) *Engine {
	return &Engine{registry: registry}
}

// CreatePlan diffs the desired declarations against the persisted state and
// returns the action set that would converge them. Producing a plan never
// mutates infrastructure; it is the dry-run surface.
func (e *Engine) CreatePlan(ctx context.Context, cfg *ir.Config, state *ir.State) (*ir.Plan, error) {
	return e.CreatePlanWithTargets(ctx, cfg, state, nil)
}

// CreatePlanWithTargets restricts planning to the given addresses plus
// their transitive dependencies. Nil targets plans everything.
func (e *Engine) CreatePlanWithTargets(ctx context.Context, cfg *ir.Config, state *ir.State, targets []string) (*ir.Plan, error) {
	logging.Debug("creating plan",
		"declarations", len(cfg.Declarations),
		"state_resources", len(state.Resources),
		"targets", len(targets))

	// Refuse to touch a provider while any variable reference is
	// unresolved. BindVariables normally runs first; this is the
	// engine-level guarantee that an unbound variable means zero
	// cloud mutation.
	if err := checkNoUnboundRefs(cfg); err != nil {
		return nil, err
	}

	for _, d := range cfg.Declarations {
		if err := e.registry.Load(d.Provider); err != nil {
			return nil, fmt.Errorf("failed to load provider %s: %w", d.Provider, err)
		}
	}

	cfg.Declarations = ExpandDeclarations(cfg.Declarations)

	graph, err := BuildGraph(cfg.Declarations)
	if err != nil {
		return nil, fmt.Errorf("failed to build dependency graph: %w", err)
	}

	plan := &ir.Plan{
		Metadata: &ir.PlanMetadata{
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
			ConfigHash: hashConfig(cfg),
		},
		Changes: []*ir.ResourceChange{},
		Summary: &ir.PlanSummary{},
		Outputs: cfg.Outputs,
	}

	stateByAddr := make(map[string]*ir.ResourceState, len(state.Resources))
	for _, res := range state.Resources {
		stateByAddr[res.Addr()] = res
	}

	declByAddr := make(map[string]*ir.Declaration, len(cfg.Declarations))
	for _, d := range cfg.Declarations {
		declByAddr[declAddr(d)] = d
	}

	var targetSet map[string]bool
	if len(targets) > 0 {
		targetSet = make(map[string]bool)
		for _, t := range targets {
			targetSet[t] = true
			for _, dep := range graph.TransitiveDeps(t) {
				targetSet[dep] = true
			}
		}
	}

	for _, addr := range graph.CreationOrder() {
		d, ok := declByAddr[addr]
		if !ok {
			continue
		}
		if targetSet != nil && !targetSet[addr] {
			plan.Summary.NoOp++
			continue
		}

		prov, err := e.registry.Get(d.Provider)
		if err != nil {
			return nil, err
		}

		// References to peers are resolved against the prior state here,
		// exactly as Apply resolves them, so a converged resource whose
		// config still spells ptr:// compares equal to what was applied.
		desiredJSON, err := json.Marshal(resolvePtrRefs(normalizeValue(d.Properties), state))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal properties for %s: %w", addr, err)
		}

		prior := stateByAddr[addr]
		var priorJSON, priorInputsJSON []byte
		if prior != nil {
			priorJSON, _ = json.Marshal(prior.Outputs)
			if prior.Inputs != nil {
				priorInputsJSON, _ = json.Marshal(resolvePtrRefs(normalizeValue(prior.Inputs), state))
			}
		}

		var action provider.Action
		switch {
		case prior != nil && (prior.Status == ir.StatusTainted || prior.Status == ir.StatusFailed):
			// A tainted or half-applied resource is rebuilt rather
			// than diffed.
			action = provider.ActionReplace
		case prior != nil && prior.Status == ir.StatusApplied &&
			prior.InputsHash != "" && prior.InputsHash == hashInputs(d.Properties):
			// Unchanged configuration over an applied resource: converged,
			// no provider round trip. Out-of-band drift is the refresh
			// command's job.
			action = provider.ActionNoop
		default:
			resp, err := prov.Plan(ctx, &provider.PlanRequest{
				Type:        resourceType(d),
				Name:        d.Name,
				Desired:     desiredJSON,
				Prior:       priorJSON,
				PriorInputs: priorInputsJSON,
			})
			if err != nil {
				return nil, fmt.Errorf("plan failed for %s: %w", addr, err)
			}
			action = resp.Action
			if action == provider.ActionUpdate && d.Lifecycle != nil && len(d.Lifecycle.IgnoreChanges) > 0 {
				if allChangesIgnored(d.Lifecycle.IgnoreChanges, resp.ChangedAttributes) {
					action = provider.ActionNoop
				}
			}
		}

		if action == provider.ActionNoop {
			plan.Summary.NoOp++
			continue
		}

		if err := enforceLifecycle(d, action, addr); err != nil {
			return nil, err
		}

		change := &ir.ResourceChange{
			Address: addr,
			Action:  string(action),
			Desired: d,
		}
		if prior != nil {
			change.Prior = &ir.Declaration{
				Type:       prior.Type,
				Name:       prior.Name,
				Provider:   prior.Provider,
				Properties: prior.Inputs,
			}
			change.Diff = diffProperties(prior.Inputs, d.Properties)
		} else {
			change.Diff = createDiff(d.Properties)
		}
		plan.Changes = append(plan.Changes, change)

		switch action {
		case provider.ActionCreate:
			plan.Summary.Create++
		case provider.ActionUpdate:
			plan.Summary.Update++
		case provider.ActionReplace:
			plan.Summary.Replace++
		case provider.ActionDelete:
			plan.Summary.Delete++
		}
	}

	// Resources present in state but absent from the declarations are
	// deleted.
	for _, res := range state.Resources {
		addr := res.Addr()
		if _, declared := declByAddr[addr]; declared {
			continue
		}
		if targetSet != nil && !targetSet[addr] {
			continue
		}
		plan.Changes = append(plan.Changes, &ir.ResourceChange{
			Address: addr,
			Action:  string(provider.ActionDelete),
			Prior: &ir.Declaration{
				Type:       res.Type,
				Name:       res.Name,
				Provider:   res.Provider,
				Properties: res.Inputs,
			},
			Diff: deleteDiff(res.Inputs),
		})
		plan.Summary.Delete++
	}

	return plan, nil
}

// CreateDestroyPlan plans the deletion of everything in state, in reverse
// dependency order.
func (e *Engine) CreateDestroyPlan(ctx context.Context, state *ir.State) (*ir.Plan, error) {
	graph, err := BuildGraphFromState(state.Resources)
	if err != nil {
		return nil, fmt.Errorf("failed to build dependency graph from state: %w", err)
	}

	stateByAddr := make(map[string]*ir.ResourceState, len(state.Resources))
	for _, res := range state.Resources {
		stateByAddr[res.Addr()] = res
		if err := e.registry.Load(res.Provider); err != nil {
			return nil, fmt.Errorf("failed to load provider %s: %w", res.Provider, err)
		}
	}

	plan := &ir.Plan{
		Metadata: &ir.PlanMetadata{Timestamp: time.Now().UTC().Format(time.RFC3339)},
		Changes:  []*ir.ResourceChange{},
		Summary:  &ir.PlanSummary{},
	}

	for _, addr := range graph.DestructionOrder() {
		res, ok := stateByAddr[addr]
		if !ok {
			continue
		}
		plan.Changes = append(plan.Changes, &ir.ResourceChange{
			Address: addr,
			Action:  string(provider.ActionDelete),
			Prior: &ir.Declaration{
				Type:       res.Type,
				Name:       res.Name,
				Provider:   res.Provider,
				Properties: res.Inputs,
			},
			Diff: deleteDiff(res.Inputs),
		})
		plan.Summary.Delete++
	}

	return plan, nil
}

func checkNoUnboundRefs(cfg *ir.Config) error {
	for _, d := range cfg.Declarations {
		if refs := collectRefs(d.Properties, refSchemeVar); len(refs) > 0 {
			return &UnboundVariableError{
				Variable:    strings.TrimPrefix(refs[0], refSchemeVar),
				Declaration: declAddr(d),
			}
		}
	}
	return nil
}

func enforceLifecycle(d *ir.Declaration, action provider.Action, addr string) error {
	if d.Lifecycle == nil {
		return nil
	}
	if d.Lifecycle.PreventDestroy && (action == provider.ActionDelete || action == provider.ActionReplace) {
		return fmt.Errorf("declaration %s has preventDestroy set but the plan requires destruction", addr)
	}
	return nil
}

func allChangesIgnored(ignored, changed []string) bool {
	if len(changed) == 0 {
		return false
	}
	set := make(map[string]bool, len(ignored))
	for _, attr := range ignored {
		set[attr] = true
	}
	for _, attr := range changed {
		if !set[attr] {
			return false
		}
	}
	return true
}

func diffProperties(prior, desired map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)

	keys := make(map[string]bool)
	for k := range prior {
		keys[k] = true
	}
	for k := range desired {
		keys[k] = true
	}

	for k := range keys {
		pv, inPrior := prior[k]
		dv, inDesired := desired[k]
		switch {
		case !inPrior:
			diff[k] = &ir.PropertyDiff{After: dv, Action: "create"}
		case !inDesired:
			diff[k] = &ir.PropertyDiff{Before: pv, Action: "delete"}
		case fmt.Sprintf("%v", pv) != fmt.Sprintf("%v", dv):
			diff[k] = &ir.PropertyDiff{Before: pv, After: dv, Action: "update"}
		}
	}

	return diff
}

func createDiff(props map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff, len(props))
	for k, v := range props {
		diff[k] = &ir.PropertyDiff{After: v, Action: "create"}
	}
	return diff
}

func deleteDiff(props map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff, len(props))
	for k, v := range props {
		diff[k] = &ir.PropertyDiff{Before: v, Action: "delete"}
	}
	return diff
}

func resourceType(d *ir.Declaration) string {
	if d.Type == "" {
		return "null_resource"
	}
	return d.Type
}

func hashConfig(cfg *ir.Config) string {
	data, err := json.Marshal(normalizeValue(map[string]any{
		"environment":  cfg.Environment,
		"declarations": cfg.Declarations,
	}))
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stackd-io/stackd/internal/ir"
	"github.com/stackd-io/stackd/internal/logging"
	"github.com/stackd-io/stackd/pkg/provider"
)

const defaultParallelism = 10

// ApplyEvent is a progress notification for one change.
type ApplyEvent struct {
	Address  string
	Action   string
	Status   string // started, completed, failed
	Duration time.Duration
	Error    error
}

type ApplyCallback func(event ApplyEvent)

// ApplyPlan executes a plan and mutates state in place. On failure the
// state still reflects every change that completed, with the failing
// resource flagged so a later run can rebuild it.
func (e *Engine) ApplyPlan(ctx context.Context, plan *ir.Plan, state *ir.State) (*ir.State, error) {
	return e.ApplyPlanWithCallback(ctx, plan, state, nil)
}

// ApplyPlanWithCallback executes a plan with progress callbacks. Creates
// and updates run first in dependency order (parallel across independent
// resources), deletions after.
func (e *Engine) ApplyPlanWithCallback(ctx context.Context, plan *ir.Plan, state *ir.State, callback ApplyCallback) (*ir.State, error) {
	var mu sync.Mutex
	var errs []error

	emit := func(event ApplyEvent) {
		if callback != nil {
			callback(event)
		}
	}

	stateIndex := make(map[string]int, len(state.Resources))
	for i, res := range state.Resources {
		stateIndex[res.Addr()] = i
	}

	var forward, deletes []*ir.ResourceChange
	for _, change := range plan.Changes {
		if change.Action == string(provider.ActionDelete) {
			deletes = append(deletes, change)
		} else {
			forward = append(forward, change)
		}
	}

	runBatch := func(batch []*ir.ResourceChange) error {
		if len(batch) > 1 {
			return e.applyConcurrent(ctx, batch, state, &stateIndex, &mu, emit)
		}
		for _, change := range batch {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("apply cancelled: %w", err)
			}
			start := time.Now()
			emit(ApplyEvent{Address: change.Address, Action: change.Action, Status: "started"})
			if err := e.applyChange(ctx, change, state, &stateIndex, &mu); err != nil {
				emit(ApplyEvent{Address: change.Address, Action: change.Action, Status: "failed", Duration: time.Since(start), Error: err})
				return err
			}
			emit(ApplyEvent{Address: change.Address, Action: change.Action, Status: "completed", Duration: time.Since(start)})
		}
		return nil
	}

	if err := runBatch(forward); err != nil {
		if !e.ContinueOnError {
			state.Serial++
			return state, err
		}
		errs = append(errs, err)
	}
	if err := runBatch(deletes); err != nil {
		if !e.ContinueOnError {
			state.Serial++
			return state, err
		}
		errs = append(errs, err)
	}

	state.Serial++
	state.Outputs = resolveOutputs(plan.Outputs, state)

	if len(errs) > 0 {
		return state, fmt.Errorf("%d resource(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return state, nil
}

// applyConcurrent runs a batch of changes with bounded parallelism,
// releasing each change only once everything it depends on completed.
// A failed dependency marks its dependents failed without running them.
func (e *Engine) applyConcurrent(ctx context.Context, changes []*ir.ResourceChange, state *ir.State, stateIndex *map[string]int, mu *sync.Mutex, emit func(ApplyEvent)) error {
	inBatch := make(map[string]*ir.ResourceChange, len(changes))
	for _, c := range changes {
		inBatch[c.Address] = c
	}

	deps := make(map[string]map[string]bool, len(changes))
	for _, c := range changes {
		deps[c.Address] = make(map[string]bool)
		if c.Desired == nil {
			continue
		}
		for _, d := range c.Desired.DependsOn {
			if _, ok := inBatch[d]; ok {
				deps[c.Address][d] = true
			}
		}
		for _, ref := range collectRefs(c.Desired.Properties, refSchemePtr) {
			if depAddr := ptrRefAddr(ref); depAddr != "" {
				if _, ok := inBatch[depAddr]; ok {
					deps[c.Address][depAddr] = true
				}
			}
		}
	}

	var (
		coordMu  sync.Mutex
		cond     = sync.NewCond(&coordMu)
		done     = make(map[string]bool)
		failed   = make(map[string]bool)
		firstErr error
		allErrs  []error
	)
	sem := make(chan struct{}, defaultParallelism)

	var wg sync.WaitGroup
	for _, change := range changes {
		wg.Add(1)
		go func(c *ir.ResourceChange) {
			defer wg.Done()

			coordMu.Lock()
			for {
				if firstErr != nil && !e.ContinueOnError {
					coordMu.Unlock()
					return
				}
				ready := true
				skip := false
				for dep := range deps[c.Address] {
					if failed[dep] {
						skip = true
						break
					}
					if !done[dep] {
						ready = false
						break
					}
				}
				if skip {
					failed[c.Address] = true
					coordMu.Unlock()
					cond.Broadcast()
					return
				}
				if ready {
					break
				}
				cond.Wait()
			}
			coordMu.Unlock()

			if err := ctx.Err(); err != nil {
				coordMu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("apply cancelled: %w", err)
				}
				coordMu.Unlock()
				cond.Broadcast()
				return
			}

			sem <- struct{}{}
			defer func() { <-sem }()

			start := time.Now()
			emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "started"})

			if err := e.applyChange(ctx, c, state, stateIndex, mu); err != nil {
				emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "failed", Duration: time.Since(start), Error: err})
				coordMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				allErrs = append(allErrs, err)
				failed[c.Address] = true
				coordMu.Unlock()
				cond.Broadcast()
				return
			}

			emit(ApplyEvent{Address: c.Address, Action: c.Action, Status: "completed", Duration: time.Since(start)})

			coordMu.Lock()
			done[c.Address] = true
			coordMu.Unlock()
			cond.Broadcast()
		}(change)
	}

	wg.Wait()

	if e.ContinueOnError && len(allErrs) > 0 {
		return fmt.Errorf("%d resource(s) failed: %w", len(allErrs), errors.Join(allErrs...))
	}
	return firstErr
}

func (e *Engine) applyChange(ctx context.Context, change *ir.ResourceChange, state *ir.State, stateIndex *map[string]int, mu *sync.Mutex) error {
	addr := change.Address
	logging.Debug("applying change", "address", addr, "action", change.Action)

	timeout := DefaultTimeout
	if change.Desired != nil && change.Desired.Timeout != "" {
		if d, err := time.ParseDuration(change.Desired.Timeout); err == nil && d > 0 {
			timeout = d
		}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		name, typ, provName string
		desiredJSON         []byte
		priorJSON           []byte
	)

	if change.Desired != nil {
		name = change.Desired.Name
		typ = resourceType(change.Desired)
		provName = change.Desired.Provider

		mu.Lock()
		resolved := resolvePtrRefs(normalizeValue(change.Desired.Properties), state)
		mu.Unlock()
		desiredJSON, _ = json.Marshal(resolved)
	} else if change.Prior != nil {
		name = change.Prior.Name
		typ = resourceType(change.Prior)
		provName = change.Prior.Provider
	}

	mu.Lock()
	if idx, ok := (*stateIndex)[addr]; ok {
		if outs := state.Resources[idx].Outputs; outs != nil {
			priorJSON, _ = json.Marshal(outs)
		}
	}
	mu.Unlock()

	prov, err := e.registry.Get(provName)
	if err != nil {
		return fmt.Errorf("provider not loaded: %s", provName)
	}

	policy := DefaultRetryPolicy()

	switch change.Action {
	case string(provider.ActionCreate), string(provider.ActionUpdate), string(provider.ActionReplace):
		var resp *provider.ApplyResponse
		err := RetryWithBackoff(ctx, policy, func() error {
			var applyErr error
			resp, applyErr = prov.Apply(ctx, &provider.ApplyRequest{
				Type:    typ,
				Name:    name,
				Desired: desiredJSON,
				Prior:   priorJSON,
			})
			return applyErr
		}, IsTransientError)
		if err != nil {
			e.recordFailure(change, state, stateIndex, mu)
			return fmt.Errorf("apply failed for %s: %w", addr, err)
		}

		var outputs map[string]any
		if len(resp.NewState) > 0 {
			if err := json.Unmarshal(resp.NewState, &outputs); err != nil {
				return fmt.Errorf("failed to unmarshal new state for %s: %w", addr, err)
			}
		}

		entry := &ir.ResourceState{
			Type:         typ,
			Name:         name,
			Provider:     provName,
			Status:       ir.StatusApplied,
			Inputs:       change.Desired.Properties,
			InputsHash:   hashInputs(change.Desired.Properties),
			Outputs:      outputs,
			Dependencies: declarationDeps(change.Desired),
		}

		mu.Lock()
		if idx, ok := (*stateIndex)[addr]; ok {
			state.Resources[idx] = entry
		} else {
			(*stateIndex)[addr] = len(state.Resources)
			state.Resources = append(state.Resources, entry)
		}
		mu.Unlock()

	case string(provider.ActionDelete):
		var resourceID string
		mu.Lock()
		if idx, ok := (*stateIndex)[addr]; ok {
			if id, exists := state.Resources[idx].Outputs["id"]; exists {
				resourceID = fmt.Sprintf("%v", id)
			}
		}
		mu.Unlock()

		err := RetryWithBackoff(ctx, policy, func() error {
			return prov.Delete(ctx, &provider.DeleteRequest{
				Type:    typ,
				ID:      resourceID,
				Current: priorJSON,
			})
		}, IsTransientError)
		if err != nil {
			return fmt.Errorf("delete failed for %s: %w", addr, err)
		}

		mu.Lock()
		if idx, ok := (*stateIndex)[addr]; ok {
			state.Resources = append(state.Resources[:idx], state.Resources[idx+1:]...)
			*stateIndex = make(map[string]int, len(state.Resources))
			for i, res := range state.Resources {
				(*stateIndex)[res.Addr()] = i
			}
		}
		mu.Unlock()
	}

	return nil
}

// recordFailure flags the resource in state so the next plan rebuilds it
// instead of assuming the prior snapshot is truthful.
func (e *Engine) recordFailure(change *ir.ResourceChange, state *ir.State, stateIndex *map[string]int, mu *sync.Mutex) {
	addr := change.Address
	mu.Lock()
	defer mu.Unlock()

	if idx, ok := (*stateIndex)[addr]; ok {
		state.Resources[idx].Status = ir.StatusFailed
		return
	}
	if change.Desired == nil {
		return
	}
	entry := &ir.ResourceState{
		Type:         resourceType(change.Desired),
		Name:         change.Desired.Name,
		Provider:     change.Desired.Provider,
		Status:       ir.StatusFailed,
		Inputs:       change.Desired.Properties,
		InputsHash:   hashInputs(change.Desired.Properties),
		Dependencies: declarationDeps(change.Desired),
	}
	(*stateIndex)[addr] = len(state.Resources)
	state.Resources = append(state.Resources, entry)
}

// resolveOutputs materializes the config's output bindings against the
// freshly converged state. Output values exist only once the referenced
// resource does.
func resolveOutputs(outputs map[string]any, state *ir.State) map[string]any {
	if len(outputs) == 0 {
		return nil
	}
	resolved := make(map[string]any, len(outputs))
	for k, v := range outputs {
		resolved[k] = resolvePtrRefs(normalizeValue(v), state)
	}
	return resolved
}

func declarationDeps(d *ir.Declaration) []string {
	if d == nil {
		return nil
	}
	seen := make(map[string]bool)
	var deps []string
	for _, dep := range d.DependsOn {
		if !seen[dep] {
			seen[dep] = true
			deps = append(deps, dep)
		}
	}
	for _, ref := range collectRefs(d.Properties, refSchemePtr) {
		if addr := ptrRefAddr(ref); addr != "" && !seen[addr] {
			seen[addr] = true
			deps = append(deps, addr)
		}
	}
	return deps
}

func hashInputs(props map[string]any) string {
	data, err := json.Marshal(normalizeValue(props))
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackd-io/stackd/internal/ir"
	regpkg "github.com/stackd-io/stackd/internal/provider"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	reg := regpkg.NewRegistry()
	require.NoError(t, reg.Load("null"))
	return New(reg)
}

func TestEngine_CreatePlan(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	cfg := &ir.Config{
		Declarations: []*ir.Declaration{
			{
				Type:     "null_resource",
				Name:     "test1",
				Provider: "null",
				Properties: map[string]any{
					"triggers": map[string]any{"a": "b"},
				},
			},
		},
	}

	state := &ir.State{}

	plan, err := eng.CreatePlan(ctx, cfg, state)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)
	assert.Equal(t, "CREATE", plan.Changes[0].Action)
	assert.Equal(t, "null_resource.test1", plan.Changes[0].Address)
	assert.Contains(t, plan.Changes[0].Diff, "triggers")

	// Same triggers recorded in state: nothing to do.
	state = &ir.State{
		Resources: []*ir.ResourceState{
			{
				Type:     "null_resource",
				Name:     "test1",
				Provider: "null",
				Status:   ir.StatusApplied,
				Inputs: map[string]any{
					"triggers": map[string]any{"a": "b"},
				},
				Outputs: map[string]any{
					"id":       "null-test1",
					"triggers": map[string]any{"a": "b"},
				},
			},
		},
	}

	plan, err = eng.CreatePlan(ctx, cfg, state)
	require.NoError(t, err)
	assert.Empty(t, plan.Changes)
	assert.Equal(t, 1, plan.Summary.NoOp)

	// Changed trigger forces replacement.
	cfg.Declarations[0].Properties["triggers"] = map[string]any{"a": "c"}

	plan, err = eng.CreatePlan(ctx, cfg, state)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)
	assert.Equal(t, "REPLACE", plan.Changes[0].Action)
}

func TestEngine_CreatePlan_Delete(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	cfg := &ir.Config{}
	state := &ir.State{
		Resources: []*ir.ResourceState{
			{
				Type:     "null_resource",
				Name:     "old_resource",
				Provider: "null",
				Status:   ir.StatusApplied,
				Outputs:  map[string]any{"id": "null-old"},
			},
		},
	}

	plan, err := eng.CreatePlan(ctx, cfg, state)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)
	assert.Equal(t, "DELETE", plan.Changes[0].Action)
	assert.Equal(t, "null_resource.old_resource", plan.Changes[0].Address)
	assert.Equal(t, 1, plan.Summary.Delete)
}

func TestEngine_CreatePlan_UnboundVariableFailsBeforeProviders(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	cfg := &ir.Config{
		Declarations: []*ir.Declaration{
			{
				Type:     "null_resource",
				Name:     "needs-var",
				Provider: "null",
				Properties: map[string]any{
					"triggers": map[string]any{"ami": "var://ami"},
				},
			},
		},
	}

	_, err := eng.CreatePlan(ctx, cfg, &ir.State{})
	require.Error(t, err)

	var unbound *UnboundVariableError
	require.ErrorAs(t, err, &unbound)
	assert.Equal(t, "ami", unbound.Variable)
	assert.Equal(t, "null_resource.needs-var", unbound.Declaration)
}

func TestEngine_CreatePlan_TaintedResourceIsReplaced(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	props := map[string]any{"triggers": map[string]any{"a": "b"}}
	cfg := &ir.Config{
		Declarations: []*ir.Declaration{
			{Type: "null_resource", Name: "t", Provider: "null", Properties: props},
		},
	}
	state := &ir.State{
		Resources: []*ir.ResourceState{
			{
				Type:     "null_resource",
				Name:     "t",
				Provider: "null",
				Status:   ir.StatusTainted,
				Inputs:   props,
				Outputs:  map[string]any{"id": "null-t", "triggers": map[string]any{"a": "b"}},
			},
		},
	}

	plan, err := eng.CreatePlan(ctx, cfg, state)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)
	assert.Equal(t, "REPLACE", plan.Changes[0].Action)
}

func TestEngine_CreatePlan_FailedResourceIsReplaced(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	props := map[string]any{"triggers": map[string]any{"a": "b"}}
	cfg := &ir.Config{
		Declarations: []*ir.Declaration{
			{Type: "null_resource", Name: "f", Provider: "null", Properties: props},
		},
	}
	state := &ir.State{
		Resources: []*ir.ResourceState{
			{Type: "null_resource", Name: "f", Provider: "null", Status: ir.StatusFailed, Inputs: props},
		},
	}

	plan, err := eng.CreatePlan(ctx, cfg, state)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)
	assert.Equal(t, "REPLACE", plan.Changes[0].Action)
}

func TestEngine_CreatePlan_PreventDestroy(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	cfg := &ir.Config{
		Declarations: []*ir.Declaration{
			{
				Type:      "null_resource",
				Name:      "protected",
				Provider:  "null",
				Lifecycle: &ir.Lifecycle{PreventDestroy: true},
				Properties: map[string]any{
					"triggers": map[string]any{"a": "new_value"},
				},
			},
		},
	}
	state := &ir.State{
		Resources: []*ir.ResourceState{
			{
				Type:     "null_resource",
				Name:     "protected",
				Provider: "null",
				Status:   ir.StatusApplied,
				Outputs: map[string]any{
					"id":       "null-protected",
					"triggers": map[string]any{"a": "old_value"},
				},
			},
		},
	}

	_, err := eng.CreatePlan(ctx, cfg, state)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "preventDestroy")
}

func TestEngine_CreateDestroyPlan_ReverseOrder(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	state := &ir.State{
		Resources: []*ir.ResourceState{
			{Type: "null_resource", Name: "base", Provider: "null", Status: ir.StatusApplied},
			{Type: "null_resource", Name: "top", Provider: "null", Status: ir.StatusApplied,
				Dependencies: []string{"null_resource.base"}},
		},
	}

	plan, err := eng.CreateDestroyPlan(ctx, state)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 2)
	assert.Equal(t, "null_resource.top", plan.Changes[0].Address)
	assert.Equal(t, "null_resource.base", plan.Changes[1].Address)
	assert.Equal(t, 2, plan.Summary.Delete)
}

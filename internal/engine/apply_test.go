package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackd-io/stackd/internal/ir"
	regpkg "github.com/stackd-io/stackd/internal/provider"
	"github.com/stackd-io/stackd/pkg/provider"
)

func nullDecl(name string, triggers map[string]any) *ir.Declaration {
	return &ir.Declaration{
		Type:     "null_resource",
		Name:     name,
		Provider: "null",
		Properties: map[string]any{
			"triggers": triggers,
		},
	}
}

func TestEngine_ApplyPlan_RecordsEveryDeclaration(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	cfg := &ir.Config{
		Environment: "staging",
		Declarations: []*ir.Declaration{
			nullDecl("network", map[string]any{"cidr": "10.0.0.0/16"}),
			{
				Type: "null_resource", Name: "host", Provider: "null",
				DependsOn:  []string{"null_resource.network"},
				Properties: map[string]any{"triggers": map[string]any{"ami": "ami-123"}},
			},
			{
				Type: "null_resource", Name: "storage", Provider: "null",
				DependsOn:  []string{"null_resource.host"},
				Properties: map[string]any{"triggers": map[string]any{"size": "100"}},
			},
		},
	}

	state := &ir.State{Environment: "staging"}

	plan, err := eng.CreatePlan(ctx, cfg, state)
	require.NoError(t, err)
	require.Equal(t, 3, plan.Summary.Create)

	newState, err := eng.ApplyPlan(ctx, plan, state)
	require.NoError(t, err)

	// One entry per declaration, all converged.
	require.Len(t, newState.Resources, 3)
	for _, res := range newState.Resources {
		assert.Equal(t, ir.StatusApplied, res.Status)
		assert.NotEmpty(t, res.Outputs["id"])
	}
	assert.Equal(t, 1, newState.Serial)

	// A second run against the recorded state changes nothing.
	cfg2 := &ir.Config{
		Environment:  "staging",
		Declarations: cfg.Declarations,
	}
	plan2, err := eng.CreatePlan(ctx, cfg2, newState)
	require.NoError(t, err)
	assert.Empty(t, plan2.Changes)
	assert.Equal(t, 3, plan2.Summary.NoOp)
}

func TestEngine_CreatePlan_ConvergedReferenceStaysNoop(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	// The dependent's triggers spell a reference that only resolves to a
	// concrete value once the base exists.
	cfg := &ir.Config{
		Environment: "staging",
		Declarations: []*ir.Declaration{
			nullDecl("base", map[string]any{"name": "base"}),
			{
				Type: "null_resource", Name: "dep", Provider: "null",
				DependsOn: []string{"null_resource.base"},
				Properties: map[string]any{
					"triggers": map[string]any{"base_id": "ptr://null_resource/base/id"},
				},
			},
		},
	}

	state := &ir.State{Environment: "staging"}
	plan, err := eng.CreatePlan(ctx, cfg, state)
	require.NoError(t, err)
	newState, err := eng.ApplyPlan(ctx, plan, state)
	require.NoError(t, err)

	// Replanning the unchanged config over the converged state must not
	// propose work; the still-symbolic reference compares equal to what
	// was applied.
	plan2, err := eng.CreatePlan(ctx, cfg, newState)
	require.NoError(t, err)
	assert.Empty(t, plan2.Changes)
	assert.Equal(t, 2, plan2.Summary.NoOp)
	assert.Zero(t, plan2.Summary.Create+plan2.Summary.Update+plan2.Summary.Replace+plan2.Summary.Delete)

	// Same outcome when the recorded hash is absent and the provider has
	// to diff the configurations itself.
	for _, res := range newState.Resources {
		res.InputsHash = ""
	}
	plan3, err := eng.CreatePlan(ctx, cfg, newState)
	require.NoError(t, err)
	assert.Empty(t, plan3.Changes)

	// An actual edit still surfaces.
	cfg.Declarations[1].Properties = map[string]any{
		"triggers": map[string]any{"base_id": "ptr://null_resource/base/id", "rev": "2"},
	}
	plan4, err := eng.CreatePlan(ctx, cfg, newState)
	require.NoError(t, err)
	require.Len(t, plan4.Changes, 1)
	assert.Equal(t, string(provider.ActionReplace), plan4.Changes[0].Action)
}

func TestEngine_ApplyPlan_DeleteRemovesStateEntry(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	state := &ir.State{
		Resources: []*ir.ResourceState{
			{
				Type: "null_resource", Name: "gone", Provider: "null",
				Status:  ir.StatusApplied,
				Outputs: map[string]any{"id": "null-gone"},
			},
			{
				Type: "null_resource", Name: "kept", Provider: "null",
				Status:  ir.StatusApplied,
				Inputs:  map[string]any{"triggers": map[string]any{"a": "b"}},
				Outputs: map[string]any{"id": "null-kept", "triggers": map[string]any{"a": "b"}},
			},
		},
	}
	cfg := &ir.Config{
		Declarations: []*ir.Declaration{nullDecl("kept", map[string]any{"a": "b"})},
	}

	plan, err := eng.CreatePlan(ctx, cfg, state)
	require.NoError(t, err)
	require.Equal(t, 1, plan.Summary.Delete)

	newState, err := eng.ApplyPlan(ctx, plan, state)
	require.NoError(t, err)
	require.Len(t, newState.Resources, 1)
	assert.Equal(t, "null_resource.kept", newState.Resources[0].Addr())
}

func TestEngine_ApplyPlan_ResolvesOutputs(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	cfg := &ir.Config{
		Declarations: []*ir.Declaration{
			nullDecl("api", map[string]any{"a": "b"}),
		},
		Outputs: map[string]any{
			"api_id": "ptr://null_resource/api/id",
		},
	}
	state := &ir.State{}

	plan, err := eng.CreatePlan(ctx, cfg, state)
	require.NoError(t, err)

	newState, err := eng.ApplyPlan(ctx, plan, state)
	require.NoError(t, err)
	assert.Equal(t, "null-api", newState.Outputs["api_id"])
}

// failingProvider fails Apply for one resource name and succeeds for the
// rest, mimicking a provider-side convergence failure mid-graph.
type failingProvider struct {
	failName string
}

func (p *failingProvider) Configure(context.Context, map[string]string) error { return nil }

func (p *failingProvider) Plan(_ context.Context, req *provider.PlanRequest) (*provider.PlanResponse, error) {
	if req.Prior == nil {
		return &provider.PlanResponse{Action: provider.ActionCreate}, nil
	}
	return &provider.PlanResponse{Action: provider.ActionNoop}, nil
}

func (p *failingProvider) Apply(_ context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	if req.Name == p.failName {
		return nil, errors.New("quota exceeded for resource")
	}
	data, _ := json.Marshal(map[string]any{"id": "fake-" + req.Name})
	return &provider.ApplyResponse{NewState: data}, nil
}

func (p *failingProvider) Read(_ context.Context, req *provider.ReadRequest) (*provider.ReadResponse, error) {
	return &provider.ReadResponse{Exists: true, NewState: req.Current}, nil
}

func (p *failingProvider) Delete(context.Context, *provider.DeleteRequest) error { return nil }

func TestEngine_ApplyPlan_FailureFlagsResourceAndKeepsProgress(t *testing.T) {
	reg := regpkg.NewRegistry()
	reg.Register("fake", &failingProvider{failName: "second"})
	eng := New(reg)
	ctx := context.Background()

	cfg := &ir.Config{
		Declarations: []*ir.Declaration{
			{Type: "fake_thing", Name: "first", Provider: "fake", Properties: map[string]any{}},
			{Type: "fake_thing", Name: "second", Provider: "fake",
				DependsOn: []string{"fake_thing.first"}, Properties: map[string]any{}},
			{Type: "fake_thing", Name: "third", Provider: "fake",
				DependsOn: []string{"fake_thing.second"}, Properties: map[string]any{}},
		},
	}
	state := &ir.State{}

	plan, err := eng.CreatePlan(ctx, cfg, state)
	require.NoError(t, err)
	require.Equal(t, 3, plan.Summary.Create)

	newState, err := eng.ApplyPlan(ctx, plan, state)
	require.Error(t, err)
	require.NotNil(t, newState)

	byAddr := make(map[string]*ir.ResourceState)
	for _, res := range newState.Resources {
		byAddr[res.Addr()] = res
	}

	// The first resource converged and stays converged; the failing one
	// is flagged so the next plan rebuilds it; the dependent never ran.
	require.Contains(t, byAddr, "fake_thing.first")
	assert.Equal(t, ir.StatusApplied, byAddr["fake_thing.first"].Status)

	require.Contains(t, byAddr, "fake_thing.second")
	assert.Equal(t, ir.StatusFailed, byAddr["fake_thing.second"].Status)

	assert.NotContains(t, byAddr, "fake_thing.third")
}

func TestEngine_ApplyPlanWithCallback_EmitsProgressEvents(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	cfg := &ir.Config{Declarations: []*ir.Declaration{
		nullDecl("tracked", map[string]any{"rev": "1"}),
	}}
	state := &ir.State{}

	plan, err := eng.CreatePlan(ctx, cfg, state)
	require.NoError(t, err)

	var events []ApplyEvent
	_, err = eng.ApplyPlanWithCallback(ctx, plan, state, func(event ApplyEvent) {
		events = append(events, event)
	})
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, "started", events[0].Status)
	assert.Equal(t, "completed", events[1].Status)
	assert.Equal(t, "null_resource.tracked", events[0].Address)
	assert.NoError(t, events[1].Error)
}

func TestEngine_CreatePlanWithTargets_LimitsScope(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	cfg := &ir.Config{Declarations: []*ir.Declaration{
		nullDecl("base", map[string]any{"rev": "1"}),
		nullDecl("mid", map[string]any{"rev": "1"}),
	}}
	cfg.Declarations[1].DependsOn = []string{"null_resource.base"}
	cfg.Declarations = append(cfg.Declarations, nullDecl("other", map[string]any{"rev": "1"}))

	plan, err := eng.CreatePlanWithTargets(ctx, cfg, &ir.State{}, []string{"null_resource.mid"})
	require.NoError(t, err)

	// Targeting mid pulls in its dependency but leaves unrelated
	// declarations out of the plan.
	addrs := make([]string, 0, len(plan.Changes))
	for _, c := range plan.Changes {
		addrs = append(addrs, c.Address)
	}
	assert.Contains(t, addrs, "null_resource.mid")
	assert.Contains(t, addrs, "null_resource.base")
	assert.NotContains(t, addrs, "null_resource.other")
}

func TestEngine_ApplyPlan_ContinueOnError(t *testing.T) {
	reg := regpkg.NewRegistry()
	reg.Register("fake", &failingProvider{failName: "second"})
	eng := New(reg)
	eng.ContinueOnError = true
	ctx := context.Background()

	cfg := &ir.Config{
		Declarations: []*ir.Declaration{
			{Type: "fake_thing", Name: "first", Provider: "fake", Properties: map[string]any{}},
			{Type: "fake_thing", Name: "second", Provider: "fake", Properties: map[string]any{}},
			{Type: "fake_thing", Name: "third", Provider: "fake", Properties: map[string]any{}},
		},
	}
	state := &ir.State{}

	plan, err := eng.CreatePlan(ctx, cfg, state)
	require.NoError(t, err)

	newState, err := eng.ApplyPlan(ctx, plan, state)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 resource(s) failed")

	byAddr := make(map[string]*ir.ResourceState)
	for _, res := range newState.Resources {
		byAddr[res.Addr()] = res
	}

	// Independent resources keep converging past the failure.
	assert.Equal(t, ir.StatusApplied, byAddr["fake_thing.first"].Status)
	assert.Equal(t, ir.StatusFailed, byAddr["fake_thing.second"].Status)
	assert.Equal(t, ir.StatusApplied, byAddr["fake_thing.third"].Status)
}

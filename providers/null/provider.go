// Package null implements a provider whose resources exist only in state.
// It backs tests and pipeline glue declarations: a null resource converges
// instantly and is replaced whenever its triggers change.
package null

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stackd-io/stackd/pkg/provider"
)

type Provider struct{}

func New() *Provider {
	return &Provider{}
}

type Config struct {
	Triggers map[string]string `json:"triggers"`
}

type State struct {
	ID       string            `json:"id"`
	Triggers map[string]string `json:"triggers"`
}

func (p *Provider) Configure(ctx context.Context, settings map[string]string) error {
	return nil
}

func (p *Provider) Plan(ctx context.Context, req *provider.PlanRequest) (*provider.PlanResponse, error) {
	if req.Desired == nil && req.Prior != nil {
		return &provider.PlanResponse{Action: provider.ActionDelete}, nil
	}
	if req.Prior == nil {
		return &provider.PlanResponse{Action: provider.ActionCreate}, nil
	}

	var desired Config
	if err := json.Unmarshal(req.Desired, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	// Prefer the last-applied configuration; fall back to the recorded
	// attribute snapshot for state written before inputs were tracked.
	var priorTriggers map[string]string
	if len(req.PriorInputs) > 0 {
		var priorCfg Config
		if err := json.Unmarshal(req.PriorInputs, &priorCfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior inputs: %w", err)
		}
		priorTriggers = priorCfg.Triggers
	} else {
		var prior State
		if err := json.Unmarshal(req.Prior, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		priorTriggers = prior.Triggers
	}

	if !triggersEqual(desired.Triggers, priorTriggers) {
		return &provider.PlanResponse{
			Action:            provider.ActionReplace,
			ChangedAttributes: []string{"triggers"},
		}, nil
	}

	return &provider.PlanResponse{Action: provider.ActionNoop}, nil
}

func (p *Provider) Apply(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	if req.Desired == nil {
		return &provider.ApplyResponse{}, nil
	}

	var desired Config
	if err := json.Unmarshal(req.Desired, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	st := State{
		ID:       fmt.Sprintf("null-%s", req.Name),
		Triggers: desired.Triggers,
	}
	data, _ := json.Marshal(st)
	return &provider.ApplyResponse{NewState: data}, nil
}

func (p *Provider) Read(ctx context.Context, req *provider.ReadRequest) (*provider.ReadResponse, error) {
	return &provider.ReadResponse{Exists: true, NewState: req.Current}, nil
}

func (p *Provider) Delete(ctx context.Context, req *provider.DeleteRequest) error {
	return nil
}

func triggersEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

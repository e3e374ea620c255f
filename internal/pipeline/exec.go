package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/stackd-io/stackd/internal/creds"
	"github.com/stackd-io/stackd/internal/deploy"
	"github.com/stackd-io/stackd/internal/engine"
	"github.com/stackd-io/stackd/internal/eval"
	"github.com/stackd-io/stackd/internal/ir"
	"github.com/stackd-io/stackd/internal/logging"
	providerreg "github.com/stackd-io/stackd/internal/provider"
	"github.com/stackd-io/stackd/internal/state"
)

const entryPointFile = "main.pkl"

// StageExecutor runs stages against real infrastructure: the convergence
// engine for provision and destroy, persisted state for outputs, and the
// deployment driver for remote stages.
type StageExecutor struct {
	credStore   *creds.Store
	environment string
}

func NewStageExecutor(credStore *creds.Store, environment string) *StageExecutor {
	return &StageExecutor{credStore: credStore, environment: environment}
}

func (x *StageExecutor) manager(stage *ir.Stage) (state.Backend, *eval.Evaluator, error) {
	evaluator := eval.NewEvaluator(stage.Config)
	backend, err := state.OpenBackend(stage.Config, evaluator)
	if err != nil {
		return nil, nil, err
	}
	return backend, evaluator, nil
}

func (x *StageExecutor) Provision(ctx context.Context, stage *ir.Stage) error {
	mgr, evaluator, err := x.manager(stage)
	if err != nil {
		return err
	}

	if err := mgr.Lock(x.environment); err != nil {
		return err
	}
	defer func() { _ = mgr.Unlock() }()

	cfg, err := evaluator.LoadConfig(ctx, filepath.Join(stage.Config, entryPointFile), stage.Vars)
	if err != nil {
		return err
	}
	if err := engine.BindVariables(cfg, stage.Vars); err != nil {
		return err
	}

	st, err := mgr.Read(ctx)
	if err != nil {
		return err
	}

	eng := engine.New(providerreg.NewRegistry())
	plan, err := eng.CreatePlan(ctx, cfg, st)
	if err != nil {
		return err
	}

	if plan.Summary.Total() == 0 {
		logging.Info("nothing to converge", "config", stage.Config)
		return nil
	}

	newState, applyErr := eng.ApplyPlan(ctx, plan, st)
	// Partial progress is persisted even when the apply failed.
	if newState != nil {
		if werr := mgr.Write(ctx, newState); werr != nil {
			if applyErr != nil {
				return fmt.Errorf("%w (state write also failed: %v)", applyErr, werr)
			}
			return werr
		}
	}
	return applyErr
}

func (x *StageExecutor) Destroy(ctx context.Context, stage *ir.Stage) error {
	mgr, _, err := x.manager(stage)
	if err != nil {
		return err
	}

	if err := mgr.Lock(x.environment); err != nil {
		return err
	}
	defer func() { _ = mgr.Unlock() }()

	st, err := mgr.Read(ctx)
	if err != nil {
		return err
	}
	if len(st.Resources) == 0 {
		return nil
	}

	eng := engine.New(providerreg.NewRegistry())
	plan, err := eng.CreateDestroyPlan(ctx, st)
	if err != nil {
		return err
	}

	newState, applyErr := eng.ApplyPlan(ctx, plan, st)
	if newState != nil {
		if werr := mgr.Write(ctx, newState); werr != nil {
			if applyErr != nil {
				return fmt.Errorf("%w (state write also failed: %v)", applyErr, werr)
			}
			return werr
		}
	}
	return applyErr
}

// ExtractOutput reads a named output binding from the stage's state. A
// binding absent from state is an error the caller reports as-is.
func (x *StageExecutor) ExtractOutput(ctx context.Context, stage *ir.Stage) (string, error) {
	mgr, _, err := x.manager(stage)
	if err != nil {
		return "", err
	}

	st, err := mgr.Read(ctx)
	if err != nil {
		return "", err
	}

	value, ok := st.Outputs[stage.Output]
	if !ok {
		return "", fmt.Errorf("output %q not found in state", stage.Output)
	}
	return fmt.Sprintf("%v", value), nil
}

func (x *StageExecutor) Wait(ctx context.Context, stage *ir.Stage) error {
	timeout, err := stageTimeout(stage)
	if err != nil {
		return err
	}
	return deploy.WaitReady(ctx, stage.Host, stage.Port, timeout)
}

func (x *StageExecutor) Deploy(ctx context.Context, stage *ir.Stage) (string, error) {
	timeout, err := stageTimeout(stage)
	if err != nil {
		return "", err
	}

	secrets, err := resolveStageSecrets(x.credStore, stage)
	if err != nil {
		return "", err
	}
	var key creds.Secret
	if stage.Credential != "" {
		key, err = x.credStore.Lookup(stage.Credential)
		if err != nil {
			return "", err
		}
		secrets[stage.Credential] = key
	}

	req := deploy.Request{
		Target: deploy.Target{
			Host:       stage.Host,
			Port:       stage.Port,
			User:       stage.User,
			PrivateKey: key,
		},
		RemoteDir:   stage.RemoteDir,
		Command:     stage.Command,
		Subst:       stage.Subst,
		Secrets:     secrets,
		ExecTimeout: timeout,
	}
	for _, a := range stage.Artifacts {
		req.Artifacts = append(req.Artifacts, deploy.Artifact{LocalPath: a})
	}

	if err := req.Validate(); err != nil {
		return "", err
	}
	return deploy.Run(ctx, req)
}

// resolveStageSecrets looks up each secret placeholder's credential in
// the store. Resolved values reach the remote host only through the
// rendered command string; log lines keep every placeholder masked.
func resolveStageSecrets(store *creds.Store, stage *ir.Stage) (map[string]creds.Secret, error) {
	secrets := make(map[string]creds.Secret, len(stage.Secrets)+1)
	for placeholder, id := range stage.Secrets {
		value, err := store.Lookup(id)
		if err != nil {
			return nil, fmt.Errorf("stage %q secret %q: %w", stage.Name, placeholder, err)
		}
		secrets[placeholder] = value
	}
	return secrets, nil
}

func stageTimeout(stage *ir.Stage) (time.Duration, error) {
	if stage.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(stage.Timeout)
	if err != nil {
		return 0, fmt.Errorf("stage %q has invalid timeout %q: %w", stage.Name, stage.Timeout, err)
	}
	return d, nil
}

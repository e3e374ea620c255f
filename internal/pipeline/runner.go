package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/stackd-io/stackd/internal/ir"
	"github.com/stackd-io/stackd/internal/logging"
)

// State is the lifecycle of a pipeline run.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Status is a snapshot of a run. Stage is the 1-based index of the stage
// currently running, or the one that failed.
type Status struct {
	State     State
	Stage     int
	StageName string
	Err       error
}

// Executor performs the real work of each stage kind. The runner owns
// ordering and the state machine; executors own the side effects.
type Executor interface {
	// Provision converges the declaration graph in the stage's config
	// directory against its state.
	Provision(ctx context.Context, stage *ir.Stage) error

	// Destroy tears down everything recorded in the config's state.
	Destroy(ctx context.Context, stage *ir.Stage) error

	// ExtractOutput reads one named output binding from state. A missing
	// binding is an error, not a panic.
	ExtractOutput(ctx context.Context, stage *ir.Stage) (string, error)

	// Wait polls the stage's host:port until reachable or timed out.
	Wait(ctx context.Context, stage *ir.Stage) error

	// Deploy ships artifacts and runs the stage command on the target.
	// Exec stages reuse it with no artifacts.
	Deploy(ctx context.Context, stage *ir.Stage) (string, error)
}

// Runner executes pipelines sequentially. Each stage runs at most once;
// there are no retries and no rollback.
type Runner struct {
	exec Executor

	mu     sync.Mutex
	status Status
	values map[string]string
}

func NewRunner(exec Executor) *Runner {
	return &Runner{
		exec:   exec,
		status: Status{State: StatePending},
		values: make(map[string]string),
	}
}

// Status returns the current run snapshot.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Values returns a copy of the registered output values.
func (r *Runner) Values() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// Run executes every stage in order. The first failure marks the run
// Failed and returns; later stages never start.
func (r *Runner) Run(ctx context.Context, p *ir.Pipeline) error {
	if err := Validate(p); err != nil {
		r.setStatus(Status{State: StateFailed, Err: err})
		return err
	}

	log := logging.Logger()
	log.Info("starting pipeline", "pipeline", p.Name, "stages", len(p.Stages))

	for i, st := range p.Stages {
		pos := i + 1
		r.setStatus(Status{State: StateRunning, Stage: pos, StageName: st.Name})
		log.Info("running stage", "stage", st.Name, "kind", st.Kind, "position", pos)

		if err := r.runStage(ctx, p, st); err != nil {
			wrapped := fmt.Errorf("stage %q failed: %w", st.Name, err)
			r.setStatus(Status{State: StateFailed, Stage: pos, StageName: st.Name, Err: wrapped})
			log.Error("stage failed", "stage", st.Name, "error", err)
			return wrapped
		}
	}

	r.setStatus(Status{State: StateSucceeded, Stage: len(p.Stages)})
	log.Info("pipeline succeeded", "pipeline", p.Name)
	return nil
}

func (r *Runner) runStage(ctx context.Context, p *ir.Pipeline, st *ir.Stage) error {
	resolved := r.resolveStage(p, st)

	switch resolved.Kind {
	case ir.StageProvision:
		return r.exec.Provision(ctx, resolved)
	case ir.StageDestroy:
		return r.exec.Destroy(ctx, resolved)
	case ir.StageOutput:
		value, err := r.exec.ExtractOutput(ctx, resolved)
		if err != nil {
			return err
		}
		r.register(registerName(resolved), value)
		return nil
	case ir.StageWait:
		return r.exec.Wait(ctx, resolved)
	case ir.StageDeploy, ir.StageExec:
		_, err := r.exec.Deploy(ctx, resolved)
		return err
	}
	return fmt.Errorf("unknown stage kind %q", resolved.Kind)
}

// resolveStage returns a copy with registered values substituted and the
// pipeline environment merged under the stage's own bindings.
func (r *Runner) resolveStage(p *ir.Pipeline, st *ir.Stage) *ir.Stage {
	r.mu.Lock()
	values := r.values
	out := *st
	out.Host = substituteRefs(st.Host, values)
	out.Command = substituteRefs(st.Command, values)
	out.RemoteDir = substituteRefs(st.RemoteDir, values)
	out.Artifacts = substituteSlice(st.Artifacts, values)
	out.Subst = substituteMap(st.Subst, values)
	out.Vars = substituteMap(st.Vars, values)
	r.mu.Unlock()

	env := make(map[string]string, len(p.Env)+len(st.Env))
	for k, v := range p.Env {
		env[k] = v
	}
	for k, v := range st.Env {
		env[k] = substituteRefs(v, values)
	}
	out.Env = env

	return &out
}

func (r *Runner) register(name, value string) {
	r.mu.Lock()
	r.values[name] = value
	r.mu.Unlock()
}

func (r *Runner) setStatus(s Status) {
	r.mu.Lock()
	r.status = s
	r.mu.Unlock()
}

func substituteSlice(in []string, values map[string]string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = substituteRefs(s, values)
	}
	return out
}

func substituteMap(in map[string]string, values map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = substituteRefs(v, values)
	}
	return out
}

package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackd-io/stackd/internal/ir"
)

// fakeExecutor records stage invocations and fails or returns values on
// demand, keyed by stage name.
type fakeExecutor struct {
	calls   []string
	outputs map[string]string
	errs    map[string]error

	seenHosts map[string]string
	seenEnv   map[string]map[string]string
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		outputs:   make(map[string]string),
		errs:      make(map[string]error),
		seenHosts: make(map[string]string),
		seenEnv:   make(map[string]map[string]string),
	}
}

func (f *fakeExecutor) record(stage *ir.Stage) error {
	f.calls = append(f.calls, stage.Name)
	f.seenHosts[stage.Name] = stage.Host
	f.seenEnv[stage.Name] = stage.Env
	return f.errs[stage.Name]
}

func (f *fakeExecutor) Provision(_ context.Context, st *ir.Stage) error { return f.record(st) }
func (f *fakeExecutor) Destroy(_ context.Context, st *ir.Stage) error   { return f.record(st) }
func (f *fakeExecutor) Wait(_ context.Context, st *ir.Stage) error      { return f.record(st) }

func (f *fakeExecutor) ExtractOutput(_ context.Context, st *ir.Stage) (string, error) {
	if err := f.record(st); err != nil {
		return "", err
	}
	return f.outputs[st.Output], nil
}

func (f *fakeExecutor) Deploy(_ context.Context, st *ir.Stage) (string, error) {
	return "", f.record(st)
}

func TestRunner_SequentialExecution(t *testing.T) {
	exec := newFakeExecutor()
	exec.outputs["instance_ip"] = "203.0.113.7"

	runner := NewRunner(exec)
	assert.Equal(t, StatePending, runner.Status().State)

	err := runner.Run(context.Background(), validPipeline())
	require.NoError(t, err)

	assert.Equal(t, []string{"infra", "ip", "ready", "app"}, exec.calls)

	status := runner.Status()
	assert.Equal(t, StateSucceeded, status.State)
	assert.Nil(t, status.Err)
}

func TestRunner_OutputValueFlowsIntoLaterStages(t *testing.T) {
	exec := newFakeExecutor()
	exec.outputs["instance_ip"] = "203.0.113.7"

	runner := NewRunner(exec)
	require.NoError(t, runner.Run(context.Background(), validPipeline()))

	assert.Equal(t, "203.0.113.7", exec.seenHosts["ready"])
	assert.Equal(t, "203.0.113.7", exec.seenHosts["app"])
	assert.Equal(t, map[string]string{"host": "203.0.113.7"}, runner.Values())
}

func TestRunner_FirstFailureStopsTheRun(t *testing.T) {
	exec := newFakeExecutor()
	exec.outputs["instance_ip"] = "203.0.113.7"
	exec.errs["ready"] = fmt.Errorf("host 203.0.113.7:22 not ready after 5m0s")

	runner := NewRunner(exec)
	err := runner.Run(context.Background(), validPipeline())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `stage "ready" failed`)

	// The failed stage ran exactly once and nothing after it started.
	assert.Equal(t, []string{"infra", "ip", "ready"}, exec.calls)

	status := runner.Status()
	assert.Equal(t, StateFailed, status.State)
	assert.Equal(t, 3, status.Stage)
	assert.Equal(t, "ready", status.StageName)
	require.Error(t, status.Err)
}

func TestRunner_MissingOutputFailsTheRun(t *testing.T) {
	exec := newFakeExecutor()
	exec.errs["ip"] = fmt.Errorf(`output "instance_ip" not found in state`)

	runner := NewRunner(exec)
	err := runner.Run(context.Background(), validPipeline())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `output "instance_ip" not found`)

	assert.Equal(t, []string{"infra", "ip"}, exec.calls)
	assert.Equal(t, StateFailed, runner.Status().State)
	assert.Empty(t, runner.Values())
}

func TestRunner_InvalidPipelineNeverRunsStages(t *testing.T) {
	exec := newFakeExecutor()
	p := validPipeline()
	p.Stages[1], p.Stages[2] = p.Stages[2], p.Stages[1]

	runner := NewRunner(exec)
	err := runner.Run(context.Background(), p)
	require.Error(t, err)
	assert.Empty(t, exec.calls)
	assert.Equal(t, StateFailed, runner.Status().State)
}

func TestRunner_EnvironmentMerging(t *testing.T) {
	exec := newFakeExecutor()
	exec.outputs["instance_ip"] = "203.0.113.7"

	p := validPipeline()
	p.Env = map[string]string{"REGION": "eu-central-1", "TIER": "staging"}
	p.Stages[3].Env = map[string]string{"TIER": "canary", "HOST": "${{ outputs.host }}"}

	runner := NewRunner(exec)
	require.NoError(t, runner.Run(context.Background(), p))

	env := exec.seenEnv["app"]
	assert.Equal(t, "eu-central-1", env["REGION"])
	assert.Equal(t, "canary", env["TIER"], "stage bindings shadow pipeline bindings")
	assert.Equal(t, "203.0.113.7", env["HOST"])
}

func TestRunner_ExecStageRoutesToDeploy(t *testing.T) {
	exec := newFakeExecutor()
	p := &ir.Pipeline{
		Name: "ops",
		Stages: []*ir.Stage{
			{Name: "restart", Kind: ir.StageExec, Host: "10.0.0.4", Command: "systemctl restart app"},
		},
	}

	runner := NewRunner(exec)
	require.NoError(t, runner.Run(context.Background(), p))
	assert.Equal(t, []string{"restart"}, exec.calls)
}

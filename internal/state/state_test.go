package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackd-io/stackd/internal/ir"
)

func TestSerializeState_RendersResources(t *testing.T) {
	st := &ir.State{
		Version:     1,
		Serial:      4,
		Lineage:     "abc-123",
		Environment: "staging",
		Resources: []*ir.ResourceState{
			{
				Type:     "aws:EC2.Instance",
				Name:     "web",
				Provider: "aws",
				Status:   ir.StatusApplied,
				Inputs:   map[string]any{"ami": "ami-123"},
				Outputs: map[string]any{
					"id":        "i-0abc",
					"public_ip": "203.0.113.7",
				},
				Dependencies: []string{"aws:EC2.Subnet.main"},
			},
		},
		Outputs: map[string]any{"host_ip": "203.0.113.7"},
	}

	out := SerializeState(st)

	assert.Contains(t, out, `amends "../../pkg/schemas/State.pkl"`)
	assert.Contains(t, out, "serial = 4")
	assert.Contains(t, out, `lineage = "abc-123"`)
	assert.Contains(t, out, `environment = "staging"`)
	assert.Contains(t, out, `type = "aws:EC2.Instance"`)
	assert.Contains(t, out, `status = "applied"`)
	assert.Contains(t, out, `["public_ip"] = "203.0.113.7"`)
	assert.Contains(t, out, `["host_ip"] = "203.0.113.7"`)
	assert.Contains(t, out, `"aws:EC2.Subnet.main"`)
}

func TestSerializeState_EmptyCollections(t *testing.T) {
	st := &ir.State{Version: 1}
	out := SerializeState(st)

	assert.Contains(t, out, "outputs = new {}")
	assert.Contains(t, out, "resources {\n}")
}

func TestManager_ReadMissingFileYieldsEmptyState(t *testing.T) {
	dir := t.TempDir()
	mgr := NewManager(filepath.Join(dir, "state.pkl"), nil)

	st, err := mgr.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, st.Version)
	assert.Empty(t, st.Resources)
}

func TestManager_WriteCreatesDirectoryAndFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".stackd", "state.pkl")
	mgr := NewManager(path, nil)

	st := &ir.State{Version: 1, Serial: 1, Environment: "dev"}
	require.NoError(t, mgr.Write(context.Background(), st))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `environment = "dev"`)
}

func TestManager_WriteStampsLineageOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".stackd", "state.pkl")
	mgr := NewManager(path, nil)

	st := &ir.State{Version: 1, Serial: 1, Environment: "dev"}
	require.NoError(t, mgr.Write(context.Background(), st))
	require.NotEmpty(t, st.Lineage)
	assert.Len(t, st.Lineage, 32) // 16 random bytes, hex encoded

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `lineage = "`+st.Lineage+`"`)

	// Rewriting keeps the identifier for the life of the state file.
	first := st.Lineage
	st.Serial++
	require.NoError(t, mgr.Write(context.Background(), st))
	assert.Equal(t, first, st.Lineage)
}

func TestManager_LockConflict(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.pkl")

	first := NewManager(path, nil)
	require.NoError(t, first.Lock("staging"))

	second := NewManager(path, nil)
	err := second.Lock("staging")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked by another run")
	assert.Contains(t, err.Error(), "staging")

	require.NoError(t, first.Unlock())
	assert.NoError(t, second.Lock("staging"))
	require.NoError(t, second.Unlock())
}

func TestManager_UnlockWithoutLockIsHarmless(t *testing.T) {
	mgr := NewManager(filepath.Join(t.TempDir(), "state.pkl"), nil)
	assert.NoError(t, mgr.Unlock())
}

func TestDefaultPath(t *testing.T) {
	assert.Equal(t, filepath.Join("env", ".stackd", "state.pkl"), DefaultPath("env"))
}

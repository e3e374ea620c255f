package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackd-io/stackd/internal/ir"
	"github.com/stackd-io/stackd/internal/provider"
)

func TestFormatValue(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"nil", nil, "null"},
		{"string quoted", "t3.small", `"t3.small"`},
		{"int", 3, "3"},
		{"bool", true, "true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatValue(tt.input))
		})
	}
}

func TestConfigContext(t *testing.T) {
	dir := t.TempDir()
	module := filepath.Join(dir, "network.pkl")
	require.NoError(t, os.WriteFile(module, []byte("environment = \"dev\"\n"), 0644))

	// Directory argument keeps the default entry point.
	wd, entryPoint, err := configContext([]string{dir})
	require.NoError(t, err)
	assert.Equal(t, dir, wd)
	assert.Equal(t, "main.pkl", entryPoint)

	// File argument splits into directory and module name.
	wd, entryPoint, err = configContext([]string{module})
	require.NoError(t, err)
	assert.Equal(t, dir, wd)
	assert.Equal(t, "network.pkl", entryPoint)

	_, _, err = configContext([]string{filepath.Join(dir, "missing")})
	require.Error(t, err)
}

func TestLoadRequiredProviders(t *testing.T) {
	registry := provider.NewRegistry()
	cfg := &ir.Config{
		Declarations: []*ir.Declaration{
			{Type: "null_resource", Name: "a", Provider: "null"},
			{Type: "null_resource", Name: "b", Provider: "null"},
		},
	}

	require.NoError(t, loadRequiredProviders(registry, cfg))
	_, err := registry.Get("null")
	assert.NoError(t, err)
}

func TestLoadRequiredProviders_UnknownProvider(t *testing.T) {
	registry := provider.NewRegistry()
	cfg := &ir.Config{
		Declarations: []*ir.Declaration{
			{Type: "thing", Name: "a", Provider: "unobtainium"},
		},
	}

	err := loadRequiredProviders(registry, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unobtainium")
}

func TestLoadStateProviders(t *testing.T) {
	registry := provider.NewRegistry()
	st := &ir.State{
		Resources: []*ir.ResourceState{
			{Type: "null_resource", Name: "a", Provider: "null"},
		},
	}

	require.NoError(t, loadStateProviders(registry, st))
	_, err := registry.Get("null")
	assert.NoError(t, err)
}

package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackd-io/stackd/internal/ir"
)

func TestBindVariables_BindingsOverrideDefaults(t *testing.T) {
	cfg := &ir.Config{
		Variables: map[string]*ir.Variable{
			"region": {Default: "us-east-1"},
			"ami":    {Required: true},
		},
		Declarations: []*ir.Declaration{
			{
				Type: "aws:EC2.Instance", Name: "web", Provider: "aws",
				Properties: map[string]any{
					"ami":    "var://ami",
					"region": "var://region",
				},
			},
		},
	}

	err := BindVariables(cfg, map[string]string{"ami": "ami-123", "region": "eu-west-1"})
	require.NoError(t, err)

	props := cfg.Declarations[0].Properties
	assert.Equal(t, "ami-123", props["ami"])
	assert.Equal(t, "eu-west-1", props["region"])
}

func TestBindVariables_DefaultApplies(t *testing.T) {
	cfg := &ir.Config{
		Variables: map[string]*ir.Variable{
			"size": {Default: "t3.micro"},
		},
		Declarations: []*ir.Declaration{
			{
				Type: "aws:EC2.Instance", Name: "web", Provider: "aws",
				Properties: map[string]any{"instance_type": "var://size"},
			},
		},
	}

	require.NoError(t, BindVariables(cfg, nil))
	assert.Equal(t, "t3.micro", cfg.Declarations[0].Properties["instance_type"])
}

func TestBindVariables_RequiredMissingFailsFast(t *testing.T) {
	cfg := &ir.Config{
		Variables: map[string]*ir.Variable{
			"ami": {Required: true},
		},
	}

	err := BindVariables(cfg, nil)
	require.Error(t, err)

	var unbound *UnboundVariableError
	require.ErrorAs(t, err, &unbound)
	assert.Equal(t, "ami", unbound.Variable)
}

func TestBindVariables_UndeclaredReferenceFails(t *testing.T) {
	cfg := &ir.Config{
		Declarations: []*ir.Declaration{
			{
				Type: "null_resource", Name: "x", Provider: "null",
				Properties: map[string]any{"value": "var://mystery"},
			},
		},
	}

	err := BindVariables(cfg, nil)
	require.Error(t, err)

	var unbound *UnboundVariableError
	require.ErrorAs(t, err, &unbound)
	assert.Equal(t, "mystery", unbound.Variable)
	assert.Equal(t, "null_resource.x", unbound.Declaration)
}

func TestBindVariables_SubstitutesOutputs(t *testing.T) {
	cfg := &ir.Config{
		Variables: map[string]*ir.Variable{
			"env": {Default: "staging"},
		},
		Outputs: map[string]any{
			"environment": "var://env",
		},
	}

	require.NoError(t, BindVariables(cfg, nil))
	assert.Equal(t, "staging", cfg.Outputs["environment"])
}

func TestUnboundReferences_ListsAllMissingSorted(t *testing.T) {
	cfg := &ir.Config{
		Variables: map[string]*ir.Variable{
			"bound": {Default: "x"},
		},
		Declarations: []*ir.Declaration{
			{
				Type: "null_resource", Name: "a", Provider: "null",
				Properties: map[string]any{
					"one":   "var://zeta",
					"two":   "var://alpha",
					"three": "var://bound",
				},
			},
		},
	}

	missing := UnboundReferences(cfg, nil)
	assert.Equal(t, []string{"alpha", "zeta"}, missing)
}

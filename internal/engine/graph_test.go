package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackd-io/stackd/internal/ir"
)

func indexOf(s []string, v string) int {
	for i, item := range s {
		if item == v {
			return i
		}
	}
	return -1
}

func TestBuildGraph_NoDependencies(t *testing.T) {
	decls := []*ir.Declaration{
		{Type: "null_resource", Name: "a", Provider: "null"},
		{Type: "null_resource", Name: "b", Provider: "null"},
		{Type: "null_resource", Name: "c", Provider: "null"},
	}

	graph, err := BuildGraph(decls)
	require.NoError(t, err)

	order := graph.CreationOrder()
	assert.Len(t, order, 3)
}

func TestBuildGraph_ExplicitDependsOn(t *testing.T) {
	decls := []*ir.Declaration{
		{Type: "null_resource", Name: "a", Provider: "null", DependsOn: []string{"null_resource.b"}},
		{Type: "null_resource", Name: "b", Provider: "null"},
		{Type: "null_resource", Name: "c", Provider: "null", DependsOn: []string{"null_resource.a"}},
	}

	graph, err := BuildGraph(decls)
	require.NoError(t, err)

	order := graph.CreationOrder()
	require.Len(t, order, 3)

	posB := indexOf(order, "null_resource.b")
	posA := indexOf(order, "null_resource.a")
	posC := indexOf(order, "null_resource.c")

	assert.Less(t, posB, posA, "b should come before a")
	assert.Less(t, posA, posC, "a should come before c")
}

func TestBuildGraph_ImplicitPtrRef(t *testing.T) {
	decls := []*ir.Declaration{
		{
			Type:     "aws:EC2.Subnet",
			Name:     "my-subnet",
			Provider: "aws",
			Properties: map[string]any{
				"vpc_id": "ptr://aws:EC2.Vpc/my-vpc/id",
			},
		},
		{Type: "aws:EC2.Vpc", Name: "my-vpc", Provider: "aws"},
	}

	graph, err := BuildGraph(decls)
	require.NoError(t, err)

	order := graph.CreationOrder()
	posVpc := indexOf(order, "aws:EC2.Vpc.my-vpc")
	posSubnet := indexOf(order, "aws:EC2.Subnet.my-subnet")
	assert.Less(t, posVpc, posSubnet, "referenced vpc should be created first")
}

func TestBuildGraph_Deterministic(t *testing.T) {
	decls := []*ir.Declaration{
		{Type: "null_resource", Name: "z", Provider: "null"},
		{Type: "null_resource", Name: "a", Provider: "null"},
		{Type: "null_resource", Name: "m", Provider: "null"},
	}

	first, err := BuildGraph(decls)
	require.NoError(t, err)
	second, err := BuildGraph(decls)
	require.NoError(t, err)

	assert.Equal(t, first.CreationOrder(), second.CreationOrder())
}

func TestBuildGraph_Cycle(t *testing.T) {
	decls := []*ir.Declaration{
		{Type: "null_resource", Name: "a", Provider: "null", DependsOn: []string{"null_resource.b"}},
		{Type: "null_resource", Name: "b", Provider: "null", DependsOn: []string{"null_resource.a"}},
	}

	_, err := BuildGraph(decls)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestGraph_DestructionOrderIsReversed(t *testing.T) {
	decls := []*ir.Declaration{
		{Type: "null_resource", Name: "a", Provider: "null"},
		{Type: "null_resource", Name: "b", Provider: "null", DependsOn: []string{"null_resource.a"}},
	}

	graph, err := BuildGraph(decls)
	require.NoError(t, err)

	creation := graph.CreationOrder()
	destruction := graph.DestructionOrder()
	require.Len(t, destruction, len(creation))
	for i := range creation {
		assert.Equal(t, creation[i], destruction[len(destruction)-1-i])
	}
}

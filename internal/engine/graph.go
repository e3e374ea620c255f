package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/stackd-io/stackd/internal/ir"
)

// Graph is the directed acyclic dependency graph over declarations.
// Edges point from a declaration to the declarations it depends on, either
// through an explicit dependsOn entry or an implicit ptr:// reference in
// its properties.
type Graph struct {
	nodes    map[string]*node
	order    []string // creation order
	revOrder []string // destruction order
}

type node struct {
	addr       string
	deps       []string // addresses this node depends on
	dependents []string // addresses depending on this node
}

// BuildGraph constructs the dependency graph for a declaration set and
// returns an error naming the cycle if the references are not acyclic.
func BuildGraph(decls []*ir.Declaration) (*Graph, error) {
	g := &Graph{nodes: make(map[string]*node)}

	for _, d := range decls {
		addr := declAddr(d)
		g.nodes[addr] = &node{addr: addr}
	}

	for _, d := range decls {
		addr := declAddr(d)
		n := g.nodes[addr]

		for _, dep := range d.DependsOn {
			if _, ok := g.nodes[dep]; ok {
				n.deps = append(n.deps, dep)
			}
		}

		for _, ref := range collectRefs(d.Properties, refSchemePtr) {
			if depAddr := ptrRefAddr(ref); depAddr != "" {
				if _, ok := g.nodes[depAddr]; ok {
					n.deps = append(n.deps, depAddr)
				}
			}
		}
	}

	for addr, n := range g.nodes {
		for _, dep := range n.deps {
			g.nodes[dep].dependents = append(g.nodes[dep].dependents, addr)
		}
	}

	order, err := g.topoSort()
	if err != nil {
		return nil, err
	}
	g.order = order

	g.revOrder = make([]string, len(order))
	for i, addr := range order {
		g.revOrder[len(order)-1-i] = addr
	}

	return g, nil
}

// BuildGraphFromState constructs the graph from persisted state entries,
// used when planning destruction.
func BuildGraphFromState(resources []*ir.ResourceState) (*Graph, error) {
	g := &Graph{nodes: make(map[string]*node)}

	for _, res := range resources {
		addr := res.Addr()
		n := &node{addr: addr}
		n.deps = append(n.deps, res.Dependencies...)
		g.nodes[addr] = n
	}

	// Dependencies recorded in state may point at entries removed by an
	// earlier partial destroy; materialize them so the sort stays closed.
	for _, n := range g.nodes {
		for _, dep := range n.deps {
			if _, ok := g.nodes[dep]; !ok {
				g.nodes[dep] = &node{addr: dep}
			}
		}
	}

	for addr, n := range g.nodes {
		for _, dep := range n.deps {
			g.nodes[dep].dependents = append(g.nodes[dep].dependents, addr)
		}
	}

	order, err := g.topoSort()
	if err != nil {
		return nil, err
	}
	g.order = order

	g.revOrder = make([]string, len(order))
	for i, addr := range order {
		g.revOrder[len(order)-1-i] = addr
	}

	return g, nil
}

// CreationOrder returns addresses in dependency-respecting creation order.
func (g *Graph) CreationOrder() []string {
	return g.order
}

// DestructionOrder returns addresses in reverse dependency order.
func (g *Graph) DestructionOrder() []string {
	return g.revOrder
}

// Dependencies returns the direct dependencies of an address.
func (g *Graph) Dependencies(addr string) []string {
	if n, ok := g.nodes[addr]; ok {
		return n.deps
	}
	return nil
}

// TransitiveDeps returns every address reachable from addr through
// dependency edges.
func (g *Graph) TransitiveDeps(addr string) []string {
	seen := make(map[string]bool)
	var walk func(a string)
	walk = func(a string) {
		n, ok := g.nodes[a]
		if !ok {
			return
		}
		for _, dep := range n.deps {
			if !seen[dep] {
				seen[dep] = true
				walk(dep)
			}
		}
	}
	walk(addr)

	out := make([]string, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// topoSort runs Kahn's algorithm. A non-empty remainder means a cycle.
func (g *Graph) topoSort() ([]string, error) {
	inDegree := make(map[string]int, len(g.nodes))
	for addr, n := range g.nodes {
		inDegree[addr] = len(n.deps)
	}

	var queue []string
	for addr, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, addr)
		}
	}
	sort.Strings(queue) // deterministic ordering between independent nodes

	var sorted []string
	for len(queue) > 0 {
		addr := queue[0]
		queue = queue[1:]
		sorted = append(sorted, addr)

		var ready []string
		for _, dependent := range g.nodes[addr].dependents {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
		sort.Strings(ready)
		queue = append(queue, ready...)
	}

	if len(sorted) != len(g.nodes) {
		var stuck []string
		for addr, deg := range inDegree {
			if deg > 0 {
				stuck = append(stuck, addr)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("dependency cycle involving: %s", strings.Join(stuck, ", "))
	}

	return sorted, nil
}

// declAddr returns the logical address (type.name) of a declaration.
func declAddr(d *ir.Declaration) string {
	t := d.Type
	if t == "" {
		t = "null_resource"
	}
	return fmt.Sprintf("%s.%s", t, d.Name)
}

// DeclarationAddr is declAddr exported for the CLI.
func DeclarationAddr(d *ir.Declaration) string {
	return declAddr(d)
}

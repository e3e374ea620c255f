package ir

// Resource status values tracked in state. A partially converged graph is
// representable per declaration instead of as an opaque blob: an operator
// can see exactly which declarations applied before a failure.
const (
	StatusPending = "pending"
	StatusApplied = "applied"
	StatusFailed  = "failed"
	StatusTainted = "tainted"
)

// State is the persisted record mapping logical declaration names to
// provider-assigned identifiers and attribute snapshots. It is owned by
// the convergence engine; every other component reads it read-only.
type State struct {
	Version     int              `pkl:"version"`
	Serial      int              `pkl:"serial"`
	Lineage     string           `pkl:"lineage"`
	Environment string           `pkl:"environment"`
	Resources   []*ResourceState `pkl:"resources"`
	Outputs     map[string]any   `pkl:"outputs"`
}

type ResourceState struct {
	Type         string         `pkl:"type"`
	Name         string         `pkl:"name"`
	Provider     string         `pkl:"provider"`
	Status       string         `pkl:"status"`
	Inputs       map[string]any `pkl:"inputs"`
	InputsHash   string         `pkl:"inputsHash"`
	Outputs      map[string]any `pkl:"outputs"` // provider-returned attributes
	Dependencies []string       `pkl:"dependencies"`
}

// Addr returns the logical address (type.name) of a state entry.
func (r *ResourceState) Addr() string {
	return r.Type + "." + r.Name
}

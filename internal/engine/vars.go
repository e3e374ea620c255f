package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/stackd-io/stackd/internal/ir"
)

// UnboundVariableError reports a var:// reference that has no binding and
// no default. It is raised before any provider is called, so a run that
// fails this way has performed zero cloud mutation.
type UnboundVariableError struct {
	Variable    string
	Declaration string // address of the referencing declaration, if any
}

func (e *UnboundVariableError) Error() string {
	if e.Declaration != "" {
		return fmt.Sprintf("declaration %s references unbound variable %q", e.Declaration, e.Variable)
	}
	return fmt.Sprintf("required variable %q is not bound", e.Variable)
}

// BindVariables resolves the config's declared variables against the
// invocation-time bindings and substitutes every var:// reference in
// declaration properties and output expressions. It fails fast on the
// first unbound reference.
func BindVariables(cfg *ir.Config, bindings map[string]string) error {
	values := make(map[string]any, len(cfg.Variables))
	for name, v := range cfg.Variables {
		if bound, ok := bindings[name]; ok {
			values[name] = bound
			continue
		}
		if v.Default != nil {
			values[name] = v.Default
			continue
		}
		if v.Required {
			return &UnboundVariableError{Variable: name}
		}
	}
	// Bindings with no matching declaration are still usable; operators
	// pass ad-hoc values through -var the same way.
	for name, bound := range bindings {
		if _, ok := values[name]; !ok {
			values[name] = bound
		}
	}

	for _, d := range cfg.Declarations {
		resolved, err := substituteVars(d.Properties, values, declAddr(d))
		if err != nil {
			return err
		}
		d.Properties = resolved.(map[string]any)
	}

	if len(cfg.Outputs) > 0 {
		resolved, err := substituteVars(cfg.Outputs, values, "")
		if err != nil {
			return err
		}
		cfg.Outputs = resolved.(map[string]any)
	}

	return nil
}

// substituteVars replaces var:// references in a property tree. The addr
// names the declaration in errors; empty for output expressions.
func substituteVars(val any, values map[string]any, addr string) (any, error) {
	switch v := val.(type) {
	case string:
		if !strings.HasPrefix(v, refSchemeVar) {
			return v, nil
		}
		name := v[len(refSchemeVar):]
		bound, ok := values[name]
		if !ok {
			return nil, &UnboundVariableError{Variable: name, Declaration: addr}
		}
		return bound, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			r, err := substituteVars(item, values, addr)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			r, err := substituteVars(item, values, addr)
			if err != nil {
				return nil, err
			}
			out[fmt.Sprintf("%v", k)] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			r, err := substituteVars(item, values, addr)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

// UnboundReferences lists every var:// name referenced by the config that
// has neither a binding nor a default, in sorted order. Used by validate
// to report all problems at once instead of just the first.
func UnboundReferences(cfg *ir.Config, bindings map[string]string) []string {
	bound := make(map[string]bool)
	for name, v := range cfg.Variables {
		if _, ok := bindings[name]; ok || v.Default != nil {
			bound[name] = true
		}
	}
	for name := range bindings {
		bound[name] = true
	}

	missing := make(map[string]bool)
	for _, d := range cfg.Declarations {
		for _, ref := range collectRefs(d.Properties, refSchemeVar) {
			name := strings.TrimPrefix(ref, refSchemeVar)
			if !bound[name] {
				missing[name] = true
			}
		}
	}
	for _, ref := range collectRefs(cfg.Outputs, refSchemeVar) {
		name := strings.TrimPrefix(ref, refSchemeVar)
		if !bound[name] {
			missing[name] = true
		}
	}

	out := make([]string, 0, len(missing))
	for name := range missing {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

package engine

import (
	"fmt"
	"strings"

	"github.com/stackd-io/stackd/internal/ir"
)

// ExpandDeclarations flattens count and forEach declarations into
// individual instances before planning. Instance names follow the
// bracketed convention: web[0], mount["efs"].
func ExpandDeclarations(decls []*ir.Declaration) []*ir.Declaration {
	var out []*ir.Declaration

	for _, d := range decls {
		switch {
		case d.Count > 1:
			for i := 0; i < d.Count; i++ {
				inst := cloneDeclaration(d)
				inst.Name = fmt.Sprintf("%s[%d]", d.Name, i)
				inst.Properties = substituteToken(inst.Properties, "count.index", fmt.Sprintf("%d", i)).(map[string]any)
				out = append(out, inst)
			}
		case len(d.ForEach) > 0:
			for key, val := range d.ForEach {
				inst := cloneDeclaration(d)
				inst.Name = fmt.Sprintf("%s[%q]", d.Name, key)
				props := substituteToken(inst.Properties, "each.key", key)
				props = substituteValueToken(props, "each.value", val)
				inst.Properties = props.(map[string]any)
				out = append(out, inst)
			}
		default:
			out = append(out, d)
		}
	}

	return out
}

func cloneDeclaration(d *ir.Declaration) *ir.Declaration {
	inst := *d
	inst.Count = 0
	inst.ForEach = nil
	inst.Properties = copyTree(d.Properties).(map[string]any)
	inst.DependsOn = append([]string(nil), d.DependsOn...)
	return &inst
}

func copyTree(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = copyTree(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copyTree(item)
		}
		return out
	default:
		return val
	}
}

// substituteToken replaces ${token} occurrences inside string properties.
func substituteToken(v any, token, replacement string) any {
	needle := "${" + token + "}"
	switch val := v.(type) {
	case string:
		return strings.ReplaceAll(val, needle, replacement)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = substituteToken(item, token, replacement)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = substituteToken(item, token, replacement)
		}
		return out
	default:
		return val
	}
}

// substituteValueToken replaces a property that is exactly ${token} with
// the full value, preserving its type; inside larger strings the value is
// interpolated textually.
func substituteValueToken(v any, token string, value any) any {
	needle := "${" + token + "}"
	switch val := v.(type) {
	case string:
		if val == needle {
			return value
		}
		if strings.Contains(val, needle) {
			return strings.ReplaceAll(val, needle, fmt.Sprintf("%v", value))
		}
		return val
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = substituteValueToken(item, token, value)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = substituteValueToken(item, token, value)
		}
		return out
	default:
		return val
	}
}

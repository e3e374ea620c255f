package engine

import (
	"fmt"
	"strings"

	"github.com/stackd-io/stackd/internal/ir"
)

// Reference schemes recognized inside declaration properties.
//
//	ptr://<provider>:<Type>/<name>/<attribute>  runtime attribute of a peer declaration
//	var://<name>                                bound input variable
const (
	refSchemePtr = "ptr://"
	refSchemeVar = "var://"
)

// collectRefs walks a property value and returns every string bearing the
// given scheme prefix.
func collectRefs(v any, scheme string) []string {
	var refs []string
	switch val := v.(type) {
	case string:
		if strings.HasPrefix(val, scheme) {
			refs = append(refs, val)
		}
	case map[string]any:
		for _, item := range val {
			refs = append(refs, collectRefs(item, scheme)...)
		}
	case map[any]any:
		for _, item := range val {
			refs = append(refs, collectRefs(item, scheme)...)
		}
	case []any:
		for _, item := range val {
			refs = append(refs, collectRefs(item, scheme)...)
		}
	}
	return refs
}

// ptrRefAddr converts ptr://aws:EC2.Vpc/main/id to the address aws:EC2.Vpc.main.
func ptrRefAddr(ref string) string {
	if !strings.HasPrefix(ref, refSchemePtr) {
		return ""
	}
	path := ref[len(refSchemePtr):]
	parts := strings.SplitN(path, "/", 3)
	if len(parts) < 2 {
		return ""
	}
	return fmt.Sprintf("%s.%s", parts[0], parts[1])
}

// resolvePtrRefs substitutes ptr:// references with the referenced
// resource's runtime attributes from state. Unresolvable references are
// left verbatim; the provider surfaces them as configuration errors.
func resolvePtrRefs(val any, state *ir.State) any {
	switch v := val.(type) {
	case string:
		if !strings.HasPrefix(v, refSchemePtr) {
			return v
		}
		for _, res := range state.Resources {
			prefix := fmt.Sprintf("%s%s/%s/", refSchemePtr, res.Type, res.Name)
			if strings.HasPrefix(v, prefix) && len(v) > len(prefix) {
				attr := v[len(prefix):]
				if out, ok := res.Outputs[attr]; ok {
					return out
				}
				if in, ok := res.Inputs[attr]; ok {
					return in
				}
				return v
			}
		}
		return v
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = resolvePtrRefs(item, state)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = resolvePtrRefs(item, state)
		}
		return out
	default:
		return v
	}
}

// normalizeValue rewrites map[any]any trees (as produced by some
// evaluators) into map[string]any so they marshal to JSON cleanly.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprintf("%v", k)] = normalizeValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	default:
		return val
	}
}

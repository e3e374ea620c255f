// Package state persists the record mapping logical declaration names to
// provider-assigned identifiers. The record is owned by the convergence
// engine; everything else reads it read-only.
package state

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/stackd-io/stackd/internal/eval"
	"github.com/stackd-io/stackd/internal/ir"
)

// DefaultPath returns the state file location for a config directory.
func DefaultPath(dir string) string {
	return filepath.Join(dir, ".stackd", "state.pkl")
}

// Manager reads and writes state at a local path.
type Manager struct {
	path      string
	evaluator *eval.Evaluator
}

func NewManager(path string, evaluator *eval.Evaluator) *Manager {
	return &Manager{path: path, evaluator: evaluator}
}

// Read loads state from disk, transparently decrypting if needed. A
// missing file yields an empty state rather than an error.
func (m *Manager) Read(ctx context.Context) (*ir.State, error) {
	if _, err := os.Stat(m.path); os.IsNotExist(err) {
		return &ir.State{Version: 1, Serial: 0}, nil
	}

	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read state file %s: %w", m.path, err)
	}

	if IsEncrypted(raw) {
		decrypted, err := DecryptState(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt state: %w", err)
		}
		// The PKL evaluator wants a file on disk.
		tmp := m.path + ".dec"
		if err := os.WriteFile(tmp, decrypted, 0600); err != nil {
			return nil, fmt.Errorf("failed to write decrypted state: %w", err)
		}
		defer os.Remove(tmp)

		st, err := m.evaluator.LoadState(ctx, tmp)
		if err != nil {
			return nil, fmt.Errorf("failed to load decrypted state: %w", err)
		}
		return st, nil
	}

	st, err := m.evaluator.LoadState(ctx, m.path)
	if err != nil {
		return nil, fmt.Errorf("failed to load state from %s: %w", m.path, err)
	}
	return st, nil
}

// Write persists state, encrypting when STACKD_STATE_ENCRYPTION_KEY is set.
func (m *Manager) Write(ctx context.Context, st *ir.State) error {
	if err := ensureLineage(st); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	content, err := EncryptState([]byte(SerializeState(st)))
	if err != nil {
		return fmt.Errorf("failed to encrypt state: %w", err)
	}

	if err := os.WriteFile(m.path, content, 0644); err != nil {
		return fmt.Errorf("failed to write state file %s: %w", m.path, err)
	}
	return nil
}

// ensureLineage stamps a fresh random lineage onto state being written
// for the first time. An existing lineage is never rewritten, so the
// identifier survives for the life of the state file.
func ensureLineage(st *ir.State) error {
	if st.Lineage != "" {
		return nil
	}
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Errorf("failed to generate state lineage: %w", err)
	}
	st.Lineage = hex.EncodeToString(buf)
	return nil
}

// SerializeState renders a State as PKL text amending the state schema.
func SerializeState(st *ir.State) string {
	var b strings.Builder

	fmt.Fprintf(&b, "// stackd state file\n")
	fmt.Fprintf(&b, "amends \"../../pkg/schemas/State.pkl\"\n\n")
	fmt.Fprintf(&b, "version = %d\n", st.Version)
	fmt.Fprintf(&b, "serial = %d\n", st.Serial)
	fmt.Fprintf(&b, "lineage = %q\n", st.Lineage)
	fmt.Fprintf(&b, "environment = %q\n\n", st.Environment)

	if len(st.Outputs) > 0 {
		fmt.Fprintf(&b, "outputs {\n")
		for k, v := range st.Outputs {
			fmt.Fprintf(&b, "  [%q] = %s\n", k, pklValue(v, 1))
		}
		fmt.Fprintf(&b, "}\n\n")
	} else {
		fmt.Fprintf(&b, "outputs = new {}\n\n")
	}

	fmt.Fprintf(&b, "resources {\n")
	for _, res := range st.Resources {
		fmt.Fprintf(&b, "  new {\n")
		fmt.Fprintf(&b, "    type = %q\n", res.Type)
		fmt.Fprintf(&b, "    name = %q\n", res.Name)
		fmt.Fprintf(&b, "    provider = %q\n", res.Provider)
		fmt.Fprintf(&b, "    status = %q\n", res.Status)

		if len(res.Inputs) > 0 {
			fmt.Fprintf(&b, "    inputs {\n")
			for k, v := range res.Inputs {
				fmt.Fprintf(&b, "      [%q] = %s\n", k, pklValue(v, 3))
			}
			fmt.Fprintf(&b, "    }\n")
		} else {
			fmt.Fprintf(&b, "    inputs = new {}\n")
		}

		fmt.Fprintf(&b, "    inputsHash = %q\n", res.InputsHash)

		if len(res.Outputs) > 0 {
			fmt.Fprintf(&b, "    outputs {\n")
			for k, v := range res.Outputs {
				fmt.Fprintf(&b, "      [%q] = %s\n", k, pklValue(v, 3))
			}
			fmt.Fprintf(&b, "    }\n")
		} else {
			fmt.Fprintf(&b, "    outputs = new {}\n")
		}

		if len(res.Dependencies) > 0 {
			fmt.Fprintf(&b, "    dependencies {\n")
			for _, dep := range res.Dependencies {
				fmt.Fprintf(&b, "      %q\n", dep)
			}
			fmt.Fprintf(&b, "    }\n")
		} else {
			fmt.Fprintf(&b, "    dependencies = new Listing {}\n")
		}

		fmt.Fprintf(&b, "  }\n")
	}
	fmt.Fprintf(&b, "}\n")

	return b.String()
}

// pklValue renders a Go value as PKL syntax.
func pklValue(v any, indentLevel int) string {
	indent := strings.Repeat("  ", indentLevel)

	switch val := v.(type) {
	case string:
		return fmt.Sprintf("%q", val)
	case bool:
		return fmt.Sprintf("%t", val)
	case int:
		return fmt.Sprintf("%d", val)
	case int64:
		return fmt.Sprintf("%d", val)
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	case nil:
		return "null"
	case map[string]any:
		if len(val) == 0 {
			return "new {}"
		}
		var b strings.Builder
		b.WriteString("new {\n")
		for k, item := range val {
			b.WriteString(fmt.Sprintf("%s  [%q] = %s\n", indent, k, pklValue(item, indentLevel+1)))
		}
		b.WriteString(indent + "}")
		return b.String()
	case map[any]any:
		if len(val) == 0 {
			return "new {}"
		}
		var b strings.Builder
		b.WriteString("new {\n")
		for k, item := range val {
			b.WriteString(fmt.Sprintf("%s  [%q] = %s\n", indent, fmt.Sprintf("%v", k), pklValue(item, indentLevel+1)))
		}
		b.WriteString(indent + "}")
		return b.String()
	case []any:
		if len(val) == 0 {
			return "new Listing {}"
		}
		var b strings.Builder
		b.WriteString("new Listing {\n")
		for _, item := range val {
			b.WriteString(fmt.Sprintf("%s  %s\n", indent, pklValue(item, indentLevel+1)))
		}
		b.WriteString(indent + "}")
		return b.String()
	default:
		return fmt.Sprintf("%q", fmt.Sprintf("%v", val))
	}
}

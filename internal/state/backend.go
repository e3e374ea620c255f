package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/stackd-io/stackd/internal/eval"
	"github.com/stackd-io/stackd/internal/ir"
)

// backendFile is the per-config backend selection, read from
// <dir>/.stackd/backend.json. No file means local state.
const backendFile = "backend.json"

// Backend abstracts where the state record lives.
type Backend interface {
	// Read loads the state from the backend.
	Read(ctx context.Context) (*ir.State, error)

	// Write saves the state to the backend.
	Write(ctx context.Context, st *ir.State) error

	// Lock acquires the single-writer lease for an environment.
	Lock(environment string) error

	// Unlock releases the lease.
	Unlock() error
}

// BackendConfig selects and configures a state backend.
type BackendConfig struct {
	Type   string            `json:"type"` // "local" or "s3"
	Config map[string]string `json:"config"`
}

// LoadBackendConfig reads the backend selection for a config directory.
// A missing file selects local state.
func LoadBackendConfig(dir string) (*BackendConfig, error) {
	path := filepath.Join(dir, ".stackd", backendFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backend config %s: %w", path, err)
	}

	var cfg BackendConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse backend config %s: %w", path, err)
	}
	return &cfg, nil
}

// NewBackend builds the state backend for a config directory. A nil or
// local configuration yields the file-based Manager.
func NewBackend(cfg *BackendConfig, dir string, evaluator *eval.Evaluator) (Backend, error) {
	if cfg == nil {
		return NewManager(DefaultPath(dir), evaluator), nil
	}
	switch cfg.Type {
	case "local", "":
		return NewManager(DefaultPath(dir), evaluator), nil
	case "s3":
		return newS3Backend(cfg.Config, evaluator)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}

// OpenBackend resolves and constructs the backend for a config directory.
func OpenBackend(dir string, evaluator *eval.Evaluator) (Backend, error) {
	cfg, err := LoadBackendConfig(dir)
	if err != nil {
		return nil, err
	}
	return NewBackend(cfg, dir, evaluator)
}

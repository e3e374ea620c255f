// Package provider wires the built-in resource providers into a registry
// the engine resolves by name.
package provider

import (
	"fmt"
	"sync"

	"github.com/stackd-io/stackd/pkg/provider"
	"github.com/stackd-io/stackd/providers/aws"
	"github.com/stackd-io/stackd/providers/docker"
	"github.com/stackd-io/stackd/providers/null"
)

// Registry manages provider instances. Providers are loaded lazily and
// shared across a run.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]provider.Interface
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]provider.Interface)}
}

// Load initializes and registers a built-in provider by name.
func (r *Registry) Load(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		return nil
	}

	var p provider.Interface
	switch name {
	case "null":
		p = null.New()
	case "aws":
		p = aws.New()
	case "docker":
		p = docker.New()
	default:
		return fmt.Errorf("unknown provider: %s", name)
	}

	r.providers[name] = p
	return nil
}

// Register installs a provider instance under a name, replacing any
// built-in with the same name.
func (r *Registry) Register(name string, p provider.Interface) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

// Get returns a previously loaded provider.
func (r *Registry) Get(name string) (provider.Interface, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider not loaded: %s", name)
	}
	return p, nil
}

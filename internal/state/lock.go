package state

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// staleLockAge is how old a lock file must be before it is presumed
// abandoned by a crashed run and reclaimed.
const staleLockAge = 10 * time.Minute

// Lock acquires the single-writer lease on the state record. At most one
// convergence run may hold it per environment; a second concurrent run
// fails here instead of corrupting the record.
func (m *Manager) Lock(environment string) error {
	lockPath := m.lockPath()
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	if info, err := os.Stat(lockPath); err == nil {
		if time.Since(info.ModTime()) > staleLockAge {
			os.Remove(lockPath)
		} else {
			return fmt.Errorf("state for environment %q is locked by another run (lock file: %s); "+
				"remove the lock file manually if no other run is active", environment, lockPath)
		}
	}

	content := fmt.Sprintf("pid=%d\nenvironment=%s\ntime=%s\n",
		os.Getpid(), environment, time.Now().UTC().Format(time.RFC3339))
	if err := os.WriteFile(lockPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}

	return nil
}

// Unlock releases the lease.
func (m *Manager) Unlock() error {
	if err := os.Remove(m.lockPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

func (m *Manager) lockPath() string {
	return m.path + ".lock"
}

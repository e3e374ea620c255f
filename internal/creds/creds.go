// Package creds resolves named credentials (SSH keys, registry passwords)
// from the environment or a credentials directory. Secret material never
// appears in log output.
package creds

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnvPrefix is the environment variable prefix credential lookups use.
// A credential named "deploy-key" resolves from STACKD_CRED_DEPLOY_KEY.
const EnvPrefix = "STACKD_CRED_"

const masked = "********"

// Secret wraps credential material so accidental formatting (%v, %s,
// log fields) prints a mask instead of the value.
type Secret struct {
	value string
}

func NewSecret(value string) Secret {
	return Secret{value: value}
}

func (s Secret) String() string { return masked }

func (s Secret) GoString() string { return masked }

// Reveal returns the underlying material. Call sites are the only places
// secrets leave the wrapper.
func (s Secret) Reveal() string { return s.value }

func (s Secret) IsZero() bool { return s.value == "" }

// Store resolves credential identifiers to secrets. Environment variables
// take precedence over files in the credentials directory.
type Store struct {
	dir string
}

// NewStore returns a store backed by dir. An empty dir disables file
// lookups and leaves only the environment.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Lookup resolves the credential with the given identifier. A missing
// credential is an error; callers fail their stage rather than proceed
// with empty material.
func (s *Store) Lookup(id string) (Secret, error) {
	if id == "" {
		return Secret{}, fmt.Errorf("credential identifier must not be empty")
	}

	if v, ok := os.LookupEnv(envName(id)); ok {
		return NewSecret(v), nil
	}

	if s.dir != "" {
		data, err := os.ReadFile(filepath.Join(s.dir, id))
		if err == nil {
			return NewSecret(strings.TrimRight(string(data), "\n")), nil
		}
		if !os.IsNotExist(err) {
			return Secret{}, fmt.Errorf("failed to read credential %q: %w", id, err)
		}
	}

	return Secret{}, fmt.Errorf("credential %q not found", id)
}

func envName(id string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - ('a' - 'A')
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, id)
	return EnvPrefix + mapped
}

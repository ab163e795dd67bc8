// Package password defines the passphrase lookup contract the transform
// pipeline uses for age encryption. Actual OS keyring access is an external
// collaborator; this package only names the interface and ships a static
// in-memory implementation for tests and headless configurations.
package password

import (
	"sync"

	"github.com/cuba/cuba/pkg/errors"
)

// Provider resolves a password_id (named in a profile's configuration) to
// the passphrase stored for it. Implementations must be safe for concurrent
// use: the engine may look up the same id from multiple worker goroutines.
type Provider interface {
	// Lookup returns the passphrase for id, or a *errors.Error of kind
	// errors.KindAuth if no such id is known.
	Lookup(id string) (string, error)
}

// Static is a Provider backed by an in-memory map, set once at construction.
// It never performs I/O; suitable for tests and for frontends that have
// already resolved passphrases from their own keyring before starting a run.
type Static struct {
	mu        sync.RWMutex
	passwords map[string]string
}

// NewStatic creates a Static provider seeded with the given id->passphrase
// pairs. A nil map is treated as empty.
func NewStatic(passwords map[string]string) *Static {
	s := &Static{passwords: make(map[string]string, len(passwords))}
	for k, v := range passwords {
		s.passwords[k] = v
	}
	return s
}

// Lookup implements Provider.
func (s *Static) Lookup(id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pass, ok := s.passwords[id]
	if !ok {
		return "", errors.New(errors.KindAuth, "unknown password id").WithPath(id).WithComponent("password")
	}
	return pass, nil
}

// Set stores or replaces the passphrase for id. Exposed for the CLI's
// "password set" subcommand and for tests that need to populate entries
// after construction.
func (s *Static) Set(id, passphrase string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passwords[id] = passphrase
}

// Package registry tracks which symbols the oracle follows and which
// identity may repoint the upstream feed references.
package registry

import (
	"errors"
	"sort"
	"sync"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Registry errors.
var (
	// ErrUnauthorized is returned when a non-owner identity attempts a
	// privileged mutation.
	ErrUnauthorized = errors.New("unauthorized: caller is not the owner")

	// ErrInvalidReference is returned when a setter receives an empty or
	// malformed reference.
	ErrInvalidReference = errors.New("invalid reference")
)

// Registry holds the tracked-symbol set and the owner-gated references to
// the upstream feed registry and feed manager. Created once at startup and
// shared; all methods are safe for concurrent use.
type Registry struct {
	mu           sync.RWMutex
	owner        string
	feedRegistry string
	feedManager  string
	tracked      map[string]struct{}
}

// New creates a registry owned by owner, pointing at the given feed
// registry and feed manager references. All three must be valid references.
func New(owner, feedRegistry, feedManager string) (*Registry, error) {
	for _, ref := range []string{owner, feedRegistry, feedManager} {
		if err := validateReference(ref); err != nil {
			return nil, err
		}
	}
	return &Registry{
		owner:        owner,
		feedRegistry: feedRegistry,
		feedManager:  feedManager,
		tracked:      make(map[string]struct{}),
	}, nil
}

// validateReference checks that ref is a base58-encoded 32-byte ed25519
// public key. The empty string is rejected.
func validateReference(ref string) error {
	if ref == "" {
		return ErrInvalidReference
	}
	decoded, err := base58.Decode(ref)
	if err != nil || len(decoded) != 32 {
		return ErrInvalidReference
	}
	if _, err := new(edwards25519.Point).SetBytes(decoded); err != nil {
		return ErrInvalidReference
	}
	return nil
}

// SetFeedRegistry repoints the upstream feed registry reference.
// Only the owner may call it.
func (r *Registry) SetFeedRegistry(caller, ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if caller != r.owner {
		return ErrUnauthorized
	}
	if err := validateReference(ref); err != nil {
		return err
	}
	r.feedRegistry = ref
	return nil
}

// SetFeedManager repoints the upstream feed manager reference.
// Only the owner may call it.
func (r *Registry) SetFeedManager(caller, ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if caller != r.owner {
		return ErrUnauthorized
	}
	if err := validateReference(ref); err != nil {
		return err
	}
	r.feedManager = ref
	return nil
}

// FeedRegistry returns the current feed registry reference.
func (r *Registry) FeedRegistry() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.feedRegistry
}

// FeedManager returns the current feed manager reference.
func (r *Registry) FeedManager() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.feedManager
}

// Owner returns the owner identity.
func (r *Registry) Owner() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owner
}

// Track adds a symbol to the tracked set. Idempotent.
func (r *Registry) Track(symbol string) {
	if symbol == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracked[symbol] = struct{}{}
}

// IsTracked reports whether the symbol has ever been tracked.
func (r *Registry) IsTracked(symbol string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tracked[symbol]
	return ok
}

// Tracked returns the tracked symbols in sorted order.
func (r *Registry) Tracked() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.tracked))
	for sym := range r.tracked {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

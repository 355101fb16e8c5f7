// Package token implements the opaque media-token registry (spec §4.3): it
// binds a random token to either a local path or a remote URL/strategy pair,
// with absolute expiry and lock discipline matching §5 (no I/O under lock).
package token

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/n0remac/vo-sync/internal/apperror"
	"github.com/n0remac/vo-sync/internal/clock"
)

// Strategy describes how the streaming endpoint should deliver a remote URL.
type Strategy int

const (
	// Redirect tells the streaming endpoint to 307 to the target URL.
	Redirect Strategy = iota
	// ProxyWithHeaders tells the streaming endpoint to relay the upstream
	// response, adding attribution headers and range passthrough.
	ProxyWithHeaders
)

// Target is the thing a token resolves to: either a local path or a remote
// URL paired with a delivery strategy.
type Target struct {
	Local    string
	Remote   string
	Strategy Strategy
	IsRemote bool
}

// LocalTarget builds a Target bound to a local filesystem path.
func LocalTarget(path string) Target {
	return Target{Local: path}
}

// RemoteTarget builds a Target bound to a remote URL and strategy.
func RemoteTarget(url string, strategy Strategy) Target {
	return Target{Remote: url, Strategy: strategy, IsRemote: true}
}

type entry struct {
	target    Target
	expiresAt time.Time
}

// Registry issues and resolves tokens. The zero value is not usable; use
// New.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	clock   clock.Clock
}

// New builds a Registry with the given token TTL, using clk for expiry
// comparisons.
func New(ttl time.Duration, clk clock.Clock) *Registry {
	return &Registry{
		entries: make(map[string]entry),
		ttl:     ttl,
		clock:   clk,
	}
}

// Issue mints a new token bound to target, expiring ttl from now, and
// returns the token and its absolute expiry.
func (r *Registry) Issue(target Target) (string, time.Time) {
	tok := uuid.NewString()
	expiresAt := r.clock.Now().Add(r.ttl)

	r.mu.Lock()
	r.entries[tok] = entry{target: target, expiresAt: expiresAt}
	r.mu.Unlock()

	return tok, expiresAt
}

// OpenLocal resolves tok to a local filesystem path. It fails not_found on
// unknown/expired tokens and bad_request if the token is bound to a remote
// target.
func (r *Registry) OpenLocal(tok string) (string, error) {
	e, err := r.lookup(tok)
	if err != nil {
		return "", err
	}
	if e.target.IsRemote {
		return "", apperror.NewBadRequest("remote requires redirect")
	}
	return e.target.Local, nil
}

// OpenRemote resolves tok to a remote URL and delivery strategy.
func (r *Registry) OpenRemote(tok string) (string, Strategy, error) {
	e, err := r.lookup(tok)
	if err != nil {
		return "", 0, err
	}
	if !e.target.IsRemote {
		return "", 0, apperror.NewBadRequest("not a remote token")
	}
	return e.target.Remote, e.target.Strategy, nil
}

func (r *Registry) lookup(tok string) (entry, error) {
	r.mu.RLock()
	e, ok := r.entries[tok]
	r.mu.RUnlock()

	if !ok {
		return entry{}, apperror.NewNotFound("unknown token")
	}
	if r.clock.Now().After(e.expiresAt) {
		r.expire(tok)
		return entry{}, apperror.NewNotFound("token expired")
	}
	return e, nil
}

func (r *Registry) expire(tok string) {
	r.mu.Lock()
	delete(r.entries, tok)
	r.mu.Unlock()
}

// Sweep drops every entry past its expiry.
func (r *Registry) Sweep() {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for tok, e := range r.entries {
		if now.After(e.expiresAt) {
			delete(r.entries, tok)
		}
	}
}

// Count returns the number of live entries, for tests/metrics.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Package keypool manages rotating credentials for the translation provider.
//
// The pool is an ordered, cyclic sequence of credentials with a single cursor.
// The cursor is the only shared mutable state in the service and is serialized
// behind a mutex so that two concurrent rotations can never both observe the
// same "next" credential.
package keypool

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"
)

// Health is an advisory flag describing recent credential behavior. It is
// used only for diagnostics; exhausted credentials are never skipped.
type Health int

const (
	// HealthUnknown means the credential has not been exercised yet.
	HealthUnknown Health = iota
	// HealthHealthy means the last call with this credential succeeded.
	HealthHealthy
	// HealthExhausted means the provider rejected this credential (quota,
	// rate limit). Advisory only.
	HealthExhausted
)

// String returns the health flag name.
func (h Health) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Credential is an opaque provider secret plus its advisory health flag.
// Credentials are copied out of the pool for at most one attempt's lifetime.
type Credential struct {
	Key    string
	Health Health
}

// ErrEmptyPool is returned when a pool is constructed without credentials.
// An empty pool is fatal at startup.
var ErrEmptyPool = errors.New("keypool: no credentials configured")

// Pool is a cyclic credential pool with a serialized rotation cursor.
// It is safe for concurrent use.
type Pool struct {
	mu     sync.Mutex
	creds  []Credential
	cursor int
}

// New creates a pool from the given keys, preserving order.
// Returns ErrEmptyPool if keys is empty after discarding blank entries.
func New(keys []string) (*Pool, error) {
	creds := make([]Credential, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		creds = append(creds, Credential{Key: k})
	}
	if len(creds) == 0 {
		return nil, ErrEmptyPool
	}
	return &Pool{creds: creds}, nil
}

// FromEnv loads keys from numbered environment variables (PREFIX_1, PREFIX_2,
// ...) or, when none are set, from a comma-separated PREFIXS variable.
func FromEnv(prefix string) (*Pool, error) {
	var keys []string
	for i := 1; ; i++ {
		key := os.Getenv(fmt.Sprintf("%s_%d", prefix, i))
		if key == "" {
			break
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		keys = strings.Split(os.Getenv(prefix+"S"), ",")
	}
	return New(keys)
}

// Current returns the credential at the cursor without advancing it.
func (p *Pool) Current() Credential {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.creds[p.cursor]
}

// Rotate atomically advances the cursor modulo the pool size and returns the
// new current credential.
func (p *Pool) Rotate() Credential {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cursor = (p.cursor + 1) % len(p.creds)
	return p.creds[p.cursor]
}

// RandomPick returns a uniformly random credential without moving the cursor.
func (p *Pool) RandomPick() Credential {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.creds[rand.Intn(len(p.creds))]
}

// Size returns the number of credentials in the pool.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.creds)
}

// MarkExhausted flags the credential with the given key as exhausted.
// The credential stays in rotation; the flag is diagnostic only.
func (p *Pool) MarkExhausted(key string) {
	p.setHealth(key, HealthExhausted)
}

// MarkHealthy flags the credential with the given key as healthy.
func (p *Pool) MarkHealthy(key string) {
	p.setHealth(key, HealthHealthy)
}

func (p *Pool) setHealth(key string, h Health) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.creds {
		if p.creds[i].Key == key {
			p.creds[i].Health = h
			return
		}
	}
}

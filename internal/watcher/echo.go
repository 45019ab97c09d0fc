// SPDX-License-Identifier: Apache 2.0

package watcher

import (
	"strings"
	"sync"
	"time"
)

// EchoSuppressor is the short-lived registration of paths about to be
// written locally, so the resulting filesystem event doesn't get
// rebroadcast to peers (spec §4.6, §4.11, glossary "Echo suppression").
// It is a concurrent map owned by one engine instance, not a singleton.
type EchoSuppressor struct {
	mu  sync.Mutex
	ttl time.Duration
	set map[string]time.Time
}

// DefaultEchoTTL is the default suppression window (spec §6.5).
const DefaultEchoTTL = 3 * time.Second

// NewEchoSuppressor creates a suppressor with the given TTL.
func NewEchoSuppressor(ttl time.Duration) *EchoSuppressor {
	return &EchoSuppressor{ttl: ttl, set: make(map[string]time.Time)}
}

// Suppress registers relPath as about to be written by the engine
// itself, starting the TTL clock now.
func (e *EchoSuppressor) Suppress(relPath string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.set[strings.ToLower(relPath)] = time.Now().Add(e.ttl)
}

// ShouldSuppress reports whether an incoming watcher event for relPath
// should be dropped because the engine itself just wrote it. Expired
// entries are evicted lazily on lookup.
func (e *EchoSuppressor) ShouldSuppress(relPath string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := strings.ToLower(relPath)
	expiry, ok := e.set[key]
	if !ok {
		return false
	}
	if time.Now().After(expiry) {
		delete(e.set, key)
		return false
	}
	return true
}

// Sweep removes expired entries; intended to be called periodically
// so the map doesn't grow unbounded under heavy write traffic.
func (e *EchoSuppressor) Sweep() {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now()
	for k, exp := range e.set {
		if now.After(exp) {
			delete(e.set, k)
		}
	}
}

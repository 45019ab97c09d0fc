// SPDX-License-Identifier: Apache 2.0

package pool

import (
	"sync"
	"time"
)

// Quarantine counts protocol offenses per peer (malformed records,
// decode failures) and imposes a cooldown once a peer trips the
// threshold (spec §7 error-taxonomy kind 2: protocol violation). The
// numeric policy isn't specified by the spec; this fixes it at 3
// offenses within OffenseWindow quarantining the peer for
// QuarantineDuration.
type Quarantine struct {
	mu       sync.Mutex
	offenses map[string][]time.Time
	until    map[string]time.Time
}

const (
	OffenseThreshold   = 3
	OffenseWindow      = 60 * time.Second
	QuarantineDuration = 30 * time.Second
)

// NewQuarantine constructs an empty tracker.
func NewQuarantine() *Quarantine {
	return &Quarantine{
		offenses: make(map[string][]time.Time),
		until:    make(map[string]time.Time),
	}
}

// Offense records one protocol offense for key (typically a peer
// device ID) and reports whether it just tripped the quarantine
// threshold.
func (q *Quarantine) Offense(key string) bool {
	now := time.Now()
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := now.Add(-OffenseWindow)
	kept := q.offenses[key][:0]
	for _, t := range q.offenses[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	q.offenses[key] = kept

	if len(kept) >= OffenseThreshold {
		q.until[key] = now.Add(QuarantineDuration)
		q.offenses[key] = nil
		return true
	}
	return false
}

// IsQuarantined reports whether key is currently serving a cooldown.
func (q *Quarantine) IsQuarantined(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	until, ok := q.until[key]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(q.until, key)
		return false
	}
	return true
}

// Score ledger: accumulated penalty per (scope, subject), with in-process (optionally
// file-backed), redis, and pebble implementations.
//
// Every implementation serializes concurrent updates of the same key, and persists each
// successful Add or Reset before returning.
package scorestore

import (
	"context"
	"errors"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

var (
	// the update was applied in memory but could not be made durable. Only stores which
	// keep an authoritative in-memory value return it; any other error means the update
	// was not applied.
	ErrPersistence = errors.New("score store write failed")
	// scores only ever grow between resets
	ErrNegativeDelta = errors.New("score delta must not be negative")
)

// Identifies a subject's score within a scope. Kept as a pair, never concatenated, so
// identifiers containing separator characters cannot collide.
type Key struct {
	Scope   string `json:"scope"`
	Subject string `json:"subject"`
}

type ScoreStore interface {
	// Add increases the key's score by delta (≥ 0) and returns the new score.
	Add(ctx context.Context, k Key, delta int) (int, error)
	// Get returns the current score; unknown keys are 0.
	Get(ctx context.Context, k Key) (int, error)
	// Reset sets the score to 0. Resetting an unknown key succeeds.
	Reset(ctx context.Context, k Key) error
}

// KeyLocks hands out one mutex per key. Different keys never contend.
type KeyLocks struct {
	locks *xsync.MapOf[Key, *keyLock]
}

type keyLock struct {
	mu sync.Mutex
	// holders plus waiters; guarded by the map entry
	refs int
}

func NewKeyLocks() *KeyLocks {
	return &KeyLocks{
		locks: xsync.NewMapOf[Key, *keyLock](),
	}
}

// Lock acquires the key's mutex and returns its unlock function. The entry is dropped
// once no caller holds or waits on it.
func (kl *KeyLocks) Lock(k Key) func() {
	var l *keyLock
	kl.locks.Compute(k, func(old *keyLock, loaded bool) (*keyLock, bool) {
		if !loaded {
			old = &keyLock{}
		}
		old.refs++
		l = old
		return old, false
	})
	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		kl.locks.Compute(k, func(old *keyLock, loaded bool) (*keyLock, bool) {
			old.refs--
			return old, old.refs == 0
		})
	}
}

// Len returns the number of keys currently locked or waited on.
func (kl *KeyLocks) Len() int {
	return kl.locks.Size()
}

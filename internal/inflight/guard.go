// ABOUTME: Per-key mutual exclusion for in-flight requests
// ABOUTME: A second concurrent acquire for a key is rejected, never queued

package inflight

import (
	"errors"
	"sync"
)

// ErrDuplicateInFlight is returned when the key already has a holder.
var ErrDuplicateInFlight = errors.New("request already in flight")

// Guard tracks which request keys are currently being processed. It
// exists to stop a double-clicked submission from creating two accounts
// or two sessions for one logical request.
type Guard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// New creates an empty guard.
func New() *Guard {
	return &Guard{held: make(map[string]struct{})}
}

// Acquire claims key for the caller. It fails immediately with
// ErrDuplicateInFlight when another holder exists. The check and the
// mark happen under one lock so two racing callers can never both win.
func (g *Guard) Acquire(key string) (*Lease, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.held[key]; exists {
		return nil, ErrDuplicateInFlight
	}
	g.held[key] = struct{}{}
	return &Lease{guard: g, key: key}, nil
}

// Lease represents a held key. Callers defer Release immediately after
// acquiring so the key is freed on every exit path.
type Lease struct {
	guard *Guard
	key   string
	once  sync.Once
}

// Release frees the key. It is idempotent; extra calls are no-ops.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.guard.mu.Lock()
		delete(l.guard.held, l.key)
		l.guard.mu.Unlock()
	})
}

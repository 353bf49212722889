package view

import (
	"sync"
	"time"
)

// Ledger remembers which message ids this client produced itself, so that the
// echo of an own send arriving over broadcast, change feed, or poll is not
// applied twice. Entries expire after a fixed window; by then the id is in the
// view and the regular id check covers it.
type Ledger struct {
	mu      sync.Mutex
	owned   map[string]time.Time
	ttl     time.Duration
	nowFunc func() time.Time
}

func NewLedger(ttl time.Duration) *Ledger {
	return &Ledger{
		owned:   make(map[string]time.Time),
		ttl:     ttl,
		nowFunc: time.Now,
	}
}

func (l *Ledger) MarkOwned(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep()
	l.owned[id] = l.nowFunc().Add(l.ttl)
}

func (l *Ledger) IsOwned(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep()
	_, ok := l.owned[id]
	return ok
}

// sweep drops expired entries. Called with mu held.
func (l *Ledger) sweep() {
	now := l.nowFunc()
	for id, deadline := range l.owned {
		if now.After(deadline) {
			delete(l.owned, id)
		}
	}
}

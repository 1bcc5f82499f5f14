// Package risk admits or rejects order intents before submission based on
// margin availability, correlation rules, and sector exposure limits.
package risk

import (
	"sync"
)

// Ledger tracks which instrument groups currently have confirmed open
// positions. It is mutated only on confirmed entry and exit fills, never on
// intents, so rejected or timed-out orders leave it untouched.
type Ledger struct {
	mu sync.RWMutex
	// groups maps open symbols to their instrument group.
	groups map[string]string
}

// NewLedger creates an empty exposure ledger.
func NewLedger() *Ledger {
	return &Ledger{
		groups: make(map[string]string),
	}
}

// RecordOpen marks a symbol's group as held. Recording the same symbol twice
// is idempotent.
func (l *Ledger) RecordOpen(symbol, group string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.groups[symbol] = group
}

// RecordClose removes a symbol from the ledger. Unknown symbols are ignored.
func (l *Ledger) RecordClose(symbol string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.groups, symbol)
}

// GroupCount returns the number of open positions in a group.
func (l *Ledger) GroupCount(group string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	count := 0

	for _, held := range l.groups {
		if held == group {
			count++
		}
	}

	return count
}

// OpenGroups returns the set of groups with at least one open position.
func (l *Ledger) OpenGroups() map[string]int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	counts := make(map[string]int)
	for _, group := range l.groups {
		counts[group]++
	}

	return counts
}

// OpenCount returns the total number of symbols held.
func (l *Ledger) OpenCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.groups)
}

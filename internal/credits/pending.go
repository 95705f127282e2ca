package credits

import "sync"

// pendingEntry is one not-yet-persisted balance, with a count of how many
// flush attempts have already failed for it.
type pendingEntry struct {
	balance  int64
	attempts int
}

// pendingSet holds balances already written to the cache but not yet flushed
// to the store. At most one entry per user survives: a later write for the
// same user overwrites the earlier one, so entries are pre-coalesced when
// the flusher drains them.
//
// Request-handling goroutines populate the set and the flusher drains it, so
// every access goes through the mutex.
type pendingSet struct {
	mu      sync.Mutex
	entries map[string]pendingEntry
}

func newPendingSet() *pendingSet {
	return &pendingSet{entries: make(map[string]pendingEntry)}
}

// put records the latest balance for the user, resetting the failure count.
func (p *pendingSet) put(userID string, balance int64) {
	p.mu.Lock()
	p.entries[userID] = pendingEntry{balance: balance}
	p.mu.Unlock()
}

// swap returns the current entries and installs a fresh empty set. Writes
// arriving during a flush accumulate in the new set without blocking.
func (p *pendingSet) swap() map[string]pendingEntry {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[string]pendingEntry)
	p.mu.Unlock()
	return entries
}

// drop removes the user's pending entry, if any. Called when a synchronous
// store write (the daily refresh) has already persisted a newer balance, so
// flushing the entry would regress the store.
func (p *pendingSet) drop(userID string) {
	p.mu.Lock()
	delete(p.entries, userID)
	p.mu.Unlock()
}

// requeue puts a failed entry back unless a newer balance arrived for the
// user while the flush was running; the newer value wins in that case.
func (p *pendingSet) requeue(userID string, e pendingEntry) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.entries[userID]; ok {
		return false
	}
	p.entries[userID] = e
	return true
}

func (p *pendingSet) snapshot() map[string]int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]int64, len(p.entries))
	for userID, e := range p.entries {
		out[userID] = e.balance
	}
	return out
}

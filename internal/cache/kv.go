package cache

import (
	"sync"
	"time"
)

// Entry is one stored request/result pair. Entries are immutable once
// written; a re-store replaces the entry wholesale.
type Entry struct {
	// Key is the content address of the originating request.
	Key string
	// RequestText is the normalized request text, kept for near-match
	// scoring.
	RequestText string
	// Model is the model identifier the entry was produced with.
	Model string
	// Temperature is the sampling temperature of the originating request.
	Temperature float64
	// Result is the stored output.
	Result string
	// Tokens is the token count the original call consumed. Hits report
	// this value as tokens saved.
	Tokens int64
	// CostUSD is the cost of the original call.
	CostUSD float64
	// CreatedAt is when the entry was stored.
	CreatedAt time.Time
	// ExpiresAt is when the entry stops being live.
	ExpiresAt time.Time
}

// Live reports whether the entry has not expired at the given instant.
func (e Entry) Live(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// KV is the storage contract behind the cache. No particular storage engine
// is prescribed; in-memory and SQLite implementations are provided.
type KV interface {
	// Get returns the entry for a key. ok is false when absent. An error
	// indicates a corrupt or unreadable entry, which callers treat as a
	// miss after evicting it.
	Get(key string) (Entry, bool, error)
	// Put stores an entry, replacing any existing entry for its key.
	Put(e Entry) error
	// Delete removes an entry. Deleting an absent key is not an error.
	Delete(key string) error
	// ScanLive returns all non-expired entries for a model, for
	// near-duplicate candidate scoring.
	ScanLive(model string, now time.Time) ([]Entry, error)
	// SweepExpired removes every expired entry, returning the count.
	SweepExpired(now time.Time) (int, error)
}

// MemoryKV is a map-backed KV for tests and ephemeral runs.
type MemoryKV struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryKV creates an empty in-memory KV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{entries: make(map[string]Entry)}
}

// Get implements KV.
func (m *MemoryKV) Get(key string) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	return e, ok, nil
}

// Put implements KV.
func (m *MemoryKV) Put(e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.Key] = e
	return nil
}

// Delete implements KV.
func (m *MemoryKV) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// ScanLive implements KV.
func (m *MemoryKV) ScanLive(model string, now time.Time) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Entry
	for _, e := range m.entries {
		if e.Model == model && e.Live(now) {
			out = append(out, e)
		}
	}
	return out, nil
}

// SweepExpired implements KV.
func (m *MemoryKV) SweepExpired(now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key, e := range m.entries {
		if !e.Live(now) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored entries, live or not.
func (m *MemoryKV) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

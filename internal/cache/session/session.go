// Package session implements the SessionCache of spec.md §2/§4.10: a
// short-lived, in-memory index of the current session's tells (recent
// embeddings + text) for low-latency recall prior to persistent search.
//
// The teacher's fast L1 cache (internal/cache/ristretto.go) is a
// key-value store with no range/scan API, and the recall this component
// does is a similarity scan over every entry, not a point lookup by id —
// Ristretto has no admission/eviction decision to make here that would
// change what Search returns, so it would sit alongside the real index
// unread, exactly the decorative-dependency shape cache.Layer's own doc
// comment warns against. Recall stays a plain mutex-guarded slice scan,
// capped at capacity entries with oldest-first eviction; a session's tell
// count is small enough that linear cosine comparison is the actual hot
// path, not a cache miss.
package session

import (
	"sync"

	"github.com/dereksmith/semem/internal/vectorops"
)

// Entry is one recalled item: the interaction id, its text, and embedding.
type Entry struct {
	ID        string
	Text      string
	Embedding []float64
}

// Hit pairs a recalled Entry with its similarity to the query.
type Hit struct {
	Entry      Entry
	Similarity float64
}

// Cache is the per-session recall index: a capacity-bounded, insertion-
// ordered slice scanned in full on every Search.
type Cache struct {
	mu       sync.RWMutex
	entries  []Entry
	ids      map[string]int // id -> index into entries, for add/overwrite
	capacity int
}

// New creates a Cache holding at most capacity entries; once full, Add
// evicts the oldest entry to admit a new one.
func New(capacity int) (*Cache, error) {
	if capacity <= 0 {
		capacity = 10000
	}
	return &Cache{
		ids:      make(map[string]int),
		capacity: capacity,
	}, nil
}

// Add records a tell's id/text/embedding for session-local recall,
// evicting the oldest entry first if the cache is at capacity.
func (c *Cache) Add(e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if idx, exists := c.ids[e.ID]; exists {
		c.entries[idx] = e
		return
	}
	if len(c.entries) >= c.capacity {
		oldest := c.entries[0]
		c.entries = c.entries[1:]
		delete(c.ids, oldest.ID)
		for id, idx := range c.ids {
			c.ids[id] = idx - 1
		}
	}
	c.ids[e.ID] = len(c.entries)
	c.entries = append(c.entries, e)
}

// Search returns the top k entries by cosine similarity to queryEmbedding
// whose similarity is at least threshold (on the spec's 0-100 scale, as
// with MemoryStore.retrieve's adjusted_similarity), most similar first.
func (c *Cache) Search(queryEmbedding []float64, k int, threshold float64) ([]Hit, error) {
	c.mu.RLock()
	entries := make([]Entry, len(c.entries))
	copy(entries, c.entries)
	c.mu.RUnlock()

	hits := make([]Hit, 0, len(entries))
	for _, e := range entries {
		sim, err := vectorops.Cosine(queryEmbedding, e.Embedding)
		if err != nil {
			return nil, err
		}
		scaled := sim * 100
		if scaled >= threshold {
			hits = append(hits, Hit{Entry: e, Similarity: scaled})
		}
	}

	sortHitsDescending(hits)
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Len reports the number of tracked entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear drops all session state, for session-end teardown.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
	c.ids = make(map[string]int)
}

func sortHitsDescending(hits []Hit) {
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].Similarity > hits[j-1].Similarity; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
}

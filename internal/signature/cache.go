// Package signature holds the process-wide thought-signature cache.
//
// Thinking models emit an opaque signature alongside each tool call; the
// upstream needs it echoed on the next turn to keep its cached reasoning,
// but clients routinely strip it. The cache bridges the client round-trip:
// response translation stores signatures by tool-call id, request
// translation re-injects them.
package signature

import "sync"

// maxEntries bounds the cache. Signatures are soft state, so overflow
// clears the whole map rather than tracking per-entry age.
const maxEntries = 1000

// Cache is a concurrency-safe id→signature map.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]string
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]string)}
}

// Store records sig under the tool-call id. Empty ids and signatures are
// ignored. When the map has outgrown its bound it is cleared first.
func (c *Cache) Store(id, sig string) {
	if id == "" || sig == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) > maxEntries {
		c.entries = make(map[string]string)
	}
	c.entries[id] = sig
}

// Lookup returns the signature cached for the tool-call id, if any.
func (c *Cache) Lookup(id string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sig, ok := c.entries[id]
	return sig, ok
}

// Len reports the current entry count.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

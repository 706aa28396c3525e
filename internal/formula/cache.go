package formula

import (
	"strings"
	"sync"
)

// Cache holds compiled expression trees keyed by formula text, so each
// distinct formula is parsed once no matter how many runs evaluate it.
// Parse failures are cached too. A Cache is safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	expr *Expr
	err  error
}

// NewCache creates an empty Cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]cacheEntry)}
}

// Compile returns the compiled tree for src, parsing it on first use.
func (c *Cache) Compile(src string) (*Expr, error) {
	key := strings.TrimSpace(src)

	c.mu.RLock()
	ent, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return ent.expr, ent.err
	}

	expr, err := Compile(key)

	c.mu.Lock()
	defer c.mu.Unlock()
	// Another goroutine may have won the race; keep the first entry.
	if ent, ok := c.entries[key]; ok {
		return ent.expr, ent.err
	}
	c.entries[key] = cacheEntry{expr: expr, err: err}
	return expr, err
}

// Len returns the number of distinct formulas compiled so far.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Package cache holds the in-memory snapshot of the current directory.
package cache

import (
	"sync"

	"github.com/ahmad-cheema/file-verse/pkg/models"
)

// Cache mirrors the entries of one directory as last listed by the server.
// It is only ever replaced as a whole; there is no per-entry update.
type Cache struct {
	mu      sync.RWMutex
	dir     string
	entries []models.Entry
	loaded  bool
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{}
}

// Replace swaps in a new snapshot for dir. The slice is copied.
func (c *Cache) Replace(dir string, entries []models.Entry) {
	snapshot := make([]models.Entry, len(entries))
	copy(snapshot, entries)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.dir = dir
	c.entries = snapshot
	c.loaded = true
}

// List returns the entries in server order.
func (c *Cache) List() []models.Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Dir returns the directory the snapshot belongs to.
func (c *Cache) Dir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dir
}

// Loaded reports whether a listing has been stored since the last Clear.
func (c *Cache) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Lookup finds an entry by its literal name or its display name.
// The first match in server order wins.
func (c *Cache) Lookup(name string) (models.Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries {
		if e.Name == name || e.DisplayName() == name {
			return e, true
		}
	}
	return models.Entry{}, false
}

// Clear drops the snapshot.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dir = ""
	c.entries = nil
	c.loaded = false
}

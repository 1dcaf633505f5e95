// Package pathcache holds the bidirectional path <-> object-id cache for a
// remote drive. Paths are stored case-preserving and looked up
// case-insensitively. A parallel trashed store remembers where deleted
// objects used to live, so id -> path resolution keeps working for events
// that arrive after the delete.
package pathcache

import (
	"sort"
	"sync"
)

// entry is a cached path and the id last observed live at it.
type entry struct {
	path string
	id   string
}

// Cache maps paths to object ids. The zero value is not usable; call New.
// All methods are safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	live    map[string]entry // keyed by folded path
	trashed map[string]entry // keyed by folded path
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{
		live:    make(map[string]entry),
		trashed: make(map[string]entry),
	}
}

// Get returns the id cached for path.
func (c *Cache) Get(p string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.live[key(p)]

	return e.id, ok
}

// Set caches id under path, replacing whatever id was there. A path cannot
// be live and trashed at once, so any trashed entry for it is dropped.
func (c *Cache) Set(p, id string) {
	k := key(p)

	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.trashed, k)
	c.live[k] = entry{path: Clean(p), id: id}
}

// Remove uncaches path and every cached descendant of it. It returns the
// removed paths in sorted order.
func (c *Cache) Remove(p string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed []string

	for k, e := range c.live {
		if _, under := Relative(p, e.path); under {
			removed = append(removed, e.path)
			delete(c.live, k)
		}
	}

	sort.Strings(removed)

	return removed
}

// RemoveExact uncaches exactly path, leaving descendants alone.
func (c *Cache) RemoveExact(p string) bool {
	k := key(p)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.live[k]; !ok {
		return false
	}

	delete(c.live, k)

	return true
}

// MoveSubtree rewrites every cached path under oldPath (oldPath included)
// so that the oldPath prefix becomes newPath. Suffixes keep their casing.
// It returns the number of rewritten entries.
func (c *Cache) MoveSubtree(oldPath, newPath string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	type moved struct {
		rel string
		id  string
	}

	var batch []moved

	for k, e := range c.live {
		if rel, under := Relative(oldPath, e.path); under {
			batch = append(batch, moved{rel: rel, id: e.id})
			delete(c.live, k)
		}
	}

	for _, m := range batch {
		np := Join(newPath, m.rel)
		nk := key(np)
		delete(c.trashed, nk)
		c.live[nk] = entry{path: np, id: m.id}
	}

	return len(batch)
}

// Trash moves the object cached at path into the trashed store. Every live
// path mapping to the same id moves with it, and every other live
// descendant of path is dropped. Both happen under one lock, so no path is
// ever visible in both stores. It reports whether path was cached.
func (c *Cache) Trash(p string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.live[key(p)]
	if !ok {
		return false
	}

	for k, cur := range c.live {
		if cur.id == e.id {
			c.trashed[k] = cur
			delete(c.live, k)

			continue
		}

		if _, under := Relative(p, cur.path); under {
			delete(c.live, k)
		}
	}

	return true
}

// PathsForID returns every live path mapping to id, sorted.
func (c *Cache) PathsForID(id string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return pathsFor(c.live, id)
}

// TrashedPathsForID returns every trashed path that used to map to id, sorted.
func (c *Cache) TrashedPathsForID(id string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return pathsFor(c.trashed, id)
}

// Clear wipes both stores.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.live = make(map[string]entry)
	c.trashed = make(map[string]entry)
}

// ClearScope removes, from both stores, every entry whose id equals id or
// whose path is under scopePath. With no id and a root or empty scope it is
// equivalent to Clear.
func (c *Cache) ClearScope(id, scopePath string) {
	if id == "" && (scopePath == "" || IsRoot(scopePath)) {
		c.Clear()

		return
	}

	match := func(e entry) bool {
		if id != "" && e.id == id {
			return true
		}

		if scopePath == "" {
			return false
		}

		_, under := Relative(scopePath, e.path)

		return under
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for k, e := range c.live {
		if match(e) {
			delete(c.live, k)
		}
	}

	for k, e := range c.trashed {
		if match(e) {
			delete(c.trashed, k)
		}
	}
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.live)
}

// Snapshot returns a copy of the live store as path -> id.
func (c *Cache) Snapshot() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]string, len(c.live))
	for _, e := range c.live {
		out[e.path] = e.id
	}

	return out
}

func pathsFor(store map[string]entry, id string) []string {
	var paths []string

	for _, e := range store {
		if e.id == id {
			paths = append(paths, e.path)
		}
	}

	sort.Strings(paths)

	return paths
}

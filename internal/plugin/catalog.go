package plugin

import (
	"sort"
	"sync"
)

// Factory builds a plugin from its manifest.
type Factory func(m Manifest, deps Deps) (Plugin, error)

// Catalog is the compile-time set of plugin kinds a manifest may name.
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[string]Factory)}
}

// Register adds a kind. Registering the same kind again replaces it.
func (c *Catalog) Register(kind string, f Factory) {
	c.mu.Lock()
	c.factories[kind] = f
	c.mu.Unlock()
}

// Lookup returns the factory for a kind.
func (c *Catalog) Lookup(kind string) (Factory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.factories[kind]
	return f, ok
}

// Kinds returns the registered kinds, sorted.
func (c *Catalog) Kinds() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	kinds := make([]string, 0, len(c.factories))
	for k := range c.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

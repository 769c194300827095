// Package module holds the in-memory catalog of known module descriptors.
package module

import (
	"sync"

	"github.com/okapilabs/okapi/internal/domain"
)

// Snapshot is an immutable view of the catalog. Pipeline construction
// iterates a snapshot so admin writes never race a request.
type Snapshot struct {
	ids     []string
	modules map[string]*domain.ModuleDescriptor
}

// List returns module ids in catalog order.
func (s *Snapshot) List() []string {
	return s.ids
}

// Get returns the descriptor for id, or nil.
func (s *Snapshot) Get(id string) *domain.ModuleDescriptor {
	return s.modules[id]
}

// Len returns the number of modules in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.ids)
}

// Catalog is the set of known modules, indexed by id. Writes build a new
// snapshot and swap it in; a snapshot is never modified after the swap.
// Reads take the current snapshot under the catalog mutex, so a read waits
// while Insert, Update or Delete builds its copy; iterating the snapshot
// afterwards takes no lock.
type Catalog struct {
	mu   sync.Mutex
	snap *Snapshot
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{snap: &Snapshot{modules: map[string]*domain.ModuleDescriptor{}}}
}

// Snapshot returns the current immutable view.
func (c *Catalog) Snapshot() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Get returns the descriptor for id, or a not-found error.
func (c *Catalog) Get(id string) (*domain.ModuleDescriptor, error) {
	if md := c.Snapshot().Get(id); md != nil {
		return md, nil
	}
	return nil, domain.NotFoundError("module %s not found", id)
}

// List returns ids in insertion order.
func (c *Catalog) List() []string {
	return c.Snapshot().List()
}

// Insert adds a module; duplicate ids are rejected.
func (c *Catalog) Insert(md *domain.ModuleDescriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.snap.modules[md.ID]; ok {
		return domain.UserError("module %s already exists", md.ID)
	}
	next := c.cloneLocked()
	next.ids = append(next.ids, md.ID)
	next.modules[md.ID] = md
	c.snap = next
	return nil
}

// Update replaces an existing module.
func (c *Catalog) Update(md *domain.ModuleDescriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.snap.modules[md.ID]; !ok {
		return domain.NotFoundError("module %s not found", md.ID)
	}
	next := c.cloneLocked()
	next.modules[md.ID] = md
	c.snap = next
	return nil
}

// Delete removes a module by id.
func (c *Catalog) Delete(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.snap.modules[id]; !ok {
		return domain.NotFoundError("module %s not found", id)
	}
	next := &Snapshot{modules: make(map[string]*domain.ModuleDescriptor, len(c.snap.modules))}
	for _, mid := range c.snap.ids {
		if mid == id {
			continue
		}
		next.ids = append(next.ids, mid)
		next.modules[mid] = c.snap.modules[mid]
	}
	c.snap = next
	return nil
}

// ReplaceAll atomically swaps the catalog contents. Used by cluster reload
// so readers see either the old or the new catalog, never a partial one.
func (c *Catalog) ReplaceAll(mods []*domain.ModuleDescriptor) {
	next := &Snapshot{modules: make(map[string]*domain.ModuleDescriptor, len(mods))}
	for _, md := range mods {
		if _, ok := next.modules[md.ID]; ok {
			continue
		}
		next.ids = append(next.ids, md.ID)
		next.modules[md.ID] = md
	}
	c.mu.Lock()
	c.snap = next
	c.mu.Unlock()
}

func (c *Catalog) cloneLocked() *Snapshot {
	next := &Snapshot{
		ids:     append([]string(nil), c.snap.ids...),
		modules: make(map[string]*domain.ModuleDescriptor, len(c.snap.modules)+1),
	}
	for k, v := range c.snap.modules {
		next.modules[k] = v
	}
	return next
}

// Package tenant manages tenant records and their enabled-module sets.
package tenant

import (
	"sync"

	"github.com/okapilabs/okapi/internal/domain"
)

// ModuleLookup answers whether a module id exists, so enabling an unknown
// module can be rejected at write time.
type ModuleLookup interface {
	Get(id string) (*domain.ModuleDescriptor, error)
}

// Registry holds the per-tenant enablement map. Reads return copies of the
// stored tenant so callers never observe a concurrent write.
type Registry struct {
	mu      sync.RWMutex
	tenants map[string]*domain.Tenant
}

// NewRegistry creates an empty tenant registry.
func NewRegistry() *Registry {
	return &Registry{tenants: make(map[string]*domain.Tenant)}
}

// Insert adds a tenant; duplicate ids are rejected.
func (r *Registry) Insert(t *domain.Tenant) error {
	if t.ID == "" {
		return domain.UserError("no id in tenant")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tenants[t.ID]; ok {
		return domain.UserError("tenant %s already exists", t.ID)
	}
	c := t.Copy()
	if c.Enabled == nil {
		c.Enabled = map[string]bool{}
	}
	r.tenants[t.ID] = c
	return nil
}

// Update replaces the descriptive fields of an existing tenant, keeping
// its enabled set.
func (r *Registry) Update(t *domain.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.tenants[t.ID]
	if !ok {
		return domain.NotFoundError("tenant %s not found", t.ID)
	}
	cur.Name = t.Name
	cur.Description = t.Description
	return nil
}

// Get returns a copy of the tenant.
func (r *Registry) Get(id string) (*domain.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tenants[id]
	if !ok {
		return nil, domain.NotFoundError("tenant %s not found", id)
	}
	return t.Copy(), nil
}

// List returns all tenant ids.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.tenants))
	for id := range r.tenants {
		ids = append(ids, id)
	}
	return ids
}

// Delete removes a tenant.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tenants[id]; !ok {
		return domain.NotFoundError("tenant %s not found", id)
	}
	delete(r.tenants, id)
	return nil
}

// Enable turns a module on for a tenant. The module must exist in the
// catalog; this is not re-checked per request.
func (r *Registry) Enable(tenantID, moduleID string, modules ModuleLookup) error {
	if _, err := modules.Get(moduleID); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[tenantID]
	if !ok {
		return domain.NotFoundError("tenant %s not found", tenantID)
	}
	t.Enabled[moduleID] = true
	return nil
}

// Disable turns a module off for a tenant.
func (r *Registry) Disable(tenantID, moduleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[tenantID]
	if !ok {
		return domain.NotFoundError("tenant %s not found", tenantID)
	}
	if !t.Enabled[moduleID] {
		return domain.NotFoundError("module %s not enabled for tenant %s", moduleID, tenantID)
	}
	delete(t.Enabled, moduleID)
	return nil
}

// IsEnabled reports whether the tenant has the module enabled.
func (r *Registry) IsEnabled(tenantID, moduleID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tenants[tenantID]
	return ok && t.Enabled[moduleID]
}

// ReplaceAll swaps the registry contents, for store reloads.
func (r *Registry) ReplaceAll(tenants []*domain.Tenant) {
	next := make(map[string]*domain.Tenant, len(tenants))
	for _, t := range tenants {
		c := t.Copy()
		if c.Enabled == nil {
			c.Enabled = map[string]bool{}
		}
		next[c.ID] = c
	}
	r.mu.Lock()
	r.tenants = next
	r.mu.Unlock()
}

// Package memory is an in-memory store for tests and ephemeral runs.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/okapilabs/okapi/internal/domain"
	"github.com/okapilabs/okapi/internal/storage"
)

// Store keeps every record in process memory.
type Store struct {
	mu          sync.Mutex
	modules     map[string]*domain.ModuleDescriptor
	tenants     map[string]*domain.Tenant
	deployments map[string]*domain.DeploymentDescriptor
	timestamps  map[string]int64
}

var _ storage.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		modules:     map[string]*domain.ModuleDescriptor{},
		tenants:     map[string]*domain.Tenant{},
		deployments: map[string]*domain.DeploymentDescriptor{},
		timestamps:  map[string]int64{},
	}
}

// Modules returns the module record store.
func (s *Store) Modules() storage.ModuleStore { return &moduleStore{s} }

// Tenants returns the tenant record store.
func (s *Store) Tenants() storage.TenantStore { return &tenantStore{s} }

// Deployments returns the deployment record store.
func (s *Store) Deployments() storage.DeploymentStore { return &deploymentStore{s} }

// Timestamps returns the timestamp store.
func (s *Store) Timestamps() storage.TimestampStore { return &timestampStore{s} }

// Close is a no-op.
func (s *Store) Close() error { return nil }

type moduleStore struct{ s *Store }

func (m *moduleStore) Insert(_ context.Context, md *domain.ModuleDescriptor) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.modules[md.ID]; ok {
		return domain.UserError("module %s already exists", md.ID)
	}
	c := *md
	m.s.modules[md.ID] = &c
	return nil
}

func (m *moduleStore) Update(_ context.Context, md *domain.ModuleDescriptor) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.modules[md.ID]; !ok {
		return domain.NotFoundError("module %s not found", md.ID)
	}
	c := *md
	m.s.modules[md.ID] = &c
	return nil
}

func (m *moduleStore) Get(_ context.Context, id string) (*domain.ModuleDescriptor, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	md, ok := m.s.modules[id]
	if !ok {
		return nil, domain.NotFoundError("module %s not found", id)
	}
	c := *md
	return &c, nil
}

func (m *moduleStore) GetAll(_ context.Context) ([]*domain.ModuleDescriptor, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	out := make([]*domain.ModuleDescriptor, 0, len(m.s.modules))
	for _, md := range m.s.modules {
		c := *md
		out = append(out, &c)
	}
	return out, nil
}

func (m *moduleStore) Delete(_ context.Context, id string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.modules[id]; !ok {
		return domain.NotFoundError("module %s not found", id)
	}
	delete(m.s.modules, id)
	return nil
}

type tenantStore struct{ s *Store }

func (t *tenantStore) Insert(_ context.Context, tn *domain.Tenant) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.tenants[tn.ID]; ok {
		return domain.UserError("tenant %s already exists", tn.ID)
	}
	t.s.tenants[tn.ID] = tn.Copy()
	return nil
}

func (t *tenantStore) Update(_ context.Context, tn *domain.Tenant) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.tenants[tn.ID]; !ok {
		return domain.NotFoundError("tenant %s not found", tn.ID)
	}
	t.s.tenants[tn.ID] = tn.Copy()
	return nil
}

func (t *tenantStore) Get(_ context.Context, id string) (*domain.Tenant, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	tn, ok := t.s.tenants[id]
	if !ok {
		return nil, domain.NotFoundError("tenant %s not found", id)
	}
	return tn.Copy(), nil
}

func (t *tenantStore) GetAll(_ context.Context) ([]*domain.Tenant, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	out := make([]*domain.Tenant, 0, len(t.s.tenants))
	for _, tn := range t.s.tenants {
		out = append(out, tn.Copy())
	}
	return out, nil
}

func (t *tenantStore) Delete(_ context.Context, id string) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.tenants[id]; !ok {
		return domain.NotFoundError("tenant %s not found", id)
	}
	delete(t.s.tenants, id)
	return nil
}

type deploymentStore struct{ s *Store }

func (d *deploymentStore) Insert(_ context.Context, dd *domain.DeploymentDescriptor) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	if _, ok := d.s.deployments[dd.InstID]; ok {
		return domain.UserError("duplicate instance %s", dd.InstID)
	}
	c := *dd
	d.s.deployments[dd.InstID] = &c
	return nil
}

func (d *deploymentStore) Get(_ context.Context, instID string) (*domain.DeploymentDescriptor, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	dd, ok := d.s.deployments[instID]
	if !ok {
		return nil, domain.NotFoundError("instance %s not found", instID)
	}
	c := *dd
	return &c, nil
}

func (d *deploymentStore) GetAll(_ context.Context) ([]*domain.DeploymentDescriptor, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	out := make([]*domain.DeploymentDescriptor, 0, len(d.s.deployments))
	for _, dd := range d.s.deployments {
		c := *dd
		out = append(out, &c)
	}
	return out, nil
}

func (d *deploymentStore) Delete(_ context.Context, instID string) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	if _, ok := d.s.deployments[instID]; !ok {
		return domain.NotFoundError("instance %s not found", instID)
	}
	delete(d.s.deployments, instID)
	return nil
}

type timestampStore struct{ s *Store }

func (t *timestampStore) Advance(_ context.Context, key string, current int64) (int64, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	next := time.Now().UnixMilli()
	if stored, ok := t.s.timestamps[key]; ok && next <= stored {
		next = stored + 1
	}
	if next <= current {
		next = current + 1
	}
	t.s.timestamps[key] = next
	return next, nil
}

func (t *timestampStore) Get(_ context.Context, key string) (int64, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if v, ok := t.s.timestamps[key]; ok {
		return v, nil
	}
	return -1, nil
}

// Package discovery maps module ids to the URLs of their running instances.
package discovery

import (
	"sync"

	"github.com/google/uuid"

	"github.com/okapilabs/okapi/internal/domain"
)

// Manager owns the deployment records. One module id may map to many
// instances; the pipeline uses the first record when resolving a hop.
type Manager struct {
	mu      sync.RWMutex
	records map[string][]*domain.DeploymentDescriptor
}

// NewManager creates an empty discovery manager.
func NewManager() *Manager {
	return &Manager{records: make(map[string][]*domain.DeploymentDescriptor)}
}

// Deploy registers a running instance. A missing instId is assigned a UUID.
func (m *Manager) Deploy(dd *domain.DeploymentDescriptor) (*domain.DeploymentDescriptor, error) {
	if dd.SrvcID == "" {
		return nil, domain.UserError("no srvcId in deployment")
	}
	if dd.URL == "" {
		return nil, domain.UserError("no url in deployment for %s", dd.SrvcID)
	}
	c := *dd
	if c.InstID == "" {
		c.InstID = uuid.New().String()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records[c.SrvcID] {
		if r.InstID == c.InstID {
			return nil, domain.UserError("duplicate instance %s for %s", c.InstID, c.SrvcID)
		}
	}
	m.records[c.SrvcID] = append(m.records[c.SrvcID], &c)
	return &c, nil
}

// Undeploy removes the instance with the given id.
func (m *Manager) Undeploy(instID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for srvc, list := range m.records {
		for i, r := range list {
			if r.InstID == instID {
				next := append(append([]*domain.DeploymentDescriptor(nil), list[:i]...), list[i+1:]...)
				if len(next) == 0 {
					delete(m.records, srvc)
				} else {
					m.records[srvc] = next
				}
				return nil
			}
		}
	}
	return domain.NotFoundError("instance %s not found", instID)
}

// GetInstance returns the record for an instance id.
func (m *Manager) GetInstance(instID string) (*domain.DeploymentDescriptor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, list := range m.records {
		for _, r := range list {
			if r.InstID == instID {
				c := *r
				return &c, nil
			}
		}
	}
	return nil, domain.NotFoundError("instance %s not found", instID)
}

// Get returns all records for a module id.
func (m *Manager) Get(moduleID string) []*domain.DeploymentDescriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.records[moduleID]
	out := make([]*domain.DeploymentDescriptor, len(list))
	for i, r := range list {
		c := *r
		out[i] = &c
	}
	return out
}

// List returns every record, for the discovery listing endpoint.
func (m *Manager) List() []*domain.DeploymentDescriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.DeploymentDescriptor
	for _, list := range m.records {
		for _, r := range list {
			c := *r
			out = append(out, &c)
		}
	}
	return out
}

// Resolve returns the upstream base URL for a module, first record wins.
func (m *Manager) Resolve(md *domain.ModuleDescriptor) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.records[md.ID]
	if len(list) == 0 {
		return "", domain.NotFoundError("No running module instance found for %s", md.NameOrID())
	}
	return list[0].URL, nil
}

// Package storage defines the persistence contracts for module, tenant,
// deployment, and timestamp records.
package storage

import (
	"context"

	"github.com/okapilabs/okapi/internal/domain"
)

// ModuleStore persists module descriptors.
type ModuleStore interface {
	Insert(ctx context.Context, md *domain.ModuleDescriptor) error
	Update(ctx context.Context, md *domain.ModuleDescriptor) error
	Get(ctx context.Context, id string) (*domain.ModuleDescriptor, error)
	GetAll(ctx context.Context) ([]*domain.ModuleDescriptor, error)
	Delete(ctx context.Context, id string) error
}

// TenantStore persists tenants with their enabled-module sets.
type TenantStore interface {
	Insert(ctx context.Context, t *domain.Tenant) error
	Update(ctx context.Context, t *domain.Tenant) error
	Get(ctx context.Context, id string) (*domain.Tenant, error)
	GetAll(ctx context.Context) ([]*domain.Tenant, error)
	Delete(ctx context.Context, id string) error
}

// DeploymentStore persists deployment records. Writes are serialized
// through the store; one module id may map to many instances.
type DeploymentStore interface {
	Insert(ctx context.Context, dd *domain.DeploymentDescriptor) error
	Get(ctx context.Context, instID string) (*domain.DeploymentDescriptor, error)
	GetAll(ctx context.Context) ([]*domain.DeploymentDescriptor, error)
	Delete(ctx context.Context, instID string) error
}

// TimestampStore persists the monotonic reload timestamps. Advance returns
// a value strictly greater than both the stored value and current.
type TimestampStore interface {
	Advance(ctx context.Context, key string, current int64) (int64, error)
	Get(ctx context.Context, key string) (int64, error)
}

// Store aggregates the record stores behind one backend.
type Store interface {
	Modules() ModuleStore
	Tenants() TenantStore
	Deployments() DeploymentStore
	Timestamps() TimestampStore
	Close() error
}

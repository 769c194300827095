// Package sqldb is the SQL implementation of the record stores, running
// on SQLite for development and PostgreSQL in production.
package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/okapilabs/okapi/internal/domain"
	"github.com/okapilabs/okapi/internal/storage"
	"github.com/okapilabs/okapi/internal/storage/dialect"
)

// Store persists module, tenant and deployment records as JSON documents
// keyed by id, the layout the admin surfaces read and write, and the
// reload timestamps as plain integers keyed by name.
type Store struct {
	db      *sqlx.DB
	dialect dialect.Dialect
}

var _ storage.Store = (*Store)(nil)

// Config holds database connection configuration.
type Config struct {
	// Driver is "sqlite" or "postgres".
	Driver string
	// DSN is the data source name for the driver.
	DSN string
	// Reinit drops and recreates the schema on open (the legacy
	// postgres_db_init flag).
	Reinit bool
}

// PostgresDSN builds the DSN from the postgres_* options.
func PostgresDSN(host string, port int, user, password, database string) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", user, password, host, port, database)
}

// New opens the database, applies dialect pragmas, and ensures the schema.
func New(cfg Config) (*Store, error) {
	d, err := dialect.New(cfg.Driver)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open(d.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	for _, stmt := range d.PragmaStatements() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("executing pragma: %w", err)
		}
	}
	s := &Store{db: db, dialect: d}
	if cfg.Reinit {
		if err := s.dropSchema(); err != nil {
			db.Close()
			return nil, err
		}
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS modules (
id TEXT PRIMARY KEY,
descriptor TEXT NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS tenants (
id TEXT PRIMARY KEY,
descriptor TEXT NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS deployments (
inst_id TEXT PRIMARY KEY,
srvc_id TEXT NOT NULL,
descriptor TEXT NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS timestamps (
id TEXT PRIMARY KEY,
value BIGINT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS deployments_srvc ON deployments (srvc_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) dropSchema() error {
	for _, table := range []string{"modules", "tenants", "deployments", "timestamps"} {
		if _, err := s.db.Exec("DROP TABLE IF EXISTS " + table); err != nil {
			return err
		}
	}
	return nil
}

// Modules returns the module record store.
func (s *Store) Modules() storage.ModuleStore { return &moduleStore{s} }

// Tenants returns the tenant record store.
func (s *Store) Tenants() storage.TenantStore { return &tenantStore{s} }

// Deployments returns the deployment record store.
func (s *Store) Deployments() storage.DeploymentStore { return &deploymentStore{s} }

// Timestamps returns the timestamp store.
func (s *Store) Timestamps() storage.TimestampStore { return &timestampStore{s} }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

type moduleStore struct{ s *Store }

func (m *moduleStore) Insert(ctx context.Context, md *domain.ModuleDescriptor) error {
	doc, err := json.Marshal(md)
	if err != nil {
		return domain.InternalError(err, "encoding module %s", md.ID)
	}
	q := m.s.db.Rebind("INSERT INTO modules (id, descriptor) VALUES (?, ?)")
	if _, err := m.s.db.ExecContext(ctx, q, md.ID, string(doc)); err != nil {
		return domain.InternalError(err, "inserting module %s", md.ID)
	}
	return nil
}

func (m *moduleStore) Update(ctx context.Context, md *domain.ModuleDescriptor) error {
	doc, err := json.Marshal(md)
	if err != nil {
		return domain.InternalError(err, "encoding module %s", md.ID)
	}
	q := m.s.db.Rebind("UPDATE modules SET descriptor = ? WHERE id = ?")
	res, err := m.s.db.ExecContext(ctx, q, string(doc), md.ID)
	if err != nil {
		return domain.InternalError(err, "updating module %s", md.ID)
	}
	return requireRow(res, "module %s", md.ID)
}

func (m *moduleStore) Get(ctx context.Context, id string) (*domain.ModuleDescriptor, error) {
	var doc string
	q := m.s.db.Rebind("SELECT descriptor FROM modules WHERE id = ?")
	if err := m.s.db.GetContext(ctx, &doc, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFoundError("module %s not found", id)
		}
		return nil, domain.InternalError(err, "reading module %s", id)
	}
	var md domain.ModuleDescriptor
	if err := json.Unmarshal([]byte(doc), &md); err != nil {
		return nil, domain.InternalError(err, "decoding module %s", id)
	}
	return &md, nil
}

func (m *moduleStore) GetAll(ctx context.Context) ([]*domain.ModuleDescriptor, error) {
	var docs []string
	if err := m.s.db.SelectContext(ctx, &docs, "SELECT descriptor FROM modules ORDER BY id"); err != nil {
		return nil, domain.InternalError(err, "listing modules")
	}
	out := make([]*domain.ModuleDescriptor, 0, len(docs))
	for _, doc := range docs {
		var md domain.ModuleDescriptor
		if err := json.Unmarshal([]byte(doc), &md); err != nil {
			return nil, domain.InternalError(err, "decoding module")
		}
		out = append(out, &md)
	}
	return out, nil
}

func (m *moduleStore) Delete(ctx context.Context, id string) error {
	q := m.s.db.Rebind("DELETE FROM modules WHERE id = ?")
	res, err := m.s.db.ExecContext(ctx, q, id)
	if err != nil {
		return domain.InternalError(err, "deleting module %s", id)
	}
	return requireRow(res, "module %s", id)
}

type tenantStore struct{ s *Store }

func (t *tenantStore) Insert(ctx context.Context, tn *domain.Tenant) error {
	doc, err := json.Marshal(tn)
	if err != nil {
		return domain.InternalError(err, "encoding tenant %s", tn.ID)
	}
	q := t.s.db.Rebind("INSERT INTO tenants (id, descriptor) VALUES (?, ?)")
	if _, err := t.s.db.ExecContext(ctx, q, tn.ID, string(doc)); err != nil {
		return domain.InternalError(err, "inserting tenant %s", tn.ID)
	}
	return nil
}

func (t *tenantStore) Update(ctx context.Context, tn *domain.Tenant) error {
	doc, err := json.Marshal(tn)
	if err != nil {
		return domain.InternalError(err, "encoding tenant %s", tn.ID)
	}
	q := t.s.db.Rebind("UPDATE tenants SET descriptor = ? WHERE id = ?")
	res, err := t.s.db.ExecContext(ctx, q, string(doc), tn.ID)
	if err != nil {
		return domain.InternalError(err, "updating tenant %s", tn.ID)
	}
	return requireRow(res, "tenant %s", tn.ID)
}

func (t *tenantStore) Get(ctx context.Context, id string) (*domain.Tenant, error) {
	var doc string
	q := t.s.db.Rebind("SELECT descriptor FROM tenants WHERE id = ?")
	if err := t.s.db.GetContext(ctx, &doc, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFoundError("tenant %s not found", id)
		}
		return nil, domain.InternalError(err, "reading tenant %s", id)
	}
	var tn domain.Tenant
	if err := json.Unmarshal([]byte(doc), &tn); err != nil {
		return nil, domain.InternalError(err, "decoding tenant %s", id)
	}
	return &tn, nil
}

func (t *tenantStore) GetAll(ctx context.Context) ([]*domain.Tenant, error) {
	var docs []string
	if err := t.s.db.SelectContext(ctx, &docs, "SELECT descriptor FROM tenants ORDER BY id"); err != nil {
		return nil, domain.InternalError(err, "listing tenants")
	}
	out := make([]*domain.Tenant, 0, len(docs))
	for _, doc := range docs {
		var tn domain.Tenant
		if err := json.Unmarshal([]byte(doc), &tn); err != nil {
			return nil, domain.InternalError(err, "decoding tenant")
		}
		out = append(out, &tn)
	}
	return out, nil
}

func (t *tenantStore) Delete(ctx context.Context, id string) error {
	q := t.s.db.Rebind("DELETE FROM tenants WHERE id = ?")
	res, err := t.s.db.ExecContext(ctx, q, id)
	if err != nil {
		return domain.InternalError(err, "deleting tenant %s", id)
	}
	return requireRow(res, "tenant %s", id)
}

type deploymentStore struct{ s *Store }

func (d *deploymentStore) Insert(ctx context.Context, dd *domain.DeploymentDescriptor) error {
	doc, err := json.Marshal(dd)
	if err != nil {
		return domain.InternalError(err, "encoding deployment %s", dd.InstID)
	}
	q := d.s.db.Rebind("INSERT INTO deployments (inst_id, srvc_id, descriptor) VALUES (?, ?, ?)")
	if _, err := d.s.db.ExecContext(ctx, q, dd.InstID, dd.SrvcID, string(doc)); err != nil {
		return domain.InternalError(err, "inserting deployment %s", dd.InstID)
	}
	return nil
}

func (d *deploymentStore) Get(ctx context.Context, instID string) (*domain.DeploymentDescriptor, error) {
	var doc string
	q := d.s.db.Rebind("SELECT descriptor FROM deployments WHERE inst_id = ?")
	if err := d.s.db.GetContext(ctx, &doc, q, instID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFoundError("instance %s not found", instID)
		}
		return nil, domain.InternalError(err, "reading deployment %s", instID)
	}
	var dd domain.DeploymentDescriptor
	if err := json.Unmarshal([]byte(doc), &dd); err != nil {
		return nil, domain.InternalError(err, "decoding deployment %s", instID)
	}
	return &dd, nil
}

func (d *deploymentStore) GetAll(ctx context.Context) ([]*domain.DeploymentDescriptor, error) {
	var docs []string
	if err := d.s.db.SelectContext(ctx, &docs, "SELECT descriptor FROM deployments ORDER BY srvc_id, inst_id"); err != nil {
		return nil, domain.InternalError(err, "listing deployments")
	}
	out := make([]*domain.DeploymentDescriptor, 0, len(docs))
	for _, doc := range docs {
		var dd domain.DeploymentDescriptor
		if err := json.Unmarshal([]byte(doc), &dd); err != nil {
			return nil, domain.InternalError(err, "decoding deployment")
		}
		out = append(out, &dd)
	}
	return out, nil
}

func (d *deploymentStore) Delete(ctx context.Context, instID string) error {
	q := d.s.db.Rebind("DELETE FROM deployments WHERE inst_id = ?")
	res, err := d.s.db.ExecContext(ctx, q, instID)
	if err != nil {
		return domain.InternalError(err, "deleting deployment %s", instID)
	}
	return requireRow(res, "instance %s", instID)
}

type timestampStore struct{ s *Store }

// Advance implements the SELECT ... FOR UPDATE; UPDATE cycle. The new
// value is wall-clock milliseconds, bumped past both the stored value and
// the caller's current value so it is strictly increasing.
func (t *timestampStore) Advance(ctx context.Context, key string, current int64) (int64, error) {
	tx, err := t.s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, domain.InternalError(err, "beginning timestamp tx")
	}
	defer tx.Rollback()

	var stored sql.NullInt64
	q := t.s.db.Rebind(t.s.dialect.SelectForUpdate("SELECT value FROM timestamps WHERE id = ?"))
	err = tx.GetContext(ctx, &stored, q, key)
	exists := true
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
	} else if err != nil {
		return 0, domain.InternalError(err, "reading timestamp %s", key)
	}

	next := time.Now().UnixMilli()
	if stored.Valid && next <= stored.Int64 {
		next = stored.Int64 + 1
	}
	if next <= current {
		next = current + 1
	}

	if exists {
		q = t.s.db.Rebind("UPDATE timestamps SET value = ? WHERE id = ?")
		_, err = tx.ExecContext(ctx, q, next, key)
	} else {
		q = t.s.db.Rebind("INSERT INTO timestamps (id, value) VALUES (?, ?)")
		_, err = tx.ExecContext(ctx, q, key, next)
	}
	if err != nil {
		return 0, domain.InternalError(err, "writing timestamp %s", key)
	}
	if err := tx.Commit(); err != nil {
		return 0, domain.InternalError(err, "committing timestamp %s", key)
	}
	return next, nil
}

func (t *timestampStore) Get(ctx context.Context, key string) (int64, error) {
	var value int64
	q := t.s.db.Rebind("SELECT value FROM timestamps WHERE id = ?")
	if err := t.s.db.GetContext(ctx, &value, q, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return -1, nil
		}
		return 0, domain.InternalError(err, "reading timestamp %s", key)
	}
	return value, nil
}

func requireRow(res sql.Result, format string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return domain.InternalError(err, "checking affected rows")
	}
	if n == 0 {
		return domain.NotFoundError(format+" not found", args...)
	}
	return nil
}

// Package admin exposes the CRUD surface for modules, tenants, and
// deployments. Every successful catalog or tenant write is persisted
// first and then announced on the cluster bus.
package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/okapilabs/okapi/internal/cluster"
	"github.com/okapilabs/okapi/internal/discovery"
	"github.com/okapilabs/okapi/internal/domain"
	"github.com/okapilabs/okapi/internal/module"
	"github.com/okapilabs/okapi/internal/storage"
	"github.com/okapilabs/okapi/internal/tenant"
)

// API wires the admin handlers to the runtime registries, the store, and
// the reload signal.
type API struct {
	catalog   *module.Catalog
	tenants   *tenant.Registry
	discovery *discovery.Manager
	store     storage.Store
	sync      *cluster.Sync
	logger    *slog.Logger
}

// New creates the admin API.
func New(catalog *module.Catalog, tenants *tenant.Registry, dm *discovery.Manager,
	store storage.Store, sync *cluster.Sync, logger *slog.Logger) *API {
	return &API{
		catalog:   catalog,
		tenants:   tenants,
		discovery: dm,
		store:     store,
		sync:      sync,
		logger:    logger,
	}
}

// Routes mounts the admin surface under /_/.
func (a *API) Routes(r chi.Router) {
	r.Route("/_/proxy/modules", func(r chi.Router) {
		r.Post("/", a.createModule)
		r.Get("/", a.listModules)
		r.Get("/{id}", a.getModule)
		r.Put("/{id}", a.updateModule)
		r.Delete("/{id}", a.deleteModule)
	})
	r.Route("/_/proxy/tenants", func(r chi.Router) {
		r.Post("/", a.createTenant)
		r.Get("/", a.listTenants)
		r.Get("/{id}", a.getTenant)
		r.Put("/{id}", a.updateTenant)
		r.Delete("/{id}", a.deleteTenant)
		r.Post("/{id}/modules", a.enableModule)
		r.Get("/{id}/modules", a.listEnabled)
		r.Delete("/{id}/modules/{mod}", a.disableModule)
	})
	r.Route("/_/discovery/modules", func(r chi.Router) {
		r.Post("/", a.deploy)
		r.Get("/", a.listDeployments)
		r.Get("/{srvcId}", a.getDeploymentsFor)
		r.Get("/{srvcId}/{instId}", a.getDeployment)
		r.Delete("/{srvcId}/{instId}", a.undeploy)
	})
}

func (a *API) createModule(w http.ResponseWriter, r *http.Request) {
	var md domain.ModuleDescriptor
	if err := json.NewDecoder(r.Body).Decode(&md); err != nil {
		respondError(w, domain.UserError("decoding module: %v", err))
		return
	}
	if md.ID == "" {
		md.ID = uuid.New().String()
	}
	if err := md.Validate(); err != nil {
		respondError(w, domain.UserError("%v", err))
		return
	}
	if err := a.catalog.Insert(&md); err != nil {
		respondError(w, err)
		return
	}
	if err := a.store.Modules().Insert(r.Context(), &md); err != nil {
		// The runtime insert succeeded but persistence failed; undo the
		// runtime change so the node stays consistent with the store.
		a.catalog.Delete(md.ID)
		respondError(w, err)
		return
	}
	a.signal(r.Context())
	w.Header().Set("Location", r.URL.Path+"/"+md.ID)
	respondJSON(w, http.StatusCreated, &md)
}

func (a *API) listModules(w http.ResponseWriter, r *http.Request) {
	snap := a.catalog.Snapshot()
	briefs := make([]domain.Brief, 0, snap.Len())
	for _, id := range snap.List() {
		briefs = append(briefs, snap.Get(id).Brief())
	}
	respondJSON(w, http.StatusOK, briefs)
}

func (a *API) getModule(w http.ResponseWriter, r *http.Request) {
	md, err := a.catalog.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, md)
}

func (a *API) updateModule(w http.ResponseWriter, r *http.Request) {
	var md domain.ModuleDescriptor
	if err := json.NewDecoder(r.Body).Decode(&md); err != nil {
		respondError(w, domain.UserError("decoding module: %v", err))
		return
	}
	if id := chi.URLParam(r, "id"); id != md.ID {
		respondError(w, domain.UserError("module.id=%s id=%s", md.ID, id))
		return
	}
	if err := md.Validate(); err != nil {
		respondError(w, domain.UserError("%v", err))
		return
	}
	if err := a.catalog.Update(&md); err != nil {
		respondError(w, err)
		return
	}
	if err := a.store.Modules().Update(r.Context(), &md); err != nil {
		respondError(w, err)
		return
	}
	a.signal(r.Context())
	respondJSON(w, http.StatusOK, &md)
}

func (a *API) deleteModule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.catalog.Delete(id); err != nil {
		respondError(w, err)
		return
	}
	if err := a.store.Modules().Delete(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	a.signal(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) createTenant(w http.ResponseWriter, r *http.Request) {
	var t domain.Tenant
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		respondError(w, domain.UserError("decoding tenant: %v", err))
		return
	}
	if err := a.tenants.Insert(&t); err != nil {
		respondError(w, err)
		return
	}
	if err := a.store.Tenants().Insert(r.Context(), &t); err != nil {
		a.tenants.Delete(t.ID)
		respondError(w, err)
		return
	}
	a.signal(r.Context())
	w.Header().Set("Location", r.URL.Path+"/"+t.ID)
	respondJSON(w, http.StatusCreated, &t)
}

func (a *API) listTenants(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, a.tenants.List())
}

func (a *API) getTenant(w http.ResponseWriter, r *http.Request) {
	t, err := a.tenants.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

func (a *API) updateTenant(w http.ResponseWriter, r *http.Request) {
	var t domain.Tenant
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		respondError(w, domain.UserError("decoding tenant: %v", err))
		return
	}
	if id := chi.URLParam(r, "id"); id != t.ID {
		respondError(w, domain.UserError("tenant.id=%s id=%s", t.ID, id))
		return
	}
	if err := a.tenants.Update(&t); err != nil {
		respondError(w, err)
		return
	}
	if err := a.persistTenant(r.Context(), t.ID); err != nil {
		respondError(w, err)
		return
	}
	a.signal(r.Context())
	respondJSON(w, http.StatusOK, &t)
}

func (a *API) deleteTenant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.tenants.Delete(id); err != nil {
		respondError(w, err)
		return
	}
	if err := a.store.Tenants().Delete(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	a.signal(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) enableModule(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "id")
	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ID == "" {
		respondError(w, domain.UserError("expected {\"id\": \"<module>\"}"))
		return
	}
	if err := a.tenants.Enable(tenantID, body.ID, a.catalog); err != nil {
		respondError(w, err)
		return
	}
	if err := a.persistTenant(r.Context(), tenantID); err != nil {
		respondError(w, err)
		return
	}
	a.signal(r.Context())
	respondJSON(w, http.StatusCreated, body)
}

func (a *API) listEnabled(w http.ResponseWriter, r *http.Request) {
	t, err := a.tenants.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	type moduleRef struct {
		ID string `json:"id"`
	}
	refs := make([]moduleRef, 0, len(t.Enabled))
	for id := range t.Enabled {
		refs = append(refs, moduleRef{ID: id})
	}
	respondJSON(w, http.StatusOK, refs)
}

func (a *API) disableModule(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "id")
	if err := a.tenants.Disable(tenantID, chi.URLParam(r, "mod")); err != nil {
		respondError(w, err)
		return
	}
	if err := a.persistTenant(r.Context(), tenantID); err != nil {
		respondError(w, err)
		return
	}
	a.signal(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) deploy(w http.ResponseWriter, r *http.Request) {
	var dd domain.DeploymentDescriptor
	if err := json.NewDecoder(r.Body).Decode(&dd); err != nil {
		respondError(w, domain.UserError("decoding deployment: %v", err))
		return
	}
	created, err := a.discovery.Deploy(&dd)
	if err != nil {
		respondError(w, err)
		return
	}
	if err := a.store.Deployments().Insert(r.Context(), created); err != nil {
		a.discovery.Undeploy(created.InstID)
		respondError(w, err)
		return
	}
	w.Header().Set("Location", r.URL.Path+"/"+created.SrvcID+"/"+created.InstID)
	respondJSON(w, http.StatusCreated, created)
}

func (a *API) listDeployments(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, a.discovery.List())
}

func (a *API) getDeploymentsFor(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, a.discovery.Get(chi.URLParam(r, "srvcId")))
}

func (a *API) getDeployment(w http.ResponseWriter, r *http.Request) {
	dd, err := a.discovery.GetInstance(chi.URLParam(r, "instId"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dd)
}

func (a *API) undeploy(w http.ResponseWriter, r *http.Request) {
	instID := chi.URLParam(r, "instId")
	if err := a.discovery.Undeploy(instID); err != nil {
		respondError(w, err)
		return
	}
	if err := a.store.Deployments().Delete(r.Context(), instID); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// persistTenant writes the registry's current view of the tenant through
// to the store.
func (a *API) persistTenant(ctx context.Context, id string) error {
	t, err := a.tenants.Get(id)
	if err != nil {
		return err
	}
	return a.store.Tenants().Update(ctx, t)
}

// signal announces the write to the cluster. Failures are logged only;
// the write is already persisted and the next successful signal resyncs
// every node.
func (a *API) signal(ctx context.Context) {
	if a.sync == nil {
		return
	}
	if err := a.sync.Signal(ctx); err != nil {
		a.logger.Error("reload signal failed", slog.String("error", err.Error()))
	}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), domain.HTTPStatus(err))
}

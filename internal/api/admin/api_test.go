package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/okapilabs/okapi/internal/cluster"
	"github.com/okapilabs/okapi/internal/discovery"
	"github.com/okapilabs/okapi/internal/domain"
	"github.com/okapilabs/okapi/internal/module"
	"github.com/okapilabs/okapi/internal/storage/memory"
	"github.com/okapilabs/okapi/internal/tenant"
)

type env struct {
	router *chi.Mux
	store  *memory.Store
	sync   *cluster.Sync
}

func newEnv(t *testing.T) *env {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	bus := cluster.NewLocalBus()
	t.Cleanup(func() { bus.Close() })

	catalog := module.NewCatalog()
	tenants := tenant.NewRegistry()
	dm := discovery.NewManager()
	sync := cluster.NewSync(bus, store.Timestamps(), func(context.Context) error { return nil }, logger)

	r := chi.NewRouter()
	New(catalog, tenants, dm, store, sync, logger).Routes(r)
	return &env{router: r, store: store, sync: sync}
}

func (e *env) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestAdmin_ModuleLifecycle(t *testing.T) {
	e := newEnv(t)

	md := domain.ModuleDescriptor{
		ID: "m-sample",
		Provides: []domain.ModuleInterface{{
			ID:       "sample",
			Handlers: []domain.RoutingEntry{{Path: "/sample"}},
		}},
	}
	rec := e.do(t, "POST", "/_/proxy/modules", md)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	if loc := rec.Header().Get("Location"); loc != "/_/proxy/modules/m-sample" {
		t.Errorf("Location = %q", loc)
	}
	if e.sync.LocalTs() < 0 {
		t.Error("create did not send the reload signal")
	}

	// Persisted through to the store.
	if _, err := e.store.Modules().Get(context.Background(), "m-sample"); err != nil {
		t.Errorf("module not persisted: %v", err)
	}

	if rec = e.do(t, "POST", "/_/proxy/modules", md); rec.Code != http.StatusBadRequest {
		t.Errorf("duplicate create: %d", rec.Code)
	}

	rec = e.do(t, "GET", "/_/proxy/modules/m-sample", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: %d", rec.Code)
	}
	var got domain.ModuleDescriptor
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.ID != "m-sample" {
		t.Errorf("got id %q", got.ID)
	}

	rec = e.do(t, "GET", "/_/proxy/modules", nil)
	var briefs []domain.Brief
	if err := json.Unmarshal(rec.Body.Bytes(), &briefs); err != nil {
		t.Fatal(err)
	}
	if len(briefs) != 1 || briefs[0].ID != "m-sample" {
		t.Errorf("list = %+v", briefs)
	}

	if rec = e.do(t, "DELETE", "/_/proxy/modules/m-sample", nil); rec.Code != http.StatusNoContent {
		t.Errorf("delete: %d", rec.Code)
	}
	if rec = e.do(t, "GET", "/_/proxy/modules/m-sample", nil); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: %d", rec.Code)
	}
}

func TestAdmin_InvalidModuleRejected(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, "POST", "/_/proxy/modules", domain.ModuleDescriptor{ID: "Bad Id"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid id accepted: %d", rec.Code)
	}
}

func TestAdmin_ModuleGetsGeneratedID(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, "POST", "/_/proxy/modules", map[string]any{})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	var got domain.ModuleDescriptor
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.ID == "" {
		t.Error("expected generated module id")
	}
}

func TestAdmin_TenantEnableDisable(t *testing.T) {
	e := newEnv(t)

	e.do(t, "POST", "/_/proxy/modules", domain.ModuleDescriptor{ID: "m-x"})
	if rec := e.do(t, "POST", "/_/proxy/tenants", domain.Tenant{ID: "t1"}); rec.Code != http.StatusCreated {
		t.Fatalf("tenant create: %d", rec.Code)
	}

	rec := e.do(t, "POST", "/_/proxy/tenants/t1/modules", map[string]string{"id": "m-x"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("enable: %d %s", rec.Code, rec.Body.String())
	}

	// Enabling an unknown module fails.
	rec = e.do(t, "POST", "/_/proxy/tenants/t1/modules", map[string]string{"id": "ghost"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("enable unknown module: %d", rec.Code)
	}

	rec = e.do(t, "GET", "/_/proxy/tenants/t1/modules", nil)
	var enabled []struct {
		ID string `json:"id"`
	}
	json.Unmarshal(rec.Body.Bytes(), &enabled)
	if len(enabled) != 1 || enabled[0].ID != "m-x" {
		t.Errorf("enabled = %+v", enabled)
	}

	// The enablement is persisted.
	tn, err := e.store.Tenants().Get(context.Background(), "t1")
	if err != nil || !tn.IsEnabled("m-x") {
		t.Errorf("persisted tenant: %+v, %v", tn, err)
	}

	if rec = e.do(t, "DELETE", "/_/proxy/tenants/t1/modules/m-x", nil); rec.Code != http.StatusNoContent {
		t.Errorf("disable: %d", rec.Code)
	}
	rec = e.do(t, "GET", "/_/proxy/tenants/t1/modules", nil)
	enabled = nil
	json.Unmarshal(rec.Body.Bytes(), &enabled)
	if len(enabled) != 0 {
		t.Errorf("enabled after disable = %+v", enabled)
	}
}

func TestAdmin_DeploymentLifecycle(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, "POST", "/_/discovery/modules",
		domain.DeploymentDescriptor{SrvcID: "m-x", URL: "http://h1:9001"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("deploy: %d %s", rec.Code, rec.Body.String())
	}
	var dd domain.DeploymentDescriptor
	json.Unmarshal(rec.Body.Bytes(), &dd)
	if dd.InstID == "" {
		t.Fatal("expected assigned instId")
	}

	rec = e.do(t, "GET", "/_/discovery/modules/m-x/"+dd.InstID, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("get deployment: %d", rec.Code)
	}

	if rec = e.do(t, "DELETE", "/_/discovery/modules/m-x/"+dd.InstID, nil); rec.Code != http.StatusNoContent {
		t.Errorf("undeploy: %d", rec.Code)
	}
	if rec = e.do(t, "GET", "/_/discovery/modules/m-x/"+dd.InstID, nil); rec.Code != http.StatusNotFound {
		t.Errorf("get after undeploy: %d", rec.Code)
	}
}

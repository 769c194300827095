package tenant

import (
	"testing"

	"github.com/okapilabs/okapi/internal/domain"
	"github.com/okapilabs/okapi/internal/module"
)

func newCatalog(t *testing.T, ids ...string) *module.Catalog {
	t.Helper()
	c := module.NewCatalog()
	for _, id := range ids {
		if err := c.Insert(&domain.ModuleDescriptor{ID: id}); err != nil {
			t.Fatal(err)
		}
	}
	return c
}

func TestRegistry_EnableDisableRoundTrip(t *testing.T) {
	r := NewRegistry()
	c := newCatalog(t, "m-echo")
	if err := r.Insert(&domain.Tenant{ID: "t1"}); err != nil {
		t.Fatal(err)
	}

	before, _ := r.Get("t1")
	if err := r.Enable("t1", "m-echo", c); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if !r.IsEnabled("t1", "m-echo") {
		t.Fatal("m-echo should be enabled")
	}
	if err := r.Disable("t1", "m-echo"); err != nil {
		t.Fatalf("disable: %v", err)
	}
	after, _ := r.Get("t1")
	if len(after.Enabled) != len(before.Enabled) {
		t.Errorf("enable/disable did not restore the prior set: %v vs %v",
			after.Enabled, before.Enabled)
	}
}

func TestRegistry_EnableUnknownModule(t *testing.T) {
	r := NewRegistry()
	c := newCatalog(t)
	r.Insert(&domain.Tenant{ID: "t1"})
	if err := r.Enable("t1", "ghost", c); domain.KindOf(err) != domain.KindNotFound {
		t.Errorf("expected not-found enabling unknown module, got %v", err)
	}
}

func TestRegistry_EnableUnknownTenant(t *testing.T) {
	r := NewRegistry()
	c := newCatalog(t, "m")
	if err := r.Enable("nope", "m", c); domain.KindOf(err) != domain.KindNotFound {
		t.Errorf("expected not-found, got %v", err)
	}
}

func TestRegistry_DuplicateInsert(t *testing.T) {
	r := NewRegistry()
	r.Insert(&domain.Tenant{ID: "t1"})
	if err := r.Insert(&domain.Tenant{ID: "t1"}); domain.KindOf(err) != domain.KindUser {
		t.Errorf("expected user error, got %v", err)
	}
}

func TestRegistry_GetReturnsCopy(t *testing.T) {
	r := NewRegistry()
	c := newCatalog(t, "m")
	r.Insert(&domain.Tenant{ID: "t1"})
	got, _ := r.Get("t1")
	got.Enabled["m"] = true
	if r.IsEnabled("t1", "m") {
		t.Error("mutating a Get result leaked into the registry")
	}
	_ = c
}

func TestRegistry_ReplaceAll(t *testing.T) {
	r := NewRegistry()
	r.Insert(&domain.Tenant{ID: "t-old"})
	r.ReplaceAll([]*domain.Tenant{
		{ID: "t1", Enabled: map[string]bool{"m": true}},
	})
	if _, err := r.Get("t-old"); err == nil {
		t.Error("t-old should be gone")
	}
	if !r.IsEnabled("t1", "m") {
		t.Error("t1/m should be enabled after reload")
	}
}

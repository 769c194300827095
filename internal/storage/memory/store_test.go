package memory

import (
	"context"
	"testing"

	"github.com/okapilabs/okapi/internal/domain"
)

func TestModuleStore_CRUD(t *testing.T) {
	ctx := context.Background()
	s := New()
	md := &domain.ModuleDescriptor{ID: "m-a", Name: "Module A"}

	if err := s.Modules().Insert(ctx, md); err != nil {
		t.Fatal(err)
	}
	if err := s.Modules().Insert(ctx, md); domain.KindOf(err) != domain.KindUser {
		t.Errorf("duplicate insert: %v", err)
	}

	got, err := s.Modules().Get(ctx, "m-a")
	if err != nil || got.Name != "Module A" {
		t.Fatalf("get: %v %v", got, err)
	}

	md.Name = "renamed"
	if err := s.Modules().Update(ctx, md); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Modules().Get(ctx, "m-a")
	if got.Name != "renamed" {
		t.Errorf("update not applied: %q", got.Name)
	}

	all, err := s.Modules().GetAll(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("getAll: %v %v", all, err)
	}

	if err := s.Modules().Delete(ctx, "m-a"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Modules().Get(ctx, "m-a"); domain.KindOf(err) != domain.KindNotFound {
		t.Errorf("get after delete: %v", err)
	}
}

func TestTenantStore_CRUD(t *testing.T) {
	ctx := context.Background()
	s := New()
	tn := &domain.Tenant{ID: "t1", Enabled: map[string]bool{"m": true}}
	if err := s.Tenants().Insert(ctx, tn); err != nil {
		t.Fatal(err)
	}
	got, err := s.Tenants().Get(ctx, "t1")
	if err != nil || !got.IsEnabled("m") {
		t.Fatalf("get: %+v %v", got, err)
	}
	// The stored record is isolated from later caller mutations.
	tn.Enabled["other"] = true
	got, _ = s.Tenants().Get(ctx, "t1")
	if got.IsEnabled("other") {
		t.Error("store shares memory with caller")
	}
}

func TestDeploymentStore_CRUD(t *testing.T) {
	ctx := context.Background()
	s := New()
	dd := &domain.DeploymentDescriptor{InstID: "i1", SrvcID: "m", URL: "http://h1"}
	if err := s.Deployments().Insert(ctx, dd); err != nil {
		t.Fatal(err)
	}
	got, err := s.Deployments().Get(ctx, "i1")
	if err != nil || got.URL != "http://h1" {
		t.Fatalf("get: %+v %v", got, err)
	}
	if err := s.Deployments().Delete(ctx, "i1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Deployments().Delete(ctx, "i1"); domain.KindOf(err) != domain.KindNotFound {
		t.Errorf("second delete: %v", err)
	}
}

func TestTimestampStore_AdvanceStrictlyIncreasing(t *testing.T) {
	ctx := context.Background()
	s := New()

	if v, err := s.Timestamps().Get(ctx, "modules"); err != nil || v != -1 {
		t.Fatalf("initial get = %d, %v", v, err)
	}

	var prev int64 = -1
	for i := 0; i < 50; i++ {
		v, err := s.Timestamps().Advance(ctx, "modules", prev)
		if err != nil {
			t.Fatal(err)
		}
		if v <= prev {
			t.Fatalf("advance %d returned %d after %d", i, v, prev)
		}
		prev = v
	}

	if v, _ := s.Timestamps().Get(ctx, "modules"); v != prev {
		t.Errorf("stored %d, want %d", v, prev)
	}
}

func TestTimestampStore_AdvancePastCaller(t *testing.T) {
	ctx := context.Background()
	s := New()
	far := int64(1) << 60
	v, err := s.Timestamps().Advance(ctx, "modules", far)
	if err != nil {
		t.Fatal(err)
	}
	if v <= far {
		t.Errorf("advance returned %d, not past caller's %d", v, far)
	}
}

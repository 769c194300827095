package auth

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/okapilabs/okapi/internal/domain"
)

func hop(moduleID string, entry domain.RoutingEntry) *domain.ModuleInstance {
	return &domain.ModuleInstance{
		Module: &domain.ModuleDescriptor{ID: moduleID},
		Entry:  &entry,
	}
}

func TestPlanHeaders_SanitizesInbound(t *testing.T) {
	h := http.Header{}
	h.Set(domain.HeaderPermissionsRequired, "forged.perm")
	h.Set(domain.HeaderModuleTokens, "{\"m\":\"forged\"}")
	h.Set(domain.HeaderExtraPermissions, "[\"forged\"]")

	PlanHeaders(nil, h, "")

	if h.Get(domain.HeaderPermissionsRequired) != "" {
		t.Error("inbound permissions-required survived sanitizing")
	}
	if h.Get(domain.HeaderModuleTokens) != "" {
		t.Error("inbound module-tokens survived sanitizing")
	}
	if h.Get(domain.HeaderExtraPermissions) != "" {
		t.Error("inbound extra-permissions survived sanitizing")
	}
}

func TestPlanHeaders_UnionsPermissions(t *testing.T) {
	hops := []*domain.ModuleInstance{
		hop("m-a", domain.RoutingEntry{Path: "/a",
			PermissionsRequired: []string{"a.read", "shared"},
			PermissionsDesired:  []string{"a.extra"}}),
		hop("m-b", domain.RoutingEntry{Path: "/b",
			PermissionsRequired: []string{"b.read", "shared"}}),
	}
	h := http.Header{}
	PlanHeaders(hops, h, "tok")

	if got := h.Get(domain.HeaderPermissionsRequired); got != "a.read,b.read,shared" {
		t.Errorf("required = %q", got)
	}
	if got := h.Get(domain.HeaderPermissionsDesired); got != "a.extra" {
		t.Errorf("desired = %q", got)
	}
}

func TestPlanHeaders_ModulePermissionsAlwaysSet(t *testing.T) {
	h := http.Header{}
	PlanHeaders([]*domain.ModuleInstance{hop("m", domain.RoutingEntry{Path: "/"})}, h, "")
	if got := h.Get(domain.HeaderModulePermissions); got != "{}" {
		t.Errorf("module-permissions = %q, want empty object", got)
	}
}

func TestPlanHeaders_RedirectPermsGoToExtra(t *testing.T) {
	hops := []*domain.ModuleInstance{
		hop("m-r", domain.RoutingEntry{Path: "/old", Type: domain.ProxyRedirect,
			RedirectPath: "/new", ModulePermissions: []string{"redir.perm"}}),
		hop("m-b", domain.RoutingEntry{Path: "/new",
			ModulePermissions: []string{"b.perm"}}),
	}
	h := http.Header{}
	PlanHeaders(hops, h, "")

	var modPerms map[string][]string
	if err := json.Unmarshal([]byte(h.Get(domain.HeaderModulePermissions)), &modPerms); err != nil {
		t.Fatal(err)
	}
	if _, ok := modPerms["m-r"]; ok {
		t.Error("redirect hop leaked into module-permissions")
	}
	if perms := modPerms["m-b"]; len(perms) != 1 || perms[0] != "b.perm" {
		t.Errorf("m-b perms = %v", perms)
	}

	var extra []string
	if err := json.Unmarshal([]byte(h.Get(domain.HeaderExtraPermissions)), &extra); err != nil {
		t.Fatal(err)
	}
	if len(extra) != 1 || extra[0] != "redir.perm" {
		t.Errorf("extra = %v", extra)
	}
}

func TestPlanHeaders_SeedsDefaultToken(t *testing.T) {
	hops := []*domain.ModuleInstance{
		hop("m-a", domain.RoutingEntry{Path: "/a"}),
		hop("m-b", domain.RoutingEntry{Path: "/b"}),
	}
	PlanHeaders(hops, http.Header{}, "CLIENT")
	for _, hp := range hops {
		if hp.AuthToken != "CLIENT" {
			t.Errorf("hop %s token = %q", hp.Module.ID, hp.AuthToken)
		}
	}
}

func TestApplyModuleTokens(t *testing.T) {
	hops := []*domain.ModuleInstance{
		hop("m-a", domain.RoutingEntry{Path: "/a"}),
		hop("m-b", domain.RoutingEntry{Path: "/b"}),
	}
	for _, hp := range hops {
		hp.AuthToken = "CLIENT"
	}
	if err := ApplyModuleTokens(hops, `{"m-a":"TOK-A","_":"TOK-DEF"}`); err != nil {
		t.Fatal(err)
	}
	if hops[0].AuthToken != "TOK-A" {
		t.Errorf("m-a token = %q", hops[0].AuthToken)
	}
	if hops[1].AuthToken != "TOK-DEF" {
		t.Errorf("m-b token = %q, want default", hops[1].AuthToken)
	}
}

func TestApplyModuleTokens_NoDefaultLeavesToken(t *testing.T) {
	hops := []*domain.ModuleInstance{hop("m-b", domain.RoutingEntry{Path: "/b"})}
	hops[0].AuthToken = "CLIENT"
	if err := ApplyModuleTokens(hops, `{"m-a":"TOK-A"}`); err != nil {
		t.Fatal(err)
	}
	if hops[0].AuthToken != "CLIENT" {
		t.Errorf("token = %q, want unchanged", hops[0].AuthToken)
	}
}

func TestApplyModuleTokens_Malformed(t *testing.T) {
	if err := ApplyModuleTokens(nil, "not json"); err == nil {
		t.Error("malformed token plan should error")
	}
}

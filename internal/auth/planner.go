// Package auth synthesizes the permission plan headers the auth module
// consumes and applies the per-hop token plan it returns.
package auth

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/okapilabs/okapi/internal/domain"
)

// PlanHeaders prepares the request headers for the first hop: it sanitizes
// any inbound permission headers, unions the required/desired permissions
// across hops, builds the per-module permission map, and seeds every hop's
// auth token with the client's token.
//
// The module-permissions header is set even when the map is empty; the
// auth module reads its presence as "the permission plan is sanctioned"
// and answers with module tokens.
func PlanHeaders(hops []*domain.ModuleInstance, h http.Header, defaultToken string) {
	h.Del(domain.HeaderPermissionsRequired)
	h.Del(domain.HeaderPermissionsDesired)
	h.Del(domain.HeaderModulePermissions)
	h.Del(domain.HeaderExtraPermissions)
	h.Del(domain.HeaderModuleTokens)

	required := map[string]bool{}
	desired := map[string]bool{}
	extra := map[string]bool{}
	modPerms := map[string][]string{}

	for _, hop := range hops {
		re := hop.Entry
		for _, p := range re.PermissionsRequired {
			required[p] = true
		}
		for _, p := range re.PermissionsDesired {
			desired[p] = true
		}
		redirect := re.ProxyType() == domain.ProxyRedirect
		if len(re.ModulePermissions) > 0 {
			if redirect {
				for _, p := range re.ModulePermissions {
					extra[p] = true
				}
			} else {
				modPerms[hop.Module.ID] = append(modPerms[hop.Module.ID], re.ModulePermissions...)
			}
		}
		// Top-level module permissions are deprecated but still honoured.
		if len(hop.Module.ModulePermissions) > 0 {
			if redirect {
				for _, p := range hop.Module.ModulePermissions {
					extra[p] = true
				}
			} else {
				modPerms[hop.Module.ID] = append(modPerms[hop.Module.ID], hop.Module.ModulePermissions...)
			}
		}
		hop.AuthToken = defaultToken
	}

	if len(required) > 0 {
		h.Set(domain.HeaderPermissionsRequired, joinSorted(required))
	}
	if len(desired) > 0 {
		h.Set(domain.HeaderPermissionsDesired, joinSorted(desired))
	}
	mp, _ := json.Marshal(modPerms)
	h.Set(domain.HeaderModulePermissions, string(mp))
	if len(extra) > 0 {
		ep, _ := json.Marshal(sortedKeys(extra))
		h.Set(domain.HeaderExtraPermissions, string(ep))
	}
}

// ApplyModuleTokens parses the auth module's token plan (a JSON object of
// moduleId to token, with "_" as the default) and rewrites each hop's auth
// token. The raw header value is passed in; the caller strips the header
// afterwards so no later module sees it.
func ApplyModuleTokens(hops []*domain.ModuleInstance, tokensJSON string) error {
	if tokensJSON == "" {
		return nil
	}
	var tokens map[string]string
	if err := json.Unmarshal([]byte(tokensJSON), &tokens); err != nil {
		return domain.UserError("invalid %s header: %v", domain.HeaderModuleTokens, err)
	}
	for _, hop := range hops {
		if tok, ok := tokens[hop.Module.ID]; ok {
			hop.AuthToken = tok
		} else if tok, ok := tokens["_"]; ok {
			hop.AuthToken = tok
		}
	}
	return nil
}

func joinSorted(set map[string]bool) string {
	keys := sortedKeys(set)
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += ","
		}
		out += k
	}
	return out
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package auth

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"

	"github.com/okapilabs/okapi/internal/domain"
)

var bearerPattern = regexp.MustCompile(`Bearer\s+(.+)`)

// ErrMissingTenant is returned when neither an X-Okapi-Tenant header nor a
// tenant claim in the token identifies the tenant. The proxy surface maps
// it to 403.
var ErrMissingTenant = &domain.Error{Kind: domain.KindAny, Msg: "Missing Tenant"}

// NormalizeTenant folds the Authorization header into X-Okapi-Token and
// returns the tenant id for the request. A conflict between the two token
// headers is a user error; a request with no tenant header and no
// decodable tenant claim is rejected with 403.
func NormalizeTenant(h http.Header) (string, error) {
	authz := h.Get(domain.HeaderAuthorization)
	tok := h.Get(domain.HeaderToken)

	if authz != "" {
		if m := bearerPattern.FindStringSubmatch(authz); m != nil {
			authz = m[1]
		}
	}
	if authz != "" && tok != "" && authz != tok {
		return "", domain.UserError("Different tokens in Authentication and X-Okapi-Token. Use only one of them")
	}
	if tok == "" && authz != "" {
		h.Set(domain.HeaderToken, authz)
		h.Del(domain.HeaderAuthorization)
		tok = authz
	}

	tenantID := h.Get(domain.HeaderTenant)
	if tenantID == "" {
		tenantID = TenantFromToken(tok)
		if tenantID != "" {
			h.Set(domain.HeaderTenant, tenantID)
		}
	}
	if tenantID == "" {
		return "", ErrMissingTenant
	}
	return tenantID, nil
}

// TenantFromToken extracts the tenant claim from the middle segment of a
// dot-separated token. Parsing is best effort: any malformed token yields
// an empty tenant, never an error.
func TenantFromToken(token string) string {
	parts := strings.Split(token, ".")
	if len(parts) < 2 {
		return ""
	}
	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return ""
	}
	var claims struct {
		Tenant string `json:"tenant"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return ""
	}
	return claims.Tenant
}

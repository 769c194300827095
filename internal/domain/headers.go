package domain

// The X-Okapi-* headers the gateway consumes, injects, and honours.
const (
	HeaderAuthorization = "Authorization"

	HeaderToken  = "X-Okapi-Token"
	HeaderTenant = "X-Okapi-Tenant"
	HeaderURL    = "X-Okapi-Url"
	HeaderTrace  = "X-Okapi-Trace"
	HeaderStop   = "X-Okapi-Stop"

	HeaderPermissionsRequired = "X-Okapi-Permissions-Required"
	HeaderPermissionsDesired  = "X-Okapi-Permissions-Desired"
	HeaderModulePermissions   = "X-Okapi-Module-Permissions"
	HeaderExtraPermissions    = "X-Okapi-Extra-Permissions"
	HeaderModuleTokens        = "X-Okapi-Module-Tokens"
)

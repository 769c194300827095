package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// ProxyType describes how a module participates in the request pipeline.
type ProxyType string

const (
	// ProxyRequestResponse modules see the request body and their response
	// body feeds the next hop. This is the default.
	ProxyRequestResponse ProxyType = "request-response"
	// ProxyRequestOnly modules see the request body but their response body
	// is discarded unless they fail.
	ProxyRequestOnly ProxyType = "request-only"
	// ProxyHeaders modules see only the request headers.
	ProxyHeaders ProxyType = "headers"
	// ProxyRedirect entries rewrite the request path to another module's
	// entry without an upstream call of their own.
	ProxyRedirect ProxyType = "redirect"
)

// DefaultPhaseLevel orders plain handlers after auth-type filters.
const DefaultPhaseLevel = "50"

// RoutingEntry selects requests by path and method and describes how the
// owning module is invoked for them.
type RoutingEntry struct {
	Methods             []string  `json:"methods,omitempty"`
	Path                string    `json:"path,omitempty"`
	PathPattern         string    `json:"pathPattern,omitempty"`
	Level               string    `json:"level,omitempty"`
	Type                ProxyType `json:"type,omitempty"`
	RedirectPath        string    `json:"redirectPath,omitempty"`
	PermissionsRequired []string  `json:"permissionsRequired,omitempty"`
	PermissionsDesired  []string  `json:"permissionsDesired,omitempty"`
	ModulePermissions   []string  `json:"modulePermissions,omitempty"`
}

// ProxyType returns the entry's type, defaulting to request-response.
func (e *RoutingEntry) ProxyType() ProxyType {
	if e.Type == "" {
		return ProxyRequestResponse
	}
	return e.Type
}

// PhaseLevel is the lexicographic sort key that orders hops in a pipeline.
func (e *RoutingEntry) PhaseLevel() string {
	if e.Level == "" {
		return DefaultPhaseLevel
	}
	return e.Level
}

// Match reports whether the entry selects the given uri and method. Query
// and fragment are ignored. An empty method matches the path part only,
// which the pipeline builder uses to probe for non-filter handlers.
func (e *RoutingEntry) Match(uri, method string) bool {
	p := stripQuery(uri)
	if e.PathPattern != "" {
		re, err := patternRegexp(e.PathPattern)
		if err != nil {
			return false
		}
		if !re.MatchString(p) {
			return false
		}
	} else if !strings.HasPrefix(p, e.Path) {
		return false
	}
	return method == "" || e.matchMethod(method)
}

func (e *RoutingEntry) matchMethod(method string) bool {
	if len(e.Methods) == 0 {
		return true
	}
	for _, m := range e.Methods {
		if m == "*" || m == method {
			return true
		}
	}
	return false
}

// RedirectURI rewrites uri for the redirect target: the entry's matched
// path prefix is replaced by redirectPath, keeping the rest of the path
// and any query string.
func (e *RoutingEntry) RedirectURI(uri string) string {
	p := stripQuery(uri)
	rest := ""
	if e.Path != "" && strings.HasPrefix(p, e.Path) {
		rest = p[len(e.Path):]
	}
	return e.RedirectPath + rest + querySuffix(uri)
}

// Validate checks the entry in the context named by section (for error
// messages only).
func (e *RoutingEntry) Validate(section string) error {
	if e.Path == "" && e.PathPattern == "" {
		return fmt.Errorf("missing path or pathPattern in %s routing entry", section)
	}
	if e.PathPattern != "" {
		if _, err := patternRegexp(e.PathPattern); err != nil {
			return fmt.Errorf("invalid pathPattern %q in %s: %w", e.PathPattern, section, err)
		}
	}
	if e.ProxyType() == ProxyRedirect && e.RedirectPath == "" {
		return fmt.Errorf("redirect entry in %s has no redirectPath", section)
	}
	return nil
}

// patternRegexp converts a path pattern to an anchored regexp. `*` matches
// a run of non-slash characters and `{name}` a single path segment.
func patternRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; c {
		case '*':
			b.WriteString("[^/]*")
		case '{':
			j := strings.IndexByte(pattern[i:], '}')
			if j < 0 {
				return nil, fmt.Errorf("unterminated { in pattern")
			}
			b.WriteString("[^/]+")
			i += j
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

func stripQuery(uri string) string {
	if i := strings.IndexAny(uri, "?#"); i >= 0 {
		return uri[:i]
	}
	return uri
}

func querySuffix(uri string) string {
	if i := strings.IndexAny(uri, "?#"); i >= 0 {
		return uri[i:]
	}
	return ""
}

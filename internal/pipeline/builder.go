// Package pipeline composes the ordered list of module hops for a request.
package pipeline

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/okapilabs/okapi/internal/domain"
	"github.com/okapilabs/okapi/internal/module"
)

// Builder builds pipelines from a catalog snapshot. It is a pure function
// of (catalog, tenant, request): it never opens sockets and never suspends.
type Builder struct {
	logger *slog.Logger
}

// NewBuilder creates a pipeline builder.
func NewBuilder(logger *slog.Logger) *Builder {
	return &Builder{logger: logger}
}

// Build returns the ordered hops for the request, or an error already
// classified for the HTTP surface.
func (b *Builder) Build(snap *module.Snapshot, t *domain.Tenant, method, uri string) ([]*domain.ModuleInstance, error) {
	var hops []*domain.ModuleInstance
	for _, id := range snap.List() {
		if !t.IsEnabled(id) {
			continue
		}
		md := snap.Get(id)
		for _, re := range md.ProxyRoutingEntries() {
			if re.Match(uri, method) {
				expanded, err := b.expandRedirects(snap, t, md, re, method, uri, "")
				if err != nil {
					return nil, err
				}
				hops = append(hops, expanded...)
			}
		}
	}

	// Stable sort keeps catalog iteration order for equal phase levels.
	sort.SliceStable(hops, func(i, j int) bool {
		return hops[i].Entry.PhaseLevel() < hops[j].Entry.PhaseLevel()
	})

	// A pipeline of nothing but '/'-rooted filters means no real handler
	// matched; that is a 404, not a pipeline.
	found := false
	for _, h := range hops {
		if !h.Entry.Match("/", "") {
			found = true
		}
	}
	if !found {
		return nil, domain.NotFoundError("No suitable module found for %s", uri)
	}
	return hops, nil
}

// expandRedirects appends the hop for (md, re, uri) and, for redirect
// entries, recursively appends the hops of every enabled module matching
// the redirect path. The trail of redirect paths traversed so far detects
// cycles.
func (b *Builder) expandRedirects(snap *module.Snapshot, t *domain.Tenant,
	md *domain.ModuleDescriptor, re *domain.RoutingEntry,
	method, uri, trail string) ([]*domain.ModuleInstance, error) {

	hops := []*domain.ModuleInstance{{Module: md, Entry: re, URI: uri}}
	if re.ProxyType() != domain.ProxyRedirect {
		return hops, nil
	}

	redirectPath := re.RedirectPath
	if strings.Contains(trail, redirectPath+" ") {
		return nil, &domain.Error{Kind: domain.KindAny,
			Msg: "Redirect loop: " + trail + " -> " + redirectPath}
	}
	found := false
	for _, id := range snap.List() {
		if !t.IsEnabled(id) {
			continue
		}
		target := snap.Get(id)
		for _, tryRE := range target.ProxyRoutingEntries() {
			if !tryRE.Match(redirectPath, method) {
				continue
			}
			found = true
			newURI := re.RedirectURI(uri)
			b.logger.Debug("resolve redirect",
				slog.String("method", method),
				slog.String("uri", uri),
				slog.String("module", id),
				slog.String("new_uri", newURI))
			expanded, err := b.expandRedirects(snap, t, target, tryRE, method, newURI,
				trail+" -> "+redirectPath)
			if err != nil {
				return nil, err
			}
			hops = append(hops, expanded...)
		}
	}
	if !found {
		return nil, &domain.Error{Kind: domain.KindAny,
			Msg: "Redirecting " + uri + " to " + redirectPath + " FAILED. No suitable module found"}
	}
	return hops, nil
}

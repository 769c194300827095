// Package proxy walks a request pipeline, chaining module invocations
// under the four proxy disciplines and relaying the terminal response.
package proxy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/okapilabs/okapi/internal/auth"
	"github.com/okapilabs/okapi/internal/discovery"
	"github.com/okapilabs/okapi/internal/domain"
	"github.com/okapilabs/okapi/internal/module"
	"github.com/okapilabs/okapi/internal/pipeline"
	"github.com/okapilabs/okapi/internal/server"
	"github.com/okapilabs/okapi/internal/tenant"
)

// Engine routes incoming requests through the modules enabled for the
// request's tenant.
type Engine struct {
	catalog   *module.Catalog
	tenants   *tenant.Registry
	discovery *discovery.Manager
	builder   *pipeline.Builder
	client    *http.Client
	okapiURL  string
	logger    *slog.Logger
}

// NewEngine creates a proxy engine. okapiURL is the gateway base URL
// advertised to modules via X-Okapi-Url.
func NewEngine(catalog *module.Catalog, tenants *tenant.Registry,
	dm *discovery.Manager, okapiURL string, logger *slog.Logger) *Engine {
	return &Engine{
		catalog:   catalog,
		tenants:   tenants,
		discovery: dm,
		builder:   pipeline.NewBuilder(logger),
		client:    &http.Client{},
		okapiURL:  okapiURL,
		logger:    logger,
	}
}

// proxyContext carries the per-request pipeline state. The body travels
// between hops either as a live stream or as a fully-buffered copy; at
// most one of the two is set.
type proxyContext struct {
	hops   []*domain.ModuleInstance
	stream io.ReadCloser
	buf    []byte
}

// ServeHTTP implements the gateway's data path.
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tenantID, err := auth.NormalizeTenant(r.Header)
	if err != nil {
		if errors.Is(err, auth.ErrMissingTenant) {
			respondText(w, http.StatusForbidden, err.Error())
		} else {
			respondText(w, domain.HTTPStatus(err), err.Error())
		}
		return
	}
	server.AddLogField(r.Context(), "tenant", tenantID)
	t, err := e.tenants.Get(tenantID)
	if err != nil {
		respondText(w, http.StatusBadRequest, "No such Tenant "+tenantID)
		return
	}

	uri := r.URL.RequestURI()
	hops, err := e.builder.Build(e.catalog.Snapshot(), t, r.Method, uri)
	if err != nil {
		respondText(w, domain.HTTPStatus(err), err.Error())
		return
	}

	r.Header.Set(domain.HeaderURL, e.okapiURL)
	auth.PlanHeaders(hops, r.Header, r.Header.Get(domain.HeaderToken))

	// Resolve every hop's upstream before the first byte is sent, so a
	// missing deployment aborts the request cheaply.
	for _, hop := range hops {
		if hop.Entry.ProxyType() == domain.ProxyRedirect {
			continue
		}
		url, err := e.discovery.Resolve(hop.Module)
		if err != nil {
			respondText(w, domain.HTTPStatus(err), err.Error())
			return
		}
		hop.URL = url
	}

	pc := &proxyContext{hops: hops, stream: r.Body}
	e.run(w, r, pc)
}

// run walks the hops in order. Each iteration issues at most one upstream
// exchange; hop i+1 starts only after hop i's response headers arrived.
func (e *Engine) run(w http.ResponseWriter, r *http.Request, pc *proxyContext) {
	for i, hop := range pc.hops {
		last := i == len(pc.hops)-1

		r.Header.Del(domain.HeaderToken)
		if hop.AuthToken != "" {
			r.Header.Set(domain.HeaderToken, hop.AuthToken)
		}

		var done bool
		switch hop.Entry.ProxyType() {
		case domain.ProxyRequestOnly:
			done = e.hopRequestOnly(w, r, pc, hop, last)
		case domain.ProxyHeaders:
			done = e.hopHeaders(w, r, pc, hop, last)
		case domain.ProxyRedirect:
			done = e.hopRedirect(w, r, pc, hop, last)
		default:
			done = e.hopRequestResponse(w, r, pc, hop, last)
		}
		if done {
			return
		}
	}
}

// hopRequestResponse streams the body upstream; a 2xx response with hops
// remaining becomes the next hop's request body.
func (e *Engine) hopRequestResponse(w http.ResponseWriter, r *http.Request,
	pc *proxyContext, hop *domain.ModuleInstance, last bool) bool {

	start := time.Now()
	res, err := e.send(r, hop, pc.body())
	if err != nil {
		e.connectError(w, hop, err)
		return true
	}
	if continues(res) && !last {
		e.addTrace(w, r, hop, res.StatusCode, start)
		e.relayToRequest(r, res, pc)
		if pc.stream != nil {
			pc.stream.Close()
		}
		pc.stream = res.Body
		pc.buf = nil
		return false
	}
	e.addTrace(w, r, hop, res.StatusCode, start)
	e.relayToResponse(w, res)
	return true
}

// hopRequestOnly sends the buffered body upstream; the response is only
// inspected for failure, and the original body carries forward.
func (e *Engine) hopRequestOnly(w http.ResponseWriter, r *http.Request,
	pc *proxyContext, hop *domain.ModuleInstance, last bool) bool {

	if err := pc.materialize(); err != nil {
		respondText(w, http.StatusInternalServerError, err.Error())
		return true
	}
	start := time.Now()
	res, err := e.send(r, hop, bytes.NewReader(pc.buf))
	if err != nil {
		e.connectError(w, hop, err)
		return true
	}
	e.addTrace(w, r, hop, res.StatusCode, start)
	if !is2xx(res.StatusCode) {
		e.relayToResponse(w, res)
		return true
	}
	if !last {
		e.relayToRequest(r, res, pc)
		res.Body.Close()
		return false
	}
	// Terminal request-only hop: the upstream's status and headers with
	// the buffered request body echoed back.
	res.Body.Close()
	copyResponseHeaders(w, res)
	w.WriteHeader(res.StatusCode)
	w.Write(pc.buf)
	return true
}

// hopHeaders sends the request without its body. On success the returned
// headers merge into the request and the existing body travels on.
func (e *Engine) hopHeaders(w http.ResponseWriter, r *http.Request,
	pc *proxyContext, hop *domain.ModuleInstance, last bool) bool {

	hdr := r.Header.Clone()
	hdr.Del("Content-Length")
	start := time.Now()
	res, err := e.sendWithHeaders(r, hop, http.NoBody, hdr)
	if err != nil {
		e.connectError(w, hop, err)
		return true
	}
	e.addTrace(w, r, hop, res.StatusCode, start)
	if !is2xx(res.StatusCode) {
		e.relayToResponse(w, res)
		return true
	}
	if !last {
		e.relayToRequest(r, res, pc)
		res.Body.Close()
		return false
	}
	res.Body.Close()
	copyResponseHeaders(w, res)
	w.WriteHeader(res.StatusCode)
	pc.writeBodyTo(w)
	return true
}

// hopRedirect is bookkeeping only; it contributed to the permission plan
// during header synthesis and makes no upstream call. A pipeline ending on
// a redirect hop reports the 999 sentinel in its trace.
func (e *Engine) hopRedirect(w http.ResponseWriter, r *http.Request, pc *proxyContext,
	hop *domain.ModuleInstance, last bool) bool {

	if !last {
		return false
	}
	w.Header().Add(domain.HeaderTrace, traceLine(r.Method, hop, 999, 0))
	w.WriteHeader(http.StatusOK)
	pc.writeBodyTo(w)
	return true
}

func (e *Engine) send(r *http.Request, hop *domain.ModuleInstance, body io.Reader) (*http.Response, error) {
	return e.sendWithHeaders(r, hop, body, r.Header)
}

func (e *Engine) sendWithHeaders(r *http.Request, hop *domain.ModuleInstance,
	body io.Reader, hdr http.Header) (*http.Response, error) {

	req, err := http.NewRequestWithContext(r.Context(), r.Method, hop.URL+hop.URI, body)
	if err != nil {
		return nil, err
	}
	req.Header = hdr.Clone()
	req.Header.Del("Content-Length")
	if id := server.GetRequestID(r.Context()); id != "" {
		req.Header.Set(server.RequestIDHeader, id)
	}
	e.logger.Debug("invoking module",
		slog.String("module", hop.Module.NameOrID()),
		slog.String("type", string(hop.Entry.ProxyType())),
		slog.String("level", hop.Entry.PhaseLevel()),
		slog.String("url", hop.URL+hop.URI))
	return e.client.Do(req)
}

// relayToRequest merges X-* response headers into the forwarded request,
// handing the module-token plan to the planner first so no later module
// sees it.
func (e *Engine) relayToRequest(r *http.Request, res *http.Response, pc *proxyContext) {
	if tokens := res.Header.Get(domain.HeaderModuleTokens); tokens != "" {
		if err := auth.ApplyModuleTokens(pc.hops, tokens); err != nil {
			e.logger.Warn("bad module tokens from auth module", slog.String("error", err.Error()))
		}
	}
	res.Header.Del(domain.HeaderModuleTokens)
	res.Header.Del(domain.HeaderModulePermissions)
	for name, vals := range res.Header {
		if strings.HasPrefix(name, "X-") || strings.HasPrefix(name, "x-") {
			r.Header[name] = vals
		}
	}
}

// relayToResponse forwards the terminal upstream response to the client.
func (e *Engine) relayToResponse(w http.ResponseWriter, res *http.Response) {
	copyResponseHeaders(w, res)
	w.WriteHeader(res.StatusCode)
	io.Copy(w, res.Body)
	res.Body.Close()
}

func (e *Engine) connectError(w http.ResponseWriter, hop *domain.ModuleInstance, err error) {
	e.logger.Debug("upstream connect failure",
		slog.String("url", hop.URL), slog.String("error", err.Error()))
	respondText(w, http.StatusInternalServerError,
		fmt.Sprintf("connect url %s: %s", hop.URL, err.Error()))
}

func (e *Engine) addTrace(w http.ResponseWriter, r *http.Request,
	hop *domain.ModuleInstance, status int, start time.Time) {
	elapsed := time.Since(start)
	w.Header().Add(domain.HeaderTrace, traceLine(r.Method, hop, status, elapsed.Microseconds()))
	e.logger.Debug("module exchange",
		slog.String("tenant", r.Header.Get(domain.HeaderTenant)),
		slog.String("module", hop.Module.ID),
		slog.Int("status", status),
		slog.Duration("duration", elapsed))
}

func traceLine(method string, hop *domain.ModuleInstance, status int, micros int64) string {
	u := hop.URL + hop.URI
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i] + ".."
	}
	return fmt.Sprintf("%s %s %s : %d %dus", method, hop.Module.NameOrID(), u, status, micros)
}

// body returns the reader for the current hop's request body.
func (pc *proxyContext) body() io.Reader {
	if pc.buf != nil {
		return bytes.NewReader(pc.buf)
	}
	if pc.stream != nil {
		return pc.stream
	}
	return http.NoBody
}

// materialize switches from stream to buffer mode. The switch is one-way;
// later hops reuse the buffer.
func (pc *proxyContext) materialize() error {
	if pc.buf != nil || pc.stream == nil {
		return nil
	}
	b, err := io.ReadAll(pc.stream)
	pc.stream.Close()
	pc.stream = nil
	if err != nil {
		return fmt.Errorf("reading request body: %w", err)
	}
	pc.buf = b
	return nil
}

// writeBodyTo drains whatever body representation is live to w.
func (pc *proxyContext) writeBodyTo(w io.Writer) {
	if pc.buf != nil {
		w.Write(pc.buf)
		return
	}
	if pc.stream != nil {
		io.Copy(w, pc.stream)
		pc.stream.Close()
		pc.stream = nil
	}
}

func continues(res *http.Response) bool {
	return is2xx(res.StatusCode) && res.Header.Get(domain.HeaderStop) == ""
}

func is2xx(status int) bool {
	return status >= 200 && status < 300
}

func copyResponseHeaders(w http.ResponseWriter, res *http.Response) {
	for name, vals := range res.Header {
		if name == "Content-Length" {
			continue
		}
		for _, v := range vals {
			w.Header().Add(name, v)
		}
	}
}

// Package server assembles the HTTP surface: admin API under /_/ and the
// proxy data path as the catch-all.
package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// adminTimeout bounds admin CRUD requests. The proxy data path carries
// no deadline; see AdminTimeoutMiddleware.
const adminTimeout = 30 * time.Second

// Server is the gateway HTTP server.
type Server struct {
	Router *chi.Mux
	Port   int
	logger *slog.Logger
}

// New builds the middleware chain and router.
func New(port int, logger *slog.Logger) *Server {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)

	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "okapi-gateway")
	})

	return &Server{
		Router: r,
		Port:   port,
		logger: logger,
	}
}

// MountAdmin registers the admin surface under its own deadline.
func (s *Server) MountAdmin(register func(chi.Router)) {
	s.Router.Group(func(r chi.Router) {
		r.Use(AdminTimeoutMiddleware(adminTimeout))
		register(r)
	})
}

// MountProxy registers the proxy engine for every path no admin route
// claims. Pipelines stream without a server-imposed deadline.
func (s *Server) MountProxy(engine http.Handler) {
	s.Router.NotFound(engine.ServeHTTP)
	s.Router.MethodNotAllowed(engine.ServeHTTP)
}

// Start runs the server.
func (s *Server) Start() error {
	s.logger.Info("starting server", slog.Int("port", s.Port))
	return http.ListenAndServe(fmt.Sprintf(":%d", s.Port), s.Router)
}

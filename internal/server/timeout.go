package server

import (
	"context"
	"net/http"
	"time"
)

// AdminTimeoutMiddleware bounds admin CRUD requests; store and bus
// operations carry the deadline through their contexts. It is applied to
// the admin surface only: module pipelines on the proxy data path may
// stream for longer than any fixed ceiling, and a client disconnect
// already cancels the request context there.
func AdminTimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Package shield provides the HTTP middleware stack shared by the report
// service: security headers, JSON body limits, request tracing, maintenance
// mode and per-endpoint rate limiting. Maintenance state and rate limit rules
// live in the service's SQLite database so operators can flip them without a
// restart.
//
// Usage:
//
//	stack, mm := shield.DefaultStack(db)
//	mm.StartReloader(done)
//	for _, mw := range stack {
//	    r.Use(mw)
//	}
package shield

import (
	"database/sql"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// DefaultStack returns the standard middleware stack for the report service.
// Ordered: Maintenance, HeadToGet, SecurityHeaders, MaxJSONBody, TraceID,
// RateLimiter. The returned Maintenance handle allows callers to start the
// background reloader. Health checks and static assets bypass maintenance
// and rate limiting.
func DefaultStack(db *sql.DB) ([]func(http.Handler) http.Handler, *Maintenance) {
	rl := NewRateLimiter(db, "/healthz", "/static/")
	mm := NewMaintenance(db, "/healthz", "/static/")
	return []func(http.Handler) http.Handler{
		mm.Middleware,
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxJSONBody(256 * 1024),
		TraceID,
		rl.Middleware,
	}, mm
}

// HeadToGet converts HEAD requests to GET so that handlers registered with
// r.Get() respond with 200 instead of 405. net/http strips the body for HEAD
// responses on its own.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}

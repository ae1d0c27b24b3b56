// Package shield provides reusable HTTP security middleware for the capture
// index server: security headers, rate limiting, body limits, and request
// tracing.
//
// Usage:
//
//	r := chi.NewRouter()
//	r.Use(shield.SecurityHeaders(shield.DefaultHeaders()))
//	r.Use(shield.MaxFormBody(64 * 1024))
//	r.Use(shield.TraceID)
//	r.Use(shield.NewRateLimiter(db).Middleware)
//
// Or apply the default stack in one call:
//
//	for _, mw := range shield.DefaultStack(db) {
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

// DefaultStack returns the standard middleware stack applied to every
// request: SecurityHeaders → MaxFormBody → TraceID → RateLimiter. Ingest
// and query endpoints share this stack; admin write endpoints additionally
// go through auth.RequireAdmin at the router layer.
func DefaultStack(db *sql.DB) []func(http.Handler) http.Handler {
	rl := NewRateLimiter(db, "/healthz")
	return []func(http.Handler) http.Handler{
		SecurityHeaders(DefaultHeaders()),
		MaxFormBody(64 * 1024),
		TraceID,
		rl.Middleware,
	}
}

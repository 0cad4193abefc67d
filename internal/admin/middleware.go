// Package admin holds the inbound authorization middleware and the
// localhost-only administration endpoints for API key management.
//
// Route classes and their gates:
//
//	/health     always admitted (mounted outside any middleware)
//	/admin/*    LocalOnly: originating address must be on the loopback
//	            allow-list; no API key needed
//	all others  AuthMiddleware: a valid issued API key in the
//	            Authorization header
package admin

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/IBM/gdp-mcp-server/internal/keystore"
	"github.com/IBM/gdp-mcp-server/internal/logging"
	"github.com/IBM/gdp-mcp-server/internal/metrics"
	"github.com/IBM/gdp-mcp-server/internal/ratelimit"
)

type contextKey string

const keyRecordContextKey contextKey = "api_key_record"

// allowedAdminHosts are the originating addresses granted admin access:
// IPv4/IPv6 loopback and the default Docker bridge gateway.
var allowedAdminHosts = map[string]struct{}{
	"127.0.0.1":  {},
	"::1":        {},
	"localhost":  {},
	"172.17.0.1": {},
}

// KeyValidator checks a raw API key and returns its record, or nil.
// *keystore.Store implements it.
type KeyValidator interface {
	Validate(rawKey string) *keystore.Record
}

// KeyFromContext retrieves the authenticated key record from the request
// context.
func KeyFromContext(ctx context.Context) (*keystore.Record, bool) {
	rec, ok := ctx.Value(keyRecordContextKey).(*keystore.Record)
	return rec, ok
}

// AuthMiddleware returns a chi-compatible middleware that validates the
// bearer API key on protected routes and stores the matched record in the
// request context.
func AuthMiddleware(keys KeyValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			rawKey := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))

			rec := keys.Validate(rawKey)
			if rec == nil {
				metrics.AuthDecisions.WithLabelValues("protected", "unauthorized").Inc()
				logging.FromContext(r.Context()).Warn("unauthorized request",
					"remote", remoteHost(r), "path", r.URL.Path)
				writeError(w, http.StatusUnauthorized, "invalid or missing API key", "authentication_error", "invalid_api_key")
				return
			}

			metrics.AuthDecisions.WithLabelValues("protected", "admitted").Inc()
			ctx := context.WithValue(r.Context(), keyRecordContextKey, rec)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimit returns a middleware that rate-limits authenticated requests
// per API key prefix. Must be mounted after AuthMiddleware; requests with
// no key record in context pass through untouched.
func RateLimit(limits *ratelimit.PerKey) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec, ok := KeyFromContext(r.Context())
			if ok && !limits.Allow(rec.KeyPrefix) {
				metrics.AuthDecisions.WithLabelValues("protected", "rate_limited").Inc()
				logging.FromContext(r.Context()).Warn("rate limit exceeded",
					"key_prefix", rec.KeyPrefix, "path", r.URL.Path)
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded, retry later", "rate_limit_error", "rate_limited")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LocalOnly admits requests originating from the loopback allow-list and
// rejects everything else with 403. API keys are not consulted here.
func LocalOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := remoteHost(r)
		if _, ok := allowedAdminHosts[host]; !ok {
			metrics.AuthDecisions.WithLabelValues("admin", "forbidden").Inc()
			logging.FromContext(r.Context()).Warn("forbidden admin request",
				"remote", host, "path", r.URL.Path)
			writeError(w, http.StatusForbidden, "admin endpoints are localhost only", "permission_error", "forbidden_origin")
			return
		}
		metrics.AuthDecisions.WithLabelValues("admin", "admitted").Inc()
		next.ServeHTTP(w, r)
	})
}

// remoteHost extracts the originating address from the connection's remote
// address. Forwarding headers are deliberately ignored: the admin gate must
// not be spoofable via X-Forwarded-For.
func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeError writes the unified JSON error envelope:
//
//	{"error":{"message":"...","type":"...","code":"..."}}
//
// errType and code may be empty; defaults are derived from the HTTP status.
func writeError(w http.ResponseWriter, status int, message, errType, code string) {
	if errType == "" {
		errType = defaultErrType(status)
	}
	if code == "" {
		code = errType
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"message": message,
			"type":    errType,
			"code":    code,
		},
	})
}

func defaultErrType(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return "authentication_error"
	case status == http.StatusForbidden:
		return "permission_error"
	case status == http.StatusNotFound:
		return "not_found_error"
	case status >= 400 && status < 500:
		return "invalid_request_error"
	default:
		return "server_error"
	}
}

package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	gdpmcp "github.com/IBM/gdp-mcp-server"
	"github.com/IBM/gdp-mcp-server/internal/admin"
	"github.com/IBM/gdp-mcp-server/internal/audit"
	"github.com/IBM/gdp-mcp-server/internal/catalog"
	"github.com/IBM/gdp-mcp-server/internal/keystore"
	"github.com/IBM/gdp-mcp-server/internal/logging"
	"github.com/IBM/gdp-mcp-server/internal/ratelimit"
	"github.com/IBM/gdp-mcp-server/internal/version"
)

// newRouter builds the HTTP router. Route classes:
//
//	/health, /metrics  open
//	/admin/*           loopback allow-list, no API key
//	/v1/*              valid API key required
func newRouter(cfg *gdpmcp.Config, keys *keystore.Store, cat *catalog.Catalog,
	exec catalog.Executor, auditWriter audit.Writer, auditReader admin.AuditReader) http.Handler {

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(logging.Middleware)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":        "ok",
			"server":        "GDP MCP Server",
			"version":       version.Short(),
			"auth_required": true,
			"active_keys":   len(keys.List()),
			"catalog_state": cat.State().String(),
			"target":        cfg.Appliance.EffectiveHost() + ":" + cfg.Appliance.EffectivePort(),
		})
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	adminHandlers := &admin.Handlers{
		Keys:     keys,
		Audit:    auditWriter,
		AuditLog: auditReader,
	}
	r.Route("/admin", func(r chi.Router) {
		r.Use(admin.LocalOnly)
		r.Mount("/", adminHandlers.Routes())
	})

	api := &apiHandlers{
		catalog: cat,
		exec:    exec,
		audit:   auditWriter,
	}
	r.Route("/v1", func(r chi.Router) {
		r.Use(admin.AuthMiddleware(keys))
		if cfg.Server.RatePerMinute > 0 {
			r.Use(admin.RateLimit(ratelimit.NewPerKey(cfg.Server.RatePerMinute)))
		}
		r.Get("/apis", api.searchAPIs)
		r.Get("/apis/{function}", api.apiDetails)
		r.Post("/apis/{function}/execute", api.executeAPI)
		r.Get("/categories", api.listCategories)
	})

	return r
}

package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/IBM/gdp-mcp-server/internal/audit"
	"github.com/IBM/gdp-mcp-server/internal/keystore"
	"github.com/IBM/gdp-mcp-server/internal/logging"
)

// AuditReader lists recorded audit events. *audit.SQLWriter implements it.
type AuditReader interface {
	Recent(ctx context.Context, limit int) ([]audit.Entry, error)
}

// Handlers holds dependencies for the admin HTTP endpoints. Audit may be an
// audit.NoopWriter and AuditLog may be nil when auditing is disabled.
type Handlers struct {
	Keys     *keystore.Store
	Audit    audit.Writer
	AuditLog AuditReader
}

// Routes returns a chi.Router with all admin endpoints mounted. The caller
// is responsible for wrapping them in LocalOnly.
func (h *Handlers) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/keys", h.createKey)
	r.Get("/keys", h.listKeys)
	r.Delete("/keys/{prefix}", h.revokeKey)
	r.Get("/audit", h.recentAudit)
	return r
}

// createKey issues a new API key. The response carries the raw key exactly
// once; it is never retrievable afterwards.
func (h *Handlers) createKey(w http.ResponseWriter, r *http.Request) {
	var body struct {
		User string `json:"user"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "invalid_request_error", "invalid_request")
		return
	}
	body.User = strings.TrimSpace(body.User)
	if body.User == "" {
		writeError(w, http.StatusBadRequest, "'user' field is required", "invalid_request_error", "invalid_request")
		return
	}

	issued, err := h.Keys.Generate(body.User)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "server_error", "internal_error")
		return
	}

	h.recordAudit(r.Context(), audit.Entry{
		Action:    audit.ActionKeyIssued,
		User:      issued.User,
		KeyPrefix: issued.KeyPrefix,
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(issued)
}

func (h *Handlers) listKeys(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.Keys.List())
}

func (h *Handlers) revokeKey(w http.ResponseWriter, r *http.Request) {
	prefix := chi.URLParam(r, "prefix")

	rec, err := h.Keys.Revoke(prefix)
	if errors.Is(err, keystore.ErrAmbiguousPrefix) {
		writeError(w, http.StatusConflict,
			"prefix '"+prefix+"' matches more than one key; list keys and compare created timestamps",
			"invalid_request_error", "ambiguous_key_prefix")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "server_error", "internal_error")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "no key with prefix '"+prefix+"'", "not_found_error", "unknown_key_prefix")
		return
	}

	h.recordAudit(r.Context(), audit.Entry{
		Action:    audit.ActionKeyRevoked,
		User:      rec.User,
		KeyPrefix: prefix,
	})

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":     "revoked",
		"key_prefix": prefix,
		"user":       rec.User,
	})
}

func (h *Handlers) recentAudit(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if h.AuditLog == nil {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"enabled": false,
			"events":  []audit.Entry{},
		})
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit: must be a positive integer", "invalid_request_error", "invalid_request")
			return
		}
		limit = parsed
	}

	events, err := h.AuditLog.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load audit events", "server_error", "internal_error")
		return
	}
	if events == nil {
		events = []audit.Entry{}
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"enabled": true,
		"events":  events,
	})
}

// recordAudit writes an audit event; failures are logged, never surfaced to
// the admin caller.
func (h *Handlers) recordAudit(ctx context.Context, entry audit.Entry) {
	if h.Audit == nil {
		return
	}
	entry.TraceID = logging.TraceIDFromContext(ctx)
	if err := h.Audit.Write(ctx, entry); err != nil {
		logging.FromContext(ctx).Error("failed to write audit event",
			"action", entry.Action, "error", err)
	}
}

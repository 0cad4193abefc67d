package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/IBM/gdp-mcp-server/internal/admin"
	"github.com/IBM/gdp-mcp-server/internal/audit"
	"github.com/IBM/gdp-mcp-server/internal/catalog"
	"github.com/IBM/gdp-mcp-server/internal/gdp"
	"github.com/IBM/gdp-mcp-server/internal/logging"
)

// maxResultChars truncates oversized appliance responses so agent contexts
// are not overwhelmed.
const maxResultChars = 30000

// apiHandlers serves the /v1 endpoint-catalog and execution surface.
type apiHandlers struct {
	catalog *catalog.Catalog
	exec    catalog.Executor
	audit   audit.Writer
}

// ensureCatalog lazily loads the catalog; a total failure (no appliance, no
// cache) is reported as 503 so agents know to retry later.
func (h *apiHandlers) ensureCatalog(w http.ResponseWriter, r *http.Request) bool {
	if err := h.catalog.Ensure(r.Context()); err != nil {
		writeJSONError(w, http.StatusServiceUnavailable,
			"endpoint catalog unavailable: "+err.Error(), "catalog_unavailable")
		return false
	}
	return true
}

type searchResult struct {
	FunctionName   string   `json:"function_name"`
	HTTPMethod     string   `json:"http_method"`
	Category       string   `json:"category"`
	Description    string   `json:"description"`
	RequiredParams []string `json:"required_params"`
}

func (h *apiHandlers) searchAPIs(w http.ResponseWriter, r *http.Request) {
	if !h.ensureCatalog(w, r) {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid limit: must be a positive integer", "invalid_request_error")
			return
		}
		limit = parsed
	}

	results := h.catalog.Search(
		r.URL.Query().Get("q"),
		r.URL.Query().Get("category"),
		r.URL.Query().Get("verb"),
		limit,
	)

	out := make([]searchResult, 0, len(results))
	for _, ep := range results {
		out = append(out, searchResult{
			FunctionName:   ep.FunctionName,
			HTTPMethod:     ep.Verb,
			Category:       ep.Category,
			Description:    ep.Description,
			RequiredParams: ep.RequiredParams(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"total":   len(out),
		"results": out,
	})
}

func (h *apiHandlers) listCategories(w http.ResponseWriter, r *http.Request) {
	if !h.ensureCatalog(w, r) {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"total_endpoints": h.catalog.Len(),
		"categories":      h.catalog.Categories(),
	})
}

type parameterDetail struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Required    bool     `json:"required"`
	Description string   `json:"description,omitempty"`
	ValidValues []string `json:"valid_values,omitempty"`
}

func (h *apiHandlers) apiDetails(w http.ResponseWriter, r *http.Request) {
	if !h.ensureCatalog(w, r) {
		return
	}

	name := chi.URLParam(r, "function")
	ep, ok := h.catalog.Get(name)
	if !ok {
		h.writeUnknownEndpoint(w, name)
		return
	}

	params := make([]parameterDetail, 0, len(ep.Parameters))
	for _, p := range ep.Parameters {
		short := p.Type
		if i := strings.LastIndex(short, "."); i >= 0 {
			short = short[i+1:]
		}
		params = append(params, parameterDetail{
			Name:        p.Name,
			Type:        short,
			Required:    p.Required,
			Description: p.Description,
			ValidValues: p.Values,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"function_name": ep.FunctionName,
		"http_method":   ep.Verb,
		"resource_path": "/restAPI/" + ep.ResourceName,
		"category":      ep.Category,
		"version":       ep.Version,
		"description":   ep.Description,
		"parameters":    params,
	})
}

func (h *apiHandlers) executeAPI(w http.ResponseWriter, r *http.Request) {
	if !h.ensureCatalog(w, r) {
		return
	}

	name := chi.URLParam(r, "function")
	ep, ok := h.catalog.Get(name)
	if !ok {
		h.writeUnknownEndpoint(w, name)
		return
	}

	var body struct {
		Parameters map[string]any `json:"parameters"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body", "invalid_request_error")
			return
		}
	}

	if err := catalog.ValidateParams(ep, body.Parameters); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error(), "invalid_request_error")
		return
	}

	result, err := h.exec.Do(r.Context(), ep.Verb, ep.ResourceName, body.Parameters)
	h.recordExecution(r, ep, err)
	if err != nil {
		var statusErr *gdp.StatusError
		if errors.As(err, &statusErr) {
			writeJSONError(w, http.StatusBadGateway, err.Error(), "upstream_error")
			return
		}
		writeJSONError(w, http.StatusBadGateway, "appliance call failed: "+err.Error(), "upstream_error")
		return
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "encoding appliance response", "server_error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if len(encoded) > maxResultChars {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"truncated":      true,
			"total_chars":    len(encoded),
			"result_preview": string(encoded[:maxResultChars]),
		})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"result": result,
	})
}

func (h *apiHandlers) writeUnknownEndpoint(w http.ResponseWriter, name string) {
	resp := map[string]interface{}{
		"error": map[string]interface{}{
			"message": "unknown endpoint '" + name + "'",
			"type":    "not_found_error",
		},
	}
	if similar := h.catalog.Similar(name); len(similar) > 0 {
		if len(similar) > 8 {
			similar = similar[:8]
		}
		resp["similar"] = similar
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_ = json.NewEncoder(w).Encode(resp)
}

// recordExecution writes an execute-call audit event attributed to the
// calling API key.
func (h *apiHandlers) recordExecution(r *http.Request, ep catalog.Endpoint, execErr error) {
	if h.audit == nil {
		return
	}
	entry := audit.Entry{
		Action:   audit.ActionAPIExecuted,
		Resource: ep.ResourceName,
		Verb:     ep.Verb,
		Status:   "ok",
		TraceID:  logging.TraceIDFromContext(r.Context()),
	}
	if execErr != nil {
		entry.Status = "error"
	}
	if rec, ok := admin.KeyFromContext(r.Context()); ok {
		entry.User = rec.User
		entry.KeyPrefix = rec.KeyPrefix
	}
	if err := h.audit.Write(r.Context(), entry); err != nil {
		logging.FromContext(r.Context()).Error("failed to write audit event",
			"action", entry.Action, "error", err)
	}
}

// writeJSONError writes the unified JSON error envelope used across the
// server.
func writeJSONError(w http.ResponseWriter, status int, message, errType string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"message": message,
			"type":    errType,
		},
	})
}

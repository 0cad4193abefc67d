// Package catalog discovers and indexes the appliance's REST API endpoints.
// The catalog loads from the live appliance and caches the raw listing to
// disk; when the appliance is unreachable it falls back to the cached copy
// and marks itself degraded.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/IBM/gdp-mcp-server/internal/logging"
)

// defaultSearchLimit caps search results so agent contexts are not flooded.
const defaultSearchLimit = 25

// Executor issues authenticated appliance calls. *gdp.Client implements it.
type Executor interface {
	Do(ctx context.Context, verb, resource string, params map[string]any) (any, error)
}

// Parameter is one endpoint parameter as reported by the appliance.
type Parameter struct {
	Name        string   `json:"parameterName"`
	Type        string   `json:"parameterType"`
	Required    bool     `json:"isRequired"`
	Description string   `json:"parameterDescription"`
	Values      []string `json:"parameterValues,omitempty"`
}

// Endpoint is a single appliance REST API endpoint. JSON tags match the
// appliance discovery wire format.
type Endpoint struct {
	ResourceID   int         `json:"resource_id"`
	FunctionName string      `json:"api_function_name"`
	ResourceName string      `json:"resourceName"`
	Verb         string      `json:"verb"`
	Category     string      `json:"sql_app_name"`
	Version      string      `json:"version"`
	Description  string      `json:"apiDescription"`
	Parameters   []Parameter `json:"parameters"`
}

// RequiredParams returns the names of the endpoint's required parameters.
func (e Endpoint) RequiredParams() []string {
	var out []string
	for _, p := range e.Parameters {
		if p.Required {
			out = append(out, p.Name)
		}
	}
	return out
}

// State is the catalog lifecycle state.
type State int

const (
	// StateUninitialized means no load has succeeded yet.
	StateUninitialized State = iota
	// StateLoaded means the catalog reflects the live appliance.
	StateLoaded
	// StateDegraded means live discovery failed and the catalog is serving
	// a cached copy.
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateDegraded:
		return "degraded"
	default:
		return "uninitialized"
	}
}

// CategoryCount pairs a category name with its endpoint count.
type CategoryCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Catalog indexes appliance endpoints by function name and category.
type Catalog struct {
	client    Executor
	cachePath string

	mu         sync.RWMutex
	state      State
	endpoints  map[string]Endpoint
	categories map[string][]string
}

// New creates a catalog backed by client. cachePath may be empty to disable
// the on-disk cache.
func New(client Executor, cachePath string) *Catalog {
	return &Catalog{
		client:     client,
		cachePath:  cachePath,
		endpoints:  make(map[string]Endpoint),
		categories: make(map[string][]string),
	}
}

// State returns the current lifecycle state.
func (c *Catalog) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Loaded reports whether any endpoints are indexed.
func (c *Catalog) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.endpoints) > 0
}

// Len returns the number of indexed endpoints.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.endpoints)
}

// Ensure lazily loads the catalog on first use, preferring the cache for
// fast startup. Safe to call on every request.
func (c *Catalog) Ensure(ctx context.Context) error {
	if c.State() != StateUninitialized {
		return nil
	}
	_, err := c.Load(ctx, true)
	return err
}

// Load populates the catalog and returns the number of endpoints indexed.
//
// With preferCache, a readable cache file short-circuits live discovery.
// Otherwise the appliance is queried first; on failure the cache is the
// fallback and the catalog transitions to StateDegraded instead of
// StateLoaded.
func (c *Catalog) Load(ctx context.Context, preferCache bool) (int, error) {
	log := logging.FromContext(ctx)

	if preferCache {
		if n, err := c.loadFromCache(); err == nil {
			c.setState(StateLoaded)
			log.Info("endpoint catalog loaded from cache", "endpoints", n, "cache", c.cachePath)
			return n, nil
		}
	}

	raw, err := c.client.Do(ctx, "GET", "restapi", map[string]any{"withParameters": "1"})
	if err == nil {
		endpoints, convErr := decodeEndpoints(raw)
		if convErr == nil && len(endpoints) > 0 {
			c.index(endpoints)
			c.setState(StateLoaded)
			c.writeCache(raw)
			log.Info("endpoint catalog loaded from appliance",
				"endpoints", len(endpoints), "categories", len(c.categories))
			return len(endpoints), nil
		}
		if convErr != nil {
			err = convErr
		} else {
			err = fmt.Errorf("appliance returned no endpoints")
		}
	}

	log.Warn("live endpoint discovery failed, trying cache", "error", err)
	if n, cacheErr := c.loadFromCache(); cacheErr == nil {
		c.setState(StateDegraded)
		log.Info("endpoint catalog loaded from cache after live failure",
			"endpoints", n, "cache", c.cachePath)
		return n, nil
	}

	return 0, fmt.Errorf("no endpoint catalog available: %w", err)
}

// Get looks up an endpoint by exact function name.
func (c *Catalog) Get(functionName string) (Endpoint, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ep, ok := c.endpoints[functionName]
	return ep, ok
}

// Similar returns function names containing the given name, for "did you
// mean" suggestions. Result is sorted.
func (c *Catalog) Similar(functionName string) []string {
	needle := strings.ToLower(functionName)
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []string
	for name := range c.endpoints {
		if strings.Contains(strings.ToLower(name), needle) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Search finds endpoints whose function name, description, category, or
// resource name contains the query, optionally filtered by category and
// verb. Results are sorted by function name; limit <= 0 applies the default.
func (c *Catalog) Search(query, category, verb string, limit int) []Endpoint {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	q := strings.ToLower(query)

	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []Endpoint
	for _, ep := range c.endpoints {
		if category != "" && !strings.EqualFold(ep.Category, category) {
			continue
		}
		if verb != "" && !strings.EqualFold(ep.Verb, verb) {
			continue
		}
		if strings.Contains(strings.ToLower(ep.FunctionName), q) ||
			strings.Contains(strings.ToLower(ep.Description), q) ||
			strings.Contains(strings.ToLower(ep.Category), q) ||
			strings.Contains(strings.ToLower(ep.ResourceName), q) {
			out = append(out, ep)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FunctionName < out[j].FunctionName })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Categories returns all category names with endpoint counts, sorted by
// name.
func (c *Catalog) Categories() []CategoryCount {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]CategoryCount, 0, len(c.categories))
	for name, fns := range c.categories {
		out = append(out, CategoryCount{Name: name, Count: len(fns)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (c *Catalog) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// index rebuilds the in-memory maps from a decoded endpoint list.
func (c *Catalog) index(endpoints []Endpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.endpoints = make(map[string]Endpoint, len(endpoints))
	c.categories = make(map[string][]string)
	for _, ep := range endpoints {
		if ep.Category == "" {
			ep.Category = "Unknown"
		}
		c.endpoints[ep.FunctionName] = ep
		c.categories[ep.Category] = append(c.categories[ep.Category], ep.FunctionName)
	}
}

func (c *Catalog) loadFromCache() (int, error) {
	if c.cachePath == "" {
		return 0, fmt.Errorf("no cache path configured")
	}
	data, err := os.ReadFile(c.cachePath)
	if err != nil {
		return 0, err
	}
	var endpoints []Endpoint
	if err := json.Unmarshal(data, &endpoints); err != nil {
		return 0, fmt.Errorf("parsing catalog cache: %w", err)
	}
	c.index(endpoints)
	return len(endpoints), nil
}

// writeCache persists the raw discovery listing. Failures are logged only;
// a missing cache never blocks a live-loaded catalog.
func (c *Catalog) writeCache(raw any) {
	if c.cachePath == "" {
		return
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		logging.Logger.Error("failed to encode catalog cache", "error", err)
		return
	}
	if err := os.WriteFile(c.cachePath, data, 0o600); err != nil {
		logging.Logger.Error("failed to write catalog cache", "path", c.cachePath, "error", err)
	}
}

// decodeEndpoints converts the appliance's discovery response (decoded JSON)
// into typed endpoints.
func decodeEndpoints(raw any) ([]Endpoint, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected discovery response shape %T", raw)
	}
	data, err := json.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("re-encoding discovery response: %w", err)
	}
	var endpoints []Endpoint
	if err := json.Unmarshal(data, &endpoints); err != nil {
		return nil, fmt.Errorf("decoding discovery response: %w", err)
	}
	return endpoints, nil
}

package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const sampleDiscovery = `[
  {
    "resource_id": 1,
    "api_function_name": "list_group",
    "resourceName": "group",
    "verb": "GET",
    "sql_app_name": "Group Builder",
    "version": "v12.0",
    "apiDescription": "List all groups defined on the appliance",
    "parameters": [
      {"parameterName": "type", "parameterType": "java.lang.String", "isRequired": false}
    ]
  },
  {
    "resource_id": 2,
    "api_function_name": "create_datasource",
    "resourceName": "datasource",
    "verb": "POST",
    "sql_app_name": "Datasource Builder",
    "version": "v12.0",
    "apiDescription": "Create a new datasource definition",
    "parameters": [
      {"parameterName": "name", "parameterType": "java.lang.String", "isRequired": true},
      {"parameterName": "port", "parameterType": "java.lang.Integer", "isRequired": true},
      {"parameterName": "shared", "parameterType": "java.lang.Boolean", "isRequired": false},
      {"parameterName": "severity", "parameterType": "java.lang.String", "isRequired": false,
       "parameterValues": ["LOW", "MED", "HIGH"]}
    ]
  },
  {
    "resource_id": 3,
    "api_function_name": "run_report_by_name",
    "resourceName": "runReport",
    "verb": "POST",
    "apiDescription": "Run a report by its name",
    "parameters": []
  }
]`

type fakeExecutor struct {
	result any
	err    error
	calls  int
}

func (f *fakeExecutor) Do(_ context.Context, _, _ string, _ map[string]any) (any, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func decodedDiscovery(t *testing.T) any {
	t.Helper()
	var raw any
	if err := json.Unmarshal([]byte(sampleDiscovery), &raw); err != nil {
		t.Fatalf("decoding sample discovery: %v", err)
	}
	return raw
}

func TestLoad_LiveSuccess(t *testing.T) {
	cachePath := filepath.Join(t.TempDir(), "catalog.json")
	exec := &fakeExecutor{result: decodedDiscovery(t)}
	c := New(exec, cachePath)

	n, err := c.Load(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Errorf("got %d endpoints, want 3", n)
	}
	if c.State() != StateLoaded {
		t.Errorf("got state %v, want loaded", c.State())
	}

	ep, ok := c.Get("list_group")
	if !ok {
		t.Fatal("expected list_group to be indexed")
	}
	if ep.Verb != "GET" || ep.Category != "Group Builder" {
		t.Errorf("unexpected endpoint: %+v", ep)
	}

	// Live discovery must refresh the cache file.
	if _, err := os.Stat(cachePath); err != nil {
		t.Errorf("cache file not written: %v", err)
	}
}

func TestLoad_FallsBackToCache(t *testing.T) {
	cachePath := filepath.Join(t.TempDir(), "catalog.json")
	if err := os.WriteFile(cachePath, []byte(sampleDiscovery), 0o600); err != nil {
		t.Fatalf("seeding cache: %v", err)
	}

	exec := &fakeExecutor{err: errors.New("appliance unreachable")}
	c := New(exec, cachePath)

	n, err := c.Load(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Errorf("got %d endpoints, want 3", n)
	}
	if c.State() != StateDegraded {
		t.Errorf("got state %v, want degraded", c.State())
	}
}

func TestLoad_NoCatalogAvailable(t *testing.T) {
	exec := &fakeExecutor{err: errors.New("appliance unreachable")}
	c := New(exec, filepath.Join(t.TempDir(), "missing.json"))

	if _, err := c.Load(context.Background(), false); err == nil {
		t.Fatal("expected error when live discovery fails with no cache")
	}
	if c.State() != StateUninitialized {
		t.Errorf("got state %v, want uninitialized", c.State())
	}
}

func TestLoad_PreferCacheSkipsAppliance(t *testing.T) {
	cachePath := filepath.Join(t.TempDir(), "catalog.json")
	if err := os.WriteFile(cachePath, []byte(sampleDiscovery), 0o600); err != nil {
		t.Fatalf("seeding cache: %v", err)
	}

	exec := &fakeExecutor{result: decodedDiscovery(t)}
	c := New(exec, cachePath)

	if _, err := c.Load(context.Background(), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exec.calls != 0 {
		t.Errorf("appliance called %d times despite warm cache", exec.calls)
	}
	if c.State() != StateLoaded {
		t.Errorf("got state %v, want loaded", c.State())
	}
}

func TestEnsure_LoadsOnce(t *testing.T) {
	exec := &fakeExecutor{result: decodedDiscovery(t)}
	c := New(exec, "")

	if err := c.Ensure(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Ensure(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exec.calls != 1 {
		t.Errorf("got %d discovery calls, want 1", exec.calls)
	}
}

func loadedCatalog(t *testing.T) *Catalog {
	t.Helper()
	c := New(&fakeExecutor{result: decodedDiscovery(t)}, "")
	if _, err := c.Load(context.Background(), false); err != nil {
		t.Fatalf("loading catalog: %v", err)
	}
	return c
}

func TestSearch_ByKeyword(t *testing.T) {
	c := loadedCatalog(t)

	results := c.Search("datasource", "", "", 0)
	if len(results) != 1 || results[0].FunctionName != "create_datasource" {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestSearch_VerbAndCategoryFilters(t *testing.T) {
	c := loadedCatalog(t)

	if results := c.Search("", "", "post", 0); len(results) != 2 {
		t.Errorf("verb filter: got %d results, want 2", len(results))
	}
	if results := c.Search("", "group builder", "", 0); len(results) != 1 {
		t.Errorf("category filter: got %d results, want 1", len(results))
	}
	if results := c.Search("report", "", "GET", 0); len(results) != 0 {
		t.Errorf("combined filter: got %d results, want 0", len(results))
	}
}

func TestSearch_SortedAndLimited(t *testing.T) {
	c := loadedCatalog(t)

	results := c.Search("", "", "", 2)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].FunctionName > results[1].FunctionName {
		t.Error("expected results sorted by function name")
	}
}

func TestCategories_CountsAndUnknownBucket(t *testing.T) {
	c := loadedCatalog(t)

	cats := c.Categories()
	want := map[string]int{"Datasource Builder": 1, "Group Builder": 1, "Unknown": 1}
	if len(cats) != len(want) {
		t.Fatalf("got %d categories, want %d: %+v", len(cats), len(want), cats)
	}
	for _, cc := range cats {
		if want[cc.Name] != cc.Count {
			t.Errorf("category %q: got count %d, want %d", cc.Name, cc.Count, want[cc.Name])
		}
	}
}

func TestSimilar(t *testing.T) {
	c := loadedCatalog(t)

	got := c.Similar("REPORT")
	if len(got) != 1 || got[0] != "run_report_by_name" {
		t.Errorf("unexpected suggestions: %v", got)
	}
}

func TestRequiredParams(t *testing.T) {
	c := loadedCatalog(t)
	ep, _ := c.Get("create_datasource")

	got := ep.RequiredParams()
	if len(got) != 2 || got[0] != "name" || got[1] != "port" {
		t.Errorf("unexpected required params: %v", got)
	}
}

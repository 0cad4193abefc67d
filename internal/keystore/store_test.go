package keystore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "keys.json"))
}

func TestGenerate_RoundTrip(t *testing.T) {
	s := newTestStore(t)

	issued, err := s.Generate("alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(issued.Key) != 64 {
		t.Errorf("got key length %d, want 64", len(issued.Key))
	}
	if issued.KeyPrefix != issued.Key[:8] {
		t.Errorf("prefix %q is not the first 8 chars of the key", issued.KeyPrefix)
	}

	rec := s.Validate(issued.Key)
	if rec == nil {
		t.Fatal("expected issued key to validate")
	}
	if rec.User != "alice" {
		t.Errorf("got user %q, want alice", rec.User)
	}
}

func TestGenerate_EmptyUser(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Generate(""); err == nil {
		t.Fatal("expected error for empty user")
	}
}

func TestValidate_UnknownAndEmpty(t *testing.T) {
	s := newTestStore(t)
	_, _ = s.Generate("alice")

	if rec := s.Validate("never-issued"); rec != nil {
		t.Errorf("expected nil for unknown key, got %+v", rec)
	}
	if rec := s.Validate(""); rec != nil {
		t.Errorf("expected nil for empty key, got %+v", rec)
	}
}

func TestRevoke_InvalidatesKey(t *testing.T) {
	s := newTestStore(t)
	issued, _ := s.Generate("bob")

	rec, err := s.Revoke(issued.KeyPrefix)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec == nil {
		t.Fatal("expected revoked record")
	}
	if rec.User != "bob" {
		t.Errorf("got user %q, want bob", rec.User)
	}

	if got := s.Validate(issued.Key); got != nil {
		t.Error("expected revoked key to fail validation")
	}
	for _, k := range s.List() {
		if k.KeyPrefix == issued.KeyPrefix {
			t.Errorf("revoked prefix %q still listed", k.KeyPrefix)
		}
	}
}

func TestRevoke_UnknownPrefixIsNoOp(t *testing.T) {
	s := newTestStore(t)
	issued, _ := s.Generate("alice")

	rec, err := s.Revoke("00000000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected no match, got %+v", rec)
	}

	if got := s.Validate(issued.Key); got == nil {
		t.Error("existing key should survive a no-op revoke")
	}
	if len(s.List()) != 1 {
		t.Errorf("store changed by no-op revoke: %d keys", len(s.List()))
	}
}

func TestList_NeverExposesSecrets(t *testing.T) {
	s := newTestStore(t)
	issued, _ := s.Generate("alice")

	listed := s.List()
	if len(listed) != 1 {
		t.Fatalf("got %d keys, want 1", len(listed))
	}
	encoded, err := json.Marshal(listed)
	if err != nil {
		t.Fatalf("encoding list: %v", err)
	}
	if strings.Contains(string(encoded), issued.Key) {
		t.Error("list output contains the raw key")
	}
	// The digest is 64 hex chars; only the 8-char prefix may appear.
	if strings.Contains(string(encoded), issued.Key[8:]) {
		t.Error("list output contains raw key material beyond the prefix")
	}
}

func TestList_SortedOldestFirst(t *testing.T) {
	s := newTestStore(t)
	_, _ = s.Generate("first")
	_, _ = s.Generate("second")

	listed := s.List()
	if len(listed) != 2 {
		t.Fatalf("got %d keys, want 2", len(listed))
	}
	if listed[0].Created.After(listed[1].Created) {
		t.Error("expected oldest key first")
	}
}

func TestHasAny(t *testing.T) {
	s := newTestStore(t)
	if s.HasAny() {
		t.Error("expected empty store")
	}
	_, _ = s.Generate("alice")
	if !s.HasAny() {
		t.Error("expected non-empty store")
	}
}

func TestPersistence_AcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.json")
	issued, err := New(path).Generate("alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reopened := New(path)
	rec := reopened.Validate(issued.Key)
	if rec == nil {
		t.Fatal("expected key to survive a store re-open")
	}
	if rec.User != "alice" {
		t.Errorf("got user %q, want alice", rec.User)
	}
}

func TestStoreFile_PermissionsAndContents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.json")
	s := New(path)
	issued, _ := s.Generate("alice")

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat store file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("got file mode %o, want 600", perm)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading store file: %v", err)
	}
	if strings.Contains(string(data), issued.Key) {
		t.Error("raw key persisted to disk")
	}

	var doc struct {
		Keys map[string]Record `json:"keys"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("store file is not valid JSON: %v", err)
	}
	if len(doc.Keys) != 1 {
		t.Fatalf("got %d persisted keys, want 1", len(doc.Keys))
	}
	for digest, rec := range doc.Keys {
		if len(digest) != 64 {
			t.Errorf("digest %q is not a sha256 hex string", digest)
		}
		if rec.KeyPrefix != issued.KeyPrefix {
			t.Errorf("got persisted prefix %q, want %q", rec.KeyPrefix, issued.KeyPrefix)
		}
	}
}

func TestAtomicPersist_NoTempDroppings(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "keys.json"))
	_, _ = s.Generate("alice")
	_, _ = s.Generate("bob")

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading dir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != "keys.json" {
			t.Errorf("unexpected file left behind: %s", e.Name())
		}
	}
}

func TestLoad_MalformedFileTreatedAsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("seeding corrupt file: %v", err)
	}

	s := New(path)
	if s.HasAny() {
		t.Error("corrupt store should read as empty")
	}

	// The store must stay usable: a fresh generate overwrites the corruption.
	issued, err := s.Generate("alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Validate(issued.Key) == nil {
		t.Error("expected key issued over a corrupt store to validate")
	}
}

func TestWriteFailure_IsFatalToMutation(t *testing.T) {
	dir := t.TempDir()
	// A store path whose parent is a file, so persist cannot create it.
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatalf("seeding blocker: %v", err)
	}

	s := New(filepath.Join(blocker, "keys.json"))
	if _, err := s.Generate("alice"); err == nil {
		t.Fatal("expected write failure to surface as an error")
	}
}

func TestConcurrentGenerate_NoLostUpdates(t *testing.T) {
	s := newTestStore(t)

	const n = 16
	issued := make([]*IssuedKey, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key, err := s.Generate("alice")
			if err != nil {
				t.Errorf("generate %d: %v", i, err)
				return
			}
			issued[i] = key
		}(i)
	}
	wg.Wait()

	if got := len(s.List()); got != n {
		t.Fatalf("got %d keys after %d concurrent generates", got, n)
	}
	for i, key := range issued {
		if key == nil {
			continue
		}
		if s.Validate(key.Key) == nil {
			t.Errorf("key %d lost by a concurrent write", i)
		}
	}
}

func TestRevoke_AmbiguousPrefixRefused(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.json")
	doc := document{Keys: map[string]Record{
		"digest-one": {User: "alice", KeyPrefix: "deadbeef"},
		"digest-two": {User: "bob", KeyPrefix: "deadbeef"},
	}}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("encoding seed document: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("seeding store file: %v", err)
	}

	s := New(path)
	rec, err := s.Revoke("deadbeef")
	if err != ErrAmbiguousPrefix {
		t.Fatalf("got err %v, want ErrAmbiguousPrefix", err)
	}
	if rec != nil {
		t.Errorf("got record %+v, want nil", rec)
	}
	if got := len(s.List()); got != 2 {
		t.Errorf("store changed: %d records, want 2", got)
	}
}

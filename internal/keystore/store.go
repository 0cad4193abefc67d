// Package keystore issues, validates, and revokes the per-user API keys that
// gate inbound requests. Keys are persisted as SHA-256 digests in a JSON
// document; the raw key material is returned exactly once at issuance and is
// never stored or logged in full.
package keystore

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/IBM/gdp-mcp-server/internal/logging"
	"github.com/IBM/gdp-mcp-server/internal/metrics"
)

// prefixLen is the number of leading raw-key characters kept as a
// human-readable identifier. Prefixes are a display aid, not a lookup key
// for validation; collisions are acceptable.
const prefixLen = 8

// Record is the stored metadata for an issued key.
type Record struct {
	User      string    `json:"user"`
	Created   time.Time `json:"created"`
	KeyPrefix string    `json:"key_prefix"`
}

// IssuedKey is the one-time result of key generation. Key holds the raw key
// and is not retrievable again.
type IssuedKey struct {
	Key       string    `json:"key"`
	User      string    `json:"user"`
	Created   time.Time `json:"created"`
	KeyPrefix string    `json:"key_prefix"`
}

// document is the on-disk shape: {"keys": {<sha256-hex>: Record}}.
type document struct {
	Keys map[string]Record `json:"keys"`
}

// Store is a file-backed API key store. All operations reload the document
// from disk under the store's lock, so the file is the sole source of truth
// within the process. Concurrent processes sharing one store file are not
// coordinated; run a single server instance per file.
type Store struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// New creates a Store persisting to the given path. The file is created on
// first write.
func New(path string) *Store {
	return &Store{path: path, now: time.Now}
}

// Path returns the store file location.
func (s *Store) Path() string {
	return s.path
}

func hashKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// Generate issues a new API key for the user and persists its record.
// The returned IssuedKey carries the raw key; callers must hand it to the
// user immediately, it cannot be recovered later.
func (s *Store) Generate(user string) (*IssuedKey, error) {
	if user == "" {
		return nil, fmt.Errorf("user is required")
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generating key material: %w", err)
	}
	rawKey := hex.EncodeToString(raw)
	rec := Record{
		User:      user,
		Created:   s.now().UTC(),
		KeyPrefix: rawKey[:prefixLen],
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	doc.Keys[hashKey(rawKey)] = rec
	if err := s.persist(doc); err != nil {
		metrics.KeyStoreOps.WithLabelValues("generate", "error").Inc()
		return nil, err
	}

	metrics.KeyStoreOps.WithLabelValues("generate", "ok").Inc()
	logging.Logger.Info("API key generated", "user", user, "key_prefix", rec.KeyPrefix)
	return &IssuedKey{
		Key:       rawKey,
		User:      rec.User,
		Created:   rec.Created,
		KeyPrefix: rec.KeyPrefix,
	}, nil
}

// Validate checks a raw key against the store and returns its record, or nil
// for an empty or unknown key. Lookup is by exact SHA-256 digest; no partial
// comparison against stored digests ever happens.
func (s *Store) Validate(rawKey string) *Record {
	if rawKey == "" {
		return nil
	}
	digest := hashKey(rawKey)

	s.mu.Lock()
	doc := s.load()
	s.mu.Unlock()

	rec, ok := doc.Keys[digest]
	if !ok {
		metrics.KeyStoreOps.WithLabelValues("validate", "miss").Inc()
		return nil
	}
	metrics.KeyStoreOps.WithLabelValues("validate", "ok").Inc()
	return &rec
}

// List returns the metadata of all issued keys, oldest first. Digests and
// raw keys are never included.
func (s *Store) List() []Record {
	s.mu.Lock()
	doc := s.load()
	s.mu.Unlock()

	out := make([]Record, 0, len(doc.Keys))
	for _, rec := range doc.Keys {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.Before(out[j].Created)
		}
		return out[i].KeyPrefix < out[j].KeyPrefix
	})
	metrics.KeyStoreOps.WithLabelValues("list", "ok").Inc()
	return out
}

// ErrAmbiguousPrefix is returned by Revoke when more than one issued key
// shares the given prefix.
var ErrAmbiguousPrefix = errors.New("key prefix matches more than one key")

// Revoke removes the key whose prefix matches and persists the change.
// Returns (nil, nil) when no key has that prefix; the store is unchanged.
// Since prefixes are a display aid and can collide, a prefix matching more
// than one key is refused with ErrAmbiguousPrefix rather than revoking an
// arbitrary one.
func (s *Store) Revoke(keyPrefix string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	var targetHash string
	var target *Record
	for digest, rec := range doc.Keys {
		if rec.KeyPrefix == keyPrefix {
			if target != nil {
				metrics.KeyStoreOps.WithLabelValues("revoke", "error").Inc()
				return nil, ErrAmbiguousPrefix
			}
			rec := rec
			targetHash, target = digest, &rec
		}
	}
	if target == nil {
		metrics.KeyStoreOps.WithLabelValues("revoke", "miss").Inc()
		return nil, nil
	}

	delete(doc.Keys, targetHash)
	if err := s.persist(doc); err != nil {
		metrics.KeyStoreOps.WithLabelValues("revoke", "error").Inc()
		return nil, err
	}

	metrics.KeyStoreOps.WithLabelValues("revoke", "ok").Inc()
	logging.Logger.Info("API key revoked", "user", target.User, "key_prefix", keyPrefix)
	return target, nil
}

// HasAny reports whether any keys exist in the store.
func (s *Store) HasAny() bool {
	s.mu.Lock()
	doc := s.load()
	s.mu.Unlock()
	return len(doc.Keys) > 0
}

// load reads the document from disk. An absent file is an empty store; a
// malformed file is treated as empty with a logged error so a corrupt store
// never takes the server down.
func (s *Store) load() document {
	doc := document{Keys: make(map[string]Record)}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Logger.Error("failed to read key store", "path", s.path, "error", err)
		}
		return doc
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		logging.Logger.Error("failed to parse key store", "path", s.path, "error", err)
		return document{Keys: make(map[string]Record)}
	}
	if doc.Keys == nil {
		doc.Keys = make(map[string]Record)
	}
	return doc
}

// persist writes the document with owner-only permissions. The write goes to
// a temporary file in the same directory followed by a rename, so a crash
// mid-write cannot corrupt the store.
func (s *Store) persist(doc document) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating key store directory: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding key store: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".keys-*.json")
	if err != nil {
		return fmt.Errorf("creating key store temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("restricting key store permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing key store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing key store temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replacing key store: %w", err)
	}
	return nil
}

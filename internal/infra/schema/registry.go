// Package schema implements the Schema Registry (C2): compiling and
// caching JSON Schema documents keyed by schema_id, and validating
// Artifact payloads against them at insertion time (invariant A2).
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"helix/internal/logging"
)

// ErrUnknownSchema is returned when no schema document is registered for
// the requested schema_id.
type ErrUnknownSchema struct {
	SchemaID string
}

func (e *ErrUnknownSchema) Error() string {
	return fmt.Sprintf("schema: unknown schema_id %q", e.SchemaID)
}

// Registry compiles and validates against JSON Schema documents loaded
// from a directory, one file per schema_id (<schema_id>.json). Compiled
// validators are cached so repeated CompleteTask calls for the same
// agent don't recompile their output schema on every artifact.
type Registry struct {
	mu       sync.RWMutex
	compiler *jsonschema.Compiler
	docs     map[string][]byte

	cache *lru.Cache[string, *jsonschema.Schema]
	log   logging.Logger
}

// Config controls Registry construction.
type Config struct {
	// CacheSize bounds how many compiled validators stay resident. A
	// schema recompiles transparently on the next Validate call after
	// eviction.
	CacheSize int
}

func defaultConfig() Config { return Config{CacheSize: 256} }

// NewRegistry returns an empty Registry. Call LoadDir to populate it.
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.CacheSize <= 0 {
		cfg = defaultConfig()
	}
	cache, err := lru.New[string, *jsonschema.Schema](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("schema: create validator cache: %w", err)
	}
	return &Registry{
		compiler: jsonschema.NewCompiler(),
		docs:     make(map[string][]byte),
		cache:    cache,
		log:      logging.NewComponentLogger(logging.ComponentLoggerConfig{ComponentName: "schema_registry"}),
	}, nil
}

// LoadDir registers every *.json file under dir as a schema resource,
// keyed by its base filename without extension. Safe to call multiple
// times; later calls overwrite earlier documents with the same id.
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("schema: read dir %s: %w", dir, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		schemaID := strings.TrimSuffix(entry.Name(), ".json")
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("schema: read %s: %w", entry.Name(), err)
		}
		if err := r.registerLocked(schemaID, raw); err != nil {
			return err
		}
	}
	return nil
}

// Register adds or replaces a single schema document.
func (r *Registry) Register(schemaID string, document []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerLocked(schemaID, document)
}

func (r *Registry) registerLocked(schemaID string, document []byte) error {
	resourceURL := "mem://" + schemaID
	r.compiler.AddResource(resourceURL, bytes.NewReader(document))
	r.docs[schemaID] = document
	r.cache.Remove(schemaID)
	r.log.Debug("registered schema %s", schemaID)
	return nil
}

// Validate compiles (or reuses the cached compiled validator for)
// schemaID and validates payload against it, returning *ErrUnknownSchema
// if the id was never registered or a jsonschema validation error
// otherwise.
func (r *Registry) Validate(schemaID string, payload []byte) error {
	validator, err := r.compiled(schemaID)
	if err != nil {
		return err
	}

	var doc interface{}
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.UseNumber()
	if err := decoder.Decode(&doc); err != nil {
		return fmt.Errorf("schema: payload is not valid JSON: %w", err)
	}

	if err := validator.Validate(doc); err != nil {
		return fmt.Errorf("schema: payload does not satisfy %q: %w", schemaID, err)
	}
	return nil
}

func (r *Registry) compiled(schemaID string) (*jsonschema.Schema, error) {
	if cached, ok := r.cache.Get(schemaID); ok {
		return cached, nil
	}

	r.mu.RLock()
	_, known := r.docs[schemaID]
	r.mu.RUnlock()
	if !known {
		return nil, &ErrUnknownSchema{SchemaID: schemaID}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cached, ok := r.cache.Get(schemaID); ok {
		return cached, nil
	}

	compiled, err := r.compiler.Compile("mem://" + schemaID)
	if err != nil {
		return nil, fmt.Errorf("schema: compile %q: %w", schemaID, err)
	}
	r.cache.Add(schemaID, compiled)
	return compiled, nil
}

// Has reports whether schemaID has a registered document.
func (r *Registry) Has(schemaID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.docs[schemaID]
	return ok
}

// IDs returns every registered schema_id, for diagnostics.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.docs))
	for id := range r.docs {
		ids = append(ids, id)
	}
	return ids
}

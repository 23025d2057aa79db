// Package typereg maps custom validators to BSON storage types.
//
// Lookups by validator compare *Validator pointers. Names given to
// validators are informational only and never used to resolve a match.
package typereg

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// BSON type names accepted by the $jsonSchema bsonType keyword
const (
	Double    = "double"
	String    = "string"
	Object    = "object"
	Array     = "array"
	BinData   = "binData"
	ObjectID  = "objectId"
	Bool      = "bool"
	Date      = "date"
	Null      = "null"
	Regex     = "regex"
	Int       = "int"
	Timestamp = "timestamp"
	Long      = "long"
	Decimal   = "decimal"
)

// Validator is an opaque custom validator token. Each call to NewValidator
// allocates a distinct token; two tokens are never equal even when their
// names and check functions are.
type Validator struct {
	id    uuid.UUID
	name  string
	check func(any) bool
}

// NewValidator creates a new validator token
func NewValidator(name string, check func(any) bool) *Validator {
	return &Validator{id: uuid.New(), name: name, check: check}
}

// ID returns the generated identifier of the token
func (v *Validator) ID() uuid.UUID { return v.id }

// Name returns the informational name of the token
func (v *Validator) Name() string { return v.name }

// Check runs the validator's check function. A nil function accepts everything.
func (v *Validator) Check(value any) bool {
	if v.check == nil {
		return true
	}
	return v.check(value)
}

func (v *Validator) String() string {
	return v.name + "#" + v.id.String()
}

// Entry is a registered custom type
type Entry struct {
	Validator   *Validator
	StorageType string
}

// NamedEntry is an Entry together with its registered name
type NamedEntry struct {
	Name string
	Entry
}

// Registry is an insertion-ordered set of custom type declarations.
// It is meant to be populated once and then shared read-only.
type Registry struct {
	mu      sync.RWMutex
	index   map[string]int
	entries []NamedEntry
}

// New creates an empty registry
func New() *Registry {
	return &Registry{index: make(map[string]int)}
}

// Register declares a custom type. Registering an existing name replaces
// the entry in place. Empty names are ignored.
func (r *Registry) Register(name string, e Entry) *Registry {
	if name == "" {
		slog.Warn("Ignoring custom type with empty name", "storageType", e.StorageType)
		return r
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.index == nil {
		r.index = make(map[string]int)
	}
	if i, ok := r.index[name]; ok {
		r.entries[i].Entry = e
		return r
	}
	r.index[name] = len(r.entries)
	r.entries = append(r.entries, NamedEntry{Name: name, Entry: e})
	return r
}

// Get returns the entry registered under name
func (r *Registry) Get(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.index[name]
	if !ok {
		return Entry{}, false
	}
	return r.entries[i].Entry, true
}

// Has reports whether name is registered
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Size returns the number of registered entries
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Entries returns a copy of all entries in insertion order
func (r *Registry) Entries() []NamedEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]NamedEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// FindByValidator returns the name of the first entry holding exactly v
func (r *Registry) FindByValidator(v *Validator) (string, bool) {
	if v == nil {
		return "", false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.entries {
		if e.Validator == v {
			return e.Name, true
		}
	}
	return "", false
}

// Clear removes all entries
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.index = make(map[string]int)
	r.entries = nil
}

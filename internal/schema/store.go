package schema

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"bsonschema/internal/schema/typereg"
	"bsonschema/internal/schema/types"

	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
)

const (
	// Key layout of the validator bucket
	keyPrefixCollections = "collections/" // collections/{collection}/versions/{version}
	keyPrefixValidators  = "validators/"  // validators/{id}

	// Key layout of the config bucket
	keyGlobalConfig           = "config/global"
	keyPrefixCollectionConfig = "config/collections/" // config/collections/{collection}

	// GlobalConfig names the store-wide compatibility setting
	GlobalConfig = "global"

	// Latest selects the newest version of a collection
	Latest = "latest"

	defaultCompatibilityLevel = types.Backward
)

var (
	// ErrValidatorNotFound is returned when no validator matches a lookup
	ErrValidatorNotFound = errors.New("validator not found")
	// ErrNoVersions is returned for collections without registered versions
	ErrNoVersions = errors.New("no versions found")
	// ErrInvalidSchema is returned when a source schema cannot be translated
	ErrInvalidSchema = errors.New("invalid schema")
	// ErrInvalidArgument is returned for malformed names, versions and levels
	ErrInvalidArgument = errors.New("invalid argument")
)

// Store keeps versioned MongoDB validators per collection in NATS KeyValue
// buckets. Validators are generated from a source schema when registered.
type Store struct {
	*Translator
	kvValidators nats.KeyValue
	kvConfig     nats.KeyValue
	mu           sync.RWMutex

	// validators by ID; records under validators/ are never rewritten
	cache     map[int]*types.Validator
	stopWatch chan struct{}
	stopOnce  sync.Once
	ready     chan struct{}
}

// New creates a validator store. reg resolves custom types named in DEF
// schemas; nil means the built-in MongoDB types.
func New(kvValidators, kvConfig nats.KeyValue, reg *typereg.Registry) *Store {
	s := &Store{
		Translator:   NewTranslator(reg),
		kvValidators: kvValidators,
		kvConfig:     kvConfig,
		cache:        make(map[int]*types.Validator),
		stopWatch:    make(chan struct{}),
		ready:        make(chan struct{}),
	}

	go s.watchUpdates()

	return s
}

// WaitReady waits until the store is watching for updates
func (s *Store) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops watching for updates
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stopWatch) })
}

// watchUpdates fills the validator cache from the KeyValue store
func (s *Store) watchUpdates() {
	watcher, err := s.kvValidators.WatchAll()
	if err != nil {
		slog.Error("Failed to watch validator updates", "error", err)
		return
	}
	defer watcher.Stop()

	close(s.ready)

	for {
		select {
		case <-s.stopWatch:
			return
		case update, ok := <-watcher.Updates():
			if !ok {
				return
			}
			if update == nil {
				continue
			}
			s.handleUpdate(update)
		}
	}
}

func (s *Store) handleUpdate(update nats.KeyValueEntry) {
	key := update.Key()
	if !strings.HasPrefix(key, keyPrefixValidators) {
		return
	}
	id, err := strconv.Atoi(strings.TrimPrefix(key, keyPrefixValidators))
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if update.Operation() != nats.KeyValuePut {
		delete(s.cache, id)
		return
	}

	var v types.Validator
	if err := json.Unmarshal(update.Value(), &v); err != nil {
		slog.Error("Failed to unmarshal validator update", "key", key, "error", err)
		return
	}
	s.cache[id] = &v
}

// RegisterValidator generates the validator for schemaStr and stores it as
// the next version of collection. Registering a schema whose validator
// equals the latest version returns the existing ID; validators identical to
// one stored for any collection reuse its ID.
func (s *Store) RegisterValidator(collection, schemaStr string, schemaType types.SchemaType) (int, error) {
	if err := checkCollection(collection); err != nil {
		return 0, err
	}
	native, err := s.Generate(schemaStr, schemaType)
	if err != nil {
		return 0, err
	}
	canonical, err := json.Marshal(native)
	if err != nil {
		return 0, fmt.Errorf("marshal validator: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	latestVersion, err := s.latestVersion(collection)
	if err != nil {
		return 0, fmt.Errorf("get latest version: %w", err)
	}

	if latestVersion > 0 {
		latest, err := s.validatorByVersion(collection, latestVersion)
		if err != nil {
			return 0, fmt.Errorf("get latest validator: %w", err)
		}
		if same, _ := sameValidator(latest.Native, canonical); same {
			return latest.ID, nil
		}

		level, err := s.compatibilityLevel(collection)
		if err != nil {
			return 0, fmt.Errorf("get compatibility level: %w", err)
		}
		slog.Debug("Checking validator compatibility", "collection", collection, "latestVersion", latestVersion, "level", level)
		if err := CheckValidators(latest.Native, native, level); err != nil {
			return 0, err
		}
	}

	id, err := s.findValidatorID(canonical)
	if err != nil {
		return 0, err
	}
	newID := id == 0
	if newID {
		if id, err = s.nextValidatorID(); err != nil {
			return 0, fmt.Errorf("get next validator ID: %w", err)
		}
	}

	v := &types.Validator{
		Source:     schemaStr,
		Collection: collection,
		Version:    latestVersion + 1,
		ID:         id,
		Type:       schemaType,
		Native:     native,
	}
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("marshal validator: %w", err)
	}

	if newID {
		if _, err := s.kvValidators.Put(keyPrefixValidators+strconv.Itoa(id), data); err != nil {
			return 0, fmt.Errorf("store validator by ID: %w", err)
		}
		s.cache[id] = v
	}
	if _, err := s.kvValidators.Put(versionKey(collection, v.Version), data); err != nil {
		return 0, fmt.Errorf("store validator by collection/version: %w", err)
	}

	slog.Info("Registered validator", "collection", collection, "version", v.Version, "id", id, "type", schemaType)
	return id, nil
}

// findValidatorID returns the ID of a stored validator equal to canonical, or 0
func (s *Store) findValidatorID(canonical []byte) (int, error) {
	keys, err := s.keys()
	if err != nil {
		return 0, fmt.Errorf("get validator keys: %w", err)
	}
	for _, key := range keys {
		if !strings.HasPrefix(key, keyPrefixValidators) {
			continue
		}
		entry, err := s.kvValidators.Get(key)
		if err != nil {
			continue
		}
		var v types.Validator
		if err := json.Unmarshal(entry.Value(), &v); err != nil {
			continue
		}
		if same, _ := sameValidator(v.Native, canonical); same {
			return v.ID, nil
		}
	}
	return 0, nil
}

func (s *Store) nextValidatorID() (int, error) {
	keys, err := s.keys()
	if err != nil {
		return 0, err
	}
	highest := 0
	for _, key := range keys {
		if !strings.HasPrefix(key, keyPrefixValidators) {
			continue
		}
		id, err := strconv.Atoi(strings.TrimPrefix(key, keyPrefixValidators))
		if err == nil && id > highest {
			highest = id
		}
	}
	return highest + 1, nil
}

func (s *Store) keys() ([]string, error) {
	keys, err := s.kvValidators.Keys()
	if errors.Is(err, nats.ErrNoKeysFound) {
		return nil, nil
	}
	return keys, err
}

// versions lists the stored versions of collection in ascending order
func (s *Store) versions(collection string) ([]int, error) {
	keys, err := s.keys()
	if err != nil {
		return nil, err
	}
	prefix := keyPrefixCollections + collection + "/versions/"
	var versions []int
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		version, err := strconv.Atoi(strings.TrimPrefix(key, prefix))
		if err != nil {
			continue
		}
		versions = append(versions, version)
	}
	sort.Ints(versions)
	return versions, nil
}

func (s *Store) latestVersion(collection string) (int, error) {
	versions, err := s.versions(collection)
	if err != nil || len(versions) == 0 {
		return 0, err
	}
	return versions[len(versions)-1], nil
}

func (s *Store) validatorByVersion(collection string, version int) (*types.Validator, error) {
	entry, err := s.kvValidators.Get(versionKey(collection, version))
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s version %d", ErrValidatorNotFound, collection, version)
		}
		return nil, err
	}

	var v types.Validator
	if err := json.Unmarshal(entry.Value(), &v); err != nil {
		return nil, fmt.Errorf("unmarshal validator: %w", err)
	}
	return &v, nil
}

// resolveVersion turns a version string or "latest" into a version number
func (s *Store) resolveVersion(collection, version string) (int, error) {
	if version == Latest {
		latest, err := s.latestVersion(collection)
		if err != nil {
			return 0, err
		}
		if latest == 0 {
			return 0, fmt.Errorf("%w: %s", ErrNoVersions, collection)
		}
		return latest, nil
	}
	n, err := strconv.Atoi(version)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: version %q", ErrInvalidArgument, version)
	}
	return n, nil
}

// GetValidator retrieves a validator by ID
func (s *Store) GetValidator(id int) (*types.Validator, error) {
	s.mu.RLock()
	v, ok := s.cache[id]
	s.mu.RUnlock()
	if ok {
		return v, nil
	}

	entry, err := s.kvValidators.Get(keyPrefixValidators + strconv.Itoa(id))
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: id %d", ErrValidatorNotFound, id)
		}
		return nil, fmt.Errorf("get validator: %w", err)
	}

	var stored types.Validator
	if err := json.Unmarshal(entry.Value(), &stored); err != nil {
		return nil, fmt.Errorf("unmarshal validator: %w", err)
	}

	s.mu.Lock()
	s.cache[id] = &stored
	s.mu.Unlock()
	return &stored, nil
}

// GetValidatorByID parses id and retrieves the validator
func (s *Store) GetValidatorByID(id string) (*types.Validator, error) {
	n, err := strconv.Atoi(id)
	if err != nil {
		return nil, fmt.Errorf("%w: validator ID %q", ErrInvalidArgument, id)
	}
	return s.GetValidator(n)
}

// GetValidatorByCollectionVersion retrieves a version of collection. version
// is a number or "latest".
func (s *Store) GetValidatorByCollectionVersion(collection, version string) (*types.Validator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, err := s.resolveVersion(collection, version)
	if err != nil {
		return nil, err
	}
	return s.validatorByVersion(collection, n)
}

// GetVersions returns the versions of collection in ascending order
func (s *Store) GetVersions(collection string) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions, err := s.versions(collection)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoVersions, collection)
	}
	return versions, nil
}

// GetCollections returns the collections that have at least one version
func (s *Store) GetCollections() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys, err := s.keys()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	collections := make([]string, 0)
	for _, key := range keys {
		rest, ok := strings.CutPrefix(key, keyPrefixCollections)
		if !ok {
			continue
		}
		name, _, ok := strings.Cut(rest, "/versions/")
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		collections = append(collections, name)
	}
	sort.Strings(collections)
	return collections, nil
}

// GetCompatibilityLevel returns the level of collection, falling back to the
// global level and then to BACKWARD
func (s *Store) GetCompatibilityLevel(collection string) (types.CompatibilityLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.compatibilityLevel(collection)
}

func (s *Store) compatibilityLevel(collection string) (types.CompatibilityLevel, error) {
	if collection != GlobalConfig {
		entry, err := s.kvConfig.Get(keyPrefixCollectionConfig + collection)
		if err == nil {
			return types.CompatibilityLevel(entry.Value()), nil
		}
		if !errors.Is(err, nats.ErrKeyNotFound) {
			return "", fmt.Errorf("get collection config: %w", err)
		}
	}

	entry, err := s.kvConfig.Get(keyGlobalConfig)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return defaultCompatibilityLevel, nil
		}
		return "", fmt.Errorf("get global config: %w", err)
	}
	return types.CompatibilityLevel(entry.Value()), nil
}

// SetCompatibilityLevel sets the level of collection, or the global level
// when collection is "global"
func (s *Store) SetCompatibilityLevel(collection string, level types.CompatibilityLevel) error {
	switch level {
	case types.Backward, types.Forward, types.Full, types.None:
	default:
		return fmt.Errorf("%w: compatibility level %q", ErrInvalidArgument, level)
	}

	key := keyGlobalConfig
	if collection != GlobalConfig {
		if err := checkCollection(collection); err != nil {
			return err
		}
		key = keyPrefixCollectionConfig + collection
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.kvConfig.Put(key, []byte(level)); err != nil {
		return fmt.Errorf("store compatibility level: %w", err)
	}
	return nil
}

// CheckCompatibility reports whether schemaStr may become the next version
// of collection under level. Collections without versions accept anything.
// An empty level uses the collection's configured level.
func (s *Store) CheckCompatibility(collection, schemaStr string, schemaType types.SchemaType, level types.CompatibilityLevel) (bool, error) {
	native, err := s.Generate(schemaStr, schemaType)
	if err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	latest, err := s.latestVersion(collection)
	if err != nil {
		return false, err
	}
	if latest == 0 {
		return true, nil
	}
	if level == "" {
		if level, err = s.compatibilityLevel(collection); err != nil {
			return false, err
		}
	}

	old, err := s.validatorByVersion(collection, latest)
	if err != nil {
		return false, err
	}
	if err := CheckValidators(old.Native, native, level); err != nil {
		if errors.Is(err, ErrIncompatible) {
			slog.Debug("Validator is incompatible", "collection", collection, "reason", err)
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// DeleteValidatorVersion removes one version of collection and returns its
// number. Validators stay retrievable by ID.
func (s *Store) DeleteValidatorVersion(collection, version string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.resolveVersion(collection, version)
	if err != nil {
		return 0, err
	}

	key := versionKey(collection, n)
	if _, err := s.kvValidators.Get(key); err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return 0, fmt.Errorf("%w: %s version %d", ErrValidatorNotFound, collection, n)
		}
		return 0, err
	}
	if err := s.kvValidators.Delete(key); err != nil {
		return 0, fmt.Errorf("delete version: %w", err)
	}
	return n, nil
}

// DeleteCollection removes every version of collection and its config, and
// returns the deleted versions
func (s *Store) DeleteCollection(collection string) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions, err := s.versions(collection)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoVersions, collection)
	}

	for _, version := range versions {
		if err := s.kvValidators.Delete(versionKey(collection, version)); err != nil {
			return nil, fmt.Errorf("delete version %d: %w", version, err)
		}
	}
	if err := s.kvConfig.Delete(keyPrefixCollectionConfig + collection); err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		slog.Warn("Failed to delete collection config", "collection", collection, "error", err)
	}

	slog.Debug("Deleted collection", "collection", collection, "versions", versions)
	return versions, nil
}

// LookupValidator finds the version of collection whose validator equals
// the one generated from schemaStr
func (s *Store) LookupValidator(collection, schemaStr string, schemaType types.SchemaType) (*types.Validator, error) {
	native, err := s.Generate(schemaStr, schemaType)
	if err != nil {
		return nil, err
	}
	canonical, err := json.Marshal(native)
	if err != nil {
		return nil, fmt.Errorf("marshal validator: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	versions, err := s.versions(collection)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoVersions, collection)
	}
	for _, version := range versions {
		v, err := s.validatorByVersion(collection, version)
		if err != nil {
			continue
		}
		if same, _ := sameValidator(v.Native, canonical); same {
			return v, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrValidatorNotFound, collection)
}

func versionKey(collection string, version int) string {
	return fmt.Sprintf("%s%s/versions/%d", keyPrefixCollections, collection, version)
}

// sameValidator compares a validator with canonical JSON
func sameValidator(native types.Schema, canonical []byte) (bool, error) {
	data, err := json.Marshal(native)
	if err != nil {
		return false, err
	}
	return bytes.Equal(data, canonical), nil
}

// checkCollection rejects names that cannot be part of a KeyValue key
func checkCollection(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name is empty", ErrInvalidArgument)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-', r == '.':
		default:
			return fmt.Errorf("%w: collection name %q", ErrInvalidArgument, name)
		}
	}
	if name == GlobalConfig {
		return fmt.Errorf("%w: collection name %q is reserved", ErrInvalidArgument, name)
	}
	return nil
}

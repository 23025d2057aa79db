package rest

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// MemoryKeyValue is an in-memory implementation of nats.KeyValue used when
// NATS is not available. It keeps revisions and history and supports
// watchers, so a store running on it behaves like one backed by JetStream.
// Watch options are ignored.
type MemoryKeyValue struct {
	name     string
	data     map[string]*MemoryKeyValueEntry
	history  map[string][]*MemoryKeyValueEntry
	revision uint64
	watchers map[*memoryWatcher]struct{}
	mutex    sync.RWMutex
}

var _ nats.KeyValue = (*MemoryKeyValue)(nil)

// NewMemoryKeyValue creates a new in-memory KeyValue store
func NewMemoryKeyValue(name string) *MemoryKeyValue {
	return &MemoryKeyValue{
		name:     name,
		data:     make(map[string]*MemoryKeyValueEntry),
		history:  make(map[string][]*MemoryKeyValueEntry),
		watchers: make(map[*memoryWatcher]struct{}),
	}
}

// Get retrieves the current value for a key
func (m *MemoryKeyValue) Get(key string) (nats.KeyValueEntry, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if e, ok := m.data[key]; ok {
		return e, nil
	}
	return nil, nats.ErrKeyNotFound
}

// GetRevision returns a specific revision value for the key
func (m *MemoryKeyValue) GetRevision(key string, revision uint64) (nats.KeyValueEntry, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for _, e := range m.history[key] {
		if e.revision == revision && e.op == nats.KeyValuePut {
			return e, nil
		}
	}
	return nil, nats.ErrKeyNotFound
}

// Put stores a value for a key
func (m *MemoryKeyValue) Put(key string, value []byte) (uint64, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.record(key, value, nats.KeyValuePut), nil
}

// PutString stores a string value for a key
func (m *MemoryKeyValue) PutString(key string, value string) (uint64, error) {
	return m.Put(key, []byte(value))
}

// Create stores a value only if the key does not exist
func (m *MemoryKeyValue) Create(key string, value []byte) (uint64, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, ok := m.data[key]; ok {
		return 0, nats.ErrKeyExists
	}
	return m.record(key, value, nats.KeyValuePut), nil
}

// Update stores a value only if last is the key's current revision
func (m *MemoryKeyValue) Update(key string, value []byte, last uint64) (uint64, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	e, ok := m.data[key]
	if !ok {
		return 0, nats.ErrKeyNotFound
	}
	if e.revision != last {
		return 0, nats.ErrKeyExists
	}
	return m.record(key, value, nats.KeyValuePut), nil
}

// Delete deletes a key, leaving a delete marker in its history
func (m *MemoryKeyValue) Delete(key string, opts ...nats.DeleteOpt) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, ok := m.data[key]; !ok {
		return nats.ErrKeyNotFound
	}
	m.record(key, nil, nats.KeyValueDelete)
	return nil
}

// Purge deletes a key and drops its history
func (m *MemoryKeyValue) Purge(key string, opts ...nats.DeleteOpt) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, ok := m.data[key]; !ok {
		return nats.ErrKeyNotFound
	}
	m.record(key, nil, nats.KeyValuePurge)
	m.history[key] = m.history[key][len(m.history[key])-1:]
	return nil
}

// record applies a change and notifies watchers. The caller holds the lock.
func (m *MemoryKeyValue) record(key string, value []byte, op nats.KeyValueOp) uint64 {
	m.revision++
	e := &MemoryKeyValueEntry{
		bucket:   m.name,
		key:      key,
		value:    append([]byte(nil), value...),
		revision: m.revision,
		created:  time.Now(),
		op:       op,
	}
	if op == nats.KeyValuePut {
		m.data[key] = e
	} else {
		delete(m.data, key)
	}
	m.history[key] = append(m.history[key], e)

	for w := range m.watchers {
		if w.matches(key) {
			w.send(e)
		}
	}
	return e.revision
}

// Keys returns all keys in the store
func (m *MemoryKeyValue) Keys(opts ...nats.WatchOpt) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if len(m.data) == 0 {
		return nil, nats.ErrNoKeysFound
	}
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	slog.Debug("Listed memory keys", "bucket", m.name, "count", len(keys))
	return keys, nil
}

// ListKeys returns all keys in the store via a channel
func (m *MemoryKeyValue) ListKeys(opts ...nats.WatchOpt) (nats.KeyLister, error) {
	keys, err := m.Keys(opts...)
	if err != nil && err != nats.ErrNoKeysFound {
		return nil, err
	}
	ch := make(chan string, len(keys))
	for _, k := range keys {
		ch <- k
	}
	close(ch)
	return &memoryKeyLister{keys: ch}, nil
}

// Watch watches keys matching a NATS subject filter, e.g. "validators.>"
// or a literal key
func (m *MemoryKeyValue) Watch(keys string, opts ...nats.WatchOpt) (nats.KeyWatcher, error) {
	return m.WatchFiltered([]string{keys}, opts...)
}

// WatchAll watches for changes to all keys
func (m *MemoryKeyValue) WatchAll(opts ...nats.WatchOpt) (nats.KeyWatcher, error) {
	return m.WatchFiltered([]string{">"}, opts...)
}

// WatchFiltered watches keys matching any of the filters. Like JetStream it
// first delivers the current value of every matching key, then a nil entry,
// then live updates.
func (m *MemoryKeyValue) WatchFiltered(keys []string, opts ...nats.WatchOpt) (nats.KeyWatcher, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	w := &memoryWatcher{
		kv:      m,
		filters: keys,
		updates: make(chan nats.KeyValueEntry, len(m.data)+watchBuffer),
		ctx:     ctx,
		cancel:  cancel,
	}

	current := make([]*MemoryKeyValueEntry, 0, len(m.data))
	for k, e := range m.data {
		if w.matches(k) {
			current = append(current, e)
		}
	}
	sort.Slice(current, func(i, j int) bool { return current[i].revision < current[j].revision })
	for _, e := range current {
		w.updates <- e
	}
	w.updates <- nil

	m.watchers[w] = struct{}{}
	return w, nil
}

// History returns every recorded change of a key
func (m *MemoryKeyValue) History(key string, opts ...nats.WatchOpt) ([]nats.KeyValueEntry, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	hist := m.history[key]
	if len(hist) == 0 {
		return nil, nats.ErrKeyNotFound
	}
	out := make([]nats.KeyValueEntry, len(hist))
	for i, e := range hist {
		out[i] = e
	}
	return out, nil
}

// Bucket returns the bucket name
func (m *MemoryKeyValue) Bucket() string {
	return m.name
}

// PurgeDeletes drops the history of deleted keys
func (m *MemoryKeyValue) PurgeDeletes(opts ...nats.PurgeOpt) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for k := range m.history {
		if _, ok := m.data[k]; !ok {
			delete(m.history, k)
		}
	}
	return nil
}

// Status returns the status of the bucket
func (m *MemoryKeyValue) Status() (nats.KeyValueStatus, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var size uint64
	for _, e := range m.data {
		size += uint64(len(e.value))
	}
	return &MemoryKeyValueStatus{
		bucket:       m.name,
		values:       uint64(len(m.data)),
		bytes:        size,
		backingStore: "Memory",
	}, nil
}

func (m *MemoryKeyValue) unwatch(w *memoryWatcher) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.watchers, w)
}

// watchBuffer is the number of live updates a watcher holds before
// dropping them
const watchBuffer = 256

type memoryWatcher struct {
	kv       *MemoryKeyValue
	filters  []string
	updates  chan nats.KeyValueEntry
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

func (w *memoryWatcher) Context() context.Context { return w.ctx }

func (w *memoryWatcher) Updates() <-chan nats.KeyValueEntry { return w.updates }

// Stop removes the watcher. Its channel is left open, as with JetStream
// watchers; receivers select on Context().Done().
func (w *memoryWatcher) Stop() error {
	w.stopOnce.Do(func() {
		w.kv.unwatch(w)
		w.cancel()
	})
	return nil
}

func (w *memoryWatcher) send(e nats.KeyValueEntry) {
	select {
	case w.updates <- e:
	default:
		slog.Warn("Dropped memory watcher update", "bucket", w.kv.name, "key", e.Key())
	}
}

func (w *memoryWatcher) matches(key string) bool {
	for _, f := range w.filters {
		if matchSubject(f, key) {
			return true
		}
	}
	return false
}

// matchSubject matches a key against a NATS subject filter with "*" and ">"
// wildcards over dot-separated tokens
func matchSubject(filter, key string) bool {
	ft := strings.Split(filter, ".")
	kt := strings.Split(key, ".")
	for i, t := range ft {
		if t == ">" {
			return len(kt) > i
		}
		if i >= len(kt) {
			return false
		}
		if t != "*" && t != kt[i] {
			return false
		}
	}
	return len(ft) == len(kt)
}

type memoryKeyLister struct {
	keys chan string
}

func (l *memoryKeyLister) Keys() <-chan string { return l.keys }

func (l *memoryKeyLister) Stop() error { return nil }

// MemoryKeyValueEntry implements the KeyValueEntry interface for the in-memory store
type MemoryKeyValueEntry struct {
	bucket   string
	key      string
	value    []byte
	revision uint64
	created  time.Time
	op       nats.KeyValueOp
}

// Bucket returns the bucket name
func (e *MemoryKeyValueEntry) Bucket() string {
	return e.bucket
}

// Key returns the key
func (e *MemoryKeyValueEntry) Key() string {
	return e.key
}

// Value returns the value
func (e *MemoryKeyValueEntry) Value() []byte {
	return e.value
}

// Revision returns the revision
func (e *MemoryKeyValueEntry) Revision() uint64 {
	return e.revision
}

// Created returns the creation time
func (e *MemoryKeyValueEntry) Created() time.Time {
	return e.created
}

// Delta returns the delta
func (e *MemoryKeyValueEntry) Delta() uint64 {
	return 0
}

// Operation returns the operation
func (e *MemoryKeyValueEntry) Operation() nats.KeyValueOp {
	return e.op
}

// MemoryKeyValueStatus implements the KeyValueStatus interface
type MemoryKeyValueStatus struct {
	bucket       string
	values       uint64
	bytes        uint64
	backingStore string
}

// Bucket returns the bucket name
func (s *MemoryKeyValueStatus) Bucket() string {
	return s.bucket
}

// Values returns the number of values in the bucket
func (s *MemoryKeyValueStatus) Values() uint64 {
	return s.values
}

// History returns the configured history kept per key
func (s *MemoryKeyValueStatus) History() int64 {
	return 0
}

// TTL returns how long the bucket keeps values for
func (s *MemoryKeyValueStatus) TTL() time.Duration {
	return 0
}

// BackingStore returns the technology used for storage
func (s *MemoryKeyValueStatus) BackingStore() string {
	return s.backingStore
}

// Bytes returns the size in bytes of the bucket
func (s *MemoryKeyValueStatus) Bytes() uint64 {
	return s.bytes
}

// IsCompressed returns if the data is compressed
func (s *MemoryKeyValueStatus) IsCompressed() bool {
	return false
}

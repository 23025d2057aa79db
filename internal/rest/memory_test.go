package rest

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryKeyValue_Revisions(t *testing.T) {
	kv := NewMemoryKeyValue("TEST")

	rev, err := kv.Put("a", []byte("1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rev)

	_, err = kv.Create("a", []byte("x"))
	assert.ErrorIs(t, err, nats.ErrKeyExists)

	_, err = kv.Update("a", []byte("2"), 7)
	assert.ErrorIs(t, err, nats.ErrKeyExists)
	rev, err = kv.Update("a", []byte("2"), rev)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rev)

	e, err := kv.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "2", string(e.Value()))
	assert.Equal(t, "TEST", e.Bucket())

	old, err := kv.GetRevision("a", 1)
	require.NoError(t, err)
	assert.Equal(t, "1", string(old.Value()))

	require.NoError(t, kv.Delete("a"))
	_, err = kv.Get("a")
	assert.ErrorIs(t, err, nats.ErrKeyNotFound)
	assert.ErrorIs(t, kv.Delete("a"), nats.ErrKeyNotFound)

	hist, err := kv.History("a")
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, nats.KeyValueDelete, hist[2].Operation())

	_, err = kv.Keys()
	assert.ErrorIs(t, err, nats.ErrNoKeysFound)

	require.NoError(t, kv.PurgeDeletes())
	_, err = kv.History("a")
	assert.ErrorIs(t, err, nats.ErrKeyNotFound)
}

func TestMemoryKeyValue_Keys(t *testing.T) {
	kv := NewMemoryKeyValue("TEST")
	for _, k := range []string{"b", "a", "c"} {
		_, err := kv.PutString(k, k)
		require.NoError(t, err)
	}

	keys, err := kv.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, keys)

	lister, err := kv.ListKeys()
	require.NoError(t, err)
	var listed []string
	for k := range lister.Keys() {
		listed = append(listed, k)
	}
	assert.Equal(t, keys, listed)

	status, err := kv.Status()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), status.Values())
	assert.Equal(t, uint64(3), status.Bytes())
	assert.Equal(t, "Memory", status.BackingStore())
}

func receive(t *testing.T, w nats.KeyWatcher) nats.KeyValueEntry {
	t.Helper()
	select {
	case e := <-w.Updates():
		return e
	case <-time.After(time.Second):
		t.Fatal("no update received")
		return nil
	}
}

func TestMemoryKeyValue_Watch(t *testing.T) {
	kv := NewMemoryKeyValue("TEST")
	_, err := kv.Put("validators/1", []byte("one"))
	require.NoError(t, err)
	_, err = kv.Put("config.global", []byte("FULL"))
	require.NoError(t, err)

	all, err := kv.WatchAll()
	require.NoError(t, err)
	defer all.Stop()
	config, err := kv.Watch("config.*")
	require.NoError(t, err)

	assert.Equal(t, "validators/1", receive(t, all).Key())
	assert.Equal(t, "config.global", receive(t, all).Key())
	assert.Nil(t, receive(t, all))

	assert.Equal(t, "config.global", receive(t, config).Key())
	assert.Nil(t, receive(t, config))

	_, err = kv.Put("validators/2", []byte("two"))
	require.NoError(t, err)
	require.NoError(t, kv.Delete("config.global"))

	e := receive(t, all)
	assert.Equal(t, "validators/2", e.Key())
	assert.Equal(t, nats.KeyValuePut, e.Operation())
	e = receive(t, all)
	assert.Equal(t, "config.global", e.Key())
	assert.Equal(t, nats.KeyValueDelete, e.Operation())

	assert.Equal(t, nats.KeyValueDelete, receive(t, config).Operation())

	require.NoError(t, config.Stop())
	select {
	case <-config.Context().Done():
	default:
		t.Fatal("watcher context not cancelled")
	}
	_, err = kv.Put("config.global", []byte("NONE"))
	require.NoError(t, err)
	select {
	case e := <-config.Updates():
		t.Fatalf("stopped watcher received %v", e.Key())
	default:
	}
}

func TestMatchSubject(t *testing.T) {
	tests := []struct {
		filter string
		key    string
		want   bool
	}{
		{">", "validators/1", true},
		{">", "a.b.c", true},
		{"a.*", "a.b", true},
		{"a.*", "a.b.c", false},
		{"a.>", "a.b.c", true},
		{"a.>", "a", false},
		{"a.b", "a.b", true},
		{"a.b", "a.c", false},
		{"validators/1", "validators/1", true},
		{"validators/1", "validators/10", false},
	}

	for _, tt := range tests {
		t.Run(tt.filter+" "+tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, matchSubject(tt.filter, tt.key))
		})
	}
}

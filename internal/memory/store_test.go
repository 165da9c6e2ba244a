package memory

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	key := StorageKey("abc")

	_, err := store.Load(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	exists, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.Save(ctx, key, []byte(`{"session_id":"abc"}`)))

	data, err := store.Load(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"session_id":"abc"}`, string(data))

	exists, err = store.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, store.Save(ctx, key, []byte(`{"session_id":"xyz"}`)))
	data, err = store.Load(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"session_id":"xyz"}`, string(data))

	require.NoError(t, store.Delete(ctx, key))
	_, err = store.Load(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting twice is fine.
	require.NoError(t, store.Delete(ctx, key))
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	testStore(t, store)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)

	store, err := NewRedisStore("redis://"+mr.Addr(), time.Hour)
	require.NoError(t, err)
	defer store.Close()

	testStore(t, store)
}

func TestRedisStoreTTL(t *testing.T) {
	mr := miniredis.RunT(t)

	store, err := NewRedisStore("redis://"+mr.Addr(), time.Minute)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, StorageKey("ttl"), []byte("{}")))
	assert.Equal(t, time.Minute, mr.TTL(StorageKey("ttl")))

	mr.FastForward(2 * time.Minute)
	_, err = store.Load(ctx, StorageKey("ttl"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreBadURL(t *testing.T) {
	_, err := NewRedisStore("not-a-url", time.Minute)
	assert.Error(t, err)
}

func TestBadgerStore(t *testing.T) {
	store, err := NewBadgerStore(t.TempDir(), 0)
	require.NoError(t, err)
	defer store.Close()

	testStore(t, store)
}

func TestBadgerStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewBadgerStore(dir, time.Hour)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, StorageKey("s"), []byte(`{"a":1}`)))
	require.NoError(t, store.Close())

	store, err = NewBadgerStore(dir, time.Hour)
	require.NoError(t, err)
	defer store.Close()

	data, err := store.Load(ctx, StorageKey("s"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(data))
}

func TestNewSessionID(t *testing.T) {
	a, b := NewSessionID(), NewSessionID()
	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "session_")
	assert.Equal(t, "neighbourbot_"+a, StorageKey(a))
}

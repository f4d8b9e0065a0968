package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestLoadUnreadMissing(t *testing.T) {
	store := setupStore(t)

	count, ok, err := store.LoadUnread("u1")
	require.NoError(t, err)
	require.False(t, ok)
	require.Zero(t, count)
}

func TestStoreThenLoadUnread(t *testing.T) {
	store := setupStore(t)

	require.NoError(t, store.StoreUnread("u1", 5))
	require.NoError(t, store.StoreUnread("u2", 1))
	require.NoError(t, store.StoreUnread("u1", 6))

	count, ok, err := store.LoadUnread("u1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 6, count)

	count, ok, err = store.LoadUnread("u2")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, count)
}

func TestReopenOnDisk(t *testing.T) {
	dir := t.TempDir()

	store, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, store.StoreUnread("u1", 3))
	require.NoError(t, store.Close())

	store, err = Open(dir)
	require.NoError(t, err)
	defer store.Close()

	count, ok, err := store.LoadUnread("u1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 3, count)
}

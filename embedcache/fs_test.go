package embedcache

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSStoreRoundTrip(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	ok, err := store.Exists("train_0.fpt")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Get("train_0.fpt")
	require.ErrorIs(t, err, ErrNotFound)

	payload := []byte("hello embeddings")
	require.NoError(t, store.Put("train_0.fpt", payload))

	ok, err = store.Exists("train_0.fpt")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.Get("train_0.fpt")
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFSStorePutLeavesNoTempFiles(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Put("valid_3_msa.fpt", []byte{1, 2, 3}))
	// Re-put must not error and must replace wholesale.
	require.NoError(t, store.Put("valid_3_msa.fpt", []byte{4, 5, 6}))

	entries, err := os.ReadDir(store.Root())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "valid_3_msa.fpt", entries[0].Name())

	got, err := store.Get("valid_3_msa.fpt")
	require.NoError(t, err)
	assert.Equal(t, []byte{4, 5, 6}, got)
}

package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileBlobStoreRoundTrip(t *testing.T) {
	store, err := NewFileBlobStore(filepath.Join(t.TempDir(), "blobs"))
	require.NoError(t, err)
	ctx := context.Background()

	data := bytes.Repeat([]byte("payload "), 4096)
	key, err := store.Put(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, Key(data), key)

	again, err := store.Put(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, key, again, "same content keeps the same key")

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	info, err := os.Stat(filepath.Join(store.dir, key[:2], key+".zst"))
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(len(data)), "blob is stored compressed")
}

func TestFileBlobStoreErrors(t *testing.T) {
	store, err := NewFileBlobStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Get(ctx, Key([]byte("missing")))
	assert.ErrorIs(t, err, ErrBlobNotFound)

	_, err = store.Get(ctx, "../etc/passwd")
	assert.Error(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = store.Put(cancelled, []byte("x"))
	assert.Error(t, err)
}

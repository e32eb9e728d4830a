package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreLifecycle(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()

	name := "insert_log/1/2/3/100/1.binlog"
	data := []byte("hello world, this is a test blob")

	require.NoError(t, store.Put(ctx, name, data))

	blob, err := store.Open(ctx, name)
	require.NoError(t, err)
	defer blob.Close()

	require.Equal(t, int64(len(data)), blob.Size())

	buf := make([]byte, 5)
	n, err := blob.ReadAt(buf, 6)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "world", string(buf))

	require.NoError(t, store.Put(ctx, "delta_log/1/2/3/2.binlog", []byte("tombstones")))

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	require.Equal(t, []string{"delta_log/1/2/3/2.binlog", name}, names)

	names, err = store.List(ctx, "insert_log/")
	require.NoError(t, err)
	require.Equal(t, []string{name}, names)

	require.NoError(t, store.Delete(ctx, name))

	_, err = store.Open(ctx, name)
	require.ErrorIs(t, err, ErrNotFound)

	// Deleting a missing blob is not an error.
	require.NoError(t, store.Delete(ctx, name))
}

func TestLocalStoreOverwrite(t *testing.T) {
	dir := t.TempDir()
	store := NewLocalStore(dir)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "stats.blob", []byte("first version")))
	require.NoError(t, store.Put(ctx, "stats.blob", []byte("second")))

	data, err := ReadAll(ctx, store, "stats.blob")
	require.NoError(t, err)
	require.Equal(t, []byte("second"), data)

	// Rename-into-place must not leave temp files behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "stats.blob", entries[0].Name())
}

func TestLocalStoreReadAtBoundaries(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "boundary.bin", []byte("0123456789")))

	blob, err := store.Open(ctx, "boundary.bin")
	require.NoError(t, err)
	defer blob.Close()

	buf := make([]byte, 10)
	n, err := blob.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, "0123456789", string(buf[:n]))

	// Short read past the end.
	n, err = blob.ReadAt(buf, 8)
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, 2, n)
	require.Equal(t, "89", string(buf[:n]))

	_, err = blob.ReadAt(buf, 20)
	require.ErrorIs(t, err, io.EOF)
}

func TestLocalStoreLayout(t *testing.T) {
	dir := t.TempDir()
	store := NewLocalStore(dir)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "a/b/c.bin", []byte("x")))

	_, err := os.Stat(filepath.Join(dir, "a", "b", "c.bin"))
	assert.NoError(t, err)
}

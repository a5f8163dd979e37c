package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gear6io/ranger-catalog/server/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFileStorage(t *testing.T) {
	mfs := NewFileStorage()
	assert.NotNil(t, mfs)
	assert.Equal(t, "FILESYSTEM", mfs.GetStorageType())
}

func TestFileStorageReadWrite(t *testing.T) {
	ctx := context.Background()
	mfs := NewFileStorage()
	path := filepath.Join(t.TempDir(), "tpch", "orders", "metadata", "v1.metadata.json")

	_, err := mfs.Read(ctx, path)
	require.Error(t, err)
	assert.True(t, storage.IsNotFound(err))

	require.NoError(t, mfs.Write(ctx, path, []byte(`{"a":1}`)))
	require.NoError(t, mfs.Write(ctx, path, []byte(`{"a":2}`)))

	data, err := mfs.Read(ctx, "file://"+path)
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, string(data))

	exists, err := mfs.Exists(ctx, path)
	require.NoError(t, err)
	assert.True(t, exists)

	// no temp files left behind
	names, err := mfs.List(ctx, filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, []string{"v1.metadata.json"}, names)
}

func TestFileStorageWriteExclusive(t *testing.T) {
	ctx := context.Background()
	mfs := NewFileStorage()
	path := filepath.Join(t.TempDir(), "v2.metadata.json")

	var wg sync.WaitGroup
	results := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = mfs.WriteExclusive(ctx, path, []byte{byte('a' + i)})
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
			continue
		}
		assert.True(t, storage.IsAlreadyExists(err))
	}
	assert.Equal(t, 1, winners)
}

func TestFileStorageListAndDelete(t *testing.T) {
	ctx := context.Background()
	mfs := NewFileStorage()
	dir := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "b"), 0755))
	require.NoError(t, mfs.Write(ctx, filepath.Join(dir, "a.json"), []byte("x")))

	names, err := mfs.List(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.json", "b"}, names)

	names, err = mfs.List(ctx, filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Empty(t, names)

	names, err = mfs.List(ctx, filepath.Join(dir, "a.json"))
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, mfs.Delete(ctx, filepath.Join(dir, "a.json")))
	require.NoError(t, mfs.Delete(ctx, filepath.Join(dir, "a.json")))
	exists, err := mfs.Exists(ctx, filepath.Join(dir, "a.json"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFileStorageRejectsRelativePaths(t *testing.T) {
	_, err := NewFileStorage().Read(context.Background(), "relative/file")
	require.Error(t, err)
	assert.False(t, storage.IsNotFound(err))
}

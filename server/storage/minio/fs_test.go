package minio

import (
	"context"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gear6io/ranger-catalog/server/storage"
	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeS3(t *testing.T) *FileSystem {
	t.Helper()

	backend := s3mem.New()
	faker := gofakes3.New(backend)
	ts := httptest.NewServer(faker.Server())
	t.Cleanup(ts.Close)

	u, err := url.Parse(ts.URL)
	require.NoError(t, err)

	s3fs, err := NewS3FileSystem(Options{
		Endpoint:  u.Host,
		Region:    "us-east-1",
		AccessKey: "test",
		SecretKey: "test",
	}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s3fs.EnsureBucket(context.Background(), "s3://warehouse"))
	return s3fs
}

func TestS3FileSystemReadWrite(t *testing.T) {
	ctx := context.Background()
	s3fs := newFakeS3(t)
	path := "s3://warehouse/tpch/orders/metadata/00001-abc.metadata.json"

	_, err := s3fs.Read(ctx, path)
	require.Error(t, err)
	assert.True(t, storage.IsNotFound(err))

	require.NoError(t, s3fs.Write(ctx, path, []byte(`{"format-version":2}`)))

	data, err := s3fs.Read(ctx, path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"format-version":2}`, string(data))

	exists, err := s3fs.Exists(ctx, path)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestS3FileSystemWriteExclusive(t *testing.T) {
	ctx := context.Background()
	s3fs := newFakeS3(t)
	path := "s3://warehouse/t/metadata/v1.metadata.json"

	require.NoError(t, s3fs.WriteExclusive(ctx, path, []byte("1")))
	err := s3fs.WriteExclusive(ctx, path, []byte("2"))
	require.Error(t, err)
	assert.True(t, storage.IsAlreadyExists(err))

	data, err := s3fs.Read(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "1", string(data))
}

func TestS3FileSystemListAndDelete(t *testing.T) {
	ctx := context.Background()
	s3fs := newFakeS3(t)

	require.NoError(t, s3fs.Write(ctx, "s3://warehouse/ns/a/metadata/v1.metadata.json", []byte("a")))
	require.NoError(t, s3fs.Write(ctx, "s3://warehouse/ns/b/metadata/v1.metadata.json", []byte("b")))
	require.NoError(t, s3fs.Write(ctx, "s3://warehouse/ns/readme.txt", []byte("r")))

	names, err := s3fs.List(ctx, "s3://warehouse/ns")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "readme.txt"}, names)

	require.NoError(t, s3fs.Delete(ctx, "s3://warehouse/ns/a"))
	names, err = s3fs.List(ctx, "s3://warehouse/ns")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "readme.txt"}, names)
}

func TestSplitLocation(t *testing.T) {
	bucket, key, err := splitLocation("s3://bkt/a/b.json")
	require.NoError(t, err)
	assert.Equal(t, "bkt", bucket)
	assert.Equal(t, "a/b.json", key)

	_, _, err = splitLocation("/local/path")
	assert.Error(t, err)
}

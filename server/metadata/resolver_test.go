package metadata

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gear6io/ranger-catalog/server/catalog/catalogtest"
	"github.com/gear6io/ranger-catalog/server/catalog/shared"
	"github.com/gear6io/ranger-catalog/server/config"
	"github.com/gear6io/ranger-catalog/server/metadata/manifest"
	"github.com/gear6io/ranger-catalog/server/metrics"
	"github.com/gear6io/ranger-catalog/server/storage/filesystem"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ordersID(t *testing.T) shared.TableIdentifier {
	t.Helper()
	id, err := shared.NewIdentifier([]string{"tpch"}, "orders")
	require.NoError(t, err)
	return id
}

func TestResolverLoad(t *testing.T) {
	ctx := context.Background()
	client := catalogtest.New(config.TypeNessie, "/wh")
	id := ordersID(t)
	token := client.Put(id, []byte(ordersDoc))

	m := metrics.New(nil)
	r := NewResolver(WithMetrics(m), WithReadTimeout(time.Second))

	md, err := r.Load(ctx, client, id)
	require.NoError(t, err)
	assert.Equal(t, token, md.Token())
	assert.NotEmpty(t, md.MetadataLocation())
	assert.Equal(t, "s3://warehouse/tpch/orders_9c12d44103fe46939a96a0705ddf69c1/data", DataDirectory(md))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ResolvesTotal.WithLabelValues("nessie", metrics.ResultOK)))
}

func TestResolverLoadMissing(t *testing.T) {
	client := catalogtest.New(config.TypeHive, "/wh")
	id, err := shared.ParseIdentifier("missing.table")
	require.NoError(t, err)

	_, err = NewResolver().Load(context.Background(), client, id)
	require.Error(t, err)
	assert.True(t, shared.IsTableNotFound(err))
}

func TestResolverLoadCorrupt(t *testing.T) {
	ctx := context.Background()
	client := catalogtest.New(config.TypeGlue, "/wh")
	id := ordersID(t)
	r := NewResolver()

	client.Put(id, []byte(`{not json`))
	_, err := r.Load(ctx, client, id)
	require.Error(t, err)
	assert.True(t, shared.IsCorrupt(err))

	client.Put(id, []byte(`{"format-version": 9, "location": "/wh/x"}`))
	_, err = r.Load(ctx, client, id)
	require.Error(t, err)
	assert.True(t, shared.IsCorrupt(err))
}

func TestResolverLoadUnavailable(t *testing.T) {
	client := catalogtest.New(config.TypeREST, "/wh")
	id := ordersID(t)
	client.Put(id, []byte(ordersDoc))
	client.FetchHook = func(shared.TableIdentifier) error { return context.DeadlineExceeded }

	_, err := NewResolver().Load(context.Background(), client, id)
	require.Error(t, err)
	assert.True(t, shared.IsUnavailable(err))
}

func TestResolverManifests(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fio := filesystem.NewFileStorage()
	r := NewResolver()

	md := newOrders(t)
	files, err := r.Manifests(ctx, fio, md)
	require.NoError(t, err)
	assert.Empty(t, files)

	listPath := filepath.Join(dir, "snap-1.avro")
	var buf bytes.Buffer
	require.NoError(t, manifest.Write(&buf, 1, nil, 1, []manifest.File{{ManifestPath: "m0.avro", AddedRowsCount: 10}}))
	require.NoError(t, fio.Write(ctx, listPath, buf.Bytes()))

	md, err = md.Builder().AppendSnapshot(Snapshot{ManifestList: listPath}).Build()
	require.NoError(t, err)

	files, err = r.Manifests(ctx, fio, md)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "m0.avro", files[0].ManifestPath)
}

package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/gear6io/ranger-catalog/server/catalog/shared"
	"github.com/gear6io/ranger-catalog/server/config"
	"github.com/gear6io/ranger-catalog/server/metadata"
	"github.com/gear6io/ranger-catalog/server/paths"
	fsstorage "github.com/gear6io/ranger-catalog/server/storage/filesystem"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newClient(t *testing.T) (*Client, string) {
	t.Helper()
	warehouse := t.TempDir()
	cfg, err := config.NewCatalogConfig(map[string]string{
		config.KeyType:      "filesystem",
		config.KeyWarehouse: warehouse,
	})
	require.NoError(t, err)

	c, err := New(context.Background(), cfg, shared.Deps{Logger: zerolog.Nop(), IO: fsstorage.NewFileStorage()})
	require.NoError(t, err)
	return c, warehouse
}

func tableDoc(t *testing.T, c *Client, id shared.TableIdentifier) []byte {
	t.Helper()
	md, err := metadata.NewTable("", c.DefaultLocation(id, ""), metadata.Schema{Fields: []metadata.Field{
		metadata.NewField(1, "id", "long", true),
	}}, metadata.PartitionSpec{}, nil)
	require.NoError(t, err)
	doc, err := md.Serialize()
	require.NoError(t, err)
	return doc
}

func TestCreateAndFetch(t *testing.T) {
	ctx := context.Background()
	c, warehouse := newClient(t)
	id, _ := shared.NewIdentifier([]string{"tpch"}, "orders")

	assert.Equal(t, filepath.Join(warehouse, "tpch", "orders"), c.DefaultLocation(id, "ignored"))

	doc := tableDoc(t, c, id)
	created, err := c.CreateTable(ctx, id, doc)
	require.NoError(t, err)
	assert.Equal(t, shared.Token("v1"), created.Token)

	_, err = c.CreateTable(ctx, id, doc)
	assert.True(t, shared.IsAlreadyExists(err))

	fetched, err := c.FetchMetadataDocument(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, shared.Token("v1"), fetched.Token)
	assert.Equal(t, paths.VersionFilePath(filepath.Join(warehouse, "tpch", "orders", "metadata"), 1), fetched.Location)
	assert.JSONEq(t, string(doc), string(fetched.Bytes))
}

func TestConditionalUpdate(t *testing.T) {
	ctx := context.Background()
	c, _ := newClient(t)
	id, _ := shared.NewIdentifier([]string{"db"}, "t")
	doc := tableDoc(t, c, id)
	_, err := c.CreateTable(ctx, id, doc)
	require.NoError(t, err)

	res, err := c.ConditionalUpdate(ctx, id, "v1", doc)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, shared.Token("v2"), res.Current)

	res, err = c.ConditionalUpdate(ctx, id, "v1", doc)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, shared.Token("v2"), res.Current)

	_, err = c.ConditionalUpdate(ctx, id, "garbage", doc)
	assert.Error(t, err)
}

func TestConditionalUpdateRace(t *testing.T) {
	ctx := context.Background()
	c, _ := newClient(t)
	id, _ := shared.NewIdentifier([]string{"db"}, "t")
	doc := tableDoc(t, c, id)
	_, err := c.CreateTable(ctx, id, doc)
	require.NoError(t, err)

	var accepted atomic.Int32
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			res, err := c.ConditionalUpdate(ctx, id, "v1", doc)
			if err != nil {
				return err
			}
			if res.Accepted {
				accepted.Add(1)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), accepted.Load())

	token, err := c.CurrentToken(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, shared.Token("v2"), token)
}

func TestStaleVersionHint(t *testing.T) {
	ctx := context.Background()
	c, _ := newClient(t)
	id, _ := shared.NewIdentifier([]string{"db"}, "t")
	doc := tableDoc(t, c, id)
	_, err := c.CreateTable(ctx, id, doc)
	require.NoError(t, err)

	// a writer that died between the version file and the hint
	require.NoError(t, c.io.WriteExclusive(ctx, paths.VersionFilePath(c.metadataDir(id), 2), doc))

	token, err := c.CurrentToken(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, shared.Token("v2"), token)

	// no hint at all
	require.NoError(t, c.io.Delete(ctx, paths.VersionHintPath(c.metadataDir(id))))
	token, err = c.CurrentToken(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, shared.Token("v2"), token)
}

func TestMissingTable(t *testing.T) {
	c, _ := newClient(t)
	id, _ := shared.ParseIdentifier("missing.table")

	_, err := c.FetchMetadataDocument(context.Background(), id)
	assert.True(t, shared.IsTableNotFound(err))
	_, err = c.CurrentToken(context.Background(), id)
	assert.True(t, shared.IsTableNotFound(err))
	assert.True(t, shared.IsTableNotFound(c.DropTable(context.Background(), id)))
}

func TestNamespaces(t *testing.T) {
	ctx := context.Background()
	c, warehouse := newClient(t)
	ns := shared.Namespace{"tpch"}

	require.NoError(t, c.CreateNamespace(ctx, ns, nil))
	assert.True(t, shared.IsAlreadyExists(c.CreateNamespace(ctx, ns, nil)))

	tables, err := c.ListNamespace(ctx, ns)
	require.NoError(t, err)
	assert.Empty(t, tables)

	for _, name := range []string{"orders", "lineitem"} {
		id, _ := shared.NewIdentifier(ns, name)
		_, err := c.CreateTable(ctx, id, tableDoc(t, c, id))
		require.NoError(t, err)
	}

	// stray entries in the namespace directory are not tables
	nsDir := filepath.Join(warehouse, "tpch")
	require.NoError(t, os.WriteFile(filepath.Join(nsDir, "README.txt"), []byte("notes"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(nsDir, "scratch"), 0o755))

	tables, err = c.ListNamespace(ctx, ns)
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, "lineitem", tables[0].Name)
	assert.Equal(t, "orders", tables[1].Name)

	_, err = c.ListNamespace(ctx, shared.Namespace{"nope"})
	assert.True(t, shared.IsNotFound(err))

	id, _ := shared.NewIdentifier(ns, "orders")
	require.NoError(t, c.DropTable(ctx, id))
	tables, err = c.ListNamespace(ctx, ns)
	require.NoError(t, err)
	assert.Len(t, tables, 1)
}

func TestResolveThroughResolver(t *testing.T) {
	ctx := context.Background()
	c, _ := newClient(t)
	id, _ := shared.NewIdentifier([]string{"db"}, "t")
	_, err := c.CreateTable(ctx, id, tableDoc(t, c, id))
	require.NoError(t, err)

	md, err := metadata.NewResolver().Load(ctx, c, id)
	require.NoError(t, err)
	assert.Equal(t, shared.Token("v1"), md.Token())
	assert.Equal(t, c.DefaultLocation(id, "")+"/data", md.DataDirectory())
}

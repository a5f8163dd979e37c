package cli

import (
	"bytes"
	"context"
	"testing"

	"github.com/gear6io/ranger-catalog/pkg/errors"
	"github.com/gear6io/ranger-catalog/server/catalog"
	"github.com/gear6io/ranger-catalog/server/catalog/shared"
	"github.com/gear6io/ranger-catalog/server/config"
	"github.com/gear6io/ranger-catalog/server/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseColumns(t *testing.T) {
	schema, err := parseColumns([]string{"id:long:required", "name:string", "ts:timestamptz:optional"})
	require.NoError(t, err)
	require.Len(t, schema.Fields, 3)
	assert.Equal(t, 1, schema.Fields[0].ID)
	assert.True(t, schema.Fields[0].Required)
	assert.Equal(t, "long", schema.Fields[0].TypeName())
	assert.Equal(t, "name", schema.Fields[1].Name)
	assert.False(t, schema.Fields[1].Required)
	assert.Equal(t, 3, schema.Fields[2].ID)

	for _, bad := range [][]string{
		nil,
		{"id"},
		{":long"},
		{"id:long:sometimes"},
		{"id:long", "id:string"},
	} {
		_, err := parseColumns(bad)
		require.Error(t, err, "%v", bad)
		assert.True(t, errors.HasCode(err, ErrInvalidArgument))
	}
}

func TestParsePartitions(t *testing.T) {
	schema, err := parseColumns([]string{"id:long:required", "day:date", "region:string"})
	require.NoError(t, err)

	spec, err := parsePartitions(schema, []string{"day:day", "region", "id:bucket[16]"})
	require.NoError(t, err)
	require.Len(t, spec.Fields, 3)
	assert.Equal(t, metadata.PartitionField{SourceID: 2, Name: "day_day", Transform: "day"}, spec.Fields[0])
	assert.Equal(t, metadata.PartitionField{SourceID: 3, Name: "region", Transform: "identity"}, spec.Fields[1])
	assert.Equal(t, "id_bucket16", spec.Fields[2].Name)

	_, err = parsePartitions(schema, []string{"missing:day"})
	assert.True(t, errors.HasCode(err, ErrInvalidArgument))

	spec, err = parsePartitions(schema, nil)
	require.NoError(t, err)
	assert.Empty(t, spec.Fields)
}

func TestParseAssignments(t *testing.T) {
	got, err := parseAssignments([]string{"owner=etl", "comment=", "expr=a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"owner": "etl", "comment": "", "expr": "a=b"}, got)

	_, err = parseAssignments([]string{"novalue"})
	assert.True(t, errors.HasCode(err, ErrInvalidArgument))
	assert.Equal(t, "common.invalid_input", errors.GetCode(err))
	_, err = parseAssignments([]string{"=x"})
	assert.True(t, errors.HasCode(err, ErrInvalidArgument))
}

func mustIdentifier(t *testing.T, s string) shared.TableIdentifier {
	t.Helper()
	id, err := shared.ParseIdentifier(s)
	require.NoError(t, err)
	return id
}

func testCatalog(t *testing.T) (*catalog.Factory, config.CatalogConfig) {
	t.Helper()
	cfg, err := config.NewCatalogConfig(map[string]string{
		config.KeyType:          string(config.TypeFilesystem),
		config.KeyWarehouse:     t.TempDir(),
		config.KeyCommitMinWait: "1ms",
		config.KeyCommitMaxWait: "2ms",
	})
	require.NoError(t, err)
	f := catalog.NewFactory()
	t.Cleanup(func() { _ = f.Close() })
	return f, cfg
}

func TestAppendSnapshotAndProperties(t *testing.T) {
	ctx := context.Background()
	f, cfg := testCatalog(t)
	id := mustIdentifier(t, "tpch.orders")

	schema, err := parseColumns([]string{"o_orderkey:long:required", "o_orderdate:date"})
	require.NoError(t, err)
	created, err := f.CreateTable(ctx, cfg, id, schema, metadata.PartitionSpec{}, map[string]string{"owner": "etl"})
	require.NoError(t, err)

	res, err := appendSnapshot(ctx, f, cfg, id, tableAppendOptions{
		manifestList: created.MetadataDirectory() + "/snap-1.avro",
		operation:    "append",
		summary:      map[string]string{"added-files": "1"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, res.Conflicts)
	require.Len(t, res.Metadata.Snapshots(), 1)
	snap := res.Metadata.Snapshots()[0]
	assert.Equal(t, "append", snap.Operation())
	assert.Equal(t, "1", snap.Summary["added-files"])
	assert.NotEqual(t, created.Token(), res.Metadata.Token())

	res, err = updateProperties(ctx, f, cfg, id, map[string]string{"comment": "orders"}, []string{"owner"})
	require.NoError(t, err)
	props := res.Metadata.Properties()
	assert.Equal(t, "orders", props["comment"])
	assert.NotContains(t, props, "owner")

	md, err := f.Resolve(ctx, cfg, id)
	require.NoError(t, err)
	assert.Len(t, md.Snapshots(), 1)
	assert.Equal(t, res.Metadata.Token(), md.Token())

	var out bytes.Buffer
	require.NoError(t, renderDescribe(&out, id, md))
	assert.Contains(t, out.String(), "o_orderkey")
	assert.Contains(t, out.String(), "snap-1.avro")
	assert.Contains(t, out.String(), "comment")
}

func TestAppendSnapshotMissingTable(t *testing.T) {
	f, cfg := testCatalog(t)
	_, err := appendSnapshot(context.Background(), f, cfg, mustIdentifier(t, "missing.table"), tableAppendOptions{
		manifestList: "/tmp/snap.avro",
		operation:    "append",
	})
	require.Error(t, err)
	assert.True(t, shared.IsTableNotFound(err))
}

func TestRenderTableList(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, renderTableList(&out, []shared.TableIdentifier{
		mustIdentifier(t, "tpch.orders"),
		mustIdentifier(t, "tpch.lineitem"),
	}))
	assert.Contains(t, out.String(), "orders")
	assert.Contains(t, out.String(), "lineitem")

	out.Reset()
	require.NoError(t, renderTableList(&out, nil))
	assert.Contains(t, out.String(), "No tables found")
}

func TestTableCommands(t *testing.T) {
	warehouse := t.TempDir()
	run := func(args ...string) string {
		t.Helper()
		var out bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetErr(&out)
		rootCmd.SetArgs(append([]string{
			"--property", "catalog.type=filesystem",
			"--property", "catalog.warehouse=" + warehouse,
		}, args...))
		require.NoError(t, ExecuteWithContext(context.Background()))
		return out.String()
	}

	out := run("table", "create", "tpch.orders", "--column", "o_orderkey:long:required", "--column", "o_orderdate:date", "--partition", "o_orderdate:day")
	assert.Contains(t, out, "Created table tpch.orders")

	out = run("table", "describe", "tpch.orders")
	assert.Contains(t, out, "o_orderdate_day")
	assert.Contains(t, out, "No snapshots")

	out = run("namespace", "list", "tpch")
	assert.Contains(t, out, "orders")

	out = run("config", "show")
	assert.Contains(t, out, warehouse)
}

func TestErrorMessage(t *testing.T) {
	_, err := parseAssignments([]string{"novalue"})
	require.Error(t, err)

	verbose := globalOpts.verbose
	t.Cleanup(func() { globalOpts.verbose = verbose })

	globalOpts.verbose = false
	assert.Equal(t, err.Error(), ErrorMessage(err))

	globalOpts.verbose = true
	out := ErrorMessage(err)
	assert.Contains(t, out, "Code: common.invalid_input")
	assert.Contains(t, out, "Message: ")
	assert.Contains(t, out, "argument: novalue")
}

package metadata

import (
	"encoding/json"
	"testing"

	"github.com/gear6io/ranger-catalog/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ordersDoc = `{
  "format-version": 2,
  "table-uuid": "9c12d441-03fe-4693-9a96-a0705ddf69c1",
  "location": "s3://warehouse/tpch/orders_9c12d44103fe46939a96a0705ddf69c1",
  "last-sequence-number": 1,
  "last-updated-ms": 1700000000000,
  "last-column-id": 5,
  "current-schema-id": 0,
  "schemas": [{
    "type": "struct",
    "schema-id": 0,
    "fields": [
      {"id": 1, "name": "o_orderkey", "required": true, "type": "long"},
      {"id": 2, "name": "o_custkey", "required": false, "type": "long"},
      {"id": 3, "name": "o_lines", "required": false, "type": {
        "type": "list", "element-id": 4, "element-required": false,
        "element": {"type": "struct", "fields": [
          {"id": 5, "name": "qty", "required": false, "type": "int"}
        ]}
      }}
    ]
  }],
  "default-spec-id": 0,
  "partition-specs": [{"spec-id": 0, "fields": [
    {"source-id": 2, "field-id": 1000, "name": "o_custkey_bucket", "transform": "bucket[16]"}
  ]}],
  "last-partition-id": 1000,
  "default-sort-order-id": 0,
  "sort-orders": [{"order-id": 0, "fields": []}],
  "properties": {"write.format.default": "parquet"},
  "current-snapshot-id": 3051729675574597004,
  "snapshots": [{
    "snapshot-id": 3051729675574597004,
    "sequence-number": 1,
    "timestamp-ms": 1700000000000,
    "manifest-list": "s3://warehouse/tpch/orders/metadata/snap-1.avro",
    "summary": {"operation": "append"},
    "schema-id": 0
  }],
  "snapshot-log": [{"timestamp-ms": 1700000000000, "snapshot-id": 3051729675574597004}],
  "refs": {"main": {"snapshot-id": 3051729675574597004, "type": "branch"}},
  "statistics": [{"snapshot-id": 3051729675574597004, "statistics-path": "s3://x/stats.puffin"}]
}`

func mustParse(t *testing.T, doc string) *TableMetadata {
	t.Helper()
	md, err := Parse([]byte(doc))
	require.NoError(t, err)
	return md
}

func TestParse(t *testing.T) {
	md := mustParse(t, ordersDoc)

	assert.Equal(t, 2, md.FormatVersion())
	assert.Equal(t, "9c12d441-03fe-4693-9a96-a0705ddf69c1", md.TableUUID())
	assert.Equal(t, int64(1), md.LastSequenceNumber())
	assert.Equal(t, 5, md.LastColumnID())

	schema, ok := md.CurrentSchema()
	require.True(t, ok)
	require.Len(t, schema.Fields, 3)
	assert.Equal(t, "long", schema.Fields[0].TypeName())
	assert.Equal(t, "list", schema.Fields[2].TypeName())
	assert.ElementsMatch(t, []int{1, 2, 3, 4, 5}, schema.fieldIDs())

	spec, ok := md.DefaultSpec()
	require.True(t, ok)
	assert.Equal(t, "bucket[16]", spec.Fields[0].Transform)

	snap := md.CurrentSnapshot()
	require.NotNil(t, snap)
	assert.Equal(t, int64(3051729675574597004), snap.SnapshotID)
	_, hasParent := snap.ParentID()
	assert.False(t, hasParent)

	require.NoError(t, Validate(md))
}

func TestSerializeRoundTrip(t *testing.T) {
	md := mustParse(t, ordersDoc)

	data, err := md.Serialize()
	require.NoError(t, err)

	again, err := Parse(data)
	require.NoError(t, err)
	assert.True(t, md.Equal(again))

	data2, err := again.Serialize()
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(data2))
}

func TestUnknownKeysPreserved(t *testing.T) {
	md := mustParse(t, ordersDoc)
	data, err := md.Serialize()
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "statistics")
}

func TestParseCurrentSnapshotNull(t *testing.T) {
	doc := `{"format-version": 2, "table-uuid": "u", "location": "/wh/t",
	  "last-sequence-number": 0, "last-updated-ms": 1, "last-column-id": 1,
	  "current-schema-id": 0, "schemas": [{"type": "struct", "schema-id": 0, "fields": [
	    {"id": 1, "name": "id", "required": true, "type": "long"}]}],
	  "default-spec-id": 0, "partition-specs": [{"spec-id": 0, "fields": []}],
	  "last-partition-id": 999, "sort-orders": [], "default-sort-order-id": 0,
	  "current-snapshot-id": null}`
	md := mustParse(t, doc)

	id, ok := md.CurrentSnapshotID()
	assert.False(t, ok)
	assert.Equal(t, NoSnapshot, id)
	assert.Nil(t, md.CurrentSnapshot())

	data, err := md.Serialize()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"current-snapshot-id":-1`)
}

func TestParseFormatVersion1(t *testing.T) {
	doc := `{"format-version": 1, "table-uuid": "u", "location": "/wh/t",
	  "last-updated-ms": 1, "last-column-id": 1,
	  "schema": {"type": "struct", "schema-id": 0, "fields": [
	    {"id": 1, "name": "id", "required": true, "type": "long"}]},
	  "partition-spec": [{"source-id": 1, "field-id": 1000, "name": "id", "transform": "identity"}]}`
	md := mustParse(t, doc)

	require.NoError(t, Validate(md))
	assert.Len(t, md.Schemas(), 1)
	spec, ok := md.DefaultSpec()
	require.True(t, ok)
	assert.Len(t, spec.Fields, 1)
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, doc := range []string{``, `[]`, `{"format-version": "two"}`} {
		_, err := Parse([]byte(doc))
		require.Error(t, err, doc)
		assert.True(t, errors.HasCode(err, ErrParse), doc)
	}
}

func TestAccessorsReturnCopies(t *testing.T) {
	md := mustParse(t, ordersDoc)

	props := md.Properties()
	props["write.format.default"] = "orc"
	v, _ := md.Property("write.format.default")
	assert.Equal(t, "parquet", v)

	snaps := md.Snapshots()
	snaps[0].Summary["operation"] = "delete"
	assert.Equal(t, "append", md.CurrentSnapshot().Operation())

	schemas := md.Schemas()
	schemas[0].Fields[0].Name = "renamed"
	s, _ := md.CurrentSchema()
	assert.Equal(t, "o_orderkey", s.Fields[0].Name)
}

func TestEqualIgnoresToken(t *testing.T) {
	md := mustParse(t, ordersDoc)
	other := md.WithToken("abc").WithMetadataLocation("s3://x/00001.metadata.json")

	assert.True(t, md.Equal(other))
	assert.Equal(t, "abc", string(other.Token()))
	assert.Empty(t, md.Token())
	assert.False(t, md.Equal(nil))
}

func TestDirectories(t *testing.T) {
	md := mustParse(t, ordersDoc)
	assert.Equal(t, md.Location()+"/data", md.DataDirectory())
	assert.Equal(t, md.Location()+"/metadata", md.MetadataDirectory())
	assert.Equal(t, md.DataDirectory(), DataDirectory(md))

	custom, err := md.Builder().SetProperties(map[string]string{"write.data.path": "s3://other/data"}).Build()
	require.NoError(t, err)
	assert.Equal(t, "s3://other/data", custom.DataDirectory())
}

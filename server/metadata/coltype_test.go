package metadata

import (
	"testing"

	"github.com/gear6io/ranger-catalog/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestParseFieldsPrimitives(t *testing.T) {
	fields, err := ParseFields([]ColumnDef{
		{Name: "id", Type: "int64", Required: true},
		{Name: "price", Type: "Decimal(10, 2)"},
		{Name: "hash", Type: "fixed[16]"},
		{Name: "flag", Type: "bool"},
	})
	require.NoError(t, err)
	require.Len(t, fields, 4)

	assert.Equal(t, 1, fields[0].ID)
	assert.Equal(t, "long", fields[0].TypeName())
	assert.True(t, fields[0].Required)
	assert.Equal(t, "decimal(10,2)", fields[1].TypeName())
	assert.Equal(t, "fixed[16]", fields[2].TypeName())
	assert.Equal(t, "boolean", fields[3].TypeName())
	assert.Equal(t, []int{1, 2, 3, 4}, Schema{Fields: fields}.fieldIDs())
}

func TestParseFieldsNested(t *testing.T) {
	fields, err := ParseFields([]ColumnDef{
		{Name: "id", Type: "long", Required: true},
		{Name: "tags", Type: "list<string>"},
		{Name: "attrs", Type: "map<string, decimal(5,1)>"},
		{Name: "address", Type: "struct<street:string, geo:struct<lat:double,lon:double>>"},
	})
	require.NoError(t, err)

	tags := gjson.ParseBytes(fields[1].Type)
	assert.Equal(t, "list", fields[1].TypeName())
	assert.Equal(t, int64(5), tags.Get("element-id").Int())
	assert.Equal(t, "string", tags.Get("element").String())

	attrs := gjson.ParseBytes(fields[2].Type)
	assert.Equal(t, int64(6), attrs.Get("key-id").Int())
	assert.Equal(t, int64(7), attrs.Get("value-id").Int())
	assert.Equal(t, "decimal(5,1)", attrs.Get("value").String())

	addr := gjson.ParseBytes(fields[3].Type)
	assert.Equal(t, "struct", addr.Get("type").String())
	assert.Equal(t, "street", addr.Get("fields.0.name").String())
	assert.Equal(t, int64(8), addr.Get("fields.0.id").Int())
	assert.Equal(t, int64(9), addr.Get("fields.1.id").Int())
	assert.Equal(t, "lon", addr.Get("fields.1.type.fields.1.name").String())

	ids := Schema{Fields: fields}.fieldIDs()
	assert.Equal(t, 11, maxID(ids))
	assert.Len(t, ids, 11)

	md, err := NewTable("", "/wh/t", Schema{Fields: fields}, PartitionSpec{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 11, md.LastColumnID())
}

func TestParseFieldsInvalid(t *testing.T) {
	cases := map[string][]ColumnDef{
		"unknown type":      {{Name: "a", Type: "varchar"}},
		"empty name":        {{Name: " ", Type: "long"}},
		"duplicate":         {{Name: "a", Type: "long"}, {Name: "a", Type: "int"}},
		"decimal precision": {{Name: "a", Type: "decimal(40,2)"}},
		"decimal scale":     {{Name: "a", Type: "decimal(4,6)"}},
		"fixed zero":        {{Name: "a", Type: "fixed[0]"}},
		"open list":         {{Name: "a", Type: "list<string"}},
		"empty list":        {{Name: "a", Type: "list<>"}},
		"map arity":         {{Name: "a", Type: "map<string>"}},
		"struct field":      {{Name: "a", Type: "struct<long>"}},
	}
	for name, defs := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseFields(defs)
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, ErrInvalidType))
		})
	}
}

func TestSplitTopLevel(t *testing.T) {
	assert.Equal(t, []string{"a:int", " b:map<string,int>", " c:decimal(3,1)"},
		splitTopLevel("a:int, b:map<string,int>, c:decimal(3,1)", ','))
	assert.Equal(t, []string{"x"}, splitTopLevel("x", ','))
}

package paths

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathManagerLayouts(t *testing.T) {
	t.Run("Nested", func(t *testing.T) {
		pm := NewManager("/tmp/warehouse/", LayoutNested)
		assert.Equal(t, "/tmp/warehouse", pm.Warehouse())
		assert.Equal(t, "/tmp/warehouse/a/b", pm.NamespacePath([]string{"a", "b"}))
		assert.Equal(t, "/tmp/warehouse/tpch/orders", pm.TableLocation([]string{"tpch"}, "orders", "ignored"))
	})

	t.Run("Database", func(t *testing.T) {
		pm := NewManager("s3://bucket/wh", LayoutDatabase)
		assert.Equal(t, "s3://bucket/wh/tpch.db/orders", pm.TableLocation([]string{"tpch"}, "orders", ""))
	})

	t.Run("Unique", func(t *testing.T) {
		pm := NewManager("/wh", LayoutUnique)
		loc := pm.TableLocation([]string{"tpch"}, "orders", "0b8e7c7e-1f7a-4a35-9d63-3f0d5c1d2a10")
		assert.Equal(t, "/wh/tpch/orders_0b8e7c7e1f7a4a359d633f0d5c1d2a10", loc)
	})
}

func TestDataAndMetadataPaths(t *testing.T) {
	assert.Equal(t, "/wh/t/data", DataPath("/wh/t", nil))
	assert.Equal(t, "s3://b/custom", DataPath("/wh/t", map[string]string{PropWriteDataPath: "s3://b/custom/"}))
	assert.Equal(t, "s3://b/objects", DataPath("/wh/t", map[string]string{PropObjectStoragePath: "s3://b/objects"}))
	assert.Equal(t, "/wh/t/metadata", MetadataPath("/wh/t", nil))
	assert.Equal(t, "/m", MetadataPath("/wh/t", map[string]string{PropWriteMetadataPath: "/m"}))
}

func TestMetadataFileNames(t *testing.T) {
	p := MetadataFilePath("/wh/t/metadata", 3, "abc")
	assert.Equal(t, "/wh/t/metadata/00003-abc.metadata.json", p)
	v, ok := ParseMetadataVersion(p)
	require.True(t, ok)
	assert.Equal(t, 3, v)

	v, ok = ParseMetadataVersion(VersionFilePath("s3://b/t/metadata", 12))
	require.True(t, ok)
	assert.Equal(t, 12, v)

	_, ok = ParseMetadataVersion("/wh/t/metadata/version-hint.text")
	assert.False(t, ok)
	assert.Equal(t, "/wh/t/metadata/version-hint.text", VersionHintPath("/wh/t/metadata"))
}

func TestNormalizeWarehouse(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "/data/wh/", want: "/data/wh"},
		{in: "file:///data/wh", want: "/data/wh"},
		{in: "s3://bucket/prefix/", want: "s3://bucket/prefix"},
		{in: "s3://bucket", want: "s3://bucket"},
		{in: "s3a://bucket/x", want: "s3://bucket/x"},
		{in: "", wantErr: true},
		{in: "hdfs://nn/wh", wantErr: true},
		{in: "relative/path", wantErr: true},
		{in: "s3:///nobucket", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := NormalizeWarehouse(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestJoin(t *testing.T) {
	assert.Equal(t, "s3://b/x/y", Join("s3://b/", "/x/", "", "y"))
	assert.Equal(t, "/a", Join("/a"))
	assert.True(t, IsObjectStore("s3://b/k"))
	assert.False(t, IsObjectStore("/tmp"))
}

package shared

import (
	"context"

	"github.com/gear6io/ranger-catalog/pkg/errors"
	"github.com/gear6io/ranger-catalog/server/config"
	"github.com/gear6io/ranger-catalog/server/paths"
	"github.com/gear6io/ranger-catalog/server/storage"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// MetadataFiles writes and reads metadata documents for backends that keep
// only a pointer to the current file (nessie, hive, glue).
type MetadataFiles struct {
	Kind config.CatalogType
	IO   storage.FileIO
}

// DocumentLocation reads the table location and metadata directory out of a
// serialized document
func DocumentLocation(doc []byte) (location, metadataDir string, err error) {
	if !gjson.ValidBytes(doc) {
		return "", "", errors.New(ErrCorruptMetadata, "metadata document is not valid JSON", nil)
	}
	location = gjson.GetBytes(doc, "location").String()
	if location == "" {
		return "", "", errors.New(ErrCorruptMetadata, "metadata document has no location", nil)
	}
	props := map[string]string{}
	gjson.GetBytes(doc, "properties").ForEach(func(k, v gjson.Result) bool {
		props[k.String()] = v.String()
		return true
	})
	return location, paths.MetadataPath(location, props), nil
}

// Write stores doc as the successor of previous and returns its path
func (m MetadataFiles) Write(ctx context.Context, doc []byte, previous string) (string, error) {
	_, dir, err := DocumentLocation(doc)
	if err != nil {
		return "", withBackend(errors.AsError(err), m.Kind)
	}

	version := 0
	if v, ok := paths.ParseMetadataVersion(previous); ok {
		version = v + 1
	}

	path := paths.MetadataFilePath(dir, version, uuid.NewString())
	if err := m.IO.WriteExclusive(ctx, path, doc); err != nil {
		return "", ClassifyTransport(m.Kind, "write_metadata", err)
	}
	return path, nil
}

// Read loads the document a pointer refers to. A dangling pointer is corrupt
// metadata, not a missing table.
func (m MetadataFiles) Read(ctx context.Context, id TableIdentifier, location string) ([]byte, error) {
	data, err := m.IO.Read(ctx, location)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, NewCorruptMetadata(m.Kind, id, location, err)
		}
		return nil, ClassifyTransport(m.Kind, "read_metadata", err)
	}
	return data, nil
}

// Discard removes a metadata file that lost its commit
func (m MetadataFiles) Discard(ctx context.Context, path string) {
	if path == "" {
		return
	}
	_ = m.IO.Delete(ctx, path)
}

// Package metadata models Iceberg table metadata documents: parsing,
// validation, evolution through recorded changes, and loading through a
// catalog backend.
package metadata

import (
	"bytes"
	"encoding/json"
	"maps"
	"slices"

	"github.com/gear6io/ranger-catalog/pkg/errors"
	"github.com/gear6io/ranger-catalog/server/catalog/shared"
	"github.com/gear6io/ranger-catalog/server/paths"
)

// document is the wire shape of a metadata file
type document struct {
	FormatVersion      int                    `json:"format-version"`
	TableUUID          string                 `json:"table-uuid"`
	Location           string                 `json:"location"`
	LastSequenceNumber int64                  `json:"last-sequence-number"`
	LastUpdatedMS      int64                  `json:"last-updated-ms"`
	LastColumnID       int                    `json:"last-column-id"`
	Schemas            []Schema               `json:"schemas"`
	CurrentSchemaID    int                    `json:"current-schema-id"`
	PartitionSpecs     []PartitionSpec        `json:"partition-specs"`
	DefaultSpecID      int                    `json:"default-spec-id"`
	LastPartitionID    int                    `json:"last-partition-id"`
	Properties         map[string]string      `json:"properties,omitempty"`
	CurrentSnapshotID  int64                  `json:"current-snapshot-id"`
	Snapshots          []Snapshot             `json:"snapshots,omitempty"`
	SnapshotLog        []SnapshotLogEntry     `json:"snapshot-log,omitempty"`
	MetadataLog        []MetadataLogEntry     `json:"metadata-log,omitempty"`
	SortOrders         []SortOrder            `json:"sort-orders"`
	DefaultSortOrderID int                    `json:"default-sort-order-id"`
	Refs               map[string]SnapshotRef `json:"refs,omitempty"`
}

var knownKeys = map[string]struct{}{
	"format-version": {}, "table-uuid": {}, "location": {}, "last-sequence-number": {},
	"last-updated-ms": {}, "last-column-id": {}, "schemas": {}, "current-schema-id": {},
	"partition-specs": {}, "default-spec-id": {}, "last-partition-id": {}, "properties": {},
	"current-snapshot-id": {}, "snapshots": {}, "snapshot-log": {}, "metadata-log": {},
	"sort-orders": {}, "default-sort-order-id": {}, "refs": {},
	// format version 1 spellings folded into the lists above
	"schema": {}, "partition-spec": {},
}

// TableMetadata is an immutable view of one metadata document. The token and
// metadata location say which committed version it was read at; proposals
// built from it also carry the changes that produced them.
type TableMetadata struct {
	doc      document
	extra    map[string]json.RawMessage
	token    shared.Token
	location string
	changes  []Change
}

func (d document) clone() document {
	out := d
	out.Schemas = make([]Schema, len(d.Schemas))
	for i, s := range d.Schemas {
		out.Schemas[i] = s.clone()
	}
	out.PartitionSpecs = make([]PartitionSpec, len(d.PartitionSpecs))
	for i, p := range d.PartitionSpecs {
		out.PartitionSpecs[i] = p.clone()
	}
	out.Properties = maps.Clone(d.Properties)
	if d.Snapshots != nil {
		out.Snapshots = make([]Snapshot, len(d.Snapshots))
		for i, s := range d.Snapshots {
			out.Snapshots[i] = s.clone()
		}
	}
	out.SnapshotLog = slices.Clone(d.SnapshotLog)
	out.MetadataLog = slices.Clone(d.MetadataLog)
	out.SortOrders = make([]SortOrder, len(d.SortOrders))
	for i, o := range d.SortOrders {
		out.SortOrders[i] = o.clone()
	}
	out.Refs = maps.Clone(d.Refs)
	return out
}

// Parse decodes a metadata document. Unknown top level keys are kept and
// written back by Serialize.
func Parse(data []byte) (*TableMetadata, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.New(ErrParse, "metadata is not a JSON object", err)
	}

	if v, ok := raw["current-snapshot-id"]; !ok || string(bytes.TrimSpace(v)) == "null" {
		raw["current-snapshot-id"] = json.RawMessage("-1")
	}

	normalized, err := json.Marshal(raw)
	if err != nil {
		return nil, errors.New(ErrParse, "failed to normalize metadata", err)
	}

	var doc document
	if err := json.Unmarshal(normalized, &doc); err != nil {
		return nil, errors.New(ErrParse, "failed to decode metadata", err)
	}

	if err := upgradeV1(&doc, raw); err != nil {
		return nil, err
	}

	for i := range doc.Schemas {
		for j := range doc.Schemas[i].Fields {
			f := &doc.Schemas[i].Fields[j]
			var buf bytes.Buffer
			if err := json.Compact(&buf, f.Type); err != nil {
				return nil, errors.New(ErrParse, "invalid field type", err).AddContext("field", f.Name)
			}
			f.Type = buf.Bytes()
		}
	}

	extra := make(map[string]json.RawMessage)
	for k, v := range raw {
		if _, ok := knownKeys[k]; !ok {
			extra[k] = v
		}
	}

	return &TableMetadata{doc: doc, extra: extra}, nil
}

// upgradeV1 folds the single schema and partition spec of format version 1
// documents into the list form
func upgradeV1(doc *document, raw map[string]json.RawMessage) error {
	if len(doc.Schemas) == 0 {
		if v, ok := raw["schema"]; ok {
			var s Schema
			if err := json.Unmarshal(v, &s); err != nil {
				return errors.New(ErrParse, "failed to decode schema", err)
			}
			doc.Schemas = []Schema{s}
			doc.CurrentSchemaID = s.SchemaID
		}
	}
	if len(doc.PartitionSpecs) == 0 {
		if v, ok := raw["partition-spec"]; ok {
			var fields []PartitionField
			if err := json.Unmarshal(v, &fields); err != nil {
				return errors.New(ErrParse, "failed to decode partition spec", err)
			}
			doc.PartitionSpecs = []PartitionSpec{{SpecID: 0, Fields: fields}}
			doc.DefaultSpecID = 0
		}
	}
	return nil
}

// Serialize encodes the document. Output is deterministic: keys are sorted.
func (md *TableMetadata) Serialize() ([]byte, error) {
	known, err := json.Marshal(md.doc)
	if err != nil {
		return nil, errors.New(ErrSerialize, "failed to encode metadata", err)
	}
	merged := make(map[string]json.RawMessage, len(md.extra)+len(knownKeys))
	for k, v := range md.extra {
		merged[k] = v
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, errors.New(ErrSerialize, "failed to encode metadata", err)
	}
	for k, v := range fields {
		merged[k] = v
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return nil, errors.New(ErrSerialize, "failed to encode metadata", err)
	}
	return out, nil
}

// Equal compares the documents structurally. Tokens and recorded changes are
// not part of the comparison.
func (md *TableMetadata) Equal(other *TableMetadata) bool {
	if md == nil || other == nil {
		return md == other
	}
	a, err := md.Serialize()
	if err != nil {
		return false
	}
	b, err := other.Serialize()
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// WithToken returns a copy that records the committed version it was read at
func (md *TableMetadata) WithToken(token shared.Token) *TableMetadata {
	out := *md
	out.token = token
	return &out
}

// WithMetadataLocation returns a copy that records the file it was read from
func (md *TableMetadata) WithMetadataLocation(location string) *TableMetadata {
	out := *md
	out.location = location
	return &out
}

// Token is the committed version this metadata was read at, empty for new tables
func (md *TableMetadata) Token() shared.Token { return md.token }

// MetadataLocation is the file this metadata was read from, if known
func (md *TableMetadata) MetadataLocation() string { return md.location }

// Changes returns the changes recorded since the metadata was read
func (md *TableMetadata) Changes() []Change { return slices.Clone(md.changes) }

func (md *TableMetadata) FormatVersion() int        { return md.doc.FormatVersion }
func (md *TableMetadata) TableUUID() string         { return md.doc.TableUUID }
func (md *TableMetadata) Location() string          { return md.doc.Location }
func (md *TableMetadata) LastSequenceNumber() int64 { return md.doc.LastSequenceNumber }
func (md *TableMetadata) LastUpdatedMS() int64      { return md.doc.LastUpdatedMS }
func (md *TableMetadata) LastColumnID() int         { return md.doc.LastColumnID }
func (md *TableMetadata) CurrentSchemaID() int      { return md.doc.CurrentSchemaID }
func (md *TableMetadata) DefaultSpecID() int        { return md.doc.DefaultSpecID }
func (md *TableMetadata) LastPartitionID() int      { return md.doc.LastPartitionID }

// Schemas returns copies of all schemas
func (md *TableMetadata) Schemas() []Schema {
	out := make([]Schema, len(md.doc.Schemas))
	for i, s := range md.doc.Schemas {
		out[i] = s.clone()
	}
	return out
}

// SchemaByID returns the schema with the given id
func (md *TableMetadata) SchemaByID(id int) (Schema, bool) {
	for _, s := range md.doc.Schemas {
		if s.SchemaID == id {
			return s.clone(), true
		}
	}
	return Schema{}, false
}

// CurrentSchema returns the schema new data is written with
func (md *TableMetadata) CurrentSchema() (Schema, bool) {
	return md.SchemaByID(md.doc.CurrentSchemaID)
}

// PartitionSpecs returns copies of all partition specs
func (md *TableMetadata) PartitionSpecs() []PartitionSpec {
	out := make([]PartitionSpec, len(md.doc.PartitionSpecs))
	for i, p := range md.doc.PartitionSpecs {
		out[i] = p.clone()
	}
	return out
}

// DefaultSpec returns the partition spec new data is written with
func (md *TableMetadata) DefaultSpec() (PartitionSpec, bool) {
	for _, p := range md.doc.PartitionSpecs {
		if p.SpecID == md.doc.DefaultSpecID {
			return p.clone(), true
		}
	}
	return PartitionSpec{}, false
}

// SortOrders returns copies of all sort orders
func (md *TableMetadata) SortOrders() []SortOrder {
	out := make([]SortOrder, len(md.doc.SortOrders))
	for i, o := range md.doc.SortOrders {
		out[i] = o.clone()
	}
	return out
}

// Properties returns a copy of the table properties
func (md *TableMetadata) Properties() map[string]string {
	out := maps.Clone(md.doc.Properties)
	if out == nil {
		out = map[string]string{}
	}
	return out
}

// Property returns one table property
func (md *TableMetadata) Property(key string) (string, bool) {
	v, ok := md.doc.Properties[key]
	return v, ok
}

// CurrentSnapshotID returns the current snapshot id, false when the table has none
func (md *TableMetadata) CurrentSnapshotID() (int64, bool) {
	if md.doc.CurrentSnapshotID == NoSnapshot {
		return NoSnapshot, false
	}
	return md.doc.CurrentSnapshotID, true
}

// CurrentSnapshot returns a copy of the current snapshot or nil
func (md *TableMetadata) CurrentSnapshot() *Snapshot {
	id, ok := md.CurrentSnapshotID()
	if !ok {
		return nil
	}
	return md.SnapshotByID(id)
}

// SnapshotByID returns a copy of the snapshot or nil
func (md *TableMetadata) SnapshotByID(id int64) *Snapshot {
	for _, s := range md.doc.Snapshots {
		if s.SnapshotID == id {
			c := s.clone()
			return &c
		}
	}
	return nil
}

// Snapshots returns copies of all snapshots in commit order
func (md *TableMetadata) Snapshots() []Snapshot {
	out := make([]Snapshot, len(md.doc.Snapshots))
	for i, s := range md.doc.Snapshots {
		out[i] = s.clone()
	}
	return out
}

// SnapshotLog returns the history of current snapshots
func (md *TableMetadata) SnapshotLog() []SnapshotLogEntry {
	return slices.Clone(md.doc.SnapshotLog)
}

// MetadataLog returns the previous metadata files
func (md *TableMetadata) MetadataLog() []MetadataLogEntry {
	return slices.Clone(md.doc.MetadataLog)
}

// Refs returns the named branches and tags
func (md *TableMetadata) Refs() map[string]SnapshotRef {
	out := maps.Clone(md.doc.Refs)
	if out == nil {
		out = map[string]SnapshotRef{}
	}
	return out
}

// DataDirectory is where new data files of the table are written
func (md *TableMetadata) DataDirectory() string {
	return paths.DataPath(md.doc.Location, md.doc.Properties)
}

// MetadataDirectory is where new metadata files of the table are written
func (md *TableMetadata) MetadataDirectory() string {
	return paths.MetadataPath(md.doc.Location, md.doc.Properties)
}

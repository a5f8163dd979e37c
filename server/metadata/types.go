package metadata

import (
	"encoding/json"
	"maps"
	"slices"
	"strconv"

	"github.com/tidwall/gjson"
)

// NoSnapshot is the current-snapshot-id of a table without snapshots
const NoSnapshot int64 = -1

// MainBranch is the ref the current snapshot is published on
const MainBranch = "main"

// Schema is one entry of the schemas list
type Schema struct {
	Type               string  `json:"type"`
	SchemaID           int     `json:"schema-id"`
	IdentifierFieldIDs []int   `json:"identifier-field-ids,omitempty"`
	Fields             []Field `json:"fields"`
}

// Field is a top level schema column. Type holds either a primitive name as
// a JSON string or a nested struct, list or map type object.
type Field struct {
	ID       int             `json:"id"`
	Name     string          `json:"name"`
	Required bool            `json:"required"`
	Type     json.RawMessage `json:"type"`
	Doc      string          `json:"doc,omitempty"`
}

// NewField builds a column with a primitive type such as "long" or "string"
func NewField(id int, name, typ string, required bool) Field {
	return Field{ID: id, Name: name, Required: required, Type: json.RawMessage(strconv.Quote(typ))}
}

// TypeName returns the primitive type name, or "struct", "list" or "map"
func (f Field) TypeName() string {
	r := gjson.ParseBytes(f.Type)
	if r.Type == gjson.String {
		return r.String()
	}
	return r.Get("type").String()
}

// PartitionSpec is one entry of partition-specs
type PartitionSpec struct {
	SpecID int              `json:"spec-id"`
	Fields []PartitionField `json:"fields"`
}

// PartitionField maps a source column through a transform
type PartitionField struct {
	SourceID  int    `json:"source-id"`
	FieldID   int    `json:"field-id"`
	Name      string `json:"name"`
	Transform string `json:"transform"`
}

// Snapshot is one entry of the snapshots list
type Snapshot struct {
	SnapshotID       int64             `json:"snapshot-id"`
	ParentSnapshotID *int64            `json:"parent-snapshot-id,omitempty"`
	SequenceNumber   int64             `json:"sequence-number"`
	TimestampMS      int64             `json:"timestamp-ms"`
	ManifestList     string            `json:"manifest-list"`
	Summary          map[string]string `json:"summary"`
	SchemaID         *int              `json:"schema-id,omitempty"`
}

// ParentID returns the parent snapshot id if there is one
func (s Snapshot) ParentID() (int64, bool) {
	if s.ParentSnapshotID == nil {
		return 0, false
	}
	return *s.ParentSnapshotID, true
}

// Operation returns the summary operation, "append" when unset
func (s Snapshot) Operation() string {
	if op := s.Summary["operation"]; op != "" {
		return op
	}
	return "append"
}

// SnapshotLogEntry records when a snapshot became current
type SnapshotLogEntry struct {
	TimestampMS int64 `json:"timestamp-ms"`
	SnapshotID  int64 `json:"snapshot-id"`
}

// MetadataLogEntry records a previous metadata file
type MetadataLogEntry struct {
	TimestampMS  int64  `json:"timestamp-ms"`
	MetadataFile string `json:"metadata-file"`
}

// SortOrder is one entry of sort-orders
type SortOrder struct {
	OrderID int         `json:"order-id"`
	Fields  []SortField `json:"fields"`
}

// SortField orders by a source column
type SortField struct {
	SourceID  int    `json:"source-id"`
	Transform string `json:"transform"`
	Direction string `json:"direction"`
	NullOrder string `json:"null-order"`
}

// SnapshotRef is a named branch or tag
type SnapshotRef struct {
	SnapshotID         int64  `json:"snapshot-id"`
	Type               string `json:"type"`
	MinSnapshotsToKeep *int   `json:"min-snapshots-to-keep,omitempty"`
	MaxSnapshotAgeMS   *int64 `json:"max-snapshot-age-ms,omitempty"`
	MaxRefAgeMS        *int64 `json:"max-ref-age-ms,omitempty"`
}

func (s Schema) clone() Schema {
	out := s
	out.IdentifierFieldIDs = slices.Clone(s.IdentifierFieldIDs)
	out.Fields = make([]Field, len(s.Fields))
	for i, f := range s.Fields {
		f.Type = slices.Clone(f.Type)
		out.Fields[i] = f
	}
	return out
}

func (p PartitionSpec) clone() PartitionSpec {
	out := p
	out.Fields = slices.Clone(p.Fields)
	if out.Fields == nil {
		out.Fields = []PartitionField{}
	}
	return out
}

func (s Snapshot) clone() Snapshot {
	out := s
	if s.ParentSnapshotID != nil {
		parent := *s.ParentSnapshotID
		out.ParentSnapshotID = &parent
	}
	if s.SchemaID != nil {
		id := *s.SchemaID
		out.SchemaID = &id
	}
	out.Summary = maps.Clone(s.Summary)
	return out
}

func (o SortOrder) clone() SortOrder {
	out := o
	out.Fields = slices.Clone(o.Fields)
	if out.Fields == nil {
		out.Fields = []SortField{}
	}
	return out
}

// fieldIDs collects every field id of a schema, descending into nested
// struct, list and map types
func (s Schema) fieldIDs() []int {
	var ids []int
	for _, f := range s.Fields {
		ids = append(ids, f.ID)
		ids = appendNestedIDs(ids, gjson.ParseBytes(f.Type))
	}
	return ids
}

func appendNestedIDs(ids []int, t gjson.Result) []int {
	if !t.IsObject() {
		return ids
	}
	switch t.Get("type").String() {
	case "struct":
		t.Get("fields").ForEach(func(_, f gjson.Result) bool {
			ids = append(ids, int(f.Get("id").Int()))
			ids = appendNestedIDs(ids, f.Get("type"))
			return true
		})
	case "list":
		ids = append(ids, int(t.Get("element-id").Int()))
		ids = appendNestedIDs(ids, t.Get("element"))
	case "map":
		ids = append(ids, int(t.Get("key-id").Int()), int(t.Get("value-id").Int()))
		ids = appendNestedIDs(ids, t.Get("key"))
		ids = appendNestedIDs(ids, t.Get("value"))
	}
	return ids
}

func maxID(ids []int) int {
	m := 0
	for _, id := range ids {
		if id > m {
			m = id
		}
	}
	return m
}

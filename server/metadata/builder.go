package metadata

import (
	"encoding/binary"
	"encoding/json"
	"maps"
	"math"
	"slices"
	"strconv"
	"time"

	"github.com/gear6io/ranger-catalog/pkg/errors"
	"github.com/google/uuid"
)

// First id handed to partition fields, as Iceberg does
const partitionFieldIDStart = 1000

// Builder evolves a metadata document. Every mutation is recorded as a
// Change so the result can be replayed on newer metadata after a conflict.
type Builder struct {
	base    *TableMetadata
	doc     document
	changes []Change
	err     error
	now     func() time.Time
}

// Builder starts an evolution of md. md itself is not modified.
func (md *TableMetadata) Builder() *Builder {
	return &Builder{base: md, doc: md.doc.clone(), now: time.Now}
}

// NewTable creates the initial metadata of an empty table. A fresh table
// uuid is generated when tableUUID is empty. location may be empty when the
// catalog assigns it on create; the document the catalog returns is
// validated in full when it is loaded.
func NewTable(tableUUID, location string, schema Schema, spec PartitionSpec, props map[string]string) (*TableMetadata, error) {
	if tableUUID == "" {
		tableUUID = uuid.NewString()
	}

	schema = schema.clone()
	schema.Type = "struct"
	schema.SchemaID = 0

	spec = spec.clone()
	spec.SpecID = 0
	lastPartitionID := assignPartitionFieldIDs(spec.Fields, partitionFieldIDStart-1)

	md := &TableMetadata{
		doc: document{
			FormatVersion:      2,
			TableUUID:          tableUUID,
			Location:           location,
			LastUpdatedMS:      time.Now().UnixMilli(),
			LastColumnID:       maxID(schema.fieldIDs()),
			Schemas:            []Schema{schema},
			CurrentSchemaID:    0,
			PartitionSpecs:     []PartitionSpec{spec},
			DefaultSpecID:      0,
			LastPartitionID:    lastPartitionID,
			Properties:         maps.Clone(props),
			CurrentSnapshotID:  NoSnapshot,
			SortOrders:         []SortOrder{{OrderID: 0, Fields: []SortField{}}},
			DefaultSortOrderID: 0,
		},
		extra: map[string]json.RawMessage{},
	}
	if err := validate(md, location != ""); err != nil {
		return nil, err
	}
	return md, nil
}

// assignPartitionFieldIDs numbers fields without an id after last and
// returns the highest id in use
func assignPartitionFieldIDs(fields []PartitionField, last int) int {
	for _, f := range fields {
		if f.FieldID > last {
			last = f.FieldID
		}
	}
	for i := range fields {
		if fields[i].FieldID == 0 {
			last++
			fields[i].FieldID = last
		}
	}
	return last
}

// NewSnapshotID returns a random positive snapshot id
func NewSnapshotID() int64 {
	u := uuid.New()
	hi := binary.BigEndian.Uint64(u[0:8])
	lo := binary.BigEndian.Uint64(u[8:16])
	return int64((hi ^ lo) & math.MaxInt64)
}

// AppendSnapshot adds s as the new current snapshot on the main branch.
// Parent, sequence number and schema id are assigned from the current state;
// a zero or already used snapshot id is replaced with a fresh one.
func (b *Builder) AppendSnapshot(s Snapshot) *Builder {
	if b.err != nil {
		return b
	}
	added := b.appendSnapshot(s)
	b.changes = append(b.changes, AppendSnapshotChange{Snapshot: added})
	return b
}

func (b *Builder) appendSnapshot(s Snapshot) Snapshot {
	s = s.clone()
	for s.SnapshotID == 0 || b.hasSnapshot(s.SnapshotID) {
		s.SnapshotID = NewSnapshotID()
	}

	s.ParentSnapshotID = nil
	if b.doc.CurrentSnapshotID != NoSnapshot {
		parent := b.doc.CurrentSnapshotID
		s.ParentSnapshotID = &parent
	}

	b.doc.LastSequenceNumber++
	s.SequenceNumber = b.doc.LastSequenceNumber
	if s.TimestampMS == 0 {
		s.TimestampMS = b.now().UnixMilli()
	}
	if s.Summary == nil {
		s.Summary = map[string]string{}
	}
	if s.Summary["operation"] == "" {
		s.Summary["operation"] = "append"
	}
	schemaID := b.doc.CurrentSchemaID
	s.SchemaID = &schemaID

	b.doc.Snapshots = append(b.doc.Snapshots, s)
	b.doc.CurrentSnapshotID = s.SnapshotID
	b.doc.SnapshotLog = append(b.doc.SnapshotLog, SnapshotLogEntry{TimestampMS: s.TimestampMS, SnapshotID: s.SnapshotID})
	if b.doc.Refs == nil {
		b.doc.Refs = map[string]SnapshotRef{}
	}
	b.doc.Refs[MainBranch] = SnapshotRef{SnapshotID: s.SnapshotID, Type: "branch"}
	return s.clone()
}

func (b *Builder) hasSnapshot(id int64) bool {
	for _, s := range b.doc.Snapshots {
		if s.SnapshotID == id {
			return true
		}
	}
	return false
}

// SetProperties sets or overwrites table properties
func (b *Builder) SetProperties(props map[string]string) *Builder {
	if b.err != nil || len(props) == 0 {
		return b
	}
	b.setProperties(props)
	b.changes = append(b.changes, SetPropertiesChange{Updates: maps.Clone(props)})
	return b
}

func (b *Builder) setProperties(props map[string]string) {
	if b.doc.Properties == nil {
		b.doc.Properties = make(map[string]string, len(props))
	}
	for k, v := range props {
		b.doc.Properties[k] = v
	}
}

// RemoveProperties removes table properties; missing keys are ignored
func (b *Builder) RemoveProperties(keys ...string) *Builder {
	if b.err != nil || len(keys) == 0 {
		return b
	}
	b.removeProperties(keys)
	b.changes = append(b.changes, RemovePropertiesChange{Removals: slices.Clone(keys)})
	return b
}

func (b *Builder) removeProperties(keys []string) {
	for _, k := range keys {
		delete(b.doc.Properties, k)
	}
}

// AddSchema adds a schema with the given columns and makes it current
func (b *Builder) AddSchema(fields []Field, identifierFieldIDs ...int) *Builder {
	if b.err != nil {
		return b
	}
	change := AddSchemaChange{
		Fields:             cloneFields(fields),
		IdentifierFieldIDs: slices.Clone(identifierFieldIDs),
		BaseSchemaID:       b.doc.CurrentSchemaID,
	}
	b.addSchema(change)
	b.changes = append(b.changes, change)
	return b
}

func (b *Builder) addSchema(c AddSchemaChange) {
	next := 0
	for _, s := range b.doc.Schemas {
		if s.SchemaID >= next {
			next = s.SchemaID + 1
		}
	}
	s := Schema{
		Type:               "struct",
		SchemaID:           next,
		IdentifierFieldIDs: slices.Clone(c.IdentifierFieldIDs),
		Fields:             cloneFields(c.Fields),
	}
	b.doc.Schemas = append(b.doc.Schemas, s)
	b.doc.CurrentSchemaID = next
	if m := maxID(s.fieldIDs()); m > b.doc.LastColumnID {
		b.doc.LastColumnID = m
	}
}

// SetPartitionSpec adds a partition spec and makes it the default. Fields
// without an id are numbered after the last partition field id.
func (b *Builder) SetPartitionSpec(fields []PartitionField) *Builder {
	if b.err != nil {
		return b
	}
	change := SetPartitionSpecChange{
		Fields:     slices.Clone(fields),
		BaseSpecID: b.doc.DefaultSpecID,
	}
	b.setPartitionSpec(change)
	b.changes = append(b.changes, change)
	return b
}

func (b *Builder) setPartitionSpec(c SetPartitionSpecChange) {
	next := 0
	for _, p := range b.doc.PartitionSpecs {
		if p.SpecID >= next {
			next = p.SpecID + 1
		}
	}
	fields := slices.Clone(c.Fields)
	if fields == nil {
		fields = []PartitionField{}
	}
	last := max(b.doc.LastPartitionID, partitionFieldIDStart-1)
	b.doc.LastPartitionID = assignPartitionFieldIDs(fields, last)
	b.doc.PartitionSpecs = append(b.doc.PartitionSpecs, PartitionSpec{SpecID: next, Fields: fields})
	b.doc.DefaultSpecID = next
}

// Build validates the evolved document and returns it. The result keeps the
// base token and carries every change recorded since the base was read.
func (b *Builder) Build() (*TableMetadata, error) {
	if b.err != nil {
		return nil, b.err
	}

	doc := b.doc.clone()
	if len(b.changes) > 0 {
		now := b.now().UnixMilli()
		if now < b.base.doc.LastUpdatedMS {
			now = b.base.doc.LastUpdatedMS
		}
		doc.LastUpdatedMS = now
		if b.base.location != "" {
			doc.MetadataLog = append(doc.MetadataLog, MetadataLogEntry{
				TimestampMS:  b.base.doc.LastUpdatedMS,
				MetadataFile: b.base.location,
			})
		}
	}

	md := &TableMetadata{
		doc:     doc,
		extra:   maps.Clone(b.base.extra),
		token:   b.base.token,
		changes: append(slices.Clone(b.base.changes), b.changes...),
	}
	if err := Validate(md); err != nil {
		return nil, err
	}
	return md, nil
}

func cloneFields(fields []Field) []Field {
	out := make([]Field, len(fields))
	for i, f := range fields {
		f.Type = slices.Clone(f.Type)
		out[i] = f
	}
	return out
}

func notRebasable(msg string, change Change) *errors.Error {
	return errors.New(ErrNotRebasable, msg, nil).AddContext("change", change.Action())
}

func itoa(v int) string { return strconv.Itoa(v) }

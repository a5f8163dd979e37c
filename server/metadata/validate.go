package metadata

import (
	"strconv"

	"github.com/gear6io/ranger-catalog/pkg/errors"
)

func invalid(msg string) *errors.Error {
	return errors.New(ErrInvalid, msg, nil)
}

// Validate checks the structural invariants of a metadata document
func Validate(md *TableMetadata) error {
	return validate(md, true)
}

// validate skips the location check when requireLocation is false; the
// initial document of a table whose location the catalog assigns has none
func validate(md *TableMetadata, requireLocation bool) error {
	d := md.doc

	if d.FormatVersion != 1 && d.FormatVersion != 2 {
		return invalid("unsupported format version").
			AddContext("format_version", strconv.Itoa(d.FormatVersion))
	}
	if requireLocation && d.Location == "" {
		return invalid("table location is empty")
	}

	schemaIDs := make(map[int]struct{}, len(d.Schemas))
	for _, s := range d.Schemas {
		if _, dup := schemaIDs[s.SchemaID]; dup {
			return invalid("duplicate schema id").AddContext("schema_id", strconv.Itoa(s.SchemaID))
		}
		schemaIDs[s.SchemaID] = struct{}{}

		seen := make(map[int]struct{})
		for _, id := range s.fieldIDs() {
			if _, dup := seen[id]; dup {
				return invalid("duplicate field id").
					AddContext("schema_id", strconv.Itoa(s.SchemaID)).
					AddContext("field_id", strconv.Itoa(id))
			}
			seen[id] = struct{}{}
		}
	}

	current, ok := md.CurrentSchema()
	if !ok {
		return invalid("current schema does not exist").
			AddContext("schema_id", strconv.Itoa(d.CurrentSchemaID))
	}

	if len(d.PartitionSpecs) > 0 || d.FormatVersion > 1 {
		spec, ok := md.DefaultSpec()
		if !ok {
			return invalid("default partition spec does not exist").
				AddContext("spec_id", strconv.Itoa(d.DefaultSpecID))
		}
		columns := make(map[int]struct{})
		for _, id := range current.fieldIDs() {
			columns[id] = struct{}{}
		}
		for _, f := range spec.Fields {
			if _, ok := columns[f.SourceID]; !ok {
				return invalid("partition field source is not in the current schema").
					AddContext("partition_field", f.Name).
					AddContext("source_id", strconv.Itoa(f.SourceID))
			}
		}
	}

	snapshotIDs := make(map[int64]struct{}, len(d.Snapshots))
	for _, s := range d.Snapshots {
		if _, dup := snapshotIDs[s.SnapshotID]; dup {
			return invalid("duplicate snapshot id").
				AddContext("snapshot_id", strconv.FormatInt(s.SnapshotID, 10))
		}
		snapshotIDs[s.SnapshotID] = struct{}{}
		if d.FormatVersion > 1 && s.SequenceNumber > d.LastSequenceNumber {
			return invalid("snapshot sequence number is beyond the last sequence number").
				AddContext("snapshot_id", strconv.FormatInt(s.SnapshotID, 10)).
				AddContext("sequence_number", strconv.FormatInt(s.SequenceNumber, 10))
		}
	}

	if d.CurrentSnapshotID != NoSnapshot {
		if _, ok := snapshotIDs[d.CurrentSnapshotID]; !ok {
			return invalid("current snapshot does not exist").
				AddContext("snapshot_id", strconv.FormatInt(d.CurrentSnapshotID, 10))
		}
	}

	for name, ref := range d.Refs {
		if _, ok := snapshotIDs[ref.SnapshotID]; !ok {
			return invalid("ref points to a missing snapshot").
				AddContext("ref", name).
				AddContext("snapshot_id", strconv.FormatInt(ref.SnapshotID, 10))
		}
	}

	return nil
}

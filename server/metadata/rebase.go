package metadata

import (
	"github.com/gear6io/ranger-catalog/pkg/errors"
)

// Change is one recorded evolution step
type Change interface {
	// Action names the change for logs and errors
	Action() string
	apply(b *Builder) error
}

// AppendSnapshotChange adds a snapshot on the main branch
type AppendSnapshotChange struct {
	Snapshot Snapshot
}

func (AppendSnapshotChange) Action() string { return "append-snapshot" }

func (c AppendSnapshotChange) apply(b *Builder) error {
	b.AppendSnapshot(c.Snapshot)
	return nil
}

// SetPropertiesChange sets table properties
type SetPropertiesChange struct {
	Updates map[string]string
}

func (SetPropertiesChange) Action() string { return "set-properties" }

func (c SetPropertiesChange) apply(b *Builder) error {
	b.SetProperties(c.Updates)
	return nil
}

// RemovePropertiesChange removes table properties
type RemovePropertiesChange struct {
	Removals []string
}

func (RemovePropertiesChange) Action() string { return "remove-properties" }

func (c RemovePropertiesChange) apply(b *Builder) error {
	b.RemoveProperties(c.Removals...)
	return nil
}

// AddSchemaChange adds a schema evolved from BaseSchemaID
type AddSchemaChange struct {
	Fields             []Field
	IdentifierFieldIDs []int
	BaseSchemaID       int
}

func (AddSchemaChange) Action() string { return "add-schema" }

func (c AddSchemaChange) apply(b *Builder) error {
	if b.doc.CurrentSchemaID != c.BaseSchemaID {
		return notRebasable("schema changed concurrently", c).
			AddContext("base_schema_id", itoa(c.BaseSchemaID)).
			AddContext("live_schema_id", itoa(b.doc.CurrentSchemaID))
	}
	b.AddSchema(c.Fields, c.IdentifierFieldIDs...)
	return nil
}

// SetPartitionSpecChange adds a partition spec evolved from BaseSpecID
type SetPartitionSpecChange struct {
	Fields     []PartitionField
	BaseSpecID int
}

func (SetPartitionSpecChange) Action() string { return "set-partition-spec" }

func (c SetPartitionSpecChange) apply(b *Builder) error {
	if b.doc.DefaultSpecID != c.BaseSpecID {
		return notRebasable("partition spec changed concurrently", c).
			AddContext("base_spec_id", itoa(c.BaseSpecID)).
			AddContext("live_spec_id", itoa(b.doc.DefaultSpecID))
	}
	b.SetPartitionSpec(c.Fields)
	return nil
}

// Rebase replays the changes recorded in proposed on top of live. Appended
// snapshots are re-parented onto live's current snapshot and renumbered;
// property changes replay as they were; schema and partition spec changes
// only replay when live still has the schema or spec they started from.
func Rebase(proposed, live *TableMetadata) (*TableMetadata, error) {
	if len(proposed.changes) == 0 {
		return nil, errors.New(ErrNotRebasable, "proposal carries no recorded changes", nil)
	}
	if proposed.TableUUID() != live.TableUUID() {
		return nil, errors.New(ErrNotRebasable, "table was replaced concurrently", nil).
			AddContext("base_uuid", proposed.TableUUID()).
			AddContext("live_uuid", live.TableUUID())
	}

	b := live.Builder()
	for _, c := range proposed.changes {
		if err := c.apply(b); err != nil {
			return nil, err
		}
	}
	return b.Build()
}

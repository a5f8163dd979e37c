// Package manifest reads and writes Iceberg v2 manifest lists as Avro object
// container files.
package manifest

import (
	"io"
	"strconv"

	"github.com/gear6io/ranger-catalog/pkg/errors"
	"github.com/hamba/avro/v2/ocf"
)

// Package-specific error codes
var (
	ErrEncode = errors.MustNewCode("manifest.encode_failed")
	ErrDecode = errors.MustNewCode("manifest.decode_failed")
)

// Content types of a manifest
const (
	ContentData    = 0
	ContentDeletes = 1
)

// Header keys written into the container metadata
const (
	headerFormatVersion    = "format-version"
	headerSnapshotID       = "snapshot-id"
	headerParentSnapshotID = "parent-snapshot-id"
	headerSequenceNumber   = "sequence-number"
)

const listSchema = `{
	"type": "record",
	"name": "manifest_file",
	"fields": [
		{"name": "manifest_path", "type": "string", "field-id": 500},
		{"name": "manifest_length", "type": "long", "field-id": 501},
		{"name": "partition_spec_id", "type": "int", "field-id": 502},
		{"name": "content", "type": "int", "field-id": 517},
		{"name": "sequence_number", "type": "long", "field-id": 515},
		{"name": "min_sequence_number", "type": "long", "field-id": 516},
		{"name": "added_snapshot_id", "type": "long", "field-id": 503},
		{"name": "added_data_files_count", "type": "int", "field-id": 504},
		{"name": "existing_data_files_count", "type": "int", "field-id": 505},
		{"name": "deleted_data_files_count", "type": "int", "field-id": 506},
		{"name": "added_rows_count", "type": "long", "field-id": 512},
		{"name": "existing_rows_count", "type": "long", "field-id": 513},
		{"name": "deleted_rows_count", "type": "long", "field-id": 514}
	]
}`

// File is one manifest list entry
type File struct {
	ManifestPath       string `avro:"manifest_path"`
	ManifestLength     int64  `avro:"manifest_length"`
	PartitionSpecID    int    `avro:"partition_spec_id"`
	Content            int    `avro:"content"`
	SequenceNumber     int64  `avro:"sequence_number"`
	MinSequenceNumber  int64  `avro:"min_sequence_number"`
	AddedSnapshotID    int64  `avro:"added_snapshot_id"`
	AddedFilesCount    int    `avro:"added_data_files_count"`
	ExistingFilesCount int    `avro:"existing_data_files_count"`
	DeletedFilesCount  int    `avro:"deleted_data_files_count"`
	AddedRowsCount     int64  `avro:"added_rows_count"`
	ExistingRowsCount  int64  `avro:"existing_rows_count"`
	DeletedRowsCount   int64  `avro:"deleted_rows_count"`
}

// List is a decoded manifest list
type List struct {
	SnapshotID       int64
	ParentSnapshotID *int64
	SequenceNumber   int64
	Files            []File
}

// Write encodes the manifest list of one snapshot. Entries without a
// sequence number or snapshot id inherit the snapshot's.
func Write(w io.Writer, snapshotID int64, parentID *int64, seq int64, files []File) error {
	meta := map[string][]byte{
		headerFormatVersion:  []byte("2"),
		headerSnapshotID:     []byte(strconv.FormatInt(snapshotID, 10)),
		headerSequenceNumber: []byte(strconv.FormatInt(seq, 10)),
	}
	if parentID != nil {
		meta[headerParentSnapshotID] = []byte(strconv.FormatInt(*parentID, 10))
	} else {
		meta[headerParentSnapshotID] = []byte("null")
	}

	enc, err := ocf.NewEncoder(listSchema, w, ocf.WithMetadata(meta), ocf.WithCodec(ocf.Deflate))
	if err != nil {
		return errors.New(ErrEncode, "failed to create manifest list encoder", err)
	}

	for i := range files {
		f := files[i]
		if f.SequenceNumber == 0 {
			f.SequenceNumber = seq
		}
		if f.MinSequenceNumber == 0 {
			f.MinSequenceNumber = f.SequenceNumber
		}
		if f.AddedSnapshotID == 0 {
			f.AddedSnapshotID = snapshotID
		}
		if err := enc.Encode(f); err != nil {
			return errors.New(ErrEncode, "failed to encode manifest list entry", err).
				AddContext("manifest_path", f.ManifestPath)
		}
	}

	if err := enc.Close(); err != nil {
		return errors.New(ErrEncode, "failed to close manifest list encoder", err)
	}
	return nil
}

// Read decodes a manifest list
func Read(r io.Reader) (*List, error) {
	dec, err := ocf.NewDecoder(r)
	if err != nil {
		return nil, errors.New(ErrDecode, "failed to open manifest list", err)
	}

	list := &List{}
	meta := dec.Metadata()
	if v, ok := meta[headerSnapshotID]; ok {
		if list.SnapshotID, err = strconv.ParseInt(string(v), 10, 64); err != nil {
			return nil, errors.New(ErrDecode, "invalid snapshot-id header", err)
		}
	}
	if v, ok := meta[headerSequenceNumber]; ok {
		if list.SequenceNumber, err = strconv.ParseInt(string(v), 10, 64); err != nil {
			return nil, errors.New(ErrDecode, "invalid sequence-number header", err)
		}
	}
	if v, ok := meta[headerParentSnapshotID]; ok && string(v) != "null" {
		parent, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return nil, errors.New(ErrDecode, "invalid parent-snapshot-id header", err)
		}
		list.ParentSnapshotID = &parent
	}

	for dec.HasNext() {
		var f File
		if err := dec.Decode(&f); err != nil {
			return nil, errors.New(ErrDecode, "failed to decode manifest list entry", err)
		}
		list.Files = append(list.Files, f)
	}
	if err := dec.Error(); err != nil {
		return nil, errors.New(ErrDecode, "failed to read manifest list", err)
	}
	return list, nil
}

// TotalRows sums the live rows referenced by the list
func (l *List) TotalRows() int64 {
	var n int64
	for _, f := range l.Files {
		if f.Content != ContentData {
			continue
		}
		n += f.AddedRowsCount + f.ExistingRowsCount
	}
	return n
}

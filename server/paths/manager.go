package paths

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/gear6io/ranger-catalog/pkg/errors"
)

// Table property keys that override derived directories
const (
	PropWriteDataPath     = "write.data.path"
	PropObjectStoragePath = "write.object-storage.path"
	PropWriteMetadataPath = "write.metadata.path"
)

const (
	dataDirName     = "data"
	metadataDirName = "metadata"
	versionHintName = "version-hint.text"
)

// Layout selects how a table directory is placed under the warehouse
type Layout int

const (
	// LayoutNested places tables at {warehouse}/{ns...}/{table}
	LayoutNested Layout = iota
	// LayoutDatabase places tables at {warehouse}/{ns}.db/{table}
	LayoutDatabase
	// LayoutUnique places tables at {warehouse}/{ns...}/{table}_{uuid}
	LayoutUnique
)

// Manager derives warehouse locations for one catalog
type Manager struct {
	warehouse string
	layout    Layout
}

// NewManager creates a path manager; warehouse must already be normalized
func NewManager(warehouse string, layout Layout) *Manager {
	return &Manager{
		warehouse: strings.TrimRight(warehouse, "/"),
		layout:    layout,
	}
}

// Warehouse returns the warehouse root
func (pm *Manager) Warehouse() string {
	return pm.warehouse
}

// NamespacePath returns the directory holding a namespace's tables
func (pm *Manager) NamespacePath(namespace []string) string {
	if pm.layout == LayoutDatabase {
		return Join(pm.warehouse, strings.Join(namespace, ".")+".db")
	}
	return Join(pm.warehouse, namespace...)
}

// TableLocation returns the root location for a new table
func (pm *Manager) TableLocation(namespace []string, table, tableUUID string) string {
	name := table
	if pm.layout == LayoutUnique && tableUUID != "" {
		name = table + "_" + strings.ReplaceAll(tableUUID, "-", "")
	}
	return Join(pm.NamespacePath(namespace), name)
}

// DataPath returns the directory data files of a table are written to
func DataPath(location string, props map[string]string) string {
	if p := props[PropWriteDataPath]; p != "" {
		return strings.TrimRight(p, "/")
	}
	if p := props[PropObjectStoragePath]; p != "" {
		return strings.TrimRight(p, "/")
	}
	return Join(location, dataDirName)
}

// MetadataPath returns the directory metadata files of a table are written to
func MetadataPath(location string, props map[string]string) string {
	if p := props[PropWriteMetadataPath]; p != "" {
		return strings.TrimRight(p, "/")
	}
	return Join(location, metadataDirName)
}

// MetadataFilePath names a pointer-style metadata file, {NNNNN}-{uuid}.metadata.json
func MetadataFilePath(metadataDir string, version int, id string) string {
	return Join(metadataDir, fmt.Sprintf("%05d-%s.metadata.json", version, id))
}

// VersionFilePath names a hadoop-style metadata file, v{N}.metadata.json
func VersionFilePath(metadataDir string, version int) string {
	return Join(metadataDir, fmt.Sprintf("v%d.metadata.json", version))
}

// VersionHintPath returns the version hint file of a hadoop-style table
func VersionHintPath(metadataDir string) string {
	return Join(metadataDir, versionHintName)
}

var (
	pointerVersionRe = regexp.MustCompile(`^(\d+)-[^/]+\.metadata\.json$`)
	hadoopVersionRe  = regexp.MustCompile(`^v(\d+)\.metadata\.json$`)
)

// ParseMetadataVersion extracts the version number from a metadata file name
// in either naming scheme. ok is false for anything else.
func ParseMetadataVersion(p string) (version int, ok bool) {
	base := path.Base(p)
	for _, re := range []*regexp.Regexp{pointerVersionRe, hadoopVersionRe} {
		if m := re.FindStringSubmatch(base); m != nil {
			v, err := strconv.Atoi(m[1])
			if err != nil {
				return 0, false
			}
			return v, true
		}
	}
	return 0, false
}

// Join joins location elements with single slashes; it keeps URI schemes intact
func Join(base string, elems ...string) string {
	out := strings.TrimRight(base, "/")
	for _, e := range elems {
		e = strings.Trim(e, "/")
		if e == "" {
			continue
		}
		out += "/" + e
	}
	return out
}

// IsObjectStore reports whether a location lives on an S3-compatible store
func IsObjectStore(location string) bool {
	return strings.HasPrefix(location, "s3://") || strings.HasPrefix(location, "s3a://")
}

// NormalizeWarehouse turns a configured warehouse into the form used for
// locations: absolute local paths stay as they are, file:// URIs become paths,
// s3:// URIs keep their scheme.
func NormalizeWarehouse(warehouse string) (string, error) {
	if warehouse == "" {
		return "", errors.New(ErrInvalidWarehouse, "warehouse is empty", nil)
	}
	if strings.HasPrefix(warehouse, "/") {
		return path.Clean(warehouse), nil
	}

	u, err := url.Parse(warehouse)
	if err != nil {
		return "", errors.New(ErrInvalidWarehouse, "warehouse is not a valid URI", err).AddContext("warehouse", warehouse)
	}

	switch u.Scheme {
	case "file":
		if u.Path == "" {
			return "", errors.New(ErrInvalidWarehouse, "file warehouse has no path", nil).AddContext("warehouse", warehouse)
		}
		return path.Clean(u.Path), nil
	case "s3", "s3a":
		if u.Host == "" {
			return "", errors.New(ErrInvalidWarehouse, "s3 warehouse has no bucket", nil).AddContext("warehouse", warehouse)
		}
		return "s3://" + u.Host + strings.TrimRight(path.Clean("/"+u.Path), "/"), nil
	default:
		return "", errors.New(ErrInvalidWarehouse, "unsupported warehouse scheme", nil).
			AddContext("warehouse", warehouse).
			AddContext("scheme", u.Scheme)
	}
}

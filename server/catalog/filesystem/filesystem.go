// Package filesystem implements a catalog kept entirely in the warehouse:
// v{N}.metadata.json files plus a version-hint.text per table.
package filesystem

import (
	"context"
	"strconv"
	"strings"

	"github.com/gear6io/ranger-catalog/server/catalog/shared"
	"github.com/gear6io/ranger-catalog/server/config"
	"github.com/gear6io/ranger-catalog/server/paths"
	"github.com/gear6io/ranger-catalog/server/storage"
	"github.com/rs/zerolog"
)

const metadataDirName = "metadata"

// Client is a shared.Client over a warehouse directory
type Client struct {
	warehouse string
	io        storage.FileIO
	paths     *paths.Manager
	logger    zerolog.Logger
}

var _ shared.Client = (*Client)(nil)

// New opens the warehouse. The warehouse root must be listable.
func New(ctx context.Context, cfg config.CatalogConfig, deps shared.Deps) (*Client, error) {
	if deps.IO == nil {
		return nil, shared.NewInternal(config.TypeFilesystem, "filesystem catalog needs warehouse IO", nil)
	}
	c := &Client{
		warehouse: cfg.Warehouse(),
		io:        deps.IO,
		paths:     paths.NewManager(cfg.Warehouse(), paths.LayoutNested),
		logger:    deps.Logger.With().Str("component", shared.ComponentType).Str("backend", string(config.TypeFilesystem)).Logger(),
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout())
	defer cancel()
	if _, err := c.io.List(ctx, c.warehouse); err != nil {
		return nil, shared.NewConnection(config.TypeFilesystem, c.warehouse, err)
	}
	return c, nil
}

func (c *Client) Kind() config.CatalogType { return config.TypeFilesystem }

func (c *Client) tableDir(id shared.TableIdentifier) string {
	return c.paths.TableLocation(id.Namespace, id.Name, "")
}

func (c *Client) metadataDir(id shared.TableIdentifier) string {
	return paths.Join(c.tableDir(id), metadataDirName)
}

func versionToken(v int) shared.Token {
	return shared.Token("v" + strconv.Itoa(v))
}

func parseToken(t shared.Token) (int, bool) {
	s, ok := strings.CutPrefix(string(t), "v")
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(s)
	return v, err == nil
}

// currentVersion finds the newest committed version. The hint is only a
// starting point: writers update it after the version file, so a newer
// file may exist.
func (c *Client) currentVersion(ctx context.Context, id shared.TableIdentifier) (int, error) {
	dir := c.metadataDir(id)

	version := -1
	if data, err := c.io.Read(ctx, paths.VersionHintPath(dir)); err == nil {
		if v, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil {
			version = v
		}
	} else if !storage.IsNotFound(err) {
		return 0, shared.ClassifyTransport(c.Kind(), "read_version_hint", err)
	}

	if version >= 0 {
		ok, err := c.io.Exists(ctx, paths.VersionFilePath(dir, version))
		if err != nil {
			return 0, shared.ClassifyTransport(c.Kind(), "stat_metadata", err)
		}
		if !ok {
			version = -1
		}
	}

	if version < 0 {
		names, err := c.io.List(ctx, dir)
		if err != nil {
			return 0, shared.ClassifyTransport(c.Kind(), "list_metadata", err)
		}
		for _, name := range names {
			if !strings.HasPrefix(name, "v") {
				continue
			}
			if v, ok := paths.ParseMetadataVersion(name); ok && v > version {
				version = v
			}
		}
		if version < 0 {
			return 0, shared.NewTableNotFound(c.Kind(), id, nil)
		}
	}

	for {
		ok, err := c.io.Exists(ctx, paths.VersionFilePath(dir, version+1))
		if err != nil {
			return 0, shared.ClassifyTransport(c.Kind(), "stat_metadata", err)
		}
		if !ok {
			return version, nil
		}
		version++
	}
}

func (c *Client) CurrentToken(ctx context.Context, id shared.TableIdentifier) (shared.Token, error) {
	v, err := c.currentVersion(ctx, id)
	if err != nil {
		return "", err
	}
	return versionToken(v), nil
}

func (c *Client) FetchMetadataDocument(ctx context.Context, id shared.TableIdentifier) (*shared.Document, error) {
	v, err := c.currentVersion(ctx, id)
	if err != nil {
		return nil, err
	}
	location := paths.VersionFilePath(c.metadataDir(id), v)
	data, err := c.io.Read(ctx, location)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, shared.NewCorruptMetadata(c.Kind(), id, location, err)
		}
		return nil, shared.ClassifyTransport(c.Kind(), "read_metadata", err)
	}
	return &shared.Document{Token: versionToken(v), Location: location, Bytes: data}, nil
}

// ConditionalUpdate writes v{N+1} with an exclusive create. Losing the
// create race, or a base that is not the newest version, is a rejection.
func (c *Client) ConditionalUpdate(ctx context.Context, id shared.TableIdentifier, base shared.Token, doc []byte) (shared.UpdateResult, error) {
	baseVersion, ok := parseToken(base)
	if !ok {
		return shared.UpdateResult{}, shared.NewInternal(c.Kind(), "malformed version token", nil).
			AddContext("token", string(base))
	}

	current, err := c.currentVersion(ctx, id)
	if err != nil {
		return shared.UpdateResult{}, err
	}
	if current != baseVersion {
		return shared.UpdateResult{Accepted: false, Current: versionToken(current)}, nil
	}

	dir := c.metadataDir(id)
	next := baseVersion + 1
	location := paths.VersionFilePath(dir, next)
	if err := c.io.WriteExclusive(ctx, location, doc); err != nil {
		if storage.IsAlreadyExists(err) {
			live, err := c.currentVersion(ctx, id)
			if err != nil {
				live = next
			}
			return shared.UpdateResult{Accepted: false, Current: versionToken(live)}, nil
		}
		return shared.UpdateResult{}, shared.ClassifyTransport(c.Kind(), "write_metadata", err)
	}

	c.writeHint(ctx, dir, next)
	return shared.UpdateResult{Accepted: true, Current: versionToken(next), Location: location}, nil
}

func (c *Client) writeHint(ctx context.Context, dir string, version int) {
	if err := c.io.Write(ctx, paths.VersionHintPath(dir), []byte(strconv.Itoa(version))); err != nil {
		c.logger.Warn().Err(err).Str("dir", dir).Int("version", version).Msg("Failed to update version hint")
	}
}

// ListNamespace lists the table directories of ns, those holding a metadata directory
func (c *Client) ListNamespace(ctx context.Context, ns shared.Namespace) ([]shared.TableIdentifier, error) {
	dir := c.paths.NamespacePath(ns)
	names, err := c.io.List(ctx, dir)
	if err != nil {
		return nil, shared.ClassifyTransport(c.Kind(), "list_namespace", err)
	}
	if names == nil {
		ok, err := c.io.Exists(ctx, dir)
		if err != nil {
			return nil, shared.ClassifyTransport(c.Kind(), "list_namespace", err)
		}
		if !ok {
			return nil, shared.NewNamespaceNotFound(c.Kind(), ns, nil)
		}
	}

	var out []shared.TableIdentifier
	for _, name := range names {
		// regular files list no children and are skipped
		children, err := c.io.List(ctx, paths.Join(dir, name))
		if err != nil {
			return nil, shared.ClassifyTransport(c.Kind(), "list_namespace", err)
		}
		for _, child := range children {
			if child == metadataDirName {
				out = append(out, shared.TableIdentifier{Namespace: ns, Name: name})
				break
			}
		}
	}
	return out, nil
}

// CreateNamespace creates the namespace directory. Properties are not
// stored by this backend.
func (c *Client) CreateNamespace(ctx context.Context, ns shared.Namespace, props map[string]string) error {
	dir := c.paths.NamespacePath(ns)
	marker := paths.Join(dir, ".namespace")
	if err := c.io.WriteExclusive(ctx, marker, nil); err != nil {
		if storage.IsAlreadyExists(err) {
			return shared.NewAlreadyExists(c.Kind(), ns.String(), nil)
		}
		return shared.ClassifyTransport(c.Kind(), "create_namespace", err)
	}
	return nil
}

func (c *Client) CreateTable(ctx context.Context, id shared.TableIdentifier, doc []byte) (*shared.Document, error) {
	dir := c.metadataDir(id)
	location := paths.VersionFilePath(dir, 1)

	if _, err := c.currentVersion(ctx, id); err == nil {
		return nil, shared.NewAlreadyExists(c.Kind(), id.String(), nil)
	} else if !shared.IsTableNotFound(err) {
		return nil, err
	}

	if err := c.io.WriteExclusive(ctx, location, doc); err != nil {
		if storage.IsAlreadyExists(err) {
			return nil, shared.NewAlreadyExists(c.Kind(), id.String(), nil)
		}
		return nil, shared.ClassifyTransport(c.Kind(), "create_table", err)
	}
	c.writeHint(ctx, dir, 1)
	return &shared.Document{Token: versionToken(1), Location: location, Bytes: doc}, nil
}

// DropTable removes the table's metadata directory; data files are left alone
func (c *Client) DropTable(ctx context.Context, id shared.TableIdentifier) error {
	if _, err := c.currentVersion(ctx, id); err != nil {
		return err
	}
	if err := c.io.Delete(ctx, c.metadataDir(id)); err != nil {
		return shared.ClassifyTransport(c.Kind(), "drop_table", err)
	}
	return nil
}

func (c *Client) DefaultLocation(id shared.TableIdentifier, _ string) string {
	return c.tableDir(id)
}

func (c *Client) Close() error { return nil }

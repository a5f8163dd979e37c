// Package rest implements a catalog backend over an Iceberg REST catalog
// server using the iceberg-go client. The token is the metadata location the
// server reports for the table; updates are sent as Iceberg table updates
// guarded by requirements, so the server decides who wins a race.
package rest

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"iter"
	"maps"
	"slices"

	"github.com/apache/iceberg-go"
	icebergcatalog "github.com/apache/iceberg-go/catalog"
	icebergrest "github.com/apache/iceberg-go/catalog/rest"
	"github.com/apache/iceberg-go/table"
	"github.com/gear6io/ranger-catalog/pkg/errors"
	"github.com/gear6io/ranger-catalog/server/catalog/shared"
	"github.com/gear6io/ranger-catalog/server/config"
	"github.com/rs/zerolog"
)

const kind = config.TypeREST

// CatalogName is the name the iceberg-go client is registered under
const CatalogName = "ranger-rest-catalog"

// Catalog is the part of the iceberg-go REST client the backend uses
type Catalog interface {
	LoadTable(ctx context.Context, identifier table.Identifier, props iceberg.Properties) (*table.Table, error)
	CommitTable(ctx context.Context, tbl *table.Table, reqs []table.Requirement, updates []table.Update) (table.Metadata, string, error)
	CreateTable(ctx context.Context, identifier table.Identifier, schema *iceberg.Schema, opts ...icebergcatalog.CreateTableOpt) (*table.Table, error)
	DropTable(ctx context.Context, identifier table.Identifier) error
	ListTables(ctx context.Context, namespace table.Identifier) iter.Seq2[table.Identifier, error]
	CreateNamespace(ctx context.Context, namespace table.Identifier, props iceberg.Properties) error
}

var _ Catalog = (*icebergrest.Catalog)(nil)

// Client is a REST catalog backend
type Client struct {
	cat    Catalog
	uri    string
	logger zerolog.Logger
}

var _ shared.Client = (*Client)(nil)

// New connects to the REST catalog at the configured server URI. Creating
// the iceberg-go client fetches the server config, which doubles as the
// reachability check.
func New(ctx context.Context, cfg config.CatalogConfig, deps shared.Deps) (*Client, error) {
	var opts []icebergrest.Option
	if tok := cfg.AuthToken(); tok != "" {
		opts = append(opts, icebergrest.WithOAuthToken(tok))
	}
	if wh := cfg.Warehouse(); wh != "" {
		opts = append(opts, icebergrest.WithWarehouseLocation(wh))
	}

	hctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout())
	defer cancel()

	cat, err := icebergrest.NewCatalog(hctx, CatalogName, cfg.ServerURI(), opts...)
	if err != nil {
		if isAuthError(err) {
			return nil, shared.NewAccessDenied(kind, cfg.ServerURI(), err)
		}
		return nil, shared.NewConnection(kind, cfg.ServerURI(), err)
	}

	c := newClient(cat, cfg.ServerURI(), deps.Logger)
	c.logger.Debug().Str("uri", cfg.ServerURI()).Msg("Connected to REST catalog")
	return c, nil
}

func newClient(cat Catalog, uri string, logger zerolog.Logger) *Client {
	return &Client{
		cat: cat,
		uri: uri,
		logger: logger.With().
			Str("component", shared.ComponentType).
			Str("backend", string(kind)).
			Logger(),
	}
}

func (c *Client) Kind() config.CatalogType { return kind }

func identifier(id shared.TableIdentifier) table.Identifier {
	ident := make(table.Identifier, 0, len(id.Namespace)+1)
	ident = append(ident, id.Namespace...)
	return append(ident, id.Name)
}

func isAuthError(err error) bool {
	return stderrors.Is(err, icebergrest.ErrUnauthorized) ||
		stderrors.Is(err, icebergrest.ErrForbidden) ||
		stderrors.Is(err, icebergrest.ErrAuthorizationExpired)
}

// classify maps REST client failures onto the catalog taxonomy
func classify(op, name string, err error) error {
	switch {
	case isAuthError(err):
		return shared.NewAccessDenied(kind, name, err)
	case stderrors.Is(err, icebergrest.ErrServiceUnavailable),
		stderrors.Is(err, icebergrest.ErrServerError),
		stderrors.Is(err, icebergrest.ErrCommitStateUnknown):
		return shared.NewUnavailable(kind, op, err)
	case stderrors.Is(err, icebergrest.ErrBadRequest):
		return shared.NewInternal(kind, "rest catalog rejected the request", err).AddContext("operation", op)
	}
	return shared.ClassifyTransport(kind, op, err)
}

func (c *Client) load(ctx context.Context, id shared.TableIdentifier) (*table.Table, error) {
	tbl, err := c.cat.LoadTable(ctx, identifier(id), nil)
	if err != nil {
		if stderrors.Is(err, icebergcatalog.ErrNoSuchTable) || stderrors.Is(err, icebergcatalog.ErrNoSuchNamespace) {
			return nil, shared.NewTableNotFound(kind, id, err)
		}
		return nil, classify("load_table", id.String(), err)
	}
	return tbl, nil
}

func (c *Client) CurrentToken(ctx context.Context, id shared.TableIdentifier) (shared.Token, error) {
	tbl, err := c.load(ctx, id)
	if err != nil {
		return "", err
	}
	return shared.Token(tbl.MetadataLocation()), nil
}

func (c *Client) FetchMetadataDocument(ctx context.Context, id shared.TableIdentifier) (*shared.Document, error) {
	tbl, err := c.load(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(tbl.Metadata())
	if err != nil {
		return nil, shared.NewCorruptMetadata(kind, id, tbl.MetadataLocation(), err)
	}
	return &shared.Document{
		Token:    shared.Token(tbl.MetadataLocation()),
		Location: tbl.MetadataLocation(),
		Bytes:    data,
	}, nil
}

func (c *Client) ConditionalUpdate(ctx context.Context, id shared.TableIdentifier, base shared.Token, doc []byte) (shared.UpdateResult, error) {
	tbl, err := c.load(ctx, id)
	if err != nil {
		return shared.UpdateResult{}, err
	}
	live := shared.Token(tbl.MetadataLocation())
	if live != base {
		return shared.UpdateResult{Current: live}, nil
	}

	proposed, err := table.ParseMetadataBytes(doc)
	if err != nil {
		return shared.UpdateResult{}, shared.NewCorruptMetadata(kind, id, "", err)
	}
	reqs, updates, err := Translate(tbl.Metadata(), proposed)
	if err != nil {
		return shared.UpdateResult{}, err
	}
	if len(updates) == 0 {
		return shared.UpdateResult{Accepted: true, Current: live, Location: string(live)}, nil
	}

	_, location, err := c.cat.CommitTable(ctx, tbl, reqs, updates)
	if err != nil {
		if stderrors.Is(err, icebergrest.ErrCommitFailed) {
			current, tokErr := c.CurrentToken(ctx, id)
			if tokErr != nil {
				return shared.UpdateResult{}, tokErr
			}
			c.logger.Debug().
				Str("table", id.String()).
				Str("base", string(base)).
				Str("live", string(current)).
				Msg("REST commit rejected by requirements")
			return shared.UpdateResult{Current: current}, nil
		}
		if stderrors.Is(err, icebergcatalog.ErrNoSuchTable) {
			return shared.UpdateResult{}, shared.NewTableNotFound(kind, id, err)
		}
		return shared.UpdateResult{}, classify("commit_table", id.String(), err)
	}

	return shared.UpdateResult{Accepted: true, Current: shared.Token(location), Location: location}, nil
}

// Translate turns the difference between live and proposed into table
// updates, guarded by requirements that pin the state the difference was
// computed against
func Translate(live, proposed table.Metadata) ([]table.Requirement, []table.Update, error) {
	if live.TableUUID() != proposed.TableUUID() {
		return nil, nil, errors.New(shared.ErrInternal, "proposed metadata belongs to a different table", nil).
			AddContext("live_uuid", live.TableUUID().String()).
			AddContext("proposed_uuid", proposed.TableUUID().String())
	}

	var liveSnapshotID *int64
	if cur := live.CurrentSnapshot(); cur != nil {
		id := cur.SnapshotID
		liveSnapshotID = &id
	}
	reqs := []table.Requirement{
		table.AssertTableUUID(live.TableUUID()),
		table.AssertRefSnapshotID(table.MainBranch, liveSnapshotID),
		table.AssertCurrentSchemaID(live.CurrentSchema().ID),
		table.AssertDefaultSpecID(live.DefaultPartitionSpec()),
	}

	var updates []table.Update

	for _, s := range proposed.Schemas() {
		if !slices.ContainsFunc(live.Schemas(), func(l *iceberg.Schema) bool { return l.ID == s.ID }) {
			updates = append(updates, table.NewAddSchemaUpdate(s, proposed.LastColumnID(), false))
		}
	}
	if proposed.CurrentSchema().ID != live.CurrentSchema().ID {
		updates = append(updates, table.NewSetCurrentSchemaUpdate(proposed.CurrentSchema().ID))
	}

	for _, spec := range proposed.PartitionSpecs() {
		if !slices.ContainsFunc(live.PartitionSpecs(), func(l iceberg.PartitionSpec) bool { return l.ID() == spec.ID() }) {
			updates = append(updates, table.NewAddPartitionSpecUpdate(&spec, false))
		}
	}
	if proposed.DefaultPartitionSpec() != live.DefaultPartitionSpec() {
		updates = append(updates, table.NewSetDefaultSpecUpdate(proposed.DefaultPartitionSpec()))
	}

	for _, s := range proposed.Snapshots() {
		if live.SnapshotByID(s.SnapshotID) == nil {
			updates = append(updates, table.NewAddSnapshotUpdate(&s))
		}
	}
	if cur := proposed.CurrentSnapshot(); cur != nil && (liveSnapshotID == nil || *liveSnapshotID != cur.SnapshotID) {
		updates = append(updates, table.NewSetSnapshotRefUpdate(table.MainBranch, cur.SnapshotID, table.BranchRef, 0, 0, 0))
	}

	set, removed := diffProperties(live.Properties(), proposed.Properties())
	if len(set) > 0 {
		updates = append(updates, table.NewSetPropertiesUpdate(set))
	}
	if len(removed) > 0 {
		updates = append(updates, table.NewRemovePropertiesUpdate(removed))
	}

	return reqs, updates, nil
}

func diffProperties(live, proposed iceberg.Properties) (iceberg.Properties, []string) {
	set := iceberg.Properties{}
	for k, v := range proposed {
		if old, ok := live[k]; !ok || old != v {
			set[k] = v
		}
	}
	var removed []string
	for k := range live {
		if _, ok := proposed[k]; !ok {
			removed = append(removed, k)
		}
	}
	slices.Sort(removed)
	return set, removed
}

func (c *Client) ListNamespace(ctx context.Context, ns shared.Namespace) ([]shared.TableIdentifier, error) {
	var out []shared.TableIdentifier
	for ident, err := range c.cat.ListTables(ctx, table.Identifier(ns)) {
		if err != nil {
			if stderrors.Is(err, icebergcatalog.ErrNoSuchNamespace) {
				return nil, shared.NewNamespaceNotFound(kind, ns, err)
			}
			return nil, classify("list_tables", ns.String(), err)
		}
		if len(ident) == 0 {
			continue
		}
		out = append(out, shared.TableIdentifier{
			Namespace: slices.Clone(shared.Namespace(ident[:len(ident)-1])),
			Name:      ident[len(ident)-1],
		})
	}
	return out, nil
}

func (c *Client) CreateNamespace(ctx context.Context, ns shared.Namespace, props map[string]string) error {
	if err := c.cat.CreateNamespace(ctx, table.Identifier(ns), iceberg.Properties(maps.Clone(props))); err != nil {
		if stderrors.Is(err, icebergcatalog.ErrNamespaceAlreadyExists) {
			return shared.NewAlreadyExists(kind, ns.String(), err)
		}
		return classify("create_namespace", ns.String(), err)
	}
	return nil
}

// CreateTable registers a table from the schema, spec, properties and
// location of doc; the server writes the first metadata file itself
func (c *Client) CreateTable(ctx context.Context, id shared.TableIdentifier, doc []byte) (*shared.Document, error) {
	md, err := table.ParseMetadataBytes(doc)
	if err != nil {
		return nil, shared.NewCorruptMetadata(kind, id, "", err)
	}

	spec := md.PartitionSpec()
	opts := []icebergcatalog.CreateTableOpt{
		icebergcatalog.WithPartitionSpec(&spec),
		icebergcatalog.WithProperties(md.Properties()),
	}
	if md.Location() != "" {
		opts = append(opts, icebergcatalog.WithLocation(md.Location()))
	}

	if _, err := c.cat.CreateTable(ctx, identifier(id), md.CurrentSchema(), opts...); err != nil {
		switch {
		case stderrors.Is(err, icebergcatalog.ErrTableAlreadyExists):
			return nil, shared.NewAlreadyExists(kind, id.String(), err)
		case stderrors.Is(err, icebergcatalog.ErrNoSuchNamespace):
			return nil, shared.NewNamespaceNotFound(kind, id.Namespace, err)
		}
		return nil, classify("create_table", id.String(), err)
	}

	c.logger.Info().Str("table", id.String()).Msg("Created table")
	return c.FetchMetadataDocument(ctx, id)
}

func (c *Client) DropTable(ctx context.Context, id shared.TableIdentifier) error {
	if err := c.cat.DropTable(ctx, identifier(id)); err != nil {
		if stderrors.Is(err, icebergcatalog.ErrNoSuchTable) {
			return shared.NewTableNotFound(kind, id, err)
		}
		return classify("drop_table", id.String(), err)
	}
	return nil
}

// DefaultLocation is empty: the server assigns table locations
func (c *Client) DefaultLocation(shared.TableIdentifier, string) string { return "" }

// Close is a no-op; the iceberg-go REST client holds no resources to release
func (c *Client) Close() error { return nil }

// Package hive implements a metastore-style catalog: a relational pointer
// table maps each table to its current metadata file. The token is the
// metadata location and a commit is a compare-and-swap on that column.
package hive

import (
	"context"
	"database/sql"
	"database/sql/driver"
	stderrors "errors"
	"strings"

	"github.com/gear6io/ranger-catalog/pkg/errors"
	"github.com/gear6io/ranger-catalog/server/catalog/shared"
	"github.com/gear6io/ranger-catalog/server/config"
	"github.com/gear6io/ranger-catalog/server/paths"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

const (
	kind = config.TypeHive
	// CatalogName is the catalog_name every row is written under
	CatalogName = "ranger"

	namespaceExistsKey = "exists"
)

type tableRow struct {
	bun.BaseModel `bun:"table:iceberg_tables"`

	CatalogName              string `bun:",pk"`
	TableNamespace           string `bun:",pk"`
	TableName                string `bun:",pk"`
	MetadataLocation         sql.NullString
	PreviousMetadataLocation sql.NullString
}

type namespacePropertyRow struct {
	bun.BaseModel `bun:"table:iceberg_namespace_properties"`

	CatalogName   string `bun:",pk"`
	Namespace     string `bun:",pk"`
	PropertyKey   string `bun:",pk"`
	PropertyValue sql.NullString
}

// Client is a metastore catalog over sqlite or postgres
type Client struct {
	db     *bun.DB
	name   string
	files  shared.MetadataFiles
	paths  *paths.Manager
	logger zerolog.Logger
}

var _ shared.Client = (*Client)(nil)

// Open parses a metastore DSN and opens the matching database. Supported
// forms are sqlite://path, file:path and postgres(ql)://...
func Open(dsn string) (*bun.DB, string, error) {
	switch {
	case strings.HasPrefix(dsn, "sqlite://"), strings.HasPrefix(dsn, "sqlite3://"), strings.HasPrefix(dsn, "file:"):
		source := dsn
		if i := strings.Index(dsn, "://"); i >= 0 && !strings.HasPrefix(dsn, "file:") {
			source = dsn[i+3:]
		}
		if strings.Contains(source, "?") {
			source += "&_busy_timeout=5000"
		} else {
			source += "?_busy_timeout=5000"
		}
		sqldb, err := sql.Open("sqlite3", source)
		if err != nil {
			return nil, "", errors.New(ErrDatabaseOpen, "failed to open sqlite metastore", err)
		}
		// one writer at a time; sqlite serializes them anyway
		sqldb.SetMaxOpenConns(1)
		return bun.NewDB(sqldb, sqlitedialect.New()), "sqlite3", nil

	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		sqldb, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, "", errors.New(ErrDatabaseOpen, "failed to open postgres metastore", err)
		}
		return bun.NewDB(sqldb, pgdialect.New()), "postgres", nil

	default:
		return nil, "", errors.New(ErrUnsupportedDSN, "metastore DSN must be sqlite://, file: or postgres://", nil)
	}
}

// New opens the metastore, checks it is reachable and applies migrations
func New(ctx context.Context, cfg config.CatalogConfig, deps shared.Deps) (*Client, error) {
	if deps.IO == nil {
		return nil, shared.NewInternal(kind, "hive catalog needs warehouse IO", nil)
	}
	db, dialect, err := Open(cfg.ServerURI())
	if err != nil {
		return nil, shared.NewConnection(kind, redact(cfg.ServerURI()), err)
	}

	hctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout())
	defer cancel()
	if err := db.PingContext(hctx); err != nil {
		_ = db.Close()
		return nil, shared.NewConnection(kind, redact(cfg.ServerURI()), err)
	}
	if err := Migrate(hctx, db.DB, dialect); err != nil {
		_ = db.Close()
		return nil, shared.NewConnection(kind, redact(cfg.ServerURI()), err)
	}

	c := newClient(db, cfg, deps)
	c.logger.Debug().Str("dialect", dialect).Msg("Connected to metastore")
	return c, nil
}

func newClient(db *bun.DB, cfg config.CatalogConfig, deps shared.Deps) *Client {
	return &Client{
		db:     db,
		name:   CatalogName,
		files:  shared.MetadataFiles{Kind: kind, IO: deps.IO},
		paths:  paths.NewManager(cfg.Warehouse(), paths.LayoutDatabase),
		logger: deps.Logger.With().Str("component", shared.ComponentType).Str("backend", string(kind)).Logger(),
	}
}

// redact drops credentials from a DSN before it reaches an error
func redact(dsn string) string {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return dsn
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		return scheme + "://" + rest[at+1:]
	}
	return dsn
}

func (c *Client) Kind() config.CatalogType { return kind }

// classify maps database failures onto the catalog taxonomy
func classify(op string, err error) error {
	var liteErr sqlite3.Error
	switch {
	case stderrors.Is(err, driver.ErrBadConn), stderrors.Is(err, sql.ErrConnDone):
		return shared.NewUnavailable(kind, op, err)
	case stderrors.As(err, &liteErr) && (liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked):
		return shared.NewUnavailable(kind, op, err)
	case shared.IsTransport(err):
		return shared.NewUnavailable(kind, op, err)
	}
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "08") {
		return shared.NewUnavailable(kind, op, err)
	}
	return errors.New(ErrQueryFailed, "metastore query failed", err).
		AddContext("backend", string(kind)).
		AddContext("operation", op)
}

func isUniqueViolation(err error) bool {
	var liteErr sqlite3.Error
	if stderrors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || liteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (c *Client) row(ctx context.Context, id shared.TableIdentifier) (*tableRow, error) {
	row := new(tableRow)
	err := c.db.NewSelect().Model(row).
		Where("catalog_name = ?", c.name).
		Where("table_namespace = ?", id.Namespace.String()).
		Where("table_name = ?", id.Name).
		Scan(ctx)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, shared.NewTableNotFound(kind, id, nil)
	}
	if err != nil {
		return nil, classify("load_table", err)
	}
	if !row.MetadataLocation.Valid || row.MetadataLocation.String == "" {
		return nil, shared.NewCorruptMetadata(kind, id, "", errors.New(shared.ErrCorruptMetadata, "table row has no metadata location", nil))
	}
	return row, nil
}

func (c *Client) CurrentToken(ctx context.Context, id shared.TableIdentifier) (shared.Token, error) {
	row, err := c.row(ctx, id)
	if err != nil {
		return "", err
	}
	return shared.Token(row.MetadataLocation.String), nil
}

func (c *Client) FetchMetadataDocument(ctx context.Context, id shared.TableIdentifier) (*shared.Document, error) {
	row, err := c.row(ctx, id)
	if err != nil {
		return nil, err
	}
	location := row.MetadataLocation.String
	data, err := c.files.Read(ctx, id, location)
	if err != nil {
		return nil, err
	}
	return &shared.Document{Token: shared.Token(location), Location: location, Bytes: data}, nil
}

// ConditionalUpdate writes the next metadata file, then swaps the pointer
// only if it still names base
func (c *Client) ConditionalUpdate(ctx context.Context, id shared.TableIdentifier, base shared.Token, doc []byte) (shared.UpdateResult, error) {
	row, err := c.row(ctx, id)
	if err != nil {
		return shared.UpdateResult{}, err
	}
	if row.MetadataLocation.String != string(base) {
		return shared.UpdateResult{Accepted: false, Current: shared.Token(row.MetadataLocation.String)}, nil
	}

	location, err := c.files.Write(ctx, doc, string(base))
	if err != nil {
		return shared.UpdateResult{}, err
	}

	res, err := c.db.NewUpdate().Model((*tableRow)(nil)).
		Set("metadata_location = ?", location).
		Set("previous_metadata_location = ?", string(base)).
		Where("catalog_name = ?", c.name).
		Where("table_namespace = ?", id.Namespace.String()).
		Where("table_name = ?", id.Name).
		Where("metadata_location = ?", string(base)).
		Exec(ctx)
	if err != nil {
		err = classify("swap_pointer", err)
		if !shared.IsUnavailable(err) {
			c.files.Discard(ctx, location)
		}
		return shared.UpdateResult{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return shared.UpdateResult{}, classify("swap_pointer", err)
	}
	if n == 0 {
		c.files.Discard(ctx, location)
		live, err := c.CurrentToken(ctx, id)
		if err != nil {
			return shared.UpdateResult{}, err
		}
		c.logger.Debug().Str("table", id.String()).Str("base", string(base)).Msg("Pointer swap lost the race")
		return shared.UpdateResult{Accepted: false, Current: live}, nil
	}
	return shared.UpdateResult{Accepted: true, Current: shared.Token(location), Location: location}, nil
}

func (c *Client) namespaceExists(ctx context.Context, ns shared.Namespace) (bool, error) {
	exists, err := c.db.NewSelect().Model((*namespacePropertyRow)(nil)).
		Where("catalog_name = ?", c.name).
		Where("namespace = ?", ns.String()).
		Exists(ctx)
	if err != nil {
		return false, classify("load_namespace", err)
	}
	return exists, nil
}

func (c *Client) ListNamespace(ctx context.Context, ns shared.Namespace) ([]shared.TableIdentifier, error) {
	var names []string
	err := c.db.NewSelect().Model((*tableRow)(nil)).
		Column("table_name").
		Where("catalog_name = ?", c.name).
		Where("table_namespace = ?", ns.String()).
		Order("table_name").
		Scan(ctx, &names)
	if err != nil && !stderrors.Is(err, sql.ErrNoRows) {
		return nil, classify("list_tables", err)
	}

	if len(names) == 0 {
		exists, err := c.namespaceExists(ctx, ns)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, shared.NewNamespaceNotFound(kind, ns, nil)
		}
	}

	out := make([]shared.TableIdentifier, 0, len(names))
	for _, name := range names {
		out = append(out, shared.TableIdentifier{Namespace: ns, Name: name})
	}
	return out, nil
}

func (c *Client) CreateNamespace(ctx context.Context, ns shared.Namespace, props map[string]string) error {
	rows := []namespacePropertyRow{{
		CatalogName:   c.name,
		Namespace:     ns.String(),
		PropertyKey:   namespaceExistsKey,
		PropertyValue: sql.NullString{String: "true", Valid: true},
	}}
	for k, v := range props {
		if k == namespaceExistsKey {
			continue
		}
		rows = append(rows, namespacePropertyRow{
			CatalogName:   c.name,
			Namespace:     ns.String(),
			PropertyKey:   k,
			PropertyValue: sql.NullString{String: v, Valid: true},
		})
	}

	if _, err := c.db.NewInsert().Model(&rows).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return shared.NewAlreadyExists(kind, ns.String(), nil)
		}
		return classify("create_namespace", err)
	}
	return nil
}

// NamespaceProperties returns the stored properties of ns
func (c *Client) NamespaceProperties(ctx context.Context, ns shared.Namespace) (map[string]string, error) {
	var rows []namespacePropertyRow
	err := c.db.NewSelect().Model(&rows).
		Where("catalog_name = ?", c.name).
		Where("namespace = ?", ns.String()).
		Scan(ctx)
	if err != nil && !stderrors.Is(err, sql.ErrNoRows) {
		return nil, classify("load_namespace", err)
	}
	if len(rows) == 0 {
		return nil, shared.NewNamespaceNotFound(kind, ns, nil)
	}
	props := make(map[string]string, len(rows))
	for _, r := range rows {
		if r.PropertyKey != namespaceExistsKey {
			props[r.PropertyKey] = r.PropertyValue.String
		}
	}
	return props, nil
}

func (c *Client) CreateTable(ctx context.Context, id shared.TableIdentifier, doc []byte) (*shared.Document, error) {
	exists, err := c.namespaceExists(ctx, id.Namespace)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, shared.NewNamespaceNotFound(kind, id.Namespace, nil)
	}

	location, err := c.files.Write(ctx, doc, "")
	if err != nil {
		return nil, err
	}
	_, err = c.db.NewInsert().Model(&tableRow{
		CatalogName:      c.name,
		TableNamespace:   id.Namespace.String(),
		TableName:        id.Name,
		MetadataLocation: sql.NullString{String: location, Valid: true},
	}).Exec(ctx)
	if err != nil {
		c.files.Discard(ctx, location)
		if isUniqueViolation(err) {
			return nil, shared.NewAlreadyExists(kind, id.String(), nil)
		}
		return nil, classify("create_table", err)
	}
	return &shared.Document{Token: shared.Token(location), Location: location, Bytes: doc}, nil
}

// DropTable removes the pointer row; metadata and data files stay
func (c *Client) DropTable(ctx context.Context, id shared.TableIdentifier) error {
	res, err := c.db.NewDelete().Model((*tableRow)(nil)).
		Where("catalog_name = ?", c.name).
		Where("table_namespace = ?", id.Namespace.String()).
		Where("table_name = ?", id.Name).
		Exec(ctx)
	if err != nil {
		return classify("drop_table", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify("drop_table", err)
	}
	if n == 0 {
		return shared.NewTableNotFound(kind, id, nil)
	}
	return nil
}

// DefaultLocation is {warehouse}/{ns}.db/{table}
func (c *Client) DefaultLocation(id shared.TableIdentifier, _ string) string {
	return c.paths.TableLocation(id.Namespace, id.Name, "")
}

func (c *Client) Close() error {
	return c.db.Close()
}

// Package glue implements a catalog backend over the AWS Glue Data Catalog.
// A Glue database is a single-segment namespace; Iceberg tables carry their
// current metadata file in the metadata_location parameter, which is also
// the token. Updates are guarded by the Glue table VersionId.
package glue

import (
	"context"
	stderrors "errors"
	"maps"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/glue/types"
	"github.com/aws/smithy-go"
	"github.com/gear6io/ranger-catalog/pkg/errors"
	"github.com/gear6io/ranger-catalog/server/catalog/shared"
	"github.com/gear6io/ranger-catalog/server/config"
	"github.com/gear6io/ranger-catalog/server/paths"
	"github.com/rs/zerolog"
)

const kind = config.TypeGlue

// Glue table parameters
const (
	TableTypeKey                = "table_type"
	MetadataLocationKey         = "metadata_location"
	PreviousMetadataLocationKey = "previous_metadata_location"
	IcebergTableType            = "ICEBERG"
	externalTableType           = "EXTERNAL_TABLE"
)

// API is the part of the Glue client the backend uses
type API interface {
	GetDatabase(ctx context.Context, params *glue.GetDatabaseInput, optFns ...func(*glue.Options)) (*glue.GetDatabaseOutput, error)
	GetDatabases(ctx context.Context, params *glue.GetDatabasesInput, optFns ...func(*glue.Options)) (*glue.GetDatabasesOutput, error)
	CreateDatabase(ctx context.Context, params *glue.CreateDatabaseInput, optFns ...func(*glue.Options)) (*glue.CreateDatabaseOutput, error)
	GetTable(ctx context.Context, params *glue.GetTableInput, optFns ...func(*glue.Options)) (*glue.GetTableOutput, error)
	GetTables(ctx context.Context, params *glue.GetTablesInput, optFns ...func(*glue.Options)) (*glue.GetTablesOutput, error)
	CreateTable(ctx context.Context, params *glue.CreateTableInput, optFns ...func(*glue.Options)) (*glue.CreateTableOutput, error)
	UpdateTable(ctx context.Context, params *glue.UpdateTableInput, optFns ...func(*glue.Options)) (*glue.UpdateTableOutput, error)
	DeleteTable(ctx context.Context, params *glue.DeleteTableInput, optFns ...func(*glue.Options)) (*glue.DeleteTableOutput, error)
}

var _ API = (*glue.Client)(nil)

// Client is a Glue catalog backend
type Client struct {
	api       API
	catalogID *string
	files     shared.MetadataFiles
	paths     *paths.Manager
	logger    zerolog.Logger
}

var _ shared.Client = (*Client)(nil)

// Option customizes a Client
type Option func(*options)

type options struct {
	api API
}

// WithAPI replaces the AWS client, mainly for tests
func WithAPI(api API) Option {
	return func(o *options) { o.api = api }
}

// New builds a Glue client from the default AWS credential chain and checks
// that the catalog answers
func New(ctx context.Context, cfg config.CatalogConfig, deps shared.Deps, opts ...Option) (*Client, error) {
	if deps.IO == nil {
		return nil, shared.NewInternal(kind, "glue catalog needs warehouse IO", nil)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	hctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout())
	defer cancel()

	endpoint := cfg.ServerURI()
	if o.api == nil {
		loadOpts := []func(*awsconfig.LoadOptions) error{}
		if cfg.GlueRegion() != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.GlueRegion()))
		}
		if deps.HTTPClient != nil {
			loadOpts = append(loadOpts, awsconfig.WithHTTPClient(deps.HTTPClient))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(hctx, loadOpts...)
		if err != nil {
			return nil, shared.NewConnection(kind, endpoint, err)
		}
		o.api = glue.NewFromConfig(awsCfg, func(gopts *glue.Options) {
			if endpoint != "" {
				gopts.BaseEndpoint = aws.String(endpoint)
			}
		})
	}

	c := &Client{
		api:   o.api,
		files: shared.MetadataFiles{Kind: kind, IO: deps.IO},
		paths: paths.NewManager(cfg.Warehouse(), paths.LayoutDatabase),
		logger: deps.Logger.With().
			Str("component", shared.ComponentType).
			Str("backend", string(kind)).
			Logger(),
	}
	if id := cfg.GlueCatalogID(); id != "" {
		c.catalogID = aws.String(id)
	}

	if _, err := c.api.GetDatabases(hctx, &glue.GetDatabasesInput{CatalogId: c.catalogID, MaxResults: aws.Int32(1)}); err != nil {
		if isAccessDenied(err) {
			return nil, shared.NewAccessDenied(kind, "glue", err)
		}
		return nil, shared.NewConnection(kind, endpoint, err)
	}

	c.logger.Debug().Str("region", cfg.GlueRegion()).Msg("Connected to Glue")
	return c, nil
}

func (c *Client) Kind() config.CatalogType { return kind }

// database maps a namespace onto a Glue database name
func database(ns shared.Namespace) (string, error) {
	if len(ns) != 1 {
		return "", errors.New(shared.ErrInvalidIdentifier, "glue namespaces have exactly one segment", nil).
			AddContext("namespace", ns.String()).
			AddContext("backend", string(kind))
	}
	return ns[0], nil
}

func isAccessDenied(err error) bool {
	var denied *types.AccessDeniedException
	if stderrors.As(err, &denied) {
		return true
	}
	var apiErr smithy.APIError
	return stderrors.As(err, &apiErr) && (apiErr.ErrorCode() == "AccessDeniedException" || apiErr.ErrorCode() == "UnrecognizedClientException")
}

// classify maps Glue failures onto the catalog taxonomy; not-found and
// conflicts are handled by callers
func classify(op, name string, err error) error {
	if isAccessDenied(err) {
		return shared.NewAccessDenied(kind, name, err)
	}
	var internal *types.InternalServiceException
	var timeout *types.OperationTimeoutException
	if stderrors.As(err, &internal) || stderrors.As(err, &timeout) {
		return shared.NewUnavailable(kind, op, err)
	}
	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "ServiceUnavailableException", "RequestTimeout":
			return shared.NewUnavailable(kind, op, err)
		}
		return shared.NewInternal(kind, "glue request failed", err).
			AddContext("operation", op).
			AddContext("error_code", apiErr.ErrorCode())
	}
	return shared.ClassifyTransport(kind, op, err)
}

func isNotFound(err error) bool {
	var notFound *types.EntityNotFoundException
	return stderrors.As(err, &notFound)
}

func isAlreadyExists(err error) bool {
	var exists *types.AlreadyExistsException
	return stderrors.As(err, &exists)
}

func isConcurrentModification(err error) bool {
	var cm *types.ConcurrentModificationException
	return stderrors.As(err, &cm)
}

func isIceberg(t *types.Table) bool {
	return t != nil && strings.EqualFold(t.Parameters[TableTypeKey], IcebergTableType)
}

func (c *Client) table(ctx context.Context, id shared.TableIdentifier) (*types.Table, error) {
	db, err := database(id.Namespace)
	if err != nil {
		return nil, err
	}
	out, err := c.api.GetTable(ctx, &glue.GetTableInput{
		CatalogId:    c.catalogID,
		DatabaseName: aws.String(db),
		Name:         aws.String(id.Name),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, shared.NewTableNotFound(kind, id, nil)
		}
		return nil, classify("get_table", id.String(), err)
	}
	if !isIceberg(out.Table) {
		return nil, shared.NewTableNotFound(kind, id, nil).AddContext("reason", "not an iceberg table")
	}
	if out.Table.Parameters[MetadataLocationKey] == "" {
		return nil, shared.NewCorruptMetadata(kind, id, "", errors.New(shared.ErrCorruptMetadata, "glue table has no metadata location", nil))
	}
	return out.Table, nil
}

func (c *Client) CurrentToken(ctx context.Context, id shared.TableIdentifier) (shared.Token, error) {
	t, err := c.table(ctx, id)
	if err != nil {
		return "", err
	}
	return shared.Token(t.Parameters[MetadataLocationKey]), nil
}

func (c *Client) FetchMetadataDocument(ctx context.Context, id shared.TableIdentifier) (*shared.Document, error) {
	t, err := c.table(ctx, id)
	if err != nil {
		return nil, err
	}
	location := t.Parameters[MetadataLocationKey]
	data, err := c.files.Read(ctx, id, location)
	if err != nil {
		return nil, err
	}
	return &shared.Document{Token: shared.Token(location), Location: location, Bytes: data}, nil
}

// tableInput rebuilds the Glue table definition pointing at location
func tableInput(name string, existing *types.Table, location, previous string, doc []byte) *types.TableInput {
	params := map[string]string{}
	if existing != nil {
		maps.Copy(params, existing.Parameters)
	}
	params[TableTypeKey] = IcebergTableType
	params[MetadataLocationKey] = location
	if previous != "" {
		params[PreviousMetadataLocationKey] = previous
	} else {
		delete(params, PreviousMetadataLocationKey)
	}

	in := &types.TableInput{
		Name:       aws.String(name),
		TableType:  aws.String(externalTableType),
		Parameters: params,
	}
	if existing != nil {
		in.Description = existing.Description
		in.Owner = existing.Owner
	}
	if root, _, err := shared.DocumentLocation(doc); err == nil {
		sd := &types.StorageDescriptor{}
		if existing != nil && existing.StorageDescriptor != nil {
			copied := *existing.StorageDescriptor
			sd = &copied
		}
		sd.Location = aws.String(root)
		in.StorageDescriptor = sd
	}
	return in
}

// ConditionalUpdate refuses when the live pointer is not base, otherwise
// writes the next metadata file and updates the table at the VersionId it
// read. Glue rejects a stale VersionId with ConcurrentModificationException.
func (c *Client) ConditionalUpdate(ctx context.Context, id shared.TableIdentifier, base shared.Token, doc []byte) (shared.UpdateResult, error) {
	t, err := c.table(ctx, id)
	if err != nil {
		return shared.UpdateResult{}, err
	}
	live := t.Parameters[MetadataLocationKey]
	if live != string(base) {
		return shared.UpdateResult{Accepted: false, Current: shared.Token(live)}, nil
	}

	location, err := c.files.Write(ctx, doc, live)
	if err != nil {
		return shared.UpdateResult{}, err
	}

	db, _ := database(id.Namespace)
	_, err = c.api.UpdateTable(ctx, &glue.UpdateTableInput{
		CatalogId:    c.catalogID,
		DatabaseName: aws.String(db),
		TableInput:   tableInput(id.Name, t, location, live, doc),
		VersionId:    t.VersionId,
		SkipArchive:  aws.Bool(true),
	})
	if err != nil {
		if isConcurrentModification(err) {
			c.files.Discard(ctx, location)
			c.logger.Debug().Str("table", id.String()).Str("base", string(base)).Msg("Glue version moved, update rejected")
			current, err := c.CurrentToken(ctx, id)
			if err != nil {
				return shared.UpdateResult{}, err
			}
			return shared.UpdateResult{Accepted: false, Current: current}, nil
		}
		if isNotFound(err) {
			c.files.Discard(ctx, location)
			return shared.UpdateResult{}, shared.NewTableNotFound(kind, id, nil)
		}
		err = classify("update_table", id.String(), err)
		if !shared.IsUnavailable(err) {
			c.files.Discard(ctx, location)
		}
		return shared.UpdateResult{}, err
	}
	return shared.UpdateResult{Accepted: true, Current: shared.Token(location), Location: location}, nil
}

func (c *Client) ListNamespace(ctx context.Context, ns shared.Namespace) ([]shared.TableIdentifier, error) {
	db, err := database(ns)
	if err != nil {
		return nil, err
	}
	var out []shared.TableIdentifier
	var next *string
	for {
		page, err := c.api.GetTables(ctx, &glue.GetTablesInput{
			CatalogId:    c.catalogID,
			DatabaseName: aws.String(db),
			NextToken:    next,
		})
		if err != nil {
			if isNotFound(err) {
				return nil, shared.NewNamespaceNotFound(kind, ns, nil)
			}
			return nil, classify("get_tables", ns.String(), err)
		}
		for i := range page.TableList {
			t := &page.TableList[i]
			if isIceberg(t) && t.Name != nil {
				out = append(out, shared.TableIdentifier{Namespace: ns, Name: *t.Name})
			}
		}
		if page.NextToken == nil || *page.NextToken == "" {
			break
		}
		next = page.NextToken
	}
	return out, nil
}

func (c *Client) CreateNamespace(ctx context.Context, ns shared.Namespace, props map[string]string) error {
	db, err := database(ns)
	if err != nil {
		return err
	}
	in := &types.DatabaseInput{Name: aws.String(db), Parameters: maps.Clone(props)}
	if loc := props["location"]; loc != "" {
		in.LocationUri = aws.String(loc)
	}
	if _, err := c.api.CreateDatabase(ctx, &glue.CreateDatabaseInput{CatalogId: c.catalogID, DatabaseInput: in}); err != nil {
		if isAlreadyExists(err) {
			return shared.NewAlreadyExists(kind, ns.String(), nil)
		}
		return classify("create_database", ns.String(), err)
	}
	return nil
}

func (c *Client) CreateTable(ctx context.Context, id shared.TableIdentifier, doc []byte) (*shared.Document, error) {
	db, err := database(id.Namespace)
	if err != nil {
		return nil, err
	}
	if _, err := c.api.GetDatabase(ctx, &glue.GetDatabaseInput{CatalogId: c.catalogID, Name: aws.String(db)}); err != nil {
		if isNotFound(err) {
			return nil, shared.NewNamespaceNotFound(kind, id.Namespace, nil)
		}
		return nil, classify("get_database", id.Namespace.String(), err)
	}

	location, err := c.files.Write(ctx, doc, "")
	if err != nil {
		return nil, err
	}
	_, err = c.api.CreateTable(ctx, &glue.CreateTableInput{
		CatalogId:    c.catalogID,
		DatabaseName: aws.String(db),
		TableInput:   tableInput(id.Name, nil, location, "", doc),
	})
	if err != nil {
		c.files.Discard(ctx, location)
		if isAlreadyExists(err) {
			return nil, shared.NewAlreadyExists(kind, id.String(), nil)
		}
		return nil, classify("create_table", id.String(), err)
	}
	return &shared.Document{Token: shared.Token(location), Location: location, Bytes: doc}, nil
}

// DropTable removes the Glue table; metadata and data files stay
func (c *Client) DropTable(ctx context.Context, id shared.TableIdentifier) error {
	if _, err := c.table(ctx, id); err != nil {
		return err
	}
	db, _ := database(id.Namespace)
	_, err := c.api.DeleteTable(ctx, &glue.DeleteTableInput{
		CatalogId:    c.catalogID,
		DatabaseName: aws.String(db),
		Name:         aws.String(id.Name),
	})
	if err != nil {
		if isNotFound(err) {
			return shared.NewTableNotFound(kind, id, nil)
		}
		return classify("delete_table", id.String(), err)
	}
	return nil
}

// DefaultLocation is {warehouse}/{ns}.db/{table}
func (c *Client) DefaultLocation(id shared.TableIdentifier, _ string) string {
	return c.paths.TableLocation(id.Namespace, id.Name, "")
}

func (c *Client) Close() error { return nil }

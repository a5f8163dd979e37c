// Package catalog selects and caches catalog backend clients and is the
// surface a query engine uses to resolve tables and propose new metadata.
package catalog

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/gear6io/ranger-catalog/pkg/errors"
	"github.com/gear6io/ranger-catalog/server/catalog/filesystem"
	"github.com/gear6io/ranger-catalog/server/catalog/glue"
	"github.com/gear6io/ranger-catalog/server/catalog/hive"
	"github.com/gear6io/ranger-catalog/server/catalog/nessie"
	"github.com/gear6io/ranger-catalog/server/catalog/rest"
	"github.com/gear6io/ranger-catalog/server/catalog/shared"
	"github.com/gear6io/ranger-catalog/server/commit"
	"github.com/gear6io/ranger-catalog/server/config"
	"github.com/gear6io/ranger-catalog/server/metadata"
	"github.com/gear6io/ranger-catalog/server/metadata/manifest"
	"github.com/gear6io/ranger-catalog/server/metrics"
	"github.com/gear6io/ranger-catalog/server/storage"
	fsstorage "github.com/gear6io/ranger-catalog/server/storage/filesystem"
	"github.com/gear6io/ranger-catalog/server/storage/minio"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Builder constructs the backend client of one catalog type
type Builder func(ctx context.Context, cfg config.CatalogConfig, deps shared.Deps) (shared.Client, error)

// DefaultBuilders maps every supported catalog type to its backend
func DefaultBuilders() map[config.CatalogType]Builder {
	return map[config.CatalogType]Builder{
		config.TypeNessie: func(ctx context.Context, cfg config.CatalogConfig, deps shared.Deps) (shared.Client, error) {
			return nessie.New(ctx, cfg, deps)
		},
		config.TypeHive: func(ctx context.Context, cfg config.CatalogConfig, deps shared.Deps) (shared.Client, error) {
			return hive.New(ctx, cfg, deps)
		},
		config.TypeGlue: func(ctx context.Context, cfg config.CatalogConfig, deps shared.Deps) (shared.Client, error) {
			return glue.New(ctx, cfg, deps)
		},
		config.TypeREST: func(ctx context.Context, cfg config.CatalogConfig, deps shared.Deps) (shared.Client, error) {
			return rest.New(ctx, cfg, deps)
		},
		config.TypeFilesystem: func(ctx context.Context, cfg config.CatalogConfig, deps shared.Deps) (shared.Client, error) {
			return filesystem.New(ctx, cfg, deps)
		},
	}
}

// StorageOpener builds the file IO used for the warehouse of cfg
type StorageOpener func(ctx context.Context, cfg config.CatalogConfig, logger zerolog.Logger) (storage.FileIO, error)

// OpenStorage routes local paths to the filesystem and s3:// locations to an
// S3 compatible object store. The warehouse bucket is created if missing.
func OpenStorage(ctx context.Context, cfg config.CatalogConfig, logger zerolog.Logger) (storage.FileIO, error) {
	router := &storage.Router{Local: fsstorage.NewFileStorage()}

	warehouse := cfg.Warehouse()
	objectWarehouse := strings.HasPrefix(warehouse, "s3://") || strings.HasPrefix(warehouse, "s3a://")
	if !objectWarehouse && cfg.S3Endpoint() == "" {
		return router, nil
	}

	s3, err := minio.NewS3FileSystem(minio.Options{
		Endpoint:  cfg.S3Endpoint(),
		Region:    cfg.S3Region(),
		AccessKey: cfg.S3AccessKey(),
		SecretKey: cfg.S3SecretKey(),
		UseSSL:    cfg.S3UseSSL(),
	}, logger)
	if err != nil {
		return nil, err
	}
	if objectWarehouse {
		if err := s3.EnsureBucket(ctx, warehouse); err != nil {
			return nil, err
		}
	}
	router.Object = s3
	return router, nil
}

// entry is one cached backend together with what was built for it
type entry struct {
	client      shared.Client
	io          storage.FileIO
	resolver    *metadata.Resolver
	coordinator *commit.Coordinator
}

// Factory owns the backend clients of a process, one per distinct
// configuration. It is safe for concurrent use.
type Factory struct {
	builders    map[config.CatalogType]Builder
	openStorage StorageOpener
	httpClient  *http.Client
	logger      zerolog.Logger
	metrics     *metrics.Metrics
	resolver    *metadata.Resolver

	// mu is held across lookup and construction
	mu      sync.Mutex
	clients map[config.CatalogConfig]*entry
	closed  bool
}

// Option configures a Factory
type Option func(*Factory)

// WithLogger sets the logger handed to backends
func WithLogger(logger zerolog.Logger) Option {
	return func(f *Factory) { f.logger = logger }
}

// WithMetrics sets where resolves, commits and cache size are recorded
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Factory) { f.metrics = m }
}

// WithBuilder registers or replaces the backend of one catalog type
func WithBuilder(t config.CatalogType, b Builder) Option {
	return func(f *Factory) { f.builders[t] = b }
}

// WithStorageOpener replaces how warehouse IO is built
func WithStorageOpener(o StorageOpener) Option {
	return func(f *Factory) { f.openStorage = o }
}

// WithHTTPClient sets the client HTTP backends use
func WithHTTPClient(c *http.Client) Option {
	return func(f *Factory) { f.httpClient = c }
}

// NewFactory creates an empty factory
func NewFactory(opts ...Option) *Factory {
	f := &Factory{
		builders:    DefaultBuilders(),
		openStorage: OpenStorage,
		logger:      zerolog.Nop(),
		clients:     make(map[config.CatalogConfig]*entry),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.resolver = metadata.NewResolver(metadata.WithLogger(f.logger), metadata.WithMetrics(f.metrics))
	return f
}

// GetClient returns the cached client of cfg or constructs one. Concurrent
// first use constructs a single client; failed constructions are not cached.
func (f *Factory) GetClient(ctx context.Context, cfg config.CatalogConfig) (shared.Client, error) {
	e, err := f.entry(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return e.client, nil
}

func (f *Factory) entry(ctx context.Context, cfg config.CatalogConfig) (*entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, errors.New(ErrFactoryClosed, "catalog factory is closed", nil)
	}
	if e, ok := f.clients[cfg]; ok {
		return e, nil
	}

	build, ok := f.builders[cfg.Type()]
	if !ok {
		return nil, errors.New(ErrUnsupportedCatalogType, "unsupported catalog type", nil).AddContext("catalog_type", string(cfg.Type()))
	}

	fio, err := f.openStorage(ctx, cfg, f.logger)
	if err != nil {
		f.metrics.ObserveConstruction(string(cfg.Type()), metrics.ResultError)
		return nil, shared.NewConnection(cfg.Type(), cfg.Warehouse(), err)
	}

	client, err := build(ctx, cfg, shared.Deps{Logger: f.logger, IO: fio, HTTPClient: f.httpClient})
	if err != nil {
		f.metrics.ObserveConstruction(string(cfg.Type()), metrics.ResultError)
		f.logger.Warn().Err(err).Str("backend", string(cfg.Type())).Msg("Failed to construct catalog client")
		return nil, err
	}

	resolver := metadata.NewResolver(
		metadata.WithLogger(f.logger),
		metadata.WithMetrics(f.metrics),
		metadata.WithReadTimeout(cfg.ReadTimeout()),
	)
	e := &entry{
		client:   client,
		io:       fio,
		resolver: resolver,
		coordinator: commit.NewCoordinator(resolver, commit.OptionsFromConfig(cfg),
			commit.WithLogger(f.logger),
			commit.WithMetrics(f.metrics),
		),
	}
	f.clients[cfg] = e
	f.metrics.ObserveConstruction(string(cfg.Type()), metrics.ResultOK)
	f.metrics.SetCachedClients(len(f.clients))
	f.logger.Info().Str("backend", string(cfg.Type())).Str("config", cfg.String()).Msg("Constructed catalog client")
	return e, nil
}

// ResolveTable loads the current metadata of id through client
func (f *Factory) ResolveTable(ctx context.Context, client shared.Client, id shared.TableIdentifier) (*metadata.TableMetadata, error) {
	return f.resolver.Load(ctx, client, id)
}

// Invalidate drops and closes the client of cfg. Invalidating a config
// without a cached client does nothing.
func (f *Factory) Invalidate(cfg config.CatalogConfig) error {
	f.mu.Lock()
	e, ok := f.clients[cfg]
	delete(f.clients, cfg)
	n := len(f.clients)
	f.mu.Unlock()

	if !ok {
		return nil
	}
	f.metrics.SetCachedClients(n)
	f.logger.Debug().Str("backend", string(cfg.Type())).Msg("Invalidated catalog client")
	return e.client.Close()
}

// Close invalidates every cached client; later calls fail
func (f *Factory) Close() error {
	f.mu.Lock()
	clients := f.clients
	f.clients = make(map[config.CatalogConfig]*entry)
	f.closed = true
	f.mu.Unlock()

	f.metrics.SetCachedClients(0)
	var firstErr error
	for cfg, e := range clients {
		if err := e.client.Close(); err != nil && firstErr == nil {
			firstErr = err
			f.logger.Warn().Err(err).Str("backend", string(cfg.Type())).Msg("Failed to close catalog client")
		}
	}
	return firstErr
}

// Resolve returns the current metadata of id in the catalog cfg describes
func (f *Factory) Resolve(ctx context.Context, cfg config.CatalogConfig, id shared.TableIdentifier) (*metadata.TableMetadata, error) {
	e, err := f.entry(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return e.resolver.Load(ctx, e.client, id)
}

// Propose commits proposed if the table is still at base, rebasing onto
// concurrent commits within the retry budget. proposed must have been built
// from the metadata read at base.
func (f *Factory) Propose(ctx context.Context, cfg config.CatalogConfig, id shared.TableIdentifier, base shared.Token, proposed *metadata.TableMetadata) (*metadata.TableMetadata, error) {
	if proposed == nil {
		return nil, errors.New(shared.ErrInternal, "nothing to propose", nil).AddContext("table", id.String())
	}
	e, err := f.entry(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res, err := e.coordinator.Commit(ctx, e.client, commit.Request{
		Identifier: id,
		Base:       proposed.WithToken(base),
		Proposed:   proposed.WithToken(base),
	})
	if err != nil {
		return nil, err
	}
	return res.Metadata, nil
}

// Commit is Propose with the full commit result
func (f *Factory) Commit(ctx context.Context, cfg config.CatalogConfig, req commit.Request) (*commit.Result, error) {
	e, err := f.entry(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return e.coordinator.Commit(ctx, e.client, req)
}

// CreateNamespace creates ns with props
func (f *Factory) CreateNamespace(ctx context.Context, cfg config.CatalogConfig, ns shared.Namespace, props map[string]string) error {
	if err := ns.Validate(); err != nil {
		return err
	}
	client, err := f.GetClient(ctx, cfg)
	if err != nil {
		return err
	}
	return client.CreateNamespace(ctx, ns, props)
}

// CreateTable registers an empty table with a fresh table uuid at the
// backend's default location and returns its metadata as committed. Backends
// without a default location let the catalog assign one.
func (f *Factory) CreateTable(ctx context.Context, cfg config.CatalogConfig, id shared.TableIdentifier, schema metadata.Schema, spec metadata.PartitionSpec, props map[string]string) (*metadata.TableMetadata, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	e, err := f.entry(ctx, cfg)
	if err != nil {
		return nil, err
	}

	tableUUID := uuid.NewString()
	md, err := metadata.NewTable(tableUUID, e.client.DefaultLocation(id, tableUUID), schema, spec, props)
	if err != nil {
		return nil, err
	}
	data, err := md.Serialize()
	if err != nil {
		return nil, err
	}
	if _, err := e.client.CreateTable(ctx, id, data); err != nil {
		return nil, err
	}
	f.logger.Info().Str("backend", string(cfg.Type())).Str("table", id.String()).Msg("Created table")
	return e.resolver.Load(ctx, e.client, id)
}

// ListTables lists the tables directly inside ns
func (f *Factory) ListTables(ctx context.Context, cfg config.CatalogConfig, ns shared.Namespace) ([]shared.TableIdentifier, error) {
	client, err := f.GetClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return client.ListNamespace(ctx, ns)
}

// DropTable removes id from the catalog; data and metadata files stay
func (f *Factory) DropTable(ctx context.Context, cfg config.CatalogConfig, id shared.TableIdentifier) error {
	client, err := f.GetClient(ctx, cfg)
	if err != nil {
		return err
	}
	return client.DropTable(ctx, id)
}

// DataDirectory is where new data files of id are written
func (f *Factory) DataDirectory(ctx context.Context, cfg config.CatalogConfig, id shared.TableIdentifier) (string, error) {
	md, err := f.Resolve(ctx, cfg, id)
	if err != nil {
		return "", err
	}
	return metadata.DataDirectory(md), nil
}

// Manifests reads the manifest list of the current snapshot of id
func (f *Factory) Manifests(ctx context.Context, cfg config.CatalogConfig, id shared.TableIdentifier) ([]manifest.File, error) {
	e, err := f.entry(ctx, cfg)
	if err != nil {
		return nil, err
	}
	md, err := e.resolver.Load(ctx, e.client, id)
	if err != nil {
		return nil, err
	}
	return e.resolver.Manifests(ctx, e.io, md)
}

// Storage returns the warehouse IO of cfg
func (f *Factory) Storage(ctx context.Context, cfg config.CatalogConfig) (storage.FileIO, error) {
	e, err := f.entry(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return e.io, nil
}

package metadata

import (
	"bytes"
	"context"
	"time"

	"github.com/gear6io/ranger-catalog/server/catalog/shared"
	"github.com/gear6io/ranger-catalog/server/metadata/manifest"
	"github.com/gear6io/ranger-catalog/server/metrics"
	"github.com/gear6io/ranger-catalog/server/storage"
	"github.com/rs/zerolog"
)

// Resolver loads table metadata through a catalog backend
type Resolver struct {
	logger      zerolog.Logger
	metrics     *metrics.Metrics
	readTimeout time.Duration
}

// ResolverOption configures a Resolver
type ResolverOption func(*Resolver)

// WithLogger sets the resolver logger
func WithLogger(logger zerolog.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = logger.With().Str("component", "resolver").Logger() }
}

// WithMetrics sets the metrics the resolver records into
func WithMetrics(m *metrics.Metrics) ResolverOption {
	return func(r *Resolver) { r.metrics = m }
}

// WithReadTimeout bounds each load
func WithReadTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) { r.readTimeout = d }
}

// NewResolver creates a resolver
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load fetches, parses and validates the current metadata of a table and
// attaches the token it was read at. Missing tables surface as TableNotFound,
// unreadable documents as CorruptMetadata, transient failures as unavailable.
func (r *Resolver) Load(ctx context.Context, client shared.Client, id shared.TableIdentifier) (*TableMetadata, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	if r.readTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.readTimeout)
		defer cancel()
	}

	kind := client.Kind()
	start := time.Now()
	md, result, err := r.load(ctx, client, id)
	r.metrics.ObserveResolve(string(kind), result, time.Since(start).Seconds())

	if err != nil {
		r.logger.Debug().
			Err(err).
			Str("backend", string(kind)).
			Str("table", id.String()).
			Str("result", result).
			Msg("Failed to resolve table metadata")
		return nil, err
	}

	r.logger.Debug().
		Str("backend", string(kind)).
		Str("table", id.String()).
		Str("token", string(md.Token())).
		Msg("Resolved table metadata")
	return md, nil
}

func (r *Resolver) load(ctx context.Context, client shared.Client, id shared.TableIdentifier) (*TableMetadata, string, error) {
	kind := client.Kind()

	doc, err := client.FetchMetadataDocument(ctx, id)
	if err != nil {
		switch {
		case shared.IsNotFound(err):
			return nil, metrics.ResultNotFound, err
		case shared.IsCorrupt(err):
			return nil, metrics.ResultCorrupt, err
		case shared.IsAccessDenied(err), shared.IsUnavailable(err):
			return nil, metrics.ResultUnavailable, err
		default:
			return nil, metrics.ResultError, shared.ClassifyTransport(kind, "load_table", err)
		}
	}

	md, err := Parse(doc.Bytes)
	if err != nil {
		return nil, metrics.ResultCorrupt, shared.NewCorruptMetadata(kind, id, doc.Location, err)
	}
	if err := Validate(md); err != nil {
		return nil, metrics.ResultCorrupt, shared.NewCorruptMetadata(kind, id, doc.Location, err)
	}
	return md.WithToken(doc.Token).WithMetadataLocation(doc.Location), metrics.ResultOK, nil
}

// DataDirectory is where new data files of the table go: the
// write.data.path property, else write.object-storage.path, else
// {location}/data. It does not depend on the snapshot.
func DataDirectory(md *TableMetadata) string {
	return md.DataDirectory()
}

// Manifests reads the manifest list of the current snapshot. A table
// without snapshots has no manifests.
func (r *Resolver) Manifests(ctx context.Context, fio storage.FileIO, md *TableMetadata) ([]manifest.File, error) {
	snap := md.CurrentSnapshot()
	if snap == nil || snap.ManifestList == "" {
		return nil, nil
	}
	data, err := fio.Read(ctx, snap.ManifestList)
	if err != nil {
		return nil, err
	}
	list, err := manifest.Read(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return list.Files, nil
}

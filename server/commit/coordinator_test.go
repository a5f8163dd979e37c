package commit

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gear6io/ranger-catalog/pkg/errors"
	"github.com/gear6io/ranger-catalog/server/catalog/catalogtest"
	"github.com/gear6io/ranger-catalog/server/catalog/shared"
	"github.com/gear6io/ranger-catalog/server/config"
	"github.com/gear6io/ranger-catalog/server/metadata"
	"github.com/gear6io/ranger-catalog/server/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type fixture struct {
	client   *catalogtest.Client
	resolver *metadata.Resolver
	metrics  *metrics.Metrics
	coord    *Coordinator
	id       shared.TableIdentifier
}

func newFixture(t *testing.T, attempts int) *fixture {
	t.Helper()
	id, err := shared.NewIdentifier([]string{"tpch"}, "orders")
	require.NoError(t, err)

	client := catalogtest.New(config.TypeNessie, "/wh")
	md, err := metadata.NewTable("", "/wh/tpch/orders", metadata.Schema{Fields: []metadata.Field{
		metadata.NewField(1, "o_orderkey", "long", true),
	}}, metadata.PartitionSpec{}, nil)
	require.NoError(t, err)
	doc, err := md.Serialize()
	require.NoError(t, err)
	client.Put(id, doc)

	m := metrics.New(nil)
	resolver := metadata.NewResolver(metadata.WithMetrics(m))
	coord := NewCoordinator(resolver, Options{RetryAttempts: attempts, Timeout: time.Second}, WithMetrics(m))
	coord.sleep = func(context.Context, time.Duration) error { return nil }

	return &fixture{client: client, resolver: resolver, metrics: m, coord: coord, id: id}
}

func (f *fixture) load(t *testing.T) *metadata.TableMetadata {
	t.Helper()
	md, err := f.resolver.Load(context.Background(), f.client, f.id)
	require.NoError(t, err)
	return md
}

func (f *fixture) appendRequest(t *testing.T, base *metadata.TableMetadata, manifestList string) Request {
	t.Helper()
	proposed, err := base.Builder().AppendSnapshot(metadata.Snapshot{ManifestList: manifestList}).Build()
	require.NoError(t, err)
	return Request{Identifier: f.id, Base: base, Proposed: proposed}
}

// bump commits an unrelated property change behind the coordinator's back
func (f *fixture) bump(t *testing.T, key string) {
	t.Helper()
	live := f.load(t)
	next, err := live.Builder().SetProperties(map[string]string{key: "x"}).Build()
	require.NoError(t, err)
	doc, err := next.Serialize()
	require.NoError(t, err)
	f.client.Put(f.id, doc)
}

func TestCommit(t *testing.T) {
	f := newFixture(t, 4)
	v1 := f.load(t)

	res, err := f.coord.Commit(context.Background(), f.client, f.appendRequest(t, v1, "/wh/m1.avro"))
	require.NoError(t, err)

	assert.Equal(t, StateCommitted, res.State)
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, res.Conflicts)
	assert.NotEmpty(t, res.CommitID)
	assert.NotEqual(t, v1.Token(), res.Metadata.Token())
	require.NotNil(t, res.Metadata.CurrentSnapshot())
	assert.Equal(t, "/wh/m1.avro", res.Metadata.CurrentSnapshot().ManifestList)

	assert.Equal(t, res.Metadata.Token(), f.load(t).Token())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CommitsTotal.WithLabelValues("nessie", metrics.OutcomeCommitted)))
}

func TestCommitTwoWritersSameBase(t *testing.T) {
	f := newFixture(t, 4)
	ctx := context.Background()
	v1 := f.load(t)

	first, err := f.coord.Commit(ctx, f.client, f.appendRequest(t, v1, "/wh/a.avro"))
	require.NoError(t, err)
	second, err := f.coord.Commit(ctx, f.client, f.appendRequest(t, v1, "/wh/b.avro"))
	require.NoError(t, err)

	assert.Empty(t, first.Conflicts)
	require.Len(t, second.Conflicts, 1)
	assert.True(t, shared.IsConflict(second.Conflicts[0]))
	assert.Equal(t, 2, second.Attempts)

	v3 := f.load(t)
	snaps := v3.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, "/wh/a.avro", snaps[0].ManifestList)
	assert.Equal(t, "/wh/b.avro", snaps[1].ManifestList)
	parent, ok := snaps[1].ParentID()
	require.True(t, ok)
	assert.Equal(t, snaps[0].SnapshotID, parent)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CommitConflicts.WithLabelValues("nessie")))
}

func TestCommitConcurrentWriters(t *testing.T) {
	f := newFixture(t, 10)
	v1 := f.load(t)

	const writers = 5
	var conflicts atomic.Int64
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < writers; i++ {
		req := f.appendRequest(t, v1, "/wh/w"+string(rune('a'+i))+".avro")
		g.Go(func() error {
			res, err := f.coord.Commit(ctx, f.client, req)
			if err != nil {
				return err
			}
			conflicts.Add(int64(len(res.Conflicts)))
			return nil
		})
	}
	require.NoError(t, g.Wait())

	md := f.load(t)
	snaps := md.Snapshots()
	require.Len(t, snaps, writers)
	for i := 1; i < len(snaps); i++ {
		parent, ok := snaps[i].ParentID()
		require.True(t, ok)
		assert.Equal(t, snaps[i-1].SnapshotID, parent)
		assert.Equal(t, int64(i+1), snaps[i].SequenceNumber)
	}
	assert.GreaterOrEqual(t, conflicts.Load(), int64(0))
}

func TestCommitTimeoutAfterApply(t *testing.T) {
	f := newFixture(t, 4)
	f.client.UpdateHook = func(n int, _ shared.TableIdentifier, _ shared.Token) catalogtest.UpdateFault {
		if n == 1 {
			return catalogtest.UpdateFault{Err: context.DeadlineExceeded}
		}
		return catalogtest.UpdateFault{}
	}

	res, err := f.coord.Commit(context.Background(), f.client, f.appendRequest(t, f.load(t), "/wh/m1.avro"))
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, res.State)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, f.client.Updates())
	assert.Len(t, f.load(t).Snapshots(), 1)
}

func TestCommitTimeoutBeforeApply(t *testing.T) {
	f := newFixture(t, 4)
	f.client.UpdateHook = func(n int, _ shared.TableIdentifier, _ shared.Token) catalogtest.UpdateFault {
		if n == 1 {
			return catalogtest.UpdateFault{Skip: true, Err: context.DeadlineExceeded}
		}
		return catalogtest.UpdateFault{}
	}

	res, err := f.coord.Commit(context.Background(), f.client, f.appendRequest(t, f.load(t), "/wh/m1.avro"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Empty(t, res.Conflicts)
	assert.Len(t, f.load(t).Snapshots(), 1)
}

func TestCommitTimeoutExhaustsBudget(t *testing.T) {
	f := newFixture(t, 2)
	f.client.UpdateHook = func(int, shared.TableIdentifier, shared.Token) catalogtest.UpdateFault {
		return catalogtest.UpdateFault{Skip: true, Err: context.DeadlineExceeded}
	}

	res, err := f.coord.Commit(context.Background(), f.client, f.appendRequest(t, f.load(t), "/wh/m1.avro"))
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, shared.IsCommitFailed(err))
	assert.True(t, shared.IsUnavailable(err))
	assert.True(t, errors.HasCode(err, errors.CommonTimeout))

	var failed *FailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, 2, failed.Attempts)
	assert.Empty(t, failed.Conflicts)
	assert.Empty(t, f.load(t).Snapshots())
}

func TestCommitBudgetExhausted(t *testing.T) {
	f := newFixture(t, 3)
	v1 := f.load(t)
	req := f.appendRequest(t, v1, "/wh/m1.avro")

	f.client.UpdateHook = func(n int, _ shared.TableIdentifier, _ shared.Token) catalogtest.UpdateFault {
		f.bump(t, "competitor")
		return catalogtest.UpdateFault{}
	}

	res, err := f.coord.Commit(context.Background(), f.client, req)
	require.Error(t, err)
	assert.Nil(t, res)

	var failed *FailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, 3, failed.Attempts)
	assert.Len(t, failed.Conflicts, 3)
	require.NotNil(t, failed.Last)
	assert.NotEqual(t, v1.Token(), failed.Last.Token())
	assert.True(t, shared.IsCommitFailed(err))
	assert.True(t, shared.IsConflict(err))

	assert.Empty(t, f.load(t).Snapshots())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CommitsTotal.WithLabelValues("nessie", metrics.OutcomeFailed)))
}

func TestCommitNotRebasable(t *testing.T) {
	f := newFixture(t, 4)
	ctx := context.Background()
	v1 := f.load(t)

	evolve := func(name string) Request {
		proposed, err := v1.Builder().AddSchema([]metadata.Field{
			metadata.NewField(1, "o_orderkey", "long", true),
			metadata.NewField(2, name, "string", false),
		}).Build()
		require.NoError(t, err)
		return Request{Identifier: f.id, Base: v1, Proposed: proposed}
	}

	_, err := f.coord.Commit(ctx, f.client, evolve("o_comment"))
	require.NoError(t, err)

	_, err = f.coord.Commit(ctx, f.client, evolve("o_status"))
	require.Error(t, err)
	assert.True(t, shared.IsCommitFailed(err))
	assert.True(t, metadata.IsNotRebasable(err))

	var failed *FailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, 1, failed.Attempts)
}

func TestCommitBackendError(t *testing.T) {
	f := newFixture(t, 4)
	f.client.UpdateHook = func(int, shared.TableIdentifier, shared.Token) catalogtest.UpdateFault {
		return catalogtest.UpdateFault{Skip: true, Err: shared.NewAccessDenied(config.TypeNessie, "tpch.orders", nil)}
	}

	_, err := f.coord.Commit(context.Background(), f.client, f.appendRequest(t, f.load(t), "/wh/m1.avro"))
	require.Error(t, err)
	assert.True(t, shared.IsCommitFailed(err))
	assert.True(t, shared.IsAccessDenied(err))
	assert.Equal(t, 1, f.client.Updates())
}

func TestCommitMissingTable(t *testing.T) {
	f := newFixture(t, 4)
	v1 := f.load(t)
	require.NoError(t, f.client.DropTable(context.Background(), f.id))

	_, err := f.coord.Commit(context.Background(), f.client, f.appendRequest(t, v1, "/wh/m1.avro"))
	require.Error(t, err)
	assert.True(t, shared.IsTableNotFound(err))
}

func TestCommitInvalidRequest(t *testing.T) {
	f := newFixture(t, 4)
	_, err := f.coord.Commit(context.Background(), f.client, Request{Identifier: f.id})
	require.Error(t, err)
	assert.True(t, shared.IsCommitFailed(err))
}

func TestOptionsFromConfig(t *testing.T) {
	cfg, err := config.NewCatalogConfig(map[string]string{
		config.KeyType:          "filesystem",
		config.KeyWarehouse:     t.TempDir(),
		config.KeyCommitRetries: "5",
		config.KeyCommitTimeout: "3s",
	})
	require.NoError(t, err)

	opts := OptionsFromConfig(cfg)
	assert.Equal(t, 5, opts.RetryAttempts)
	assert.Equal(t, 3*time.Second, opts.Timeout)
	assert.Positive(t, opts.MaxWait)
}

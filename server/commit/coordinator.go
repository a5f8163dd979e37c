// Package commit applies proposed table metadata to a catalog backend with
// optimistic concurrency: conditional update, rebase on conflict, bounded
// retry with randomized backoff.
package commit

import (
	"context"
	stderrors "errors"
	"strconv"
	"time"

	"github.com/gear6io/ranger-catalog/pkg/errors"
	"github.com/gear6io/ranger-catalog/server/catalog/shared"
	"github.com/gear6io/ranger-catalog/server/config"
	"github.com/gear6io/ranger-catalog/server/metadata"
	"github.com/gear6io/ranger-catalog/server/metrics"
	"github.com/gear6io/ranger-catalog/utils"
	"github.com/rs/zerolog"
)

// State of a commit
type State string

const (
	StatePrepared   State = "PREPARED"
	StateSubmitted  State = "SUBMITTED"
	StateCommitted  State = "COMMITTED"
	StateConflicted State = "CONFLICTED"
	StateFailed     State = "FAILED"
)

// Request is one proposed change. Proposed must have been built from Base.
type Request struct {
	Identifier shared.TableIdentifier
	Base       *metadata.TableMetadata
	Proposed   *metadata.TableMetadata
}

// Result describes a successful commit
type Result struct {
	CommitID string
	// Metadata is the committed metadata carrying the new token
	Metadata *metadata.TableMetadata
	State    State
	Attempts int
	// Conflicts holds one CommitConflict error per lost race
	Conflicts []error
}

// FailedError is returned when a commit could not be applied. Last is the
// most recent live metadata seen, nil if none could be read.
type FailedError struct {
	Err       *errors.Error
	Last      *metadata.TableMetadata
	Attempts  int
	Conflicts []error
}

func (e *FailedError) Error() string { return e.Err.Error() }
func (e *FailedError) Unwrap() error { return e.Err }

// Options bound the retry loop
type Options struct {
	RetryAttempts int
	Timeout       time.Duration
	MinWait       time.Duration
	MaxWait       time.Duration
}

// OptionsFromConfig reads the commit settings of a catalog configuration
func OptionsFromConfig(cfg config.CatalogConfig) Options {
	return Options{
		RetryAttempts: cfg.CommitRetryAttempts(),
		Timeout:       cfg.CommitTimeout(),
		MinWait:       cfg.CommitMinWait(),
		MaxWait:       cfg.CommitMaxWait(),
	}
}

// Coordinator runs commits. It is safe for concurrent use.
type Coordinator struct {
	resolver *metadata.Resolver
	opts     Options
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option configures a Coordinator
type Option func(*Coordinator)

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger.With().Str("component", "commit").Logger() }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// NewCoordinator creates a coordinator that reloads live metadata through resolver
func NewCoordinator(resolver *metadata.Resolver, opts Options, options ...Option) *Coordinator {
	if opts.RetryAttempts < 1 {
		opts.RetryAttempts = 1
	}
	c := &Coordinator{
		resolver: resolver,
		opts:     opts,
		logger:   zerolog.Nop(),
		sleep:    sleepContext,
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// attempt carries the state of one commit across retries
type attempt struct {
	id        shared.TableIdentifier
	kind      config.CatalogType
	base      *metadata.TableMetadata
	proposed  *metadata.TableMetadata
	doc       []byte
	last      *metadata.TableMetadata
	result    *Result
	logger    zerolog.Logger
	started   time.Time
	lastCause error
}

// Commit applies req.Proposed if the table is still at req.Base. Lost races
// are rebased onto the live metadata and retried within the budget.
func (c *Coordinator) Commit(ctx context.Context, client shared.Client, req Request) (*Result, error) {
	kind := client.Kind()
	commitID := utils.GenerateULIDString()
	a := &attempt{
		id:       req.Identifier,
		kind:     kind,
		base:     req.Base,
		proposed: req.Proposed,
		last:     req.Base,
		result:   &Result{CommitID: commitID, State: StatePrepared},
		started:  time.Now(),
		logger: c.logger.With().
			Str("commit_id", commitID).
			Str("backend", string(kind)).
			Str("table", req.Identifier.String()).
			Logger(),
	}

	if req.Base == nil || req.Proposed == nil {
		return nil, c.fail(a, errors.New(shared.ErrInternal, "commit request needs base and proposed metadata", nil), "invalid commit request")
	}
	if err := a.serialize(); err != nil {
		return nil, c.fail(a, err, "cannot serialize proposed metadata")
	}

	for n := 1; n <= c.opts.RetryAttempts; n++ {
		a.result.Attempts = n
		a.result.State = StateSubmitted
		c.metrics.ObserveAttempt(string(kind))
		a.logger.Debug().
			Int("attempt", n).
			Str("base_token", string(a.base.Token())).
			Msg("Submitting conditional update")

		upd, err := c.submit(ctx, client, a)
		var live *metadata.TableMetadata
		if err != nil {
			if ctx.Err() != nil {
				return nil, c.fail(a, ctx.Err(), "commit cancelled")
			}
			if !shared.IsUnavailable(err) && !shared.IsTransport(err) {
				return nil, c.fail(a, err, "backend rejected commit")
			}

			// the update may have applied despite the error
			submitErr := err
			a.logger.Warn().Err(err).Int("attempt", n).Msg("Commit outcome unknown, re-reading table")
			live, err = c.resolver.Load(ctx, client, a.id)
			if err != nil {
				return nil, c.fail(a, err, "cannot determine commit outcome")
			}
			a.last = live
			if applied(live, a.proposed) {
				return c.committed(a, live), nil
			}
			if live.Token() == a.base.Token() {
				a.lastCause = errors.New(shared.ErrUnavailable, "conditional update did not apply", submitErr)
				if err := c.backoff(ctx, a, n); err != nil {
					return nil, c.fail(a, err, "commit cancelled")
				}
				continue
			}
			upd = shared.UpdateResult{Accepted: false, Current: live.Token()}
		}

		if upd.Accepted {
			return c.committed(a, c.reload(ctx, client, a, upd)), nil
		}

		// CONFLICTED
		a.result.State = StateConflicted
		conflict := shared.NewCommitConflict(kind, a.id, a.base.Token(), upd.Current)
		a.result.Conflicts = append(a.result.Conflicts, conflict)
		a.lastCause = conflict
		c.metrics.ObserveConflict(string(kind))
		a.logger.Info().
			Int("attempt", n).
			Str("base_token", string(a.base.Token())).
			Str("live_token", string(upd.Current)).
			Msg("Commit conflict, rebasing")

		if live == nil {
			live, err = c.resolver.Load(ctx, client, a.id)
			if err != nil {
				return nil, c.fail(a, err, "cannot reload table after conflict")
			}
			a.last = live
		}

		rebased, err := metadata.Rebase(a.proposed, live)
		if err != nil {
			return nil, c.fail(a, err, "proposed change cannot be rebased")
		}
		a.base, a.proposed = live, rebased
		if err := a.serialize(); err != nil {
			return nil, c.fail(a, err, "cannot serialize rebased metadata")
		}

		if n < c.opts.RetryAttempts {
			if err := c.backoff(ctx, a, n); err != nil {
				return nil, c.fail(a, err, "commit cancelled")
			}
		}
	}

	return nil, c.fail(a, a.lastCause, "commit retry budget exhausted")
}

func (a *attempt) serialize() error {
	doc, err := a.proposed.Serialize()
	if err != nil {
		return err
	}
	a.doc = doc
	return nil
}

// submit sends one conditional update bounded by the commit timeout. A
// deadline hit while the caller's context is still live is reported as
// common.timeout.
func (c *Coordinator) submit(ctx context.Context, client shared.Client, a *attempt) (shared.UpdateResult, error) {
	parent := ctx
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}
	upd, err := client.ConditionalUpdate(ctx, a.id, a.base.Token(), a.doc)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
			err = errors.New(errors.CommonTimeout, "conditional update timed out", err).
				AddContext("timeout", c.opts.Timeout.String())
		}
		return upd, shared.ClassifyTransport(a.kind, "conditional_update", err)
	}
	return upd, nil
}

func (c *Coordinator) backoff(ctx context.Context, a *attempt, n int) error {
	d := Jitter(n-1, c.opts.MinWait, c.opts.MaxWait)
	a.logger.Debug().Dur("delay", d).Int("attempt", n).Msg("Backing off before retry")
	return c.sleep(ctx, d)
}

// reload reads the committed metadata back when possible; the backend's copy
// is authoritative. Falls back to the proposal carrying the new token.
func (c *Coordinator) reload(ctx context.Context, client shared.Client, a *attempt, upd shared.UpdateResult) *metadata.TableMetadata {
	fallback := a.proposed.WithToken(upd.Current).WithMetadataLocation(upd.Location)
	if upd.Current == "" && upd.Location == "" {
		return fallback
	}
	live, err := c.resolver.Load(ctx, client, a.id)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Committed but could not re-read table")
		return fallback
	}
	if live.Token() != upd.Current {
		return fallback
	}
	return live
}

func (c *Coordinator) committed(a *attempt, md *metadata.TableMetadata) *Result {
	a.result.State = StateCommitted
	a.result.Metadata = md
	c.metrics.ObserveCommit(string(a.kind), metrics.OutcomeCommitted, time.Since(a.started).Seconds())
	a.logger.Info().
		Int("attempts", a.result.Attempts).
		Int("conflicts", len(a.result.Conflicts)).
		Str("token", string(md.Token())).
		Msg("Commit succeeded")
	return a.result
}

func (c *Coordinator) fail(a *attempt, cause error, msg string) error {
	a.result.State = StateFailed
	err := errors.New(shared.ErrCommitFailed, msg, cause).
		AddContext("backend", string(a.kind)).
		AddContext("identifier", a.id.String()).
		AddContext("attempts", strconv.Itoa(a.result.Attempts))
	if a.base != nil {
		err.AddContext("base_token", string(a.base.Token()))
	}
	if a.last != nil {
		err.AddContext("live_token", string(a.last.Token()))
	}
	c.metrics.ObserveCommit(string(a.kind), metrics.OutcomeFailed, time.Since(a.started).Seconds())
	a.logger.Error().
		Err(cause).
		Int("attempts", a.result.Attempts).
		Int("conflicts", len(a.result.Conflicts)).
		Msgf("Commit failed: %s", msg)
	return &FailedError{
		Err:       err,
		Last:      a.last,
		Attempts:  a.result.Attempts,
		Conflicts: a.result.Conflicts,
	}
}

// applied reports whether live already contains the proposal: either the
// same document, or the snapshot the proposal made current
func applied(live, proposed *metadata.TableMetadata) bool {
	if live.Equal(proposed) {
		return true
	}
	id, ok := proposed.CurrentSnapshotID()
	if !ok {
		return false
	}
	appended := false
	for _, ch := range proposed.Changes() {
		if s, ok := ch.(metadata.AppendSnapshotChange); ok && s.Snapshot.SnapshotID == id {
			appended = true
		}
	}
	if !appended {
		return false
	}
	snap := live.SnapshotByID(id)
	return snap != nil && snap.ManifestList == proposed.CurrentSnapshot().ManifestList
}

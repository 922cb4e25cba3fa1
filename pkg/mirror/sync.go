package mirror

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/upmirror/pkg/errors"
)

// Default synchronizer settings, applied by New when options are zero.
const (
	DefaultInterval     = 15 * time.Minute
	DefaultWorkers      = 4
	DefaultFetchTimeout = 10 * time.Second
)

// Options configures a Synchronizer.
type Options struct {
	// FallbackAuthor replaces empty upstream author fields.
	FallbackAuthor string

	// Interval between the starts of consecutive sync cycles.
	Interval time.Duration

	// Workers bounds concurrent per-package fetches within one cycle.
	Workers int

	// FetchTimeout bounds one package's fetch so a single unresponsive
	// package cannot stall the cycle.
	FetchTimeout time.Duration
}

// Stats summarizes one sync cycle.
type Stats struct {
	Total   int // identities listed by the feed
	Synced  int // packages upserted this cycle
	Failed  int // packages whose fetch, normalize, or upsert failed
	Skipped int // packages never attempted because the cycle aborted first
}

// Synchronizer keeps the metadata store eventually consistent with the
// remote catalog. One instance runs one cycle at a time; cycles never
// overlap within a process.
type Synchronizer struct {
	catalog Catalog
	store   Upserter
	logger  *log.Logger
	opts    Options
}

// New creates a Synchronizer. Zero option fields take the package defaults;
// a nil logger falls back to log.Default().
func New(catalog Catalog, store Upserter, logger *log.Logger, opts Options) *Synchronizer {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Synchronizer{
		catalog: catalog,
		store:   store,
		logger:  logger,
		opts:    opts,
	}
}

// Run executes sync cycles until ctx is cancelled. The first cycle starts
// immediately; subsequent cycles are scheduled opts.Interval after the start
// of the previous one. A failed cycle is logged and retried on the next
// tick, never escalated to a process exit.
func (s *Synchronizer) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		start := time.Now()
		stats, err := s.RunCycle(ctx)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			s.logger.Error("sync cycle aborted", "err", err)
		default:
			s.logger.Info("sync cycle complete",
				"total", stats.Total,
				"synced", stats.Synced,
				"failed", stats.Failed,
				"duration", time.Since(start).Round(time.Millisecond))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunCycle performs one full reconciliation pass.
//
// A listing failure aborts the cycle before any state is written. After a
// successful listing, each identity is fetched, normalized, and upserted
// independently: per-package failures are counted and logged but do not
// stop the cycle. Two failures are treated as systemic and cancel the
// remaining work: an upstream authentication rejection (the token is bad
// for every package) and context cancellation. Packages whose work never
// started by then are reported as Skipped, not Synced.
func (s *Synchronizer) RunCycle(ctx context.Context) (Stats, error) {
	ids, err := s.catalog.List(ctx)
	if err != nil {
		code := errors.GetCode(err)
		if code == "" {
			code = errors.ErrCodeUpstreamUnavailable
		}
		return Stats{}, errors.Wrap(code, err, "list feed packages")
	}
	s.logger.Debug("listed feed packages", "count", len(ids))

	// One slot per identity so tasks never share mutable state. Slots keep
	// the sentinel until their task actually runs.
	outcomes := make([]error, len(ids))
	for i := range outcomes {
		outcomes[i] = errNotAttempted
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)

	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			err := s.syncOne(gctx, id)
			outcomes[i] = err
			if err == nil {
				return nil
			}
			if errors.Is(err, errors.ErrCodeUnauthorized) || gctx.Err() != nil {
				return err
			}
			s.logger.Warn("package sync failed", "package", id.Name, "err", err)
			return nil
		})
	}

	stats := Stats{Total: len(ids)}
	groupErr := g.Wait()
	for _, err := range outcomes {
		switch {
		case err == nil:
			stats.Synced++
		case stderrors.Is(err, errNotAttempted):
			stats.Skipped++
		default:
			stats.Failed++
		}
	}
	if groupErr != nil {
		return stats, groupErr
	}
	return stats, nil
}

// errNotAttempted marks identities whose task was skipped because the cycle
// was already cancelled when its worker slot came up.
var errNotAttempted = stderrors.New("not attempted")

// syncOne fetches, normalizes, and upserts a single package. The fetch runs
// under its own timeout; the upsert uses the cycle context so a committed
// write is never abandoned halfway by the per-fetch deadline.
func (s *Synchronizer) syncOne(ctx context.Context, id Identity) error {
	fctx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
	defer cancel()

	upstream, err := s.catalog.Fetch(fctx, id)
	if err != nil {
		if errors.Is(err, errors.ErrCodeUnauthorized) {
			return err
		}
		return errors.Wrap(errors.ErrCodePackageSyncFailed, err, "fetch %s", id.Name)
	}

	pkg, err := Normalize(id.Name, upstream, s.opts.FallbackAuthor, time.Now().UTC())
	if err != nil {
		return err
	}

	if err := s.store.Upsert(ctx, pkg); err != nil {
		return errors.Wrap(errors.ErrCodePackageSyncFailed, err, "upsert %s", id.Name)
	}
	s.logger.Debug("synced package", "package", id.Name, "versions", len(pkg.Versions))
	return nil
}

// Package view owns the state behind the address range page: the loaded
// record list, its derived selector values and the load status.
//
// State changes only through Activate, Retry and Teardown. Derived data is
// computed by the pure functions in package filter.
package view

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/dukerupert/ipranges/internal/domain"
	"github.com/dukerupert/ipranges/internal/filter"
	"github.com/dukerupert/ipranges/internal/lookup"
	"github.com/dukerupert/ipranges/internal/telemetry"
)

// maxCachedFilters bounds the memoized filter results per generation.
const maxCachedFilters = 512

// Options configures a View
type Options struct {
	Logger  *slog.Logger
	Metrics *telemetry.FeedMetrics
}

// View is the single state container for the page.
type View struct {
	fetcher domain.Fetcher
	logger  *slog.Logger
	metrics *telemetry.FeedMetrics

	mu         sync.RWMutex
	base       context.Context
	status     Status
	records    []domain.Prefix
	available  domain.AvailableValues
	index      *lookup.Index
	meta       Meta
	generation uint64
	loadID     uint64
	cancel     context.CancelFunc
	settled    chan struct{}
	tornDown   bool

	cacheMu      sync.Mutex
	cacheGen     uint64
	cache        map[domain.Filter][]domain.Prefix
	computations int
}

// Snapshot is a consistent read of the view for one criteria value.
type Snapshot struct {
	Status    Status
	Criteria  domain.Filter
	Available domain.AvailableValues
	Filtered  []domain.Prefix
	Total     int
	Meta      Meta
}

// New creates an idle view that loads from fetcher once activated
func New(fetcher domain.Fetcher, opts Options) *View {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	settled := make(chan struct{})
	close(settled)

	return &View{
		fetcher: fetcher,
		logger:  logger,
		metrics: opts.Metrics,
		status:  Status{State: StateIdle, Since: time.Now()},
		settled: settled,
	}
}

// Activate starts loading the feed. ctx is the lifetime of the view: it is
// the parent of every fetch, including later retries. Calling Activate while
// a load is outstanding or after a successful load is a no-op.
func (v *View) Activate(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.tornDown {
		return domain.Conflict("view.activate", "The view has been torn down.")
	}
	if v.status.State == StatePending || v.status.State == StateReady {
		return nil
	}

	v.base = ctx
	v.startLocked()
	return nil
}

// Retry restarts a load that ended in the failed state.
func (v *View) Retry() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.tornDown {
		return domain.Conflict("view.retry", "The view has been torn down.")
	}
	if v.status.State != StateFailed {
		return domain.Conflict("view.retry", "The address range feed is not in a failed state.")
	}

	v.logger.Info("retrying feed load")
	v.startLocked()
	return nil
}

// Teardown cancels any outstanding fetch. A result arriving afterwards is
// discarded and the view never changes again.
func (v *View) Teardown() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.tornDown {
		return
	}
	v.tornDown = true
	if v.cancel != nil {
		v.cancel()
	}
	if v.status.State == StatePending {
		v.status = Status{State: StateIdle, Since: time.Now()}
	}
}

// startLocked launches a fetch. v.mu must be held.
func (v *View) startLocked() {
	ctx, cancel := context.WithCancel(v.base)
	v.cancel = cancel
	v.loadID++
	v.settled = make(chan struct{})
	v.status = Status{State: StatePending, Since: time.Now()}

	go v.load(ctx, v.loadID, v.settled)
}

func (v *View) load(ctx context.Context, id uint64, settled chan struct{}) {
	defer close(settled)

	started := time.Now()
	feed, err := v.fetcher.Fetch(ctx)
	v.apply(ctx, id, started, feed, err)
}

// apply stores a fetch result unless the fetch was aborted or superseded.
func (v *View) apply(ctx context.Context, id uint64, started time.Time, feed *domain.Feed, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.tornDown || id != v.loadID {
		v.metrics.ObserveDiscarded()
		v.logger.Debug("discarding feed result after teardown", "load_id", id)
		return
	}
	if ctx.Err() != nil {
		// The parent context ended without a teardown. Go back to idle so a
		// later Activate can start over.
		v.status = Status{State: StateIdle, Since: time.Now()}
		v.metrics.ObserveDiscarded()
		v.logger.Info("feed load cancelled", "load_id", id, "error", ctx.Err())
		return
	}

	now := time.Now()

	if err == nil && feed == nil {
		err = domain.Internal(nil, "view.load", "fetcher returned no feed")
	}
	if err != nil {
		v.status = Status{State: StateFailed, Err: err, Since: now}
		v.metrics.ObserveFailed(started)
		v.logger.Error("feed load failed", "error", err, "op", domain.ErrorOp(err))
		telemetry.CaptureError(err, map[string]interface{}{"op": domain.ErrorOp(err)})
		return
	}

	index, ierr := lookup.Build(feed.Prefixes)
	if ierr != nil {
		// The list is still usable without the lookup index.
		v.logger.Warn("failed to build lookup index", "error", ierr)
	}

	v.records = feed.Prefixes
	v.available = filter.AvailableValues(feed.Prefixes)
	v.index = index
	v.generation++
	v.meta = Meta{
		SyncToken:  feed.SyncToken,
		CreateDate: feed.CreateDate,
		LoadedAt:   now,
		Skipped:    feed.Skipped,
	}
	if index != nil {
		v.meta.Networks = index.Networks()
	}
	v.status = Status{State: StateReady, Since: now}

	v.metrics.ObserveReady(started, len(feed.Prefixes), feed.Skipped)
	v.logger.Info("feed loaded",
		"records", len(feed.Prefixes),
		"skipped", feed.Skipped,
		"sync_token", feed.SyncToken,
		"duration", now.Sub(started),
	)
}

// Settled returns a channel closed once the current load has finished,
// successfully or not. It is already closed when nothing is loading.
func (v *View) Settled() <-chan struct{} {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.settled
}

// Status returns the current load status
func (v *View) Status() Status {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.status
}

// Records returns the full record list, nil until a load succeeds.
// The slice is shared and must not be modified.
func (v *View) Records() []domain.Prefix {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.records
}

// Available returns the selector values derived from the full list.
func (v *View) Available() domain.AvailableValues {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.available
}

// Filtered returns the records matching criteria. It fails with
// EUNAVAILABLE until the view is ready. The slice is shared and must not
// be modified.
func (v *View) Filtered(criteria domain.Filter) ([]domain.Prefix, error) {
	v.mu.RLock()
	state, records, gen := v.status.State, v.records, v.generation
	v.mu.RUnlock()

	if state != StateReady {
		return nil, notReady("view.filtered", state)
	}
	return v.filtered(gen, records, criteria), nil
}

// Snapshot reads status, selector values and the filtered list together.
func (v *View) Snapshot(criteria domain.Filter) Snapshot {
	v.mu.RLock()
	s := Snapshot{
		Status:    v.status,
		Criteria:  criteria,
		Available: v.available,
		Total:     len(v.records),
		Meta:      v.meta,
	}
	records, gen := v.records, v.generation
	v.mu.RUnlock()

	if s.Status.State == StateReady {
		s.Filtered = v.filtered(gen, records, criteria)
	}
	return s
}

// Lookup returns the records whose network contains ip.
func (v *View) Lookup(ip net.IP) ([]domain.Prefix, error) {
	v.mu.RLock()
	state, index := v.status.State, v.index
	v.mu.RUnlock()

	if state != StateReady {
		return nil, notReady("view.lookup", state)
	}
	if index == nil {
		return nil, domain.Internal(nil, "view.lookup", "lookup index unavailable")
	}
	return index.Lookup(ip)
}

// filtered memoizes filter.Apply per (generation, criteria). A result is
// only recomputed when the record list or the criteria change.
func (v *View) filtered(gen uint64, records []domain.Prefix, criteria domain.Filter) []domain.Prefix {
	v.cacheMu.Lock()
	defer v.cacheMu.Unlock()

	if gen < v.cacheGen {
		// A load landed after this reader took its snapshot.
		v.computations++
		return filter.Apply(criteria, records)
	}
	if gen > v.cacheGen || v.cache == nil || len(v.cache) >= maxCachedFilters {
		v.cache = make(map[domain.Filter][]domain.Prefix)
		v.cacheGen = gen
	}

	if cached, ok := v.cache[criteria]; ok {
		return cached
	}

	v.computations++
	result := filter.Apply(criteria, records)
	v.cache[criteria] = result
	return result
}

func notReady(op string, state State) error {
	switch state {
	case StateFailed:
		return domain.Unavailable(op, "The address range feed failed to load.")
	default:
		return domain.Unavailable(op, "The address range feed is still loading.")
	}
}

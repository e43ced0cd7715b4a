// Package refresh decides when a scope's cached series is stale and
// runs the fetch, normalize and store cycle, at most once in flight per
// scope.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/singleflight"

	"momobot/internal/momo"
	"momobot/internal/store"
)

// Store is the slice of the SQLite store the coordinator writes to.
type Store interface {
	UpsertObservations(ctx context.Context, obs []momo.Observation) error
	Freshness(ctx context.Context, scope momo.Scope) (momo.ScopeFreshness, error)
	SetFreshness(ctx context.Context, f momo.ScopeFreshness) error
}

// Result reports whether EnsureFresh actually hit the provider.
type Result struct {
	Refreshed bool
}

// Coordinator serializes refreshes per scope. Distinct scopes refresh
// concurrently; concurrent callers for the same scope share one remote
// fetch through the singleflight group.
type Coordinator struct {
	fetcher    momo.Fetcher
	normalizer momo.Normalizer
	store      Store

	grace        time.Duration
	hardTimeout  time.Duration
	lookbackDays int

	group singleflight.Group
}

// Options tune the staleness policy. Zero values pick the defaults.
type Options struct {
	// Grace is the provider publication lag: a scope is stale when its
	// last covered date falls more than Grace behind as-of.
	Grace time.Duration
	// HardTimeout bounds one refresh cycle end to end.
	HardTimeout time.Duration
	// LookbackDays is the window fetched on each refresh. Recent days
	// are provisional and get revised, so the window re-fetches them.
	LookbackDays int
}

func New(fetcher momo.Fetcher, normalizer momo.Normalizer, st Store, opts Options) *Coordinator {
	if opts.Grace <= 0 {
		opts.Grace = 24 * time.Hour
	}
	if opts.HardTimeout <= 0 {
		opts.HardTimeout = 60 * time.Second
	}
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = 60
	}
	return &Coordinator{
		fetcher:      fetcher,
		normalizer:   normalizer,
		store:        st,
		grace:        opts.Grace,
		hardTimeout:  opts.HardTimeout,
		lookbackDays: opts.LookbackDays,
	}
}

// EnsureFresh refreshes the scope if its cache is stale. Callers that
// arrive while a refresh for the same scope is in flight wait for that
// refresh's outcome instead of triggering another remote fetch. On
// failure the freshness row is left untouched, so cached data stays
// readable.
func (c *Coordinator) EnsureFresh(ctx context.Context, scope momo.Scope, asOf time.Time) (Result, error) {
	stale, err := c.isStale(ctx, scope, asOf)
	if err != nil {
		return Result{}, err
	}
	if !stale {
		return Result{}, nil
	}

	v, err, shared := c.group.Do(scope.Key(), func() (interface{}, error) {
		// The flight is shared by every waiting caller, so it must not
		// die with the first caller's context. The hard timeout is the
		// only bound; past it the refresh is abandoned.
		rctx, cancel := context.WithTimeout(context.Background(), c.hardTimeout)
		defer cancel()

		// Re-check under the flight: a caller queued behind a refresh
		// that just completed must not fetch again.
		stale, err := c.isStale(rctx, scope, asOf)
		if err != nil {
			return Result{}, err
		}
		if !stale {
			return Result{}, nil
		}
		return c.refresh(rctx, scope, asOf)
	})
	if err != nil {
		return Result{}, err
	}
	if shared {
		log.Printf("refresh: %s shared an in-flight refresh", scope.Key())
	}
	return v.(Result), nil
}

func (c *Coordinator) isStale(ctx context.Context, scope momo.Scope, asOf time.Time) (bool, error) {
	f, err := c.store.Freshness(ctx, scope)
	if errors.Is(err, store.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("read freshness for %s: %w", scope.Key(), err)
	}
	cutoff := momo.Day(asOf.Add(-c.grace))
	return f.LastCoveredDate.Before(cutoff), nil
}

func (c *Coordinator) refresh(ctx context.Context, scope momo.Scope, asOf time.Time) (Result, error) {
	to := momo.Day(asOf)
	from := to.AddDate(0, 0, -c.lookbackDays)

	log.Printf("refresh: fetching %s from %s [%s .. %s]",
		scope.Key(), c.fetcher.Name(), from.Format(momo.DateLayout), to.Format(momo.DateLayout))

	raw, err := c.fetcher.Fetch(ctx, scope, from, to)
	if err != nil {
		return Result{}, err
	}

	obs, err := c.normalizer.Normalize(scope, raw)
	if err != nil {
		return Result{}, err
	}
	if len(obs) == 0 {
		return Result{}, fmt.Errorf("%w: provider returned no rows for %s", momo.ErrNoData, scope.Key())
	}

	if err := c.store.UpsertObservations(ctx, obs); err != nil {
		return Result{}, fmt.Errorf("store refresh batch for %s: %w", scope.Key(), err)
	}

	covered := obs[0].Date
	for _, o := range obs[1:] {
		if o.Date.After(covered) {
			covered = o.Date
		}
	}
	if err := c.store.SetFreshness(ctx, momo.ScopeFreshness{
		Scope:           scope,
		LastRefreshedAt: time.Now().UTC(),
		LastCoveredDate: covered,
	}); err != nil {
		return Result{}, fmt.Errorf("record freshness for %s: %w", scope.Key(), err)
	}

	log.Printf("refresh: %s now covers through %s (%d observations)",
		scope.Key(), covered.Format(momo.DateLayout), len(obs))
	return Result{Refreshed: true}, nil
}

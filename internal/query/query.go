// Package query answers the bot's structured questions from the cache,
// refreshing first when needed. A failed refresh degrades to stale
// cached data rather than blocking the caller.
package query

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"momobot/internal/momo"
	"momobot/internal/refresh"
	"momobot/internal/store"
)

// Store is the read side of the SQLite store.
type Store interface {
	Latest(ctx context.Context, scope momo.Scope) (momo.Observation, error)
	QueryRange(ctx context.Context, scope momo.Scope, from, to time.Time) ([]momo.Observation, error)
}

// Refresher is satisfied by refresh.Coordinator.
type Refresher interface {
	EnsureFresh(ctx context.Context, scope momo.Scope, asOf time.Time) (refresh.Result, error)
}

// TrendDirection classifies the slope of a series.
type TrendDirection string

const (
	TrendIncreasing TrendDirection = "increasing"
	TrendDecreasing TrendDirection = "decreasing"
	TrendFlat       TrendDirection = "flat"
)

// LatestResult is the newest cached observation. Stale means the
// preceding refresh failed and the data may lag the provider.
type LatestResult struct {
	Observation momo.Observation `json:"observation"`
	Stale       bool             `json:"stale"`
}

// TrendResult is an ordered window of observations plus its direction.
type TrendResult struct {
	Points    []momo.Observation `json:"points"`
	Direction TrendDirection     `json:"direction"`
	Stale     bool               `json:"stale"`
}

// SummaryResult aggregates excess mortality over a date range.
type SummaryResult struct {
	From        time.Time `json:"from"`
	To          time.Time `json:"to"`
	Days        int       `json:"days"`
	TotalExcess float64   `json:"totalExcess"`
	AnomalyDays int       `json:"anomalyDays"`
	Stale       bool      `json:"stale"`
}

// Engine answers queries against one store/refresher pair.
type Engine struct {
	store     Store
	refresher Refresher

	// anomalyThreshold is the daily excess above which a day counts as
	// anomalous in summaries.
	anomalyThreshold float64
	// trendMinDelta is the minimum average daily change for a trend to
	// be called anything other than flat.
	trendMinDelta float64

	now func() time.Time
}

func NewEngine(st Store, r Refresher, anomalyThreshold, trendMinDelta float64) *Engine {
	if anomalyThreshold <= 0 {
		anomalyThreshold = 15
	}
	if trendMinDelta <= 0 {
		trendMinDelta = 0.5
	}
	return &Engine{
		store:            st,
		refresher:        r,
		anomalyThreshold: anomalyThreshold,
		trendMinDelta:    trendMinDelta,
		now:              time.Now,
	}
}

// ensure refreshes the scope and reports whether the answer will be
// served from a possibly stale cache.
func (e *Engine) ensure(ctx context.Context, scope momo.Scope) bool {
	if _, err := e.refresher.EnsureFresh(ctx, scope, e.now()); err != nil {
		log.Printf("query: refresh failed for %s, serving cached data: %v", scope.Key(), err)
		return true
	}
	return false
}

// Latest returns the scope's most recent observation.
func (e *Engine) Latest(ctx context.Context, scope momo.Scope) (LatestResult, error) {
	stale := e.ensure(ctx, scope)

	obs, err := e.store.Latest(ctx, scope)
	if errors.Is(err, store.ErrNotFound) {
		return LatestResult{}, fmt.Errorf("%w: %s", momo.ErrNoData, scope.Key())
	}
	if err != nil {
		return LatestResult{}, err
	}
	return LatestResult{Observation: obs, Stale: stale}, nil
}

// Trend returns the last days observations and their direction. It
// needs at least two points to call a direction.
func (e *Engine) Trend(ctx context.Context, scope momo.Scope, days int) (TrendResult, error) {
	if days < 2 {
		return TrendResult{}, fmt.Errorf("trend needs at least 2 days, got %d", days)
	}
	stale := e.ensure(ctx, scope)

	newest, err := e.store.Latest(ctx, scope)
	if errors.Is(err, store.ErrNotFound) {
		return TrendResult{}, fmt.Errorf("%w: %s", momo.ErrNoData, scope.Key())
	}
	if err != nil {
		return TrendResult{}, err
	}

	from := newest.Date.AddDate(0, 0, -(days - 1))
	points, err := e.store.QueryRange(ctx, scope, from, newest.Date)
	if err != nil {
		return TrendResult{}, err
	}
	if len(points) < 2 {
		return TrendResult{}, fmt.Errorf("%w: %d point(s) in window for %s", momo.ErrNotEnoughData, len(points), scope.Key())
	}

	return TrendResult{
		Points:    points,
		Direction: e.direction(points),
		Stale:     stale,
	}, nil
}

func (e *Engine) direction(points []momo.Observation) TrendDirection {
	first := points[0]
	last := points[len(points)-1]
	slope := float64(last.Observed-first.Observed) / float64(len(points)-1)
	switch {
	case slope > e.trendMinDelta:
		return TrendIncreasing
	case slope < -e.trendMinDelta:
		return TrendDecreasing
	default:
		return TrendFlat
	}
}

// ExcessSummary sums excess mortality over [from, to] and counts the
// days whose excess exceeds the anomaly threshold.
func (e *Engine) ExcessSummary(ctx context.Context, scope momo.Scope, from, to time.Time) (SummaryResult, error) {
	if to.Before(from) {
		return SummaryResult{}, fmt.Errorf("invalid range: %s after %s",
			from.Format(momo.DateLayout), to.Format(momo.DateLayout))
	}
	stale := e.ensure(ctx, scope)

	points, err := e.store.QueryRange(ctx, scope, from, to)
	if err != nil {
		return SummaryResult{}, err
	}
	if len(points) == 0 {
		return SummaryResult{}, fmt.Errorf("%w: %s in [%s .. %s]", momo.ErrNoData,
			scope.Key(), from.Format(momo.DateLayout), to.Format(momo.DateLayout))
	}

	res := SummaryResult{From: from, To: to, Days: len(points), Stale: stale}
	for _, o := range points {
		excess := o.Excess()
		res.TotalExcess += excess
		if excess > e.anomalyThreshold {
			res.AnomalyDays++
		}
	}
	return res, nil
}

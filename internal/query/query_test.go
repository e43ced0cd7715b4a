package query

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"momobot/internal/momo"
	"momobot/internal/refresh"
	"momobot/internal/store"
)

type fakeStore struct {
	data map[string][]momo.Observation
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string][]momo.Observation)}
}

func (s *fakeStore) add(obs ...momo.Observation) {
	for _, o := range obs {
		key := o.Scope.Key()
		s.data[key] = append(s.data[key], o)
	}
	for key := range s.data {
		sort.Slice(s.data[key], func(i, j int) bool {
			return s.data[key][i].Date.Before(s.data[key][j].Date)
		})
	}
}

func (s *fakeStore) Latest(ctx context.Context, scope momo.Scope) (momo.Observation, error) {
	rows := s.data[scope.Key()]
	if len(rows) == 0 {
		return momo.Observation{}, store.ErrNotFound
	}
	return rows[len(rows)-1], nil
}

func (s *fakeStore) QueryRange(ctx context.Context, scope momo.Scope, from, to time.Time) ([]momo.Observation, error) {
	var out []momo.Observation
	for _, o := range s.data[scope.Key()] {
		if !o.Date.Before(from) && !o.Date.After(to) {
			out = append(out, o)
		}
	}
	return out, nil
}

// fakeRefresher optionally populates the store when first asked,
// standing in for a real fetch cycle.
type fakeRefresher struct {
	err       error
	onRefresh func()
	calls     int
}

func (r *fakeRefresher) EnsureFresh(ctx context.Context, scope momo.Scope, asOf time.Time) (refresh.Result, error) {
	r.calls++
	if r.err != nil {
		return refresh.Result{}, r.err
	}
	if r.onRefresh != nil {
		r.onRefresh()
		r.onRefresh = nil
		return refresh.Result{Refreshed: true}, nil
	}
	return refresh.Result{}, nil
}

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func obsOn(scope momo.Scope, d, observed int, expected float64) momo.Observation {
	return momo.Observation{Scope: scope, Date: day(d), Observed: observed, Expected: expected}
}

func TestLatestTriggersRefreshAndReportsExcess(t *testing.T) {
	scope := momo.Scope{Kind: momo.ScopeCCAA, Name: "Madrid"}
	st := newFakeStore()
	r := &fakeRefresher{onRefresh: func() {
		st.add(
			obsOn(scope, 1, 100, 95),
			obsOn(scope, 2, 110, 96),
			obsOn(scope, 3, 120, 100),
		)
	}}
	e := NewEngine(st, r, 15, 0.5)

	res, err := e.Latest(context.Background(), scope)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.calls != 1 {
		t.Errorf("expected 1 ensure-fresh call, got %d", r.calls)
	}
	if res.Stale {
		t.Error("successful refresh must not flag stale")
	}
	if !res.Observation.Date.Equal(day(3)) {
		t.Errorf("latest date = %v, want %v", res.Observation.Date, day(3))
	}
	if got, want := res.Observation.Excess(), 20.0; got != want {
		t.Errorf("excess = %f, want %f", got, want)
	}
}

func TestLatestNoData(t *testing.T) {
	scope := momo.Scope{Kind: momo.ScopeNational}
	e := NewEngine(newFakeStore(), &fakeRefresher{err: momo.ErrNetwork}, 15, 0.5)

	_, err := e.Latest(context.Background(), scope)
	if !errors.Is(err, momo.ErrNoData) {
		t.Fatalf("expected ErrNoData with empty cache and failed refresh, got %v", err)
	}
}

func TestLatestServesStaleCacheOnRefreshFailure(t *testing.T) {
	scope := momo.Scope{Kind: momo.ScopeNational}
	st := newFakeStore()
	st.add(obsOn(scope, 1, 100, 95))
	e := NewEngine(st, &fakeRefresher{err: momo.ErrNetwork}, 15, 0.5)

	res, err := e.Latest(context.Background(), scope)
	if err != nil {
		t.Fatalf("stale cache should still be served: %v", err)
	}
	if !res.Stale {
		t.Error("a failed refresh must flag the result as stale")
	}
}

func TestTrendDirections(t *testing.T) {
	scope := momo.Scope{Kind: momo.ScopeNational}

	rising := newFakeStore()
	for i := 1; i <= 7; i++ {
		rising.add(obsOn(scope, i, 100+10*i, 100))
	}
	e := NewEngine(rising, &fakeRefresher{}, 15, 0.5)
	res, err := e.Trend(context.Background(), scope, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Direction != TrendIncreasing {
		t.Errorf("monotonic rise should be increasing, got %s", res.Direction)
	}
	if len(res.Points) != 7 {
		t.Errorf("expected 7 points, got %d", len(res.Points))
	}

	flat := newFakeStore()
	for i := 1; i <= 7; i++ {
		flat.add(obsOn(scope, i, 100, 100))
	}
	e = NewEngine(flat, &fakeRefresher{}, 15, 0.5)
	res, err = e.Trend(context.Background(), scope, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Direction != TrendFlat {
		t.Errorf("flat series should be flat, got %s", res.Direction)
	}

	falling := newFakeStore()
	for i := 1; i <= 7; i++ {
		falling.add(obsOn(scope, i, 200-10*i, 100))
	}
	e = NewEngine(falling, &fakeRefresher{}, 15, 0.5)
	res, err = e.Trend(context.Background(), scope, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Direction != TrendDecreasing {
		t.Errorf("monotonic fall should be decreasing, got %s", res.Direction)
	}
}

func TestTrendNeedsTwoPoints(t *testing.T) {
	scope := momo.Scope{Kind: momo.ScopeNational}
	st := newFakeStore()
	st.add(obsOn(scope, 1, 100, 95))
	e := NewEngine(st, &fakeRefresher{}, 15, 0.5)

	if _, err := e.Trend(context.Background(), scope, 7); !errors.Is(err, momo.ErrNotEnoughData) {
		t.Fatalf("expected ErrNotEnoughData with a single point, got %v", err)
	}
	if _, err := e.Trend(context.Background(), scope, 1); err == nil {
		t.Fatal("a 1-day trend request should be rejected")
	}
}

func TestExcessSummary(t *testing.T) {
	scope := momo.Scope{Kind: momo.ScopeNational}
	st := newFakeStore()
	st.add(
		obsOn(scope, 1, 120, 100), // excess 20, anomalous
		obsOn(scope, 2, 110, 100), // excess 10
		obsOn(scope, 3, 130, 100), // excess 30, anomalous
	)
	e := NewEngine(st, &fakeRefresher{}, 15, 0.5)

	res, err := e.ExcessSummary(context.Background(), scope, day(1), day(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TotalExcess != 60 {
		t.Errorf("total excess = %f, want 60", res.TotalExcess)
	}
	if res.AnomalyDays != 2 {
		t.Errorf("anomaly days = %d, want 2", res.AnomalyDays)
	}
	if res.Days != 3 {
		t.Errorf("days = %d, want 3", res.Days)
	}

	if _, err := e.ExcessSummary(context.Background(), scope, day(10), day(12)); !errors.Is(err, momo.ErrNoData) {
		t.Errorf("empty range should be ErrNoData, got %v", err)
	}
	if _, err := e.ExcessSummary(context.Background(), scope, day(3), day(1)); err == nil {
		t.Error("inverted range should be rejected")
	}
}

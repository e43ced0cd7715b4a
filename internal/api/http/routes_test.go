package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"momobot/internal/momo"
	"momobot/internal/query"
	"momobot/internal/refresh"
	"momobot/internal/store"
)

type fakeStore struct {
	obs map[string][]momo.Observation
}

func (f *fakeStore) Latest(_ context.Context, scope momo.Scope) (momo.Observation, error) {
	series := f.obs[scope.Key()]
	if len(series) == 0 {
		return momo.Observation{}, store.ErrNotFound
	}
	return series[len(series)-1], nil
}

func (f *fakeStore) QueryRange(_ context.Context, scope momo.Scope, from, to time.Time) ([]momo.Observation, error) {
	var out []momo.Observation
	for _, o := range f.obs[scope.Key()] {
		if o.Date.Before(from) || o.Date.After(to) {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

type noopRefresher struct{}

func (noopRefresher) EnsureFresh(context.Context, momo.Scope, time.Time) (refresh.Result, error) {
	return refresh.Result{}, nil
}

func newTestApp() *fiber.App {
	national := momo.Scope{Kind: momo.ScopeNational}
	st := &fakeStore{obs: map[string][]momo.Observation{
		national.Key(): {
			{Scope: national, Date: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Observed: 1100, Expected: 1000},
			{Scope: national, Date: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Observed: 1050, Expected: 1000},
		},
	}}
	engine := query.NewEngine(st, noopRefresher{}, 15, 0.5)

	app := fiber.New()
	RegisterRoutes(app, engine)
	return app
}

// TestLatestScopeValidation verifies that the latest endpoint rejects a
// request without a scope parameter.
func TestLatestScopeValidation(t *testing.T) {
	app := newTestApp()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/momo/latest", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.StatusCode)
	}
}

func TestLatestOK(t *testing.T) {
	app := newTestApp()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/momo/latest?scope=nacional", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}

	var body struct {
		Date     string  `json:"date"`
		Observed int     `json:"observed"`
		Excess   float64 `json:"excess"`
		Stale    bool    `json:"stale"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Date != "2024-01-02" || body.Observed != 1050 || body.Excess != 50 || body.Stale {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestLatestUnknownScope(t *testing.T) {
	app := newTestApp()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/momo/latest?scope=Cuenca", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, resp.StatusCode)
	}
}

// TestSummaryRangeValidation verifies that the summary endpoint enforces
// presence and ordering of the from/to parameters.
func TestSummaryRangeValidation(t *testing.T) {
	app := newTestApp()

	cases := []string{
		"/api/v1/momo/summary?scope=nacional",
		"/api/v1/momo/summary?scope=nacional&from=2024-01-01",
		"/api/v1/momo/summary?scope=nacional&from=01/01/2024&to=2024-01-02",
		"/api/v1/momo/summary?scope=nacional&from=2024-01-02&to=2024-01-01",
	}
	for _, url := range cases {
		req := httptest.NewRequest(http.MethodGet, url, nil)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("unexpected error for %s: %v", url, err)
		}
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: expected status %d, got %d", url, http.StatusBadRequest, resp.StatusCode)
		}
	}
}

func TestSummaryOK(t *testing.T) {
	app := newTestApp()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/momo/summary?scope=nacional&from=2024-01-01&to=2024-01-02", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}

	var body struct {
		Days        int     `json:"days"`
		TotalExcess float64 `json:"totalExcess"`
		AnomalyDays int     `json:"anomalyDays"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Days != 2 || body.TotalExcess != 150 || body.AnomalyDays != 2 {
		t.Errorf("unexpected body: %+v", body)
	}
}

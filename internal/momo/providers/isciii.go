package providers

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"momobot/internal/momo"
)

// DefaultBaseURL is the public MoMo dataset endpoint of the ISCIII.
const DefaultBaseURL = "https://momo.isciii.es/public/momo/data"

// The dataset publishes every breakdown; the bot only tracks the
// all-sexes, all-ages series of each scope.
const allGroups = "all"

// ISCIIIProvider implements momo.Fetcher against the ISCIII MoMo CSV
// download. The endpoint serves the full dataset; Fetch filters it down
// to the requested scope and date range while streaming.
type ISCIIIProvider struct {
	name    string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewISCIIIProvider(client *http.Client, baseURL string, backoff BackoffConfig) *ISCIIIProvider {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "isciii",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	return &ISCIIIProvider{
		name:    "isciii",
		baseURL: baseURL,
		httpCfg: HTTPClientConfig{
			Client:  client,
			Backoff: backoff,
		},
		circuit: cb,
	}
}

func (p *ISCIIIProvider) Name() string {
	return p.name
}

func (p *ISCIIIProvider) Fetch(ctx context.Context, scope momo.Scope, from, to time.Time) ([]momo.RawRecord, error) {
	buildRequest := func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodGet, p.baseURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "text/csv")
		return req, nil
	}

	resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	records, err := p.filterCSV(resp.Body, scope, from, to)
	if err != nil {
		return nil, err
	}
	return records, nil
}

// filterCSV streams the dataset and keeps only the rows of the requested
// scope's all/all series within [from, to]. Rows with the wrong field
// count are skipped; an unreadable header means the endpoint did not
// return the dataset at all.
func (p *ISCIIIProvider) filterCSV(r io.Reader, scope momo.Scope, from, to time.Time) ([]momo.RawRecord, error) {
	reader := csv.NewReader(r)
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: unreadable CSV header: %v", momo.ErrProvider, err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, required := range []string{"ambito", "nombre_ambito", "cod_sexo", "cod_gedad",
		momo.ColDate, momo.ColObserved, momo.ColExpected} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("%w: CSV missing column %q", momo.ErrProvider, required)
		}
	}

	fromKey := from.Format(momo.DateLayout)
	toKey := to.Format(momo.DateLayout)

	var records []momo.RawRecord
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			if errors.Is(err, csv.ErrFieldCount) {
				continue
			}
			return nil, fmt.Errorf("%w: reading CSV body: %v", momo.ErrProvider, err)
		}

		if row[col["cod_sexo"]] != allGroups || row[col["cod_gedad"]] != allGroups {
			continue
		}
		if !scope.MatchesRow(row[col["ambito"]], row[col["nombre_ambito"]]) {
			continue
		}
		// ISO dates compare lexicographically; anything non-ISO falls
		// through to the normalizer, which rejects it.
		date := row[col[momo.ColDate]]
		if len(date) == len(fromKey) && (date < fromKey || date > toKey) {
			continue
		}

		records = append(records, momo.RawRecord{
			momo.ColDate:     row[col[momo.ColDate]],
			momo.ColObserved: row[col[momo.ColObserved]],
			momo.ColExpected: row[col[momo.ColExpected]],
		})
	}
	return records, nil
}

package momo

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"
)

// DefaultMaxBadFraction is the malformed-record tolerance: above it the
// whole batch is rejected instead of silently losing most of a refresh.
const DefaultMaxBadFraction = 0.5

// noBaselineMarker is how the dataset flags a series day without a
// modeled baseline. Only this explicit marker coerces to 0; a missing
// value is a malformed record.
const noBaselineMarker = "NA"

// Normalizer turns raw provider rows into canonical observations.
type Normalizer struct {
	// MaxBadFraction is the tolerated share of malformed records per
	// batch, in (0,1]. Zero means DefaultMaxBadFraction.
	MaxBadFraction float64
}

// Normalize parses a batch of raw rows for one scope. Individual
// malformed rows are dropped and logged; when more than MaxBadFraction
// of the batch is malformed the whole batch fails and nothing is
// returned, so a garbled payload never reaches the store.
func (n Normalizer) Normalize(scope Scope, records []RawRecord) ([]Observation, error) {
	if len(records) == 0 {
		return nil, nil
	}

	limit := n.MaxBadFraction
	if limit == 0 {
		limit = DefaultMaxBadFraction
	}

	obs := make([]Observation, 0, len(records))
	bad := 0
	for i, rec := range records {
		o, err := normalizeRecord(scope, rec)
		if err != nil {
			bad++
			log.Printf("normalize: dropping record %d for %s: %v", i, scope.Key(), err)
			continue
		}
		obs = append(obs, o)
	}

	if frac := float64(bad) / float64(len(records)); frac > limit {
		return nil, fmt.Errorf("%w: %d of %d records malformed for %s",
			ErrParse, bad, len(records), scope.Key())
	}
	return obs, nil
}

func normalizeRecord(scope Scope, rec RawRecord) (Observation, error) {
	dateStr := strings.TrimSpace(rec[ColDate])
	date, err := time.ParseInLocation(DateLayout, dateStr, time.UTC)
	if err != nil {
		return Observation{}, fmt.Errorf("bad %s %q: %v", ColDate, dateStr, err)
	}

	// Observed deaths are a count; anything non-integral is a garbled
	// column, not a value to round.
	obsStr := strings.TrimSpace(rec[ColObserved])
	observed, err := strconv.Atoi(obsStr)
	if err != nil {
		return Observation{}, fmt.Errorf("bad %s %q: %v", ColObserved, obsStr, err)
	}
	if observed < 0 {
		return Observation{}, fmt.Errorf("negative %s %q", ColObserved, obsStr)
	}

	expStr := strings.TrimSpace(rec[ColExpected])
	var expected float64
	switch {
	case strings.EqualFold(expStr, noBaselineMarker):
		expected = 0
	case expStr == "":
		return Observation{}, fmt.Errorf("missing %s", ColExpected)
	default:
		expected, err = strconv.ParseFloat(expStr, 64)
		if err != nil {
			return Observation{}, fmt.Errorf("bad %s %q: %v", ColExpected, expStr, err)
		}
		if expected < 0 {
			return Observation{}, fmt.Errorf("negative %s %q", ColExpected, expStr)
		}
	}

	return Observation{
		Scope:    scope,
		Date:     Day(date),
		Observed: observed,
		Expected: expected,
	}, nil
}

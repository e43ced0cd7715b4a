package momo

import (
	"context"
	"time"
)

// RawRecord is one provider row before normalization, keyed by column
// name. Values stay as raw strings so the normalizer owns all parsing.
type RawRecord map[string]string

// Well-known columns of the MoMo dataset.
const (
	ColDate     = "fecha_defuncion"
	ColObserved = "defunciones_observadas"
	ColExpected = "defunciones_esperadas"
)

// Fetcher retrieves raw observation rows for one scope and date range.
// Implementations apply their own timeout and retry budget; they never
// mutate local state.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, scope Scope, from, to time.Time) ([]RawRecord, error)
}

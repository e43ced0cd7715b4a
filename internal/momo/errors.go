package momo

import "errors"

// Error taxonomy shared by the fetch/refresh/query pipeline. Callers
// classify failures with errors.Is; wrapping adds context.
var (
	// ErrNetwork marks transient remote failures: timeouts, 5xx and
	// rate limiting after the retry budget is exhausted.
	ErrNetwork = errors.New("transient network failure")

	// ErrProvider marks non-retryable remote rejections (4xx).
	ErrProvider = errors.New("provider rejected request")

	// ErrParse marks a payload malformed beyond tolerance.
	ErrParse = errors.New("malformed provider payload")

	// ErrNoData is returned when a query has neither cached data nor a
	// successful refresh to draw from.
	ErrNoData = errors.New("no data available")

	// ErrNotEnoughData is returned when a query needs more points than
	// the cached series holds (e.g. a trend over a single day).
	ErrNotEnoughData = errors.New("not enough data points")
)

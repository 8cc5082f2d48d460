package ranking

import (
	"errors"
)

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	// ErrMaintenance means the remote service reported maintenance; the
	// whole harvest should stop, not retry.
	ErrMaintenance = errors.New("remote service in maintenance")

	// ErrPageFetch covers transport and decode failures for one page.
	ErrPageFetch = errors.New("page fetch failed")

	// ErrBadStatus covers unexpected HTTP statuses.
	ErrBadStatus = errors.New("unexpected response status")

	// ErrCurveFetch covers historical curve retrieval failures.
	ErrCurveFetch = errors.New("curve fetch failed")
)

// isRetryable classifies an error for the per-page retry loop.
func isRetryable(err error) bool {
	return !errors.Is(err, ErrMaintenance)
}

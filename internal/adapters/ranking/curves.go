package ranking

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// curveTimeout allows a generous window for the one-shot bulk fetch.
const curveTimeout = 60 * time.Second

// CurveClient fetches the historical rank-tier curves once per event.
// The payload is a JSON object mapping tier labels to ordered score
// arrays sampled at fixed 20-minute offsets from the prior event's start.
type CurveClient struct {
	url  string
	http *http.Client
}

// NewCurveClient creates a curve source for the given reference URL.
func NewCurveClient(url string) *CurveClient {
	return &CurveClient{
		url:  url,
		http: &http.Client{Timeout: curveTimeout},
	}
}

// Fetch implements projection.CurveSource.
func (c *CurveClient) Fetch(ctx context.Context) (map[string][]int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCurveFetch, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCurveFetch, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrCurveFetch, resp.StatusCode)
	}

	var curves map[string][]int64
	if err := json.NewDecoder(resp.Body).Decode(&curves); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCurveFetch, err)
	}
	return curves, nil
}

// Package ranking implements the client for the remote paginated ranking API.
package ranking

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/okian/gridwatch/internal/domain/model"
	"github.com/okian/gridwatch/pkg/metrics"
)

// Default client configuration constants.
const (
	defaultPageRetries  = 5
	defaultRetryBackoff = 500 * time.Millisecond
	defaultHTTPTimeout  = 10 * time.Second
)

// PageResult is one decoded ranking page.
type PageResult struct {
	// Count is the total number of ranked entries the remote reports.
	Count int64
	// Last is the last page number.
	Last int
	// Entries are the page's rows in remote order.
	Entries []model.Record
}

// pageResponse mirrors the remote wire shape.
type pageResponse struct {
	Count int64       `json:"count"`
	Last  int         `json:"last"`
	List  []pageEntry `json:"list"`
}

type pageEntry struct {
	ID    int64  `json:"id"`
	Rank  int    `json:"rank"`
	Name  string `json:"name"`
	Point int64  `json:"point"`
}

// Client fetches ranking pages with bounded retries per page.
type Client struct {
	baseURL string
	http    *http.Client
	retries uint64
	backoff time.Duration
}

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithPageRetries bounds fetch attempts per page.
func WithPageRetries(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.retries = uint64(n)
		}
	}
}

// WithRetryBackoff sets the constant backoff between retries.
func WithRetryBackoff(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.backoff = d
		}
	}
}

// NewClient creates a ranking client for the given API root.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultHTTPTimeout},
		retries: defaultPageRetries,
		backoff: defaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Page fetches one page of a category's ranking, retrying transient
// failures up to the configured bound. A maintenance response aborts
// immediately with ErrMaintenance.
func (c *Client) Page(ctx context.Context, category model.Category, page int) (PageResult, error) {
	var result PageResult

	backoff := retry.WithMaxRetries(c.retries, retry.NewConstant(c.backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		res, err := c.fetchPage(ctx, category, page)
		if err != nil {
			if isRetryable(err) {
				metrics.RecordPageRetry(string(category))
				return retry.RetryableError(err)
			}
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return PageResult{}, err
	}
	return result, nil
}

func (c *Client) fetchPage(ctx context.Context, category model.Category, page int) (PageResult, error) {
	u, err := url.Parse(c.baseURL + "/ranking")
	if err != nil {
		return PageResult{}, fmt.Errorf("%w: %w", ErrPageFetch, err)
	}
	q := u.Query()
	q.Set("category", string(category))
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return PageResult{}, fmt.Errorf("%w: %w", ErrPageFetch, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return PageResult{}, fmt.Errorf("%w: page %d: %w", ErrPageFetch, page, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusServiceUnavailable:
		return PageResult{}, ErrMaintenance
	case resp.StatusCode != http.StatusOK:
		return PageResult{}, fmt.Errorf("%w: page %d: status %d", ErrBadStatus, page, resp.StatusCode)
	}

	var body pageResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return PageResult{}, fmt.Errorf("%w: page %d: %w", ErrPageFetch, page, err)
	}

	res := PageResult{
		Count:   body.Count,
		Last:    body.Last,
		Entries: make([]model.Record, 0, len(body.List)),
	}
	for _, e := range body.List {
		res.Entries = append(res.Entries, model.Record{
			ID:    e.ID,
			Rank:  e.Rank,
			Name:  e.Name,
			Point: e.Point,
		})
	}
	return res, nil
}

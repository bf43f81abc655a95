package propublica

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultBaseURL is the production Nonprofit Explorer API root.
const DefaultBaseURL = "https://projects.propublica.org/nonprofits/api/v2"

const (
	defaultTimeout       = 30 * time.Second
	defaultMaxAttempts   = 3
	defaultRetryInterval = time.Second
)

// Client fetches from the Nonprofit Explorer API. Every attempt, including
// retries, first acquires the rate limiter. 5xx, 429, and transport errors
// are retried with exponential backoff; other 4xx fail immediately.
type Client struct {
	baseURL       string
	hc            *http.Client
	limiter       *Limiter
	maxAttempts   int
	retryInterval time.Duration
	log           *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL overrides the upstream root. Used by tests.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient substitutes the underlying http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.hc = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.hc.Timeout = d
		}
	}
}

// WithMaxAttempts caps total tries per request, retries included.
func WithMaxAttempts(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithRetryInterval sets the initial backoff interval.
func WithRetryInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.retryInterval = d
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(log *slog.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// NewClient builds a client over the given limiter. The limiter is required;
// unthrottled access to the upstream is a misconfiguration.
func NewClient(limiter *Limiter, opts ...ClientOption) (*Client, error) {
	if limiter == nil {
		return nil, newConfigError("rate limiter is required")
	}
	c := &Client{
		baseURL:       DefaultBaseURL,
		hc:            &http.Client{Timeout: defaultTimeout},
		limiter:       limiter,
		maxAttempts:   defaultMaxAttempts,
		retryInterval: defaultRetryInterval,
		log:           slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SearchQuery is the filter set for one /search.json page.
type SearchQuery struct {
	Query          string
	Page           int
	State          string
	NTEECategory   int
	SubsectionCode int
}

// Search fetches one page of search results.
func (c *Client) Search(ctx context.Context, q SearchQuery) (*SearchResult, error) {
	if q.Query == "" {
		return nil, newValidationError("query", "query is required")
	}
	if q.State != "" && !IsUSState(q.State) {
		return nil, newValidationError("state", "unknown state code %q", q.State)
	}
	if q.NTEECategory != 0 {
		if _, ok := NTEECategories[q.NTEECategory]; !ok {
			return nil, newValidationError("ntee_category", "ntee category must be 1-10, got %d", q.NTEECategory)
		}
	}
	if q.SubsectionCode != 0 {
		if _, ok := SubsectionCodes[q.SubsectionCode]; !ok {
			return nil, newValidationError("subsection_code", "unknown subsection code %d", q.SubsectionCode)
		}
	}

	params := url.Values{}
	params.Set("q", q.Query)
	if q.Page > 0 {
		params.Set("page", strconv.Itoa(q.Page))
	}
	if q.State != "" {
		params.Set("state[id]", q.State)
	}
	if q.NTEECategory != 0 {
		params.Set("ntee[id]", strconv.Itoa(q.NTEECategory))
	}
	if q.SubsectionCode != 0 {
		params.Set("c_code[id]", strconv.Itoa(q.SubsectionCode))
	}

	var out SearchResult
	if err := c.getJSON(ctx, "/search.json", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetOrganization fetches an organization's record and full filing history.
// The EIN is normalized first; a malformed EIN is a validation error.
func (c *Client) GetOrganization(ctx context.Context, ein string) (*OrganizationResult, error) {
	normalized, err := NormalizeEIN(ein)
	if err != nil {
		return nil, err
	}
	var out OrganizationResult
	if err := c.getJSON(ctx, "/organizations/"+normalized+".json", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// getJSON performs a rate-limited GET with retry and decodes the body.
func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	attempt := 0
	op := func() error {
		attempt++
		if err := c.limiter.Acquire(ctx); err != nil {
			return backoff.Permanent(err)
		}

		start := time.Now()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.hc.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			c.log.WarnContext(ctx, "propublica.fetch.network_error",
				slog.String("path", path),
				slog.Int("attempt", attempt),
				slog.String("err", err.Error()),
			)
			return &Error{Kind: ErrorKindUpstreamUnavailable, Message: err.Error()}
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return backoff.Permanent(&Error{
					Kind:    ErrorKindUpstreamUnavailable,
					Message: fmt.Sprintf("decode response: %v", err),
				})
			}
			c.log.DebugContext(ctx, "propublica.fetch.ok",
				slog.String("path", path),
				slog.Int("attempt", attempt),
				slog.Duration("dur", time.Since(start)),
			)
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			c.log.WarnContext(ctx, "propublica.fetch.retryable",
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt),
			)
			return &Error{
				Kind:       ErrorKindUpstreamUnavailable,
				Message:    fmt.Sprintf("upstream returned %d", resp.StatusCode),
				StatusCode: resp.StatusCode,
			}
		default:
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return backoff.Permanent(&Error{
				Kind:       ErrorKindUpstreamClient,
				Message:    fmt.Sprintf("upstream rejected request with %d", resp.StatusCode),
				StatusCode: resp.StatusCode,
			})
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryInterval
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.1
	bo.MaxElapsedTime = 0

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.maxAttempts-1)), ctx))
	if err != nil {
		c.log.ErrorContext(ctx, "propublica.fetch.fail",
			slog.String("path", path),
			slog.Int("attempts", attempt),
			slog.String("err", err.Error()),
		)
	}
	return err
}

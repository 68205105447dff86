package crossref

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/crossharvest/crossharvest/internal/logger"
)

const (
	// BaseURL is the Crossref works endpoint.
	BaseURL = "https://api.crossref.org/works"

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 60 * time.Second

	// DefaultUserAgent identifies the harvester; a mailto is appended when known.
	DefaultUserAgent = "crossharvest/1.0"

	// Retry defaults for 429/5xx and network failures.
	DefaultMaxTries    = 6
	DefaultBaseBackoff = 1 * time.Second
	DefaultMaxBackoff  = 30 * time.Second

	// DefaultPagePause is the courtesy delay between page requests.
	DefaultPagePause = 300 * time.Millisecond

	// maxErrorBody bounds how much of an error response is kept for diagnostics.
	maxErrorBody = 500
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Client is a paced, retrying HTTP client for the Crossref works endpoint.
type Client struct {
	httpClient  *http.Client
	limiter     *rate.Limiter
	baseURL     string
	userAgent   string
	mailto      string
	maxTries    int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	sleep       SleepFunc
	log         *logger.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithUserAgent sets the request identity. The mailto address, if any, is
// added to the User-Agent as Crossref's polite pool asks.
func WithUserAgent(userAgent, mailto string) ClientOption {
	return func(c *Client) {
		if userAgent != "" {
			c.userAgent = userAgent
		}
		c.mailto = mailto
	}
}

// WithRetry sets the attempt budget and backoff bounds for transient failures.
func WithRetry(maxTries int, base, max time.Duration) ClientOption {
	return func(c *Client) {
		c.maxTries = maxTries
		c.baseBackoff = base
		c.maxBackoff = max
	}
}

// WithPagePause sets the minimum interval between page requests. Zero
// disables pacing.
func WithPagePause(d time.Duration) ClientOption {
	return func(c *Client) {
		if d <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithSleep replaces the backoff sleeper (for testing).
func WithSleep(fn SleepFunc) ClientOption {
	return func(c *Client) {
		c.sleep = fn
	}
}

// WithLogger sets the logger used for retry and degradation messages.
func WithLogger(l *logger.Logger) ClientOption {
	return func(c *Client) {
		c.log = l
	}
}

// NewClient creates a new Crossref client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient:  &http.Client{Timeout: DefaultTimeout},
		limiter:     rate.NewLimiter(rate.Every(DefaultPagePause), 1),
		baseURL:     BaseURL,
		userAgent:   DefaultUserAgent,
		maxTries:    DefaultMaxTries,
		baseBackoff: DefaultBaseBackoff,
		maxBackoff:  DefaultMaxBackoff,
		sleep:       SleepContext,
		log:         logger.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.maxTries <= 0 {
		c.maxTries = 1
	}

	return c
}

// SleepContext sleeps for d, returning early with ctx.Err() on cancellation.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// FetchPage requests one page of results.
//
// Rate limiting (429) and server unavailability (500, 502, 503, 504), as
// well as network failures, are retried after the server's Retry-After or an
// exponential backoff, up to the attempt budget. A 400 response is retried
// with a narrower query (see Query.degrade); each narrowing is tried once.
// A body that is not valid JSON yields ErrInvalidResponse, which is not
// retried here. Every other failure is a *TransportError.
func (c *Client) FetchPage(ctx context.Context, q Query) (*Page, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	query := q
	var applied []Degradation
	tries := 0
	backoff := c.baseBackoff

	for {
		status, header, body, err := c.get(ctx, query)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			tries++
			if tries >= c.maxTries {
				return nil, &TransportError{Attempts: tries, Body: err.Error(), Err: ErrNetworkError}
			}
			c.log.Warn("crossref request failed, retrying", "error", err, "attempt", tries, "wait", backoff)
			if err := c.sleep(ctx, backoff); err != nil {
				return nil, err
			}
			backoff = nextBackoff(backoff, c.maxBackoff)
			continue
		}

		switch {
		case status == http.StatusBadRequest:
			next, step, ok := query.degrade()
			if !ok {
				return nil, &TransportError{StatusCode: status, Attempts: tries + 1, Body: truncate(body), Err: ErrBadRequest}
			}
			c.log.Warn("crossref rejected request, narrowing", "step", step, "body", truncate(body))
			applied = append(applied, step)
			query = next
			continue

		case isRetryable(status):
			tries++
			if tries >= c.maxTries {
				sentinel := ErrUnavailable
				if status == http.StatusTooManyRequests {
					sentinel = ErrRateLimited
				}
				return nil, &TransportError{StatusCode: status, Attempts: tries, Body: truncate(body), Err: sentinel}
			}
			wait, ok := retryAfter(header)
			if !ok {
				wait = backoff
			}
			c.log.Warn("crossref busy, backing off", "status", status, "attempt", tries, "wait", wait)
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
			backoff = nextBackoff(backoff, c.maxBackoff)
			continue

		case status < 200 || status >= 300:
			return nil, &TransportError{StatusCode: status, Attempts: tries + 1, Body: truncate(body), Err: ErrUnexpectedStatus}
		}

		var resp Response
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}

		return &Page{
			Items:        resp.Message.Items,
			NextCursor:   resp.Message.NextCursor,
			Total:        resp.Message.TotalResults,
			Effective:    query,
			Degradations: applied,
		}, nil
	}
}

// get performs one GET and reads the whole body.
func (c *Client) get(ctx context.Context, q Query) (int, http.Header, []byte, error) {
	values := q.Values()
	if c.mailto != "" && values.Get("mailto") == "" {
		values.Set("mailto", c.mailto)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+values.Encode(), nil)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgentHeader())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("reading body: %w", err)
	}
	return resp.StatusCode, resp.Header, body, nil
}

func (c *Client) userAgentHeader() string {
	if c.mailto == "" {
		return c.userAgent
	}
	return fmt.Sprintf("%s (mailto:%s)", c.userAgent, c.mailto)
}

func isRetryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date.
func retryAfter(h http.Header) (time.Duration, bool) {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs >= 0 {
		return time.Duration(secs * float64(time.Second)), true
	}
	if t, err := http.ParseTime(v); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody])
	}
	return string(b)
}

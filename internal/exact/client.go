package exact

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/tonimelisma/exact-go/internal/odata"
)

// Retry and backoff constants.
const (
	DefaultMaxRetries = 3
	DefaultTimeout    = 30 * time.Second
	baseBackoff       = 1 * time.Second
	maxBackoff        = 30 * time.Second
	backoffFactor     = 2.0
	jitterFraction    = 0.25
	defaultUserAgent  = "exact-go/dev"
	apiPrefix         = "/api/v1"
)

// TokenSource provides OAuth2 bearer tokens. Defined at the consumer per Go
// convention "accept interfaces, return structs".
type TokenSource interface {
	Token() (string, error)
}

// Options tunes a Client. The zero value is usable.
type Options struct {
	// Division is the administration used for relative paths.
	Division int
	// UserAgent defaults to "exact-go/dev".
	UserAgent string
	// RequestsPerMinute throttles outgoing requests; 0 disables throttling.
	RequestsPerMinute int
	// Metrics, when set, records every round trip.
	Metrics *Metrics
	// MinutelyHeader and DailyHeader name the remaining-calls headers
	// reported to Metrics.
	MinutelyHeader string
	DailyHeader    string
}

// Client sends requests to the Exact Online REST API. It implements
// resource.Transport and is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	logger     *slog.Logger
	opts       Options
	limiter    *rate.Limiter
}

// NewClient creates an API client. baseURL is the site root, typically
// "https://start.exactonline.nl"; "/api/v1" is appended.
func NewClient(baseURL string, httpClient *http.Client, token TokenSource, logger *slog.Logger, opts Options) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}

	if opts.MinutelyHeader == "" {
		opts.MinutelyHeader = odata.DefaultMinutelyRemainingHeader
	}

	if opts.DailyHeader == "" {
		opts.DailyHeader = odata.DefaultDailyRemainingHeader
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		token:      token,
		logger:     logger,
		opts:       opts,
		limiter:    limiter,
	}
}

// Division returns the division used for relative paths.
func (c *Client) Division() int {
	return c.opts.Division
}

// WithDivision returns a copy of c that targets another division. The copy
// shares the HTTP client, token source and throttle.
func (c *Client) WithDivision(division int) *Client {
	cp := *c
	cp.opts.Division = division

	return &cp
}

// ResolveURL turns a resource URI into an absolute, wire-encoded URL.
//   - absolute URLs (pagination links) are used as-is
//   - "/current/Me" is relative to /api/v1
//   - "crm/Accounts" is relative to /api/v1/{division}
func (c *Client) ResolveURL(uri string) (string, error) {
	switch {
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		return odata.EncodeURI(uri), nil
	case strings.HasPrefix(uri, "/"):
		return odata.EncodeURI(c.baseURL + apiPrefix + uri), nil
	case c.opts.Division == 0:
		return "", fmt.Errorf("%w: %s", ErrNoDivision, uri)
	default:
		return odata.EncodeURI(c.baseURL + apiPrefix + "/" + strconv.Itoa(c.opts.Division) + "/" + uri), nil
	}
}

// Do executes one request. body, when non-nil, is sent as JSON. Every HTTP
// status is returned as a response for odata.NewResponse to classify;
// only connection-level failures (after retries) and cancellation are
// errors.
func (c *Client) Do(ctx context.Context, method, uri string, body map[string]any) (odata.RawResponse, error) {
	url, err := c.ResolveURL(uri)
	if err != nil {
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("exact: request canceled: %w", err)
	}

	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("exact: encoding request body: %w", err)
		}

		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, payload)
	if err != nil {
		return nil, fmt.Errorf("exact: creating request: %w", err)
	}

	tok, err := c.token.Token()
	if err != nil {
		return nil, fmt.Errorf("exact: obtaining token: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.opts.UserAgent)

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.opts.Metrics.observe(method, 0, time.Since(start))

		if ctx.Err() != nil {
			return nil, fmt.Errorf("exact: request canceled: %w", ctx.Err())
		}

		return nil, fmt.Errorf("exact: %s %s: %w", method, uri, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.opts.Metrics.observe(method, resp.StatusCode, time.Since(start))
		return nil, fmt.Errorf("exact: reading response body: %w", err)
	}

	c.opts.Metrics.observe(method, resp.StatusCode, time.Since(start))
	c.recordRateLimit(resp.Header)

	c.logger.Debug("request completed",
		slog.String("method", method),
		slog.String("uri", uri),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)),
	)

	return odata.NewHTTPResponse(resp, data), nil
}

func (c *Client) recordRateLimit(h http.Header) {
	for window, name := range map[string]string{"minutely": c.opts.MinutelyHeader, "daily": c.opts.DailyHeader} {
		if n, err := strconv.Atoi(strings.TrimSpace(h.Get(name))); err == nil {
			c.opts.Metrics.setRemaining(window, n)
		}
	}
}

// NewHTTPClient returns an *http.Client that retries connection-level
// failures up to maxRetries times with exponential backoff. HTTP responses,
// including 429 and 5xx, are never retried: rate-limit and error handling
// belong to the caller.
func NewHTTPClient(timeout time.Duration, maxRetries int, logger *slog.Logger) *http.Client {
	return newRetryClient(timeout, maxRetries, logger, calcBackoff)
}

func newRetryClient(timeout time.Duration, maxRetries int, logger *slog.Logger, backoff retryablehttp.Backoff) *http.Client {
	if logger == nil {
		logger = slog.Default()
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = maxRetries
	rc.RetryWaitMin = baseBackoff
	rc.RetryWaitMax = maxBackoff
	rc.Backoff = backoff
	rc.CheckRetry = retryConnectionErrors
	rc.Logger = logger
	rc.HTTPClient.Timeout = timeout

	return rc.StandardClient()
}

// retryConnectionErrors retries only when no response was received.
func retryConnectionErrors(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	if err == nil {
		return false, nil
	}

	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// calcBackoff computes exponential backoff with ±25% jitter, capped at max.
func calcBackoff(minWait, maxWait time.Duration, attempt int, _ *http.Response) time.Duration {
	backoff := float64(minWait) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxWait) {
		backoff = float64(maxWait)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

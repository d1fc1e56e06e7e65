// Package edgar is the single gateway to SEC EDGAR.
//
// Every outbound request carries the caller-identifying User-Agent, waits on one
// process-wide limiter that enforces the minimum inter-request delay, is retried a
// bounded number of times, and runs behind a circuit breaker so a failing upstream
// is reported as models.ErrUpstreamUnavailable instead of being hammered.
package edgar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"edgar_reconciler/pkg/models"
)

const (
	DefaultUserAgent    = "edgar-reconciler research@example.com"
	DefaultDataBaseURL  = "https://data.sec.gov"
	DefaultWWWBaseURL   = "https://www.sec.gov"
	DefaultRequestDelay = time.Second
	DefaultMaxAttempts  = 3
)

// RetryBaseDelay is the first backoff between attempts; it doubles on each retry.
// Tests override this to avoid real sleeps.
var RetryBaseDelay = 2 * time.Second

// StatusError is a non-200 response from EDGAR.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d for %s", e.Code, e.URL)
}

// IsNotFound reports whether err is a 404 from EDGAR.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

// Client handles all SEC EDGAR traffic for the process.
type Client struct {
	httpClient  *http.Client
	userAgent   string
	dataBaseURL string
	wwwBaseURL  string
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker
	maxAttempts int
	logger      zerolog.Logger
	onResponse  func(status string)
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithBaseURLs points the client at alternative hosts (used by tests).
func WithBaseURLs(dataBaseURL, wwwBaseURL string) Option {
	return func(c *Client) {
		c.dataBaseURL = strings.TrimRight(dataBaseURL, "/")
		c.wwwBaseURL = strings.TrimRight(wwwBaseURL, "/")
	}
}

// WithRequestDelay sets the minimum gap between any two requests of this client.
func WithRequestDelay(d time.Duration) Option {
	return func(c *Client) {
		if d <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l.With().Str("component", "edgar").Logger() }
}

// WithResponseHook is called with the status class ("2xx", "4xx", "5xx", "error") of every attempt.
func WithResponseHook(fn func(status string)) Option {
	return func(c *Client) { c.onResponse = fn }
}

// NewClient builds a client. One client should be shared by the whole process so the
// request delay holds across concurrent runs.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		userAgent:   DefaultUserAgent,
		dataBaseURL: DefaultDataBaseURL,
		wwwBaseURL:  DefaultWWWBaseURL,
		limiter:     rate.NewLimiter(rate.Every(DefaultRequestDelay), 1),
		maxAttempts: DefaultMaxAttempts,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	st := gobreaker.Settings{Name: "sec-edgar"}
	st.Interval = 60 * time.Second
	st.Timeout = 60 * time.Second
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		if counts.ConsecutiveFailures >= 3 {
			return true
		}
		if counts.Requests < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(counts.Requests) > 0.5
	}
	// Client errors and cancellations say nothing about upstream health.
	st.IsSuccessful = func(err error) bool {
		if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return true
		}
		var se *StatusError
		if errors.As(err, &se) {
			return se.Code < 500 && se.Code != http.StatusTooManyRequests
		}
		return false
	}
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		c.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
	}
	c.breaker = gobreaker.NewCircuitBreaker(st)

	return c
}

// UserAgent returns the header value sent on every request.
func (c *Client) UserAgent() string {
	return c.userAgent
}

// Get fetches url with the delay, retry and breaker policy applied.
// Exhausted retries and an open breaker both wrap models.ErrUpstreamUnavailable.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.getWithRetry(ctx, url)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %s: %v", models.ErrUpstreamUnavailable, url, err)
		}
		return nil, err
	}
	return out.([]byte), nil
}

func (c *Client) getWithRetry(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * RetryBaseDelay
			c.logger.Debug().Str("url", url).Int("attempt", attempt+1).Dur("backoff", backoff).Err(lastErr).Msg("retrying")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		body, err := c.fetch(ctx, url)
		if err == nil {
			return body, nil
		}
		if !retryable(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %s after %d attempts: %v", models.ErrUpstreamUnavailable, url, c.maxAttempts, lastErr)
}

func (c *Client) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json, text/html, application/xml, */*")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe("error")
		return nil, err
	}
	defer resp.Body.Close()

	c.observe(fmt.Sprintf("%dxx", resp.StatusCode/100))
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{URL: url, Code: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) observe(status string) {
	if c.onResponse != nil {
		c.onResponse(status)
	}
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	// Transport errors: connection reset, timeout, EOF.
	return true
}

// PadCIK normalizes a CIK to the 10-digit zero-padded form used by the submissions API.
func PadCIK(cik string) string {
	cik = strings.TrimLeft(strings.TrimSpace(cik), "0")
	return fmt.Sprintf("%010s", cik)
}

// archiveCIK is the unpadded CIK used in archive paths.
func archiveCIK(cik string) string {
	trimmed := strings.TrimLeft(cik, "0")
	if trimmed == "" {
		return "0"
	}
	return trimmed
}

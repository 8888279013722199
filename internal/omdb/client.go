// Package omdb looks up movie metadata from the OMDb API.
package omdb

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/lepinkainen/reelbase/internal/errors"
	"github.com/lepinkainen/reelbase/internal/ratelimit"
)

const (
	// DefaultBaseURL is the public OMDb endpoint.
	DefaultBaseURL = "http://www.omdbapi.com"

	defaultMinInterval     = 200 * time.Millisecond
	defaultTimeout         = 10 * time.Second
	defaultBreakerFailures = 5
	defaultBreakerCooldown = 30 * time.Second

	requestLimitMessage = "Request limit reached!"
)

// HTTPDoer is an interface for making HTTP requests.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client is an OMDb API client. It is safe for concurrent use; all callers
// share one request interval.
type Client struct {
	apiKey       string
	baseURL      string
	httpClient   HTTPDoer
	rateLimiter  *ratelimit.Limiter
	breaker      *gobreaker.CircuitBreaker[*Response]
	limitReached atomic.Bool
	requests     atomic.Int64

	breakerFailures uint32
	breakerCooldown time.Duration
}

// Option is a functional option for configuring the Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c HTTPDoer) Option {
	return func(client *Client) {
		if c != nil {
			client.httpClient = c
		}
	}
}

// WithBaseURL sets a custom base URL for the OMDb API.
func WithBaseURL(base string) Option {
	return func(client *Client) {
		if base != "" {
			client.baseURL = strings.TrimRight(base, "/")
		}
	}
}

// WithMinInterval sets the minimum delay between requests.
func WithMinInterval(d time.Duration) Option {
	return func(client *Client) {
		client.rateLimiter = ratelimit.NewInterval("OMDb", d)
	}
}

// WithBreaker configures the circuit breaker. The circuit opens after
// failures consecutive transport failures and stays open for cooldown.
func WithBreaker(failures uint32, cooldown time.Duration) Option {
	return func(client *Client) {
		if failures > 0 {
			client.breakerFailures = failures
		}
		if cooldown > 0 {
			client.breakerCooldown = cooldown
		}
	}
}

// NewClient creates an OMDb client. An empty apiKey puts the client in
// offline mode where every lookup is Unavailable and no request is made.
func NewClient(apiKey string, opts ...Option) *Client {
	client := &Client{
		apiKey:          strings.TrimSpace(apiKey),
		baseURL:         DefaultBaseURL,
		httpClient:      &http.Client{Timeout: defaultTimeout},
		rateLimiter:     ratelimit.NewInterval("OMDb", defaultMinInterval),
		breakerFailures: defaultBreakerFailures,
		breakerCooldown: defaultBreakerCooldown,
	}

	for _, opt := range opts {
		opt(client)
	}

	failures := client.breakerFailures
	client.breaker = gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:        "omdb",
		MaxRequests: 1,
		Timeout:     client.breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			// Only transport trouble counts against the circuit.
			return err == nil || errors.IsRateLimitError(err) || stderrors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("OMDb circuit breaker state changed", "from", from.String(), "to", to.String())
		},
	})

	return client
}

// Offline reports whether the client has no API key.
func (c *Client) Offline() bool {
	return c.apiKey == ""
}

// Requests returns the number of HTTP requests sent so far.
func (c *Client) Requests() int64 {
	return c.requests.Load()
}

// Lookup finds a movie by title and optional year. When a year is given and
// the year-scoped attempt has no match or fails in transport, one more
// attempt is made without the year.
//
// The returned error is only ever a context error. Every other failure is
// reported as an Unavailable outcome. NotFound means every attempt got a
// "no such title" answer.
func (c *Client) Lookup(ctx context.Context, title string, year *int) (Result, error) {
	if c.Offline() {
		return Result{Outcome: Unavailable}, nil
	}

	resp, primaryErr := c.attempt(ctx, title, year)
	if primaryErr != nil && (year == nil || !canFallBack(ctx, primaryErr)) {
		return c.unavailable(ctx, title, primaryErr)
	}

	if resp == nil && year != nil {
		if primaryErr != nil {
			slog.Warn("OMDb lookup with year failed, retrying without", "title", title, "year", *year, "error", primaryErr)
		} else {
			slog.Debug("No OMDb match with year, retrying without", "title", title, "year", *year)
		}

		var err error
		resp, err = c.attempt(ctx, title, nil)
		if err != nil {
			return c.unavailable(ctx, title, err)
		}
	}

	if resp == nil {
		if primaryErr != nil {
			return Result{Outcome: Unavailable}, nil
		}
		return Result{Outcome: NotFound}, nil
	}

	return Result{Outcome: Found, Response: resp, Record: Normalize(resp)}, nil
}

func (c *Client) unavailable(ctx context.Context, title string, err error) (Result, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{Outcome: Unavailable}, ctxErr
	}
	switch {
	case errors.IsRateLimitError(err):
		c.MarkRateLimitReached()
	case stderrors.Is(err, gobreaker.ErrOpenState), stderrors.Is(err, gobreaker.ErrTooManyRequests):
		slog.Debug("OMDb circuit open, skipping lookup", "title", title)
	default:
		slog.Warn("OMDb lookup failed", "title", title, "error", err)
	}
	return Result{Outcome: Unavailable}, nil
}

// canFallBack reports whether a failed year-scoped attempt may be followed by
// the year-less one. Cancellation, the request-limit latch and an open
// circuit end the lookup.
func canFallBack(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	switch {
	case errors.IsRateLimitError(err),
		stderrors.Is(err, gobreaker.ErrOpenState),
		stderrors.Is(err, gobreaker.ErrTooManyRequests):
		return false
	}
	return true
}

// attempt runs a single throttled request. A nil response with a nil error
// means the service answered that it has no such title.
func (c *Client) attempt(ctx context.Context, title string, year *int) (*Response, error) {
	if !c.RequestsAllowed() {
		return nil, errors.NewRateLimitError("OMDb API request limit reached")
	}
	if c.breaker.State() == gobreaker.StateOpen {
		return nil, gobreaker.ErrOpenState
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	return c.breaker.Execute(func() (*Response, error) {
		return c.fetch(ctx, title, year)
	})
}

func (c *Client) fetch(ctx context.Context, title string, year *int) (*Response, error) {
	params := url.Values{}
	params.Set("apikey", c.apiKey)
	params.Set("t", title)
	if year != nil {
		params.Set("y", strconv.Itoa(*year))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	slog.Debug("Fetching OMDb data by title", "title", title, "year", yearString(year))
	c.requests.Add(1)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch data: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var omdbResp Response
	decodeErr := json.Unmarshal(body, &omdbResp)

	// OMDb reports an exhausted daily quota with a 401 and this message.
	if decodeErr == nil && omdbResp.Error == requestLimitMessage {
		return nil, errors.NewRateLimitError("OMDb API request limit reached")
	}

	if resp.StatusCode != http.StatusOK {
		if decodeErr == nil && omdbResp.Error != "" {
			return nil, fmt.Errorf("OMDb API returned status %d: %s", resp.StatusCode, omdbResp.Error)
		}
		return nil, fmt.Errorf("OMDb API returned non-200 status code: %d", resp.StatusCode)
	}

	if decodeErr != nil {
		return nil, fmt.Errorf("failed to decode response: %w", decodeErr)
	}

	if omdbResp.Response == "False" {
		slog.Debug("Movie not found in OMDb", "title", title, "year", yearString(year), "reason", omdbResp.Error)
		return nil, nil
	}

	if omdbResp.Response != "True" {
		return nil, fmt.Errorf("unexpected OMDb response field %q", omdbResp.Response)
	}

	return &omdbResp, nil
}

func yearString(year *int) string {
	if year == nil {
		return ""
	}
	return strconv.Itoa(*year)
}

package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/RaajeevKalyan/portfolio-analyzer/internal/circuitbreaker"
	apperrors "github.com/RaajeevKalyan/portfolio-analyzer/internal/errors"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/logging"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/retry"
)

// flexFloat64 handles JSON values that may be either a number or a string.
type flexFloat64 float64

func (f *flexFloat64) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*f = flexFloat64(num)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		s = strings.TrimSuffix(strings.TrimSpace(s), "%")
		if s == "" || s == "N/A" {
			*f = 0
			return nil
		}
		num, err := strconv.ParseFloat(s, 64)
		if err != nil {
			*f = 0
			return nil
		}
		*f = flexFloat64(num)
		return nil
	}
	if string(data) == "null" {
		*f = 0
		return nil
	}
	return fmt.Errorf("cannot unmarshal %s into float64", string(data))
}

const (
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 5 // requests per second
)

// APIError represents a non-success HTTP answer from a provider
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// Pacer blocks until the next provider call is allowed. The Redis-backed
// ratelimit.Throttle satisfies it.
type Pacer interface {
	Wait(ctx context.Context) error
}

// httpClient is the transport shared by the provider clients: pacing,
// circuit breaker, retry with backoff and health accounting.
type httpClient struct {
	provider    string
	baseURL     string
	apiKey      string
	apiKeyParam string
	client      *http.Client
	limiter     *rate.Limiter
	pacer       Pacer
	breaker     *circuitbreaker.CircuitBreaker
	retry       *retry.RetryConfig
	health      *healthTracker
}

// ClientOption configures a provider client
type ClientOption func(*httpClient)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithAPIKey sets the API key sent with every request
func WithAPIKey(apiKey string) ClientOption {
	return func(c *httpClient) {
		c.apiKey = apiKey
	}
}

// WithRateLimit sets the rate limit
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *httpClient) {
		if requestsPerSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
		}
	}
}

// WithPacer makes every request attempt, retries included, wait on p first
func WithPacer(p Pacer) ClientOption {
	return func(c *httpClient) {
		c.pacer = p
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *httpClient) {
		if timeout > 0 {
			c.client.Timeout = timeout
		}
	}
}

// WithRetryConfig overrides the retry policy
func WithRetryConfig(cfg *retry.RetryConfig) ClientOption {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

// WithCircuitBreaker overrides the circuit breaker settings
func WithCircuitBreaker(cfg *circuitbreaker.Config) ClientOption {
	return func(c *httpClient) {
		cfg.Name = c.provider
		c.breaker = circuitbreaker.NewCircuitBreaker(cfg)
	}
}

func newHTTPClient(provider, baseURL, apiKeyParam string, opts ...ClientOption) *httpClient {
	c := &httpClient{
		provider:    provider,
		baseURL:     baseURL,
		apiKeyParam: apiKeyParam,
		client: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig(provider)),
		retry:   retry.DefaultRetryConfig(),
		health:  newHealthTracker(provider),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Name returns the provider name used in errors and logs
func (c *httpClient) Name() string {
	return c.provider
}

// Health returns request statistics for the provider
func (c *httpClient) Health() *ProviderHealth {
	return c.health.snapshot()
}

// get performs a rate-limited GET with retry and circuit breaking. subject
// names the symbol or fund being looked up for not-found errors.
func (c *httpClient) get(ctx context.Context, subject, path string, params url.Values, result interface{}) error {
	return retry.Do(ctx, c.retry, func(ctx context.Context, attempt int) error {
		if c.pacer != nil {
			if err := c.pacer.Wait(ctx); err != nil {
				return fmt.Errorf("%s: %w: %w", c.provider, ErrPacing, err)
			}
		}
		return c.breaker.Execute(ctx, func(ctx context.Context) error {
			return c.doGet(ctx, subject, path, params, result)
		})
	})
}

func (c *httpClient) doGet(ctx context.Context, subject, path string, params url.Values, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	query := url.Values{}
	for k, v := range params {
		query[k] = v
	}
	if c.apiKey != "" {
		query.Set(c.apiKeyParam, c.apiKey)
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"provider": c.provider,
		"url":      c.baseURL + path,
	}).Debug("Provider API request")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.health.recordFailure()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return apperrors.NewProviderTimeoutError(c.provider)
		}
		return apperrors.NewProviderError(c.provider, fmt.Errorf("failed to execute request: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		c.health.recordSuccess(time.Since(start), true)
		return apperrors.NewProviderNotFoundError(c.provider, subject)
	case resp.StatusCode == http.StatusTooManyRequests:
		c.health.recordFailure()
		return apperrors.NewProviderRateLimitError(c.provider)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
			Endpoint:   path,
		}
		c.health.recordFailure()
		if resp.StatusCode >= 500 {
			return apperrors.NewProviderError(c.provider, apiErr)
		}
		// other 4xx answers will not change on retry
		return NewAdapterError(c.provider, "GET", apiErr, nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		c.health.recordFailure()
		return apperrors.NewProviderError(c.provider, fmt.Errorf("%w: %v", ErrMalformedResponse, err))
	}

	c.health.recordSuccess(time.Since(start), false)
	return nil
}

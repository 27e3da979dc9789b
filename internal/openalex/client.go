// Package openalex provides a client for the OpenAlex works API. It executes
// structured requests produced by the translation layer and returns raw
// result payloads together with computed pagination.
package openalex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/paperverse/research-query-service/internal/domain"
	"github.com/paperverse/research-query-service/internal/retry"
)

const (
	// DefaultRateLimit is the default sustained request rate per second.
	// The polite pool (with a mailto) tolerates 10 req/sec.
	DefaultRateLimit = 10.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 10

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second

	// maxResponseBytes bounds how much of a works response is read.
	maxResponseBytes = 10 << 20

	sourceName = "openalex"
)

// Config holds configuration for the works API client.
type Config struct {
	// BaseURL is the works endpoint used when a request does not carry its
	// own base URL. Defaults to the public endpoint.
	BaseURL string

	// Mailto is the contact email appended to every request for the polite
	// pool. Empty means the common (slower) pool.
	Mailto string

	// Timeout is the per-request timeout. Defaults to 30 seconds.
	Timeout time.Duration

	// RateLimit is the maximum requests per second. Defaults to 10.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed. Defaults to 10.
	BurstSize int

	// RetryPolicy shapes the backoff applied to transient failures.
	RetryPolicy retry.Policy

	// UserAgent is sent with every request.
	UserAgent string
}

// applyDefaults sets default values for unset configuration fields.
func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = domain.DefaultWorksURL
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.BurstSize == 0 {
		c.BurstSize = DefaultBurstSize
	}
	if c.RetryPolicy.MaxAttempts == 0 {
		c.RetryPolicy = retry.DefaultPolicy()
	}
	if c.UserAgent == "" {
		c.UserAgent = "research-query-service/1.0"
		if c.Mailto != "" {
			c.UserAgent = fmt.Sprintf("research-query-service/1.0 (mailto:%s)", c.Mailto)
		}
	}
}

// Client executes structured requests against the works API with rate
// limiting and bounded retries. It is safe for concurrent use.
type Client struct {
	config      Config
	httpClient  *http.Client
	rateLimiter *RateLimiter
	logger      zerolog.Logger

	// OnRetry, when set, is invoked before each retry attempt.
	OnRetry retry.OnRetry
}

// New creates a new works API client with the given configuration.
func New(cfg Config, logger zerolog.Logger) *Client {
	cfg.applyDefaults()

	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		rateLimiter: NewRateLimiter(cfg.RateLimit, cfg.BurstSize),
		logger:      logger.With().Str("component", "openalex").Logger(),
	}
}

// Fetch executes the structured request and returns the raw results with
// computed pagination. Transient upstream failures are retried with backoff;
// a request that keeps failing surfaces as ErrUpstreamUnavailable.
func (c *Client) Fetch(ctx context.Context, req domain.StructuredRequest) (*domain.SearchResult, error) {
	searchURL, err := c.buildURL(req)
	if err != nil {
		return nil, fmt.Errorf("building search URL: %w", err)
	}

	env, err := retry.Do(ctx, c.config.RetryPolicy, func(ctx context.Context) (envelope, error) {
		return c.fetchOnce(ctx, searchURL)
	}, c.OnRetry)
	if err != nil {
		return nil, err
	}

	page, perPage := pageParams(req, env.Meta)
	return &domain.SearchResult{
		Raw:        env.Results,
		Pagination: domain.ComputePagination(page, perPage, env.Meta.Count),
	}, nil
}

// fetchOnce performs a single rate-limited GET and decodes the envelope.
func (c *Client) fetchOnce(ctx context.Context, searchURL string) (envelope, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return envelope{}, fmt.Errorf("rate limiter wait: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return envelope{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("User-Agent", c.config.UserAgent)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return envelope{}, ctx.Err()
		}
		return envelope{}, domain.NewTransientError(sourceName, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return envelope{}, domain.NewTransientError(sourceName, fmt.Errorf("reading response body: %w", err))
	}

	if statusErr := retry.ClassifyStatus(sourceName, resp.StatusCode, resp.Header, truncate(string(body), 200)); statusErr != nil {
		return envelope{}, statusErr
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return envelope{}, domain.NewUpstreamError(sourceName, resp.StatusCode, "malformed response body", err)
	}
	if env.Results == nil {
		env.Results = json.RawMessage("[]")
	}
	return env, nil
}

// buildURL assembles the request URL strictly from the sanitized parameters,
// plus the polite pool mailto when configured.
func (c *Client) buildURL(req domain.StructuredRequest) (string, error) {
	baseURL := req.BaseURL
	if baseURL == "" {
		baseURL = c.config.BaseURL
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL %q: %w", req.BaseURL, err)
	}

	query := url.Values{}
	for key, value := range req.Params {
		query.Set(key, value)
	}
	if c.config.Mailto != "" {
		query.Set("mailto", c.config.Mailto)
	}

	base.RawQuery = query.Encode()
	return base.String(), nil
}

// pageParams resolves the effective page and per_page for pagination math.
// The request's own values win; the response meta fills the gaps.
func pageParams(req domain.StructuredRequest, m meta) (int, int) {
	page := m.Page
	if v, err := strconv.Atoi(req.Params["page"]); err == nil && v > 0 {
		page = v
	}
	if page < 1 {
		page = 1
	}

	perPage := m.PerPage
	if v, err := strconv.Atoi(req.Params["per_page"]); err == nil && v > 0 {
		perPage = v
	}
	if perPage < 1 {
		perPage = 25
	}

	return page, perPage
}

// truncate bounds upstream error messages included in our own errors.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

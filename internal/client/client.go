package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/forecast-alert-service/internal/circuitbreaker"
	"github.com/kjstillabower/forecast-alert-service/internal/observability"
)

// Fetcher retrieves a raw forecast for a built Query.
type Fetcher interface {
	Fetch(ctx context.Context, q Query) (RawResponse, error)
}

// Defaults for Config fields left at zero.
const (
	DefaultTimeout     = 10 * time.Second
	DefaultMaxRetries  = 2
	DefaultBackoffBase = time.Second
	DefaultUserAgent   = "forecast-alert-service/1.0 (Go)"
)

// Config holds FetchClient settings.
type Config struct {
	// Timeout bounds each attempt, including reading the body.
	Timeout time.Duration
	// MaxRetries is the number of retries after the first attempt. Negative disables retries.
	MaxRetries int
	// BackoffBase is the wait before the first retry; it doubles on each further retry.
	BackoffBase time.Duration
	UserAgent   string
	// HTTPClient defaults to a client without its own timeout; the per-attempt context bounds requests.
	HTTPClient *http.Client
}

// OpenMeteoClient fetches forecasts with a per-attempt timeout and bounded exponential
// backoff. Only timeouts and refused connections are retried.
type OpenMeteoClient struct {
	client      *http.Client
	timeout     time.Duration
	maxRetries  int
	backoffBase time.Duration
	userAgent   string
	logger      *zap.Logger
	metrics     *observability.Metrics
	breaker     *circuitbreaker.Breaker
}

// NewOpenMeteoClient returns a client. logger, metrics and breaker may be nil.
func NewOpenMeteoClient(cfg Config, logger *zap.Logger, metrics *observability.Metrics, breaker *circuitbreaker.Breaker) *OpenMeteoClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenMeteoClient{
		client:      cfg.HTTPClient,
		timeout:     cfg.Timeout,
		maxRetries:  cfg.MaxRetries,
		backoffBase: cfg.BackoffBase,
		userAgent:   cfg.UserAgent,
		logger:      logger,
		metrics:     metrics,
		breaker:     breaker,
	}
}

// Fetch runs up to MaxRetries+1 attempts. After the last attempt the final error is
// returned unchanged. If ctx ends during a backoff wait, ctx.Err() is returned.
func (c *OpenMeteoClient) Fetch(ctx context.Context, q Query) (RawResponse, error) {
	logger := observability.LoggerFromContext(ctx, c.logger)
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt - 1)
			if c.metrics != nil {
				c.metrics.ProviderRetriesTotal.Inc()
			}
			logger.Warn("retrying weather fetch",
				zap.Int("retry", attempt),
				zap.Int("max_retries", c.maxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr))

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return RawResponse{}, ctx.Err()
			case <-timer.C:
			}
		}

		raw, err := c.attempt(ctx, q)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if ctx.Err() != nil || !IsRetryable(err) {
			break
		}
	}

	if c.metrics != nil {
		c.metrics.ProviderErrorsTotal.WithLabelValues(string(KindOf(lastErr))).Inc()
	}
	return RawResponse{}, lastErr
}

// backoff returns base * 2^retry.
func (c *OpenMeteoClient) backoff(retry int) time.Duration {
	return c.backoffBase * time.Duration(1<<uint(retry))
}

func (c *OpenMeteoClient) attempt(ctx context.Context, q Query) (RawResponse, error) {
	if c.breaker == nil {
		return c.callAPI(ctx, q)
	}
	var raw RawResponse
	err := c.breaker.Call(ctx, func() error {
		var err error
		raw, err = c.callAPI(ctx, q)
		return err
	})
	return raw, err
}

func (c *OpenMeteoClient) callAPI(ctx context.Context, q Query) (RawResponse, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, q.URL, nil)
	if err != nil {
		c.observeCall("error", -1)
		return RawResponse{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.observeCall("error", time.Since(start))
		return RawResponse{}, classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	c.observeCall(status, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return RawResponse{}, &ProviderHTTPError{Status: resp.StatusCode, StatusText: statusText(resp)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return RawResponse{}, classifyTransport(ctx, err)
	}

	var raw RawResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return RawResponse{}, &ParseError{Err: err}
	}
	if raw.CurrentWeather == nil {
		return RawResponse{}, &IncompleteResponseError{Field: "current_weather"}
	}
	return raw, nil
}

// observeCall records one attempt. A negative elapsed skips the latency histogram.
func (c *OpenMeteoClient) observeCall(status string, elapsed time.Duration) {
	if c.metrics == nil {
		return
	}
	c.metrics.ProviderCallsTotal.WithLabelValues(status).Inc()
	if elapsed >= 0 {
		c.metrics.ProviderDuration.WithLabelValues(status).Observe(elapsed.Seconds())
	}
}

// statusText extracts the reason phrase from resp.Status ("503 Service Unavailable").
func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return text
}

func statusLabel(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "success"
	case statusCode == http.StatusTooManyRequests:
		return "rate_limited"
	case statusCode >= 400 && statusCode < 500:
		return "client_error"
	case statusCode >= 500:
		return "server_error"
	}
	return "error"
}

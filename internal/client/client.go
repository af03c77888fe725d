package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/forecast-compare-service/internal/models"
	"github.com/kjstillabower/forecast-compare-service/internal/observability"
	"github.com/kjstillabower/forecast-compare-service/internal/traffic"
)

// LocationResolver turns a free-text query into ranked location candidates.
type LocationResolver interface {
	Resolve(ctx context.Context, query string) ([]models.LocationCandidate, error)
}

// ForecastFetcher retrieves normalized daily forecasts for a location key.
type ForecastFetcher interface {
	Fetch(ctx context.Context, locationKey string, horizonDays int) ([]models.ForecastDay, error)
}

var (
	ErrInvalidAPIKey     = errors.New("invalid API key")
	ErrTransport         = errors.New("transport failure")
	ErrUpstreamFailure   = errors.New("upstream failure")
	ErrRateLimited       = errors.New("rate limited")
	ErrMalformedResponse = errors.New("malformed response")
	ErrCircuitOpen       = errors.New("circuit breaker open")
)

const (
	endpointLocations = "locations"
	endpointForecast  = "forecast"

	DefaultLanguage = "ru"

	// maxBodyBytes caps upstream bodies; a 5-day forecast with details is well under 64KB.
	maxBodyBytes = 1 << 20
)

// AccuWeatherClient calls the AccuWeather locations and forecast APIs. Safe for concurrent use.
type AccuWeatherClient struct {
	apiKey       string
	locationsURL string
	forecastURL  string
	language     string
	timeout      time.Duration
	client       *http.Client
	limiter      *rate.Limiter
	breaker      *gobreaker.CircuitBreaker
}

// Option configures optional AccuWeatherClient behavior.
type Option func(*AccuWeatherClient)

// WithLanguage sets the language parameter of location lookups.
func WithLanguage(lang string) Option {
	return func(c *AccuWeatherClient) {
		if lang != "" {
			c.language = lang
		}
	}
}

// WithRateLimiter makes every upstream call wait on l before it is sent.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(c *AccuWeatherClient) { c.limiter = l }
}

// WithCircuitBreaker routes every upstream call through cb.
func WithCircuitBreaker(cb *gobreaker.CircuitBreaker) Option {
	return func(c *AccuWeatherClient) { c.breaker = cb }
}

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *AccuWeatherClient) {
		if hc != nil {
			c.client = hc
		}
	}
}

// NewAccuWeatherClient returns a client for the given endpoints. The API key is required.
func NewAccuWeatherClient(apiKey, locationsURL, forecastURL string, timeout time.Duration, opts ...Option) (*AccuWeatherClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(apiKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}
	if _, err := url.Parse(locationsURL); err != nil {
		return nil, fmt.Errorf("invalid locations URL: %w", err)
	}
	if _, err := url.Parse(forecastURL); err != nil {
		return nil, fmt.Errorf("invalid forecast URL: %w", err)
	}

	c := &AccuWeatherClient{
		apiKey:       apiKey,
		locationsURL: locationsURL,
		forecastURL:  forecastURL,
		language:     DefaultLanguage,
		timeout:      timeout,
		client:       &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewCircuitBreaker builds a breaker that opens after failureThreshold consecutive failures
// and reports state changes to metrics.
func NewCircuitBreaker(name string, failureThreshold uint32, openTimeout time.Duration, halfOpenMaxRequests uint32) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: halfOpenMaxRequests,
		Interval:    time.Minute,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.RecordCircuitBreakerTransition(name, from.String(), to.String())
		},
	})
}

// getJSON performs a GET against rawURL with params and decodes the 2xx body into out.
func (c *AccuWeatherClient) getJSON(ctx context.Context, endpoint, rawURL string, params url.Values, out interface{}) error {
	if c.limiter != nil {
		waitStart := time.Now()
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter wait: %w", err)
		}
		observability.UpstreamRateLimitWaitSeconds.Observe(time.Since(waitStart).Seconds())
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, rawURL, params)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	start := time.Now()
	resp, err := c.execute(req)
	if err != nil {
		c.recordFailure(endpoint, failureLabel(err), start, err)
		return err
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	if err := c.handleErrorResponse(resp); err != nil {
		c.recordFailure(endpoint, status, start, err)
		return err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		err = fmt.Errorf("%w: read response body: %v", ErrTransport, err)
		c.recordFailure(endpoint, "error", start, err)
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		err = fmt.Errorf("%w: parse response: %v", ErrMalformedResponse, err)
		c.recordFailure(endpoint, status, start, err)
		return err
	}

	observability.UpstreamCallsTotal.WithLabelValues(endpoint, status).Inc()
	observability.UpstreamDuration.WithLabelValues(endpoint, status).Observe(time.Since(start).Seconds())
	traffic.RecordUpstreamSuccess()
	return nil
}

// execute sends req, through the breaker when one is configured. Transport failures,
// 5xx and 429 count as breaker failures; other statuses are returned for handleErrorResponse.
func (c *AccuWeatherClient) execute(req *http.Request) (*http.Response, error) {
	do := func() (*http.Response, error) {
		resp, err := c.client.Do(req)
		if err != nil {
			// *url.Error embeds the request URL, which carries the API key.
			var uerr *url.Error
			if errors.As(err, &uerr) {
				err = uerr.Err
			}
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return nil, fmt.Errorf("%w: request timeout: %w", ErrTransport, err)
			}
			return nil, fmt.Errorf("%w: http request failed: %w", ErrTransport, err)
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			herr := c.handleErrorResponse(resp)
			resp.Body.Close()
			return nil, herr
		}
		return resp, nil
	}
	if c.breaker == nil {
		return do()
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return do()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		return nil, err
	}
	resp, ok := result.(*http.Response)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected result type from circuit breaker", ErrTransport)
	}
	return resp, nil
}

func (c *AccuWeatherClient) recordFailure(endpoint, status string, start time.Time, err error) {
	observability.UpstreamCallsTotal.WithLabelValues(endpoint, status).Inc()
	observability.UpstreamDuration.WithLabelValues(endpoint, status).Observe(time.Since(start).Seconds())
	observability.UpstreamErrorsTotal.WithLabelValues(endpoint, string(CategorizeError(err))).Inc()
	if !errors.Is(err, ErrCircuitOpen) {
		traffic.RecordUpstreamError()
	}
}

func (c *AccuWeatherClient) buildRequest(ctx context.Context, rawURL string, params url.Values) (*http.Request, error) {
	baseURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	query := baseURL.Query()
	query.Set("apikey", c.apiKey)
	for k, vs := range params {
		for _, v := range vs {
			query.Add(k, v)
		}
	}
	baseURL.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}
	return req, nil
}

func (c *AccuWeatherClient) handleErrorResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", ErrInvalidAPIKey, resp.StatusCode)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: HTTP %d", ErrRateLimited, resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}

	return nil
}

// failureLabel maps an execute error to the status label its response would have had.
func failureLabel(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrUpstreamFailure):
		return "server_error"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	default:
		return "error"
	}
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/kjstillabower/forecast-compare-service/internal/observability"
)

const testAPIKey = "test-api-key-12345"

func newTestClient(t *testing.T, serverURL string, opts ...Option) *AccuWeatherClient {
	t.Helper()
	c, err := NewAccuWeatherClient(testAPIKey, serverURL+"/locations/v1/cities/autocomplete", serverURL+"/forecasts/v1/daily", 2*time.Second, opts...)
	if err != nil {
		t.Fatalf("NewAccuWeatherClient() error = %v", err)
	}
	return c
}

func TestNewAccuWeatherClient_InvalidAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		apiKey  string
		wantErr error
	}{
		{"empty API key", "", ErrInvalidAPIKey},
		{"too short API key", "short", ErrInvalidAPIKey},
		{"valid API key", "valid-api-key-12345", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewAccuWeatherClient(tt.apiKey, "https://api.test.com/loc", "https://api.test.com/fc", 2*time.Second)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("NewAccuWeatherClient() error = %v, want %v", err, tt.wantErr)
				}
				if c != nil {
					t.Errorf("NewAccuWeatherClient() expected nil client on error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewAccuWeatherClient() unexpected error: %v", err)
			}
			if c.language != DefaultLanguage {
				t.Errorf("language = %q, want %q", c.language, DefaultLanguage)
			}
		})
	}
}

func TestAccuWeatherClient_StatusErrors(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantErr    error
	}{
		{"401 unauthorized", http.StatusUnauthorized, ErrInvalidAPIKey},
		{"403 forbidden", http.StatusForbidden, ErrInvalidAPIKey},
		{"429 rate limited", http.StatusTooManyRequests, ErrRateLimited},
		{"404 not found", http.StatusNotFound, ErrUpstreamFailure},
		{"500 server error", http.StatusInternalServerError, ErrUpstreamFailure},
		{"503 unavailable", http.StatusServiceUnavailable, ErrUpstreamFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			}))
			defer server.Close()
			c := newTestClient(t, server.URL)

			if _, err := c.Resolve(context.Background(), "Moscow"); !errors.Is(err, tt.wantErr) {
				t.Errorf("Resolve() error = %v, want %v", err, tt.wantErr)
			}
			if _, err := c.Fetch(context.Background(), "294021", 5); !errors.Is(err, tt.wantErr) {
				t.Errorf("Fetch() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAccuWeatherClient_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	c := newTestClient(t, server.URL)
	server.Close()

	_, err := c.Resolve(context.Background(), "Moscow")
	if !errors.Is(err, ErrTransport) {
		t.Errorf("Resolve() error = %v, want %v", err, ErrTransport)
	}
}

func TestAccuWeatherClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	c := newTestClient(t, server.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Resolve(ctx, "Moscow")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Resolve() error = %v, want context.Canceled", err)
	}
	if !errors.Is(err, ErrTransport) {
		t.Errorf("Resolve() error = %v, want %v", err, ErrTransport)
	}
}

func TestAccuWeatherClient_CorrelationID(t *testing.T) {
	var captured string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.Header.Get("X-Correlation-ID")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()
	c := newTestClient(t, server.URL)

	ctx := observability.WithCorrelationID(context.Background(), "test-correlation-id-123")
	if _, err := c.Resolve(ctx, "Moscow"); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if captured != "test-correlation-id-123" {
		t.Errorf("X-Correlation-ID header = %q, want %q", captured, "test-correlation-id-123")
	}
}

// TestAccuWeatherClient_CircuitBreakerOpens verifies that consecutive upstream failures open the
// breaker and later calls fail fast without reaching the server.
func TestAccuWeatherClient_CircuitBreakerOpens(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	cb := NewCircuitBreaker("accuweather-test", 2, time.Minute, 1)
	c := newTestClient(t, server.URL, WithCircuitBreaker(cb))

	for i := 0; i < 2; i++ {
		if _, err := c.Resolve(context.Background(), "Moscow"); !errors.Is(err, ErrUpstreamFailure) {
			t.Fatalf("call %d: Resolve() error = %v, want %v", i, err, ErrUpstreamFailure)
		}
	}
	_, err := c.Resolve(context.Background(), "Moscow")
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Resolve() after threshold error = %v, want %v", err, ErrCircuitOpen)
	}
	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Errorf("server hits = %d, want 2", got)
	}
}

// TestAccuWeatherClient_CircuitBreakerIgnoresClientErrors verifies that 4xx responses other
// than 429 do not count toward opening the breaker.
func TestAccuWeatherClient_CircuitBreakerIgnoresClientErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	cb := NewCircuitBreaker("accuweather-test-4xx", 1, time.Minute, 1)
	c := newTestClient(t, server.URL, WithCircuitBreaker(cb))

	for i := 0; i < 3; i++ {
		if _, err := c.Resolve(context.Background(), "Moscow"); !errors.Is(err, ErrInvalidAPIKey) {
			t.Fatalf("call %d: Resolve() error = %v, want %v", i, err, ErrInvalidAPIKey)
		}
	}
}

func TestAccuWeatherClient_RateLimiter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	t.Run("allows within limit", func(t *testing.T) {
		c := newTestClient(t, server.URL, WithRateLimiter(rate.NewLimiter(rate.Inf, 1)))
		if _, err := c.Resolve(context.Background(), "Moscow"); err != nil {
			t.Errorf("Resolve() error = %v", err)
		}
	})

	t.Run("wait honours context", func(t *testing.T) {
		limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
		limiter.Allow()
		c := newTestClient(t, server.URL, WithRateLimiter(limiter))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		if _, err := c.Resolve(ctx, "Moscow"); err == nil {
			t.Error("Resolve() expected rate limiter error, got nil")
		}
	})
}

func TestStatusLabel(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "success"},
		{204, "success"},
		{429, "rate_limited"},
		{404, "client_error"},
		{503, "server_error"},
		{302, "error"},
	}
	for _, tt := range tests {
		if got := statusLabel(tt.code); got != tt.want {
			t.Errorf("statusLabel(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestAccuWeatherClient_TransportErrorOmitsAPIKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	c := newTestClient(t, server.URL)
	server.Close()

	_, err := c.Fetch(context.Background(), "294021", 5)
	if err == nil {
		t.Fatal("Fetch() expected error, got nil")
	}
	if strings.Contains(err.Error(), testAPIKey) {
		t.Errorf("error %q leaks the API key", err)
	}
}

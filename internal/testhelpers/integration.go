//go:build integration
// +build integration

package testhelpers

import (
	"os"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kjstillabower/forecast-compare-service/internal/client"
	"github.com/kjstillabower/forecast-compare-service/internal/service"
	"github.com/kjstillabower/forecast-compare-service/internal/session"
)

// IntegrationTestConfig holds configuration for integration tests against the live API.
type IntegrationTestConfig struct {
	APIKey        string
	LocationsURL  string
	ForecastURL   string
	StoreBackend  string // "in_memory" or "memcached"
	MemcachedAddr string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips test if ACCUWEATHER_API_KEY is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	apiKey := os.Getenv("ACCUWEATHER_API_KEY")
	if apiKey == "" {
		t.Skip("ACCUWEATHER_API_KEY not set, skipping integration test")
	}

	cfg := IntegrationTestConfig{
		APIKey:        apiKey,
		LocationsURL:  "http://dataservice.accuweather.com/locations/v1/cities/autocomplete",
		ForecastURL:   "http://dataservice.accuweather.com/forecasts/v1/daily",
		StoreBackend:  os.Getenv("INTEGRATION_SESSION_BACKEND"),
		MemcachedAddr: os.Getenv("MEMCACHED_ADDRS"),
	}
	if cfg.MemcachedAddr == "" {
		cfg.MemcachedAddr = "localhost:11211"
	}
	return cfg
}

// SetupIntegrationOrchestrator wires a live client, a session store and an orchestrator.
// Returns the orchestrator and a cleanup function.
func SetupIntegrationOrchestrator(t *testing.T, cfg IntegrationTestConfig) (*service.Orchestrator, func()) {
	c, err := client.NewAccuWeatherClient(cfg.APIKey, cfg.LocationsURL, cfg.ForecastURL, 5*time.Second)
	if err != nil {
		t.Fatalf("NewAccuWeatherClient() error = %v", err)
	}

	var store session.Store = session.NewInMemoryStore(clockwork.NewRealClock(), 30*time.Minute)
	cleanup := func() {}
	if cfg.StoreBackend == "memcached" {
		mc := session.NewMemcachedStore(cfg.MemcachedAddr, 30*time.Minute, 500*time.Millisecond, 2)
		if err := mc.Ping(); err == nil {
			store = mc
			cleanup = func() { _ = mc.Close() }
			t.Logf("Using memcached session store at %s", cfg.MemcachedAddr)
		} else {
			t.Logf("Memcached not available (%v), using in-memory store", err)
		}
	}

	return service.NewOrchestrator(c, c, store, service.Options{}), cleanup
}

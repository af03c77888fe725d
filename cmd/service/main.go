package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/forecast-compare-service/internal/client"
	"github.com/kjstillabower/forecast-compare-service/internal/config"
	httphandler "github.com/kjstillabower/forecast-compare-service/internal/http"
	"github.com/kjstillabower/forecast-compare-service/internal/lifecycle"
	"github.com/kjstillabower/forecast-compare-service/internal/observability"
	"github.com/kjstillabower/forecast-compare-service/internal/service"
	"github.com/kjstillabower/forecast-compare-service/internal/session"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	accuWeather, err := newAccuWeatherClient(cfg, logger)
	if err != nil {
		logger.Fatal("accuweather client", zap.Error(err))
	}

	healthConfig := &httphandler.HealthConfig{
		DegradedWindow:       cfg.DegradedWindow,
		DegradedErrorPct:     cfg.DegradedErrorPct,
		OverloadWindow:       cfg.OverloadWindow,
		OverloadThresholdPct: cfg.OverloadThresholdPct,
		RateLimitRPS:         cfg.RateLimitRPS,
	}

	backend, err := newSessionBackend(cfg, logger)
	if err != nil {
		logger.Fatal("session store", zap.Error(err))
	}
	healthConfig.StorePing = backend.ping

	orchestrator := service.NewOrchestrator(accuWeather, accuWeather, backend.store, service.Options{
		MaxConcurrentCalls: cfg.MaxConcurrentCalls,
		QueryMaxLength:     cfg.QueryMaxLength,
	})

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(orchestrator, healthConfig, logger)
	observability.RegisterWindowGauges(cfg.DegradedWindow)
	router := httphandler.NewRouter(handler, logger, limiter, cfg.RequestTimeout)

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", lifecycle.InFlight()))
	if err := lifecycle.WaitForDrain(shutdownCtx, 100*time.Millisecond); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", lifecycle.InFlight()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	if err := backend.close(); err != nil {
		logger.Error("session store close", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// newAccuWeatherClient builds the upstream client with the optional outbound limiter and
// circuit breaker from cfg.
func newAccuWeatherClient(cfg *config.Config, logger *zap.Logger) (*client.AccuWeatherClient, error) {
	opts := []client.Option{client.WithLanguage(cfg.Language)}
	if cfg.UpstreamRateLimitRPS > 0 {
		opts = append(opts, client.WithRateLimiter(rate.NewLimiter(rate.Limit(cfg.UpstreamRateLimitRPS), cfg.UpstreamRateLimitBurst)))
		logger.Info("upstream rate limit enabled", zap.Float64("rps", cfg.UpstreamRateLimitRPS), zap.Int("burst", cfg.UpstreamRateLimitBurst))
	}
	if cfg.CircuitBreakerEnabled {
		opts = append(opts, client.WithCircuitBreaker(client.NewCircuitBreaker(
			"accuweather",
			uint32(cfg.CircuitBreakerFailureThreshold),
			cfg.CircuitBreakerOpenTimeout,
			uint32(cfg.CircuitBreakerHalfOpenMaxRequests),
		)))
		observability.CircuitBreakerState.WithLabelValues("accuweather").Set(0)
		logger.Info("circuit breaker enabled", zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold), zap.Duration("open_timeout", cfg.CircuitBreakerOpenTimeout))
	}
	return client.NewAccuWeatherClient(cfg.AccuWeatherAPIKey, cfg.LocationsURL, cfg.ForecastURL, cfg.AccuWeatherTimeout, opts...)
}

// sessionBackend is the configured session store plus its health probe and shutdown hook.
// ping is nil for the in-memory backend.
type sessionBackend struct {
	store session.Store
	ping  func() error
	close func() error
}

func newSessionBackend(cfg *config.Config, logger *zap.Logger) (sessionBackend, error) {
	switch cfg.SessionBackend {
	case "memcached":
		mc := session.NewMemcachedStore(cfg.MemcachedAddrs, cfg.SessionTTL, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		logger.Info("session backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
		return sessionBackend{store: mc, ping: mc.Ping, close: mc.Close}, nil
	case "in_memory", "":
		mem := session.NewInMemoryStore(clockwork.NewRealClock(), cfg.SessionTTL)
		sweeper := session.NewSweeper(mem, cfg.SessionSweepInterval, logger)
		if err := sweeper.Start(); err != nil {
			return sessionBackend{}, fmt.Errorf("start session sweeper: %w", err)
		}
		logger.Info("session backend: in_memory", zap.Duration("ttl", cfg.SessionTTL))
		return sessionBackend{
			store: mem,
			close: func() error {
				sweeper.Stop()
				return nil
			},
		}, nil
	default:
		return sessionBackend{}, fmt.Errorf("unknown session backend %q", cfg.SessionBackend)
	}
}

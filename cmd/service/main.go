package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/forecast-alert-service/internal/cache"
	"github.com/kjstillabower/forecast-alert-service/internal/circuitbreaker"
	"github.com/kjstillabower/forecast-alert-service/internal/cities"
	"github.com/kjstillabower/forecast-alert-service/internal/client"
	"github.com/kjstillabower/forecast-alert-service/internal/config"
	httphandler "github.com/kjstillabower/forecast-alert-service/internal/http"
	"github.com/kjstillabower/forecast-alert-service/internal/lifecycle"
	"github.com/kjstillabower/forecast-alert-service/internal/models"
	"github.com/kjstillabower/forecast-alert-service/internal/observability"
	"github.com/kjstillabower/forecast-alert-service/internal/scheduler"
	"github.com/kjstillabower/forecast-alert-service/internal/service"
	"github.com/kjstillabower/forecast-alert-service/internal/traffic"
)

const providerComponent = "open_meteo"

// remoteCache is a cache backend with a network connection to check and release.
type remoteCache interface {
	cache.Cache
	Ping(ctx context.Context) error
	Close() error
}

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = observability.Flush(logger) }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	reg := observability.NewRegistry()
	metrics := observability.NewMetrics(reg)

	var breaker *circuitbreaker.Breaker
	if cfg.CircuitBreakerEnabled {
		breaker = circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
			SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
			Timeout:          cfg.CircuitBreakerTimeout,
			Component:        providerComponent,
			IsFailure:        client.IsBreakerFailure,
			OnStateChange: func(from, to circuitbreaker.State) {
				logger.Warn("circuit breaker state change", zap.String("from", from.String()), zap.String("to", to.String()))
				metrics.CircuitBreakerTransitions.WithLabelValues(providerComponent, from.String(), to.String()).Inc()
				metrics.CircuitBreakerState.WithLabelValues(providerComponent).Set(float64(to))
			},
		})
		metrics.CircuitBreakerState.WithLabelValues(providerComponent).Set(float64(circuitbreaker.StateClosed))
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
			zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	fetcher := client.NewOpenMeteoClient(client.Config{
		Timeout:     cfg.ProviderTimeout,
		MaxRetries:  cfg.ProviderMaxRetries,
		BackoffBase: cfg.ProviderBackoffBase,
		UserAgent:   cfg.ProviderUserAgent,
	}, logger, metrics, breaker)
	pipeline := service.NewPipeline(fetcher, cfg.ProviderURL, cfg.Thresholds, logger, metrics)

	store, remote, err := newCache(cfg)
	if err != nil {
		logger.Fatal("cache", zap.String("backend", cfg.CacheBackend), zap.Error(err))
	}
	logger.Info("cache backend", zap.String("backend", store.Backend()), zap.Duration("ttl", cfg.CacheTTL))

	weather := service.NewWeatherService(pipeline, store, logger, metrics, cfg.MonitorConcurrency)

	warmCoords := resolveLocations(cfg.MonitorLocations, logger)
	jobs := scheduler.New(scheduler.Config{
		SweepInterval: cfg.CacheSweepInterval,
		WarmInterval:  cfg.WarmInterval,
		WarmCoords:    warmCoords,
	}, store, cache.NewWarmer(weather, logger, metrics, cfg.MonitorConcurrency), logger, metrics)
	if err := jobs.Start(); err != nil {
		logger.Fatal("scheduler", zap.Error(err))
	}

	tracker := traffic.NewTracker(maxDuration(cfg.OverloadWindow, cfg.DegradedWindow, cfg.IdleWindow))
	state := lifecycle.New()
	metrics.RegisterWindowGauges(tracker, cfg.OverloadWindow)
	metrics.SetTrackedLocations(cfg.TrackedLocations)

	health := httphandler.HealthConfig{
		OverloadWindow:         cfg.OverloadWindow,
		OverloadThresholdPct:   cfg.OverloadThresholdPct,
		RateLimitRPS:           cfg.RateLimitRPS,
		DegradedWindow:         cfg.DegradedWindow,
		DegradedErrorPct:       cfg.DegradedErrorPct,
		IdleWindow:             cfg.IdleWindow,
		IdleThresholdReqPerMin: cfg.IdleThresholdReqPerMin,
		MinimumLifespan:        cfg.MinimumLifespan,
	}
	if remote != nil {
		health.CachePing = remote.Ping
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}

	inFlight := &httphandler.InFlightTracker{}
	handler := httphandler.NewHandler(weather, tracker, state, health, logger, metrics)
	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		Logger:         logger,
		Metrics:        metrics,
		Gatherer:       reg,
		InFlight:       inFlight,
		Limiter:        limiter,
		Tracker:        tracker,
		RequestTimeout: cfg.RequestTimeout,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      httphandler.BatchTimeout(cfg.RequestTimeout, httphandler.MaxBatchSize, weather.Concurrency()) + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.Duration("request_timeout", cfg.RequestTimeout))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	state.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight.Count()))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := inFlight.WaitForZero(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", inFlight.Count()))
	}

	jobs.Stop()
	if remote != nil {
		if err := remote.Close(); err != nil {
			logger.Error("cache close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}

// newCache builds the configured backend. remote is nil for the in-memory cache.
func newCache(cfg *config.Config) (store cache.Cache, remote remoteCache, err error) {
	switch cfg.CacheBackend {
	case config.BackendMemcached:
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.CacheTTL, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			return nil, nil, err
		}
		return mc, mc, nil
	case config.BackendRedis:
		rc := cache.NewRedisCache(cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTimeout), cfg.CacheTTL)
		return rc, rc, nil
	case config.BackendInMemory, "":
		return cache.NewInMemoryCache(cfg.CacheTTL), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
}

// resolveLocations maps configured city names to coordinates, skipping unknown names.
func resolveLocations(names []string, logger *zap.Logger) []models.Coordinate {
	coords := make([]models.Coordinate, 0, len(names))
	for _, name := range names {
		city, ok := cities.Lookup(name)
		if !ok {
			logger.Warn("monitor location not found", zap.String("location", name))
			continue
		}
		coords = append(coords, city.Coordinate())
	}
	return coords
}

func maxDuration(ds ...time.Duration) time.Duration {
	var m time.Duration
	for _, d := range ds {
		if d > m {
			m = d
		}
	}
	return m
}

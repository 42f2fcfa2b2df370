package service

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/forecast-alert-service/internal/cache"
	"github.com/kjstillabower/forecast-alert-service/internal/models"
	"github.com/kjstillabower/forecast-alert-service/internal/observability"
	"github.com/kjstillabower/forecast-alert-service/internal/report"
)

// Where a lookup's data came from.
const (
	SourceCache = "cache"
	SourceAPI   = "api"
)

// DefaultMonitorConcurrency bounds Monitor fan-out when none is configured.
const DefaultMonitorConcurrency = 8

// Lookup is the outcome of a WeatherService lookup.
type Lookup struct {
	Result       models.Result
	Source       string
	ResponseTime time.Duration
}

// NamedCoordinate is a monitored location.
type NamedCoordinate struct {
	Name      string  `json:"name" validate:"required,max=64"`
	Latitude  float64 `json:"latitude" validate:"latitude"`
	Longitude float64 `json:"longitude" validate:"longitude"`
}

// Coordinate returns the location as a models.Coordinate.
func (n NamedCoordinate) Coordinate() models.Coordinate {
	return models.Coordinate{Latitude: n.Latitude, Longitude: n.Longitude}
}

// MonitorResult is one positional entry of a Monitor call.
type MonitorResult struct {
	Name   string
	Lookup Lookup
}

// Stats summarizes lookups served since start.
type Stats struct {
	TotalRequests     int64       `json:"totalRequests"`
	SuccessfulResults int64       `json:"successfulRequests"`
	FailedResults     int64       `json:"failedRequests"`
	AverageResponseMs float64     `json:"averageResponseTime"`
	SuccessRate       float64     `json:"successRate"`
	Cache             cache.Stats `json:"cache"`
	UptimeSeconds     float64     `json:"uptime"`
}

// WeatherService wraps the pipeline with cache-aside reads and writes and keeps
// request statistics. Cache failures are logged and counted but never fail a lookup.
type WeatherService struct {
	pipeline    *Pipeline
	cache       cache.Cache
	logger      *zap.Logger
	metrics     *observability.Metrics
	misses      *missTracker
	concurrency int
	startedAt   time.Time
	now         func() time.Time

	mu         sync.Mutex
	total      int64
	successful int64
	failed     int64
	elapsed    time.Duration
}

// NewWeatherService creates a WeatherService. c may be nil to disable caching.
// concurrency bounds Monitor fan-out; <= 0 means DefaultMonitorConcurrency.
func NewWeatherService(p *Pipeline, c cache.Cache, logger *zap.Logger, metrics *observability.Metrics, concurrency int) *WeatherService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency <= 0 {
		concurrency = DefaultMonitorConcurrency
	}
	return &WeatherService{
		pipeline:    p,
		cache:       c,
		logger:      logger,
		metrics:     metrics,
		misses:      newMissTracker(),
		concurrency: concurrency,
		startedAt:   time.Now(),
		now:         time.Now,
	}
}

// GetWeather serves c from the cache when possible, otherwise runs the pipeline and
// stores a successful report. Lookups carrying overrides bypass the cache in both
// directions because cache entries hold default-selection, configured-threshold data.
func (s *WeatherService) GetWeather(ctx context.Context, c models.Coordinate, opts Options) Lookup {
	start := s.now()
	logger := observability.LoggerFromContext(ctx, s.logger)
	useCache := s.cache != nil && !hasOverrides(opts)

	if useCache {
		if rep, ok := s.cacheGet(ctx, logger, c); ok {
			res := models.Result{Success: true, Data: &rep, Summary: report.Summarize(rep.NormalizedWeather)}
			return s.finish(logger, c, res, SourceCache, start)
		}
	}

	inFlight, done := s.misses.begin(c.Key())
	if inFlight > 1 && s.metrics != nil {
		s.metrics.CacheStampedeDetectedTotal.Inc()
		s.metrics.CacheStampedeConcurrency.Observe(float64(inFlight))
	}
	res := s.pipeline.GetWeather(ctx, c, opts)
	done()

	if useCache && res.Success {
		s.cacheSet(ctx, logger, c, *res.Data)
	}
	return s.finish(logger, c, res, SourceAPI, start)
}

// Refresh runs the pipeline for c and writes the result to the cache. It
// implements cache.Refresher for the warmer.
func (s *WeatherService) Refresh(ctx context.Context, c models.Coordinate) error {
	res := s.pipeline.GetWeather(ctx, c, Options{})
	if !res.Success {
		return errors.New(res.Error)
	}
	if s.cache == nil {
		return nil
	}
	return s.cache.Set(ctx, c, *res.Data)
}

// Monitor looks up every location concurrently. Results are positional and one
// location's failure never affects the others.
func (s *WeatherService) Monitor(ctx context.Context, locations []NamedCoordinate) []MonitorResult {
	results := make([]MonitorResult, len(locations))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, loc := range locations {
		g.Go(func() error {
			results[i] = MonitorResult{Name: loc.Name, Lookup: s.GetWeather(gctx, loc.Coordinate(), Options{})}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Concurrency is the Monitor fan-out limit.
func (s *WeatherService) Concurrency() int {
	return s.concurrency
}

// Stats returns request statistics and cache occupancy. A cache stats failure is
// logged and reported as an unknown size.
func (s *WeatherService) Stats(ctx context.Context) Stats {
	s.mu.Lock()
	st := Stats{
		TotalRequests:     s.total,
		SuccessfulResults: s.successful,
		FailedResults:     s.failed,
	}
	elapsed := s.elapsed
	s.mu.Unlock()

	if st.TotalRequests > 0 {
		st.AverageResponseMs = float64(elapsed.Milliseconds()) / float64(st.TotalRequests)
		st.SuccessRate = float64(st.SuccessfulResults) / float64(st.TotalRequests) * 100
	}
	st.UptimeSeconds = s.now().Sub(s.startedAt).Seconds()
	if s.cache != nil {
		cs, err := s.cache.Stats(ctx)
		if err != nil {
			s.logger.Warn("cache stats failed", zap.Error(err))
			cs.Size = -1
		}
		st.Cache = cs
	}
	return st
}

func (s *WeatherService) cacheGet(ctx context.Context, logger *zap.Logger, c models.Coordinate) (models.WeatherReport, bool) {
	backend := s.cache.Backend()
	opStart := time.Now()
	rep, ok, err := s.cache.Get(ctx, c)
	elapsed := time.Since(opStart).Seconds()
	switch {
	case err != nil:
		logger.Warn("cache get failed", zap.String("key", c.Key()), zap.Error(err))
		if s.metrics != nil {
			s.metrics.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
			s.metrics.CacheOperationTime.WithLabelValues("get", "error").Observe(elapsed)
		}
		return models.WeatherReport{}, false
	case ok:
		logger.Debug("cache hit", zap.String("key", c.Key()))
		if s.metrics != nil {
			s.metrics.CacheHitsTotal.WithLabelValues(backend).Inc()
			s.metrics.CacheOperationTime.WithLabelValues("get", "hit").Observe(elapsed)
		}
		return rep, true
	default:
		logger.Debug("cache miss", zap.String("key", c.Key()))
		if s.metrics != nil {
			s.metrics.CacheMissesTotal.WithLabelValues(backend).Inc()
			s.metrics.CacheOperationTime.WithLabelValues("get", "miss").Observe(elapsed)
		}
		return models.WeatherReport{}, false
	}
}

func (s *WeatherService) cacheSet(ctx context.Context, logger *zap.Logger, c models.Coordinate, rep models.WeatherReport) {
	opStart := time.Now()
	err := s.cache.Set(ctx, c, rep)
	elapsed := time.Since(opStart).Seconds()
	if err != nil {
		logger.Warn("cache set failed", zap.String("key", c.Key()), zap.Error(err))
		if s.metrics != nil {
			s.metrics.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(err)).Inc()
			s.metrics.CacheOperationTime.WithLabelValues("set", "error").Observe(elapsed)
		}
		return
	}
	if s.metrics != nil {
		s.metrics.CacheOperationTime.WithLabelValues("set", "success").Observe(elapsed)
	}
}

func (s *WeatherService) finish(logger *zap.Logger, c models.Coordinate, res models.Result, source string, start time.Time) Lookup {
	elapsed := s.now().Sub(start)
	s.mu.Lock()
	s.total++
	if res.Success {
		s.successful++
	} else {
		s.failed++
	}
	s.elapsed += elapsed
	s.mu.Unlock()

	logger.Debug("weather served",
		zap.String("key", c.Key()),
		zap.String("source", source),
		zap.Bool("success", res.Success),
		zap.Duration("duration", elapsed),
	)
	return Lookup{Result: res, Source: source, ResponseTime: elapsed}
}

func hasOverrides(o Options) bool {
	t := o.Thresholds
	return o.Metrics != nil || t.MaxWind != nil || t.MinTemperature != nil || t.MaxTemperature != nil || t.MinPrecipitation != nil
}

// categorizeCacheError returns a stable label for cache error metrics.
func categorizeCacheError(err error) string {
	var netErr net.Error
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET):
		return "connection"
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return "decode"
	case errors.As(err, &netErr):
		return "connection"
	default:
		return "unknown"
	}
}

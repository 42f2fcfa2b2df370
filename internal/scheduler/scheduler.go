// Package scheduler runs the service's background cache jobs: the periodic sweep
// of expired entries and periodic cache warming.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/kjstillabower/forecast-alert-service/internal/models"
	"github.com/kjstillabower/forecast-alert-service/internal/observability"
)

// Sweeper evicts expired cache entries.
type Sweeper interface {
	Cleanup(ctx context.Context) error
}

// Warmer refreshes cached weather for a set of coordinates.
type Warmer interface {
	Warm(ctx context.Context, coords []models.Coordinate) error
}

// Config controls which jobs run. A zero interval disables the job.
type Config struct {
	SweepInterval time.Duration
	WarmInterval  time.Duration
	WarmCoords    []models.Coordinate
	// JobTimeout bounds each job run; zero means one interval.
	JobTimeout time.Duration
}

// Scheduler wraps a gocron scheduler. Jobs run in singleton mode so a slow run is
// never overlapped by the next tick.
type Scheduler struct {
	cron    *gocron.Scheduler
	cfg     Config
	sweeper Sweeper
	warmer  Warmer
	logger  *zap.Logger
	metrics *observability.Metrics
}

// New creates a Scheduler. sweeper or warmer may be nil to skip that job.
func New(cfg Config, sweeper Sweeper, warmer Warmer, logger *zap.Logger, metrics *observability.Metrics) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron:    gocron.NewScheduler(time.UTC),
		cfg:     cfg,
		sweeper: sweeper,
		warmer:  warmer,
		logger:  logger,
		metrics: metrics,
	}
}

// Start registers the enabled jobs and starts the scheduler in the background.
// Each job runs once immediately, then on its interval.
func (s *Scheduler) Start() error {
	jobs := 0
	if s.sweeper != nil && s.cfg.SweepInterval > 0 {
		if _, err := s.cron.Every(s.cfg.SweepInterval).SingletonMode().Do(s.sweep); err != nil {
			return err
		}
		jobs++
	}
	if s.warmer != nil && s.cfg.WarmInterval > 0 && len(s.cfg.WarmCoords) > 0 {
		if _, err := s.cron.Every(s.cfg.WarmInterval).SingletonMode().Do(s.warm); err != nil {
			return err
		}
		jobs++
	}
	if jobs == 0 {
		s.logger.Info("scheduler: no jobs configured")
		return nil
	}
	s.cron.StartAsync()
	s.logger.Info("scheduler started", zap.Int("jobs", jobs))
	return nil
}

// Stop stops the scheduler; running jobs finish but no new runs start.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

func (s *Scheduler) timeout(interval time.Duration) time.Duration {
	if s.cfg.JobTimeout > 0 {
		return s.cfg.JobTimeout
	}
	return interval
}

func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout(s.cfg.SweepInterval))
	defer cancel()
	if s.metrics != nil {
		s.metrics.CacheSweepsTotal.Inc()
	}
	if err := s.sweeper.Cleanup(ctx); err != nil {
		s.logger.Warn("cache sweep failed", zap.Error(err))
		return
	}
	s.logger.Debug("cache sweep complete")
}

func (s *Scheduler) warm() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout(s.cfg.WarmInterval))
	defer cancel()
	if err := s.warmer.Warm(ctx, s.cfg.WarmCoords); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.logger.Warn("cache warming timed out", zap.Error(err))
			return
		}
		s.logger.Warn("cache warming failed", zap.Error(err))
	}
}

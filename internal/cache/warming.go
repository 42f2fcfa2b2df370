package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/forecast-alert-service/internal/models"
	"github.com/kjstillabower/forecast-alert-service/internal/observability"
)

// Refresher fetches fresh weather for a coordinate and stores it in the cache.
// Implemented by the service layer so this package does not import it.
type Refresher interface {
	Refresh(ctx context.Context, c models.Coordinate) error
}

// Warmer prefetches weather for a fixed set of coordinates.
type Warmer struct {
	refresher   Refresher
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
}

// NewWarmer creates a Warmer. concurrency <= 0 means one goroutine per coordinate.
// logger and metrics may be nil.
func NewWarmer(r Refresher, logger *zap.Logger, metrics *observability.Metrics, concurrency int) *Warmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Warmer{refresher: r, logger: logger, metrics: metrics, concurrency: concurrency}
}

// Warm refreshes every coordinate concurrently. All coordinates are attempted; the
// returned error joins every failure.
func (w *Warmer) Warm(ctx context.Context, coords []models.Coordinate) error {
	start := time.Now()
	if w.metrics != nil {
		w.metrics.CacheWarmingTotal.Inc()
	}
	w.logger.Info("warming cache", zap.Int("locations", len(coords)))

	limit := w.concurrency
	if limit <= 0 || limit > len(coords) {
		limit = len(coords)
	}
	sem := make(chan struct{}, max(limit, 1))
	errs := make([]error, len(coords))

	var wg sync.WaitGroup
	for i, c := range coords {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			if err := w.refresher.Refresh(ctx, c); err != nil {
				errs[i] = fmt.Errorf("warm %s: %w", c.Key(), err)
			}
		}()
	}
	wg.Wait()

	err := errors.Join(errs...)
	failed := 0
	for _, e := range errs {
		if e != nil {
			failed++
		}
	}
	duration := time.Since(start)
	if w.metrics != nil {
		w.metrics.CacheWarmingDuration.Observe(duration.Seconds())
		if err != nil {
			w.metrics.CacheWarmingErrorsTotal.Inc()
		}
	}
	w.logger.Info("cache warming complete",
		zap.Int("locations", len(coords)),
		zap.Int("errors", failed),
		zap.Duration("duration", duration),
	)
	return err
}

package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kjstillabower/forecast-alert-service/internal/alerts"
	"github.com/kjstillabower/forecast-alert-service/internal/client"
	"github.com/kjstillabower/forecast-alert-service/internal/models"
	"github.com/kjstillabower/forecast-alert-service/internal/observability"
	"github.com/kjstillabower/forecast-alert-service/internal/report"
)

// Options are per-call overrides for GetWeather. The zero value uses the
// default metric selection and the pipeline's configured thresholds.
type Options struct {
	Metrics    *models.MetricSelection
	Thresholds models.ThresholdOverrides
}

// Pipeline runs query building, fetch, normalization, alert evaluation and
// summary generation for one coordinate. It never touches a cache.
type Pipeline struct {
	fetcher    client.Fetcher
	baseURL    string
	thresholds models.Thresholds
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// NewPipeline creates a Pipeline. An empty baseURL means client.DefaultBaseURL.
// logger and metrics may be nil.
func NewPipeline(fetcher client.Fetcher, baseURL string, thresholds models.Thresholds, logger *zap.Logger, metrics *observability.Metrics) *Pipeline {
	if baseURL == "" {
		baseURL = client.DefaultBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		fetcher:    fetcher,
		baseURL:    baseURL,
		thresholds: thresholds,
		logger:     logger,
		metrics:    metrics,
	}
}

// Thresholds returns the configured alert thresholds.
func (p *Pipeline) Thresholds() models.Thresholds {
	return p.thresholds
}

// GetWeather returns a success Result carrying the report and summary, or a
// failure Result carrying the error message. It never panics.
func (p *Pipeline) GetWeather(ctx context.Context, c models.Coordinate, opts Options) (res models.Result) {
	logger := observability.LoggerFromContext(ctx, p.logger)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("weather pipeline panic", zap.Any("panic", r), zap.String("key", c.Key()))
			res = p.fail(fmt.Errorf("internal error: %v", r), "panic")
		}
	}()

	rep, summary, err := p.run(ctx, c, opts)
	if err != nil {
		kind := client.KindOf(err)
		logger.Warn("weather pipeline failed",
			zap.String("key", c.Key()),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		return p.fail(err, string(kind))
	}

	if p.metrics != nil {
		p.metrics.PipelineResultsTotal.WithLabelValues("success").Inc()
		for _, a := range rep.Alerts {
			p.metrics.AlertsTotal.WithLabelValues(string(a.Type), string(a.Severity)).Inc()
		}
	}
	return models.Result{Success: true, Data: &rep, Summary: summary}
}

func (p *Pipeline) run(ctx context.Context, c models.Coordinate, opts Options) (models.WeatherReport, string, error) {
	q, err := client.BuildQuery(p.baseURL, c, opts.Metrics)
	if err != nil {
		return models.WeatherReport{}, "", err
	}
	raw, err := p.fetcher.Fetch(ctx, q)
	if err != nil {
		return models.WeatherReport{}, "", err
	}
	w := client.Normalize(raw)
	r := models.WeatherReport{
		NormalizedWeather: w,
		Alerts:            alerts.Evaluate(w, opts.Thresholds.Apply(p.thresholds)),
	}
	return r, report.Summarize(w), nil
}

func (p *Pipeline) fail(err error, label string) models.Result {
	if p.metrics != nil {
		p.metrics.PipelineResultsTotal.WithLabelValues(label).Inc()
	}
	return models.Result{Success: false, Error: err.Error()}
}

package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/kjstillabower/forecast-alert-service/internal/cities"
	"github.com/kjstillabower/forecast-alert-service/internal/lifecycle"
	"github.com/kjstillabower/forecast-alert-service/internal/models"
	"github.com/kjstillabower/forecast-alert-service/internal/observability"
	"github.com/kjstillabower/forecast-alert-service/internal/report"
	"github.com/kjstillabower/forecast-alert-service/internal/service"
	"github.com/kjstillabower/forecast-alert-service/internal/traffic"
	"github.com/kjstillabower/forecast-alert-service/internal/validation"
)

const (
	// DefaultLocationName labels coordinates with no city param and no nearby known city.
	DefaultLocationName = "Location"
	// NearestCityKm is the radius for naming a coordinate after a known city.
	NearestCityKm = 50.0
	// MaxBatchSize caps POST /api/weather/batch.
	MaxBatchSize = 25
	// MaxSearchLimit caps the limit param of city search.
	MaxSearchLimit = 25
	maxCityNameLen = 64
	maxBodyBytes   = 64 << 10
)

// HealthConfig holds lifecycle thresholds for the health handler. Zero windows
// disable the corresponding check.
type HealthConfig struct {
	OverloadWindow         time.Duration
	OverloadThresholdPct   int
	RateLimitRPS           int
	DegradedWindow         time.Duration
	DegradedErrorPct       int
	IdleWindow             time.Duration
	IdleThresholdReqPerMin int
	MinimumLifespan        time.Duration
	// CachePing, when set, reports cache reachability in the checks block.
	CachePing func(ctx context.Context) error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	weather   *service.WeatherService
	traffic   *traffic.Tracker
	lifecycle *lifecycle.State
	health    HealthConfig
	logger    *zap.Logger
	metrics   *observability.Metrics
	validate  *validator.Validate
	now       func() time.Time

	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. metrics may be nil.
func NewHandler(
	weather *service.WeatherService,
	tracker *traffic.Tracker,
	state *lifecycle.State,
	health HealthConfig,
	logger *zap.Logger,
	metrics *observability.Metrics,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		weather:   weather,
		traffic:   tracker,
		lifecycle: state,
		health:    health,
		logger:    logger,
		metrics:   metrics,
		validate:  validator.New(),
		now:       time.Now,
	}
}

type coordinateQuery struct {
	Lat *float64 `validate:"required,latitude"`
	Lon *float64 `validate:"required,longitude"`
}

// parseCoordinate reads lat/lon query params. The error message is safe to return
// to clients.
func (h *Handler) parseCoordinate(r *http.Request) (models.Coordinate, error) {
	q := r.URL.Query()
	var cq coordinateQuery
	for _, p := range []struct {
		name string
		dst  **float64
	}{{"lat", &cq.Lat}, {"lon", &cq.Lon}} {
		raw := strings.TrimSpace(q.Get(p.name))
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return models.Coordinate{}, errors.New("lat and lon must be numbers")
		}
		*p.dst = &v
	}
	if err := h.validate.Struct(cq); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && verrs[0].Tag() == "required" {
			return models.Coordinate{}, errors.New("lat and lon parameters are required")
		}
		return models.Coordinate{}, fmt.Errorf("coordinates out of range: latitude %g, longitude %g", deref(cq.Lat), deref(cq.Lon))
	}
	return validation.NewCoordinate(*cq.Lat, *cq.Lon)
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// SearchCities handles GET /api/cities/search?q=&limit=.
func (h *Handler) SearchCities(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	limit := cities.DefaultSearchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || h.validate.Var(n, fmt.Sprintf("min=1,max=%d", MaxSearchLimit)) != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be an integer between 1 and %d", MaxSearchLimit))
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    cities.Search(query, limit),
		"query":   query,
	})
}

// GetWeather handles GET /api/weather?lat=&lon=&city=.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	coord, err := h.parseCoordinate(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	name, err := h.locationName(r.URL.Query().Get("city"), coord)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	lookup := h.lookup(r.Context(), coord, name)
	if !lookup.Result.Success {
		writeError(w, http.StatusInternalServerError, lookup.Result.Error)
		return
	}
	res := lookup.Result
	data := *res.Data
	data.CityName = name
	res.Data = &data

	w.Header().Set("X-Data-Source", lookup.Source)
	writeJSON(w, http.StatusOK, res)
}

// GetReport handles GET /api/weather/report?lat=&lon=.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	coord, err := h.parseCoordinate(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cityName := DefaultLocationName
	if city, _, ok := cities.Nearest(coord, NearestCityKm); ok {
		cityName = city.Name
	}

	lookup := h.lookup(r.Context(), coord, cityName)
	if !lookup.Result.Success {
		writeError(w, http.StatusInternalServerError, lookup.Result.Error)
		return
	}
	data := lookup.Result.Data
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"cityName": cityName,
		"data":     report.Detailed(data.NormalizedWeather),
		"alerts":   data.Alerts,
		"summary":  lookup.Result.Summary,
	})
}

type batchEntry struct {
	Name           string                `json:"name"`
	Success        bool                  `json:"success"`
	Source         string                `json:"source"`
	ResponseTimeMs int64                 `json:"responseTime"`
	Data           *models.WeatherReport `json:"data"`
	Summary        string                `json:"summary,omitempty"`
	Error          string                `json:"error,omitempty"`
}

// BatchTimeout is the deadline for a batch of n lookups run concurrency at a time:
// perLookup for each wave of the fan-out. Zero perLookup means no deadline.
func BatchTimeout(perLookup time.Duration, n, concurrency int) time.Duration {
	if perLookup <= 0 {
		return 0
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	waves := (n + concurrency - 1) / concurrency
	if waves < 1 {
		waves = 1
	}
	return perLookup * time.Duration(waves)
}

// PostBatch returns the POST /api/weather/batch handler. The body is a JSON array of
// {name, latitude, longitude}; results keep the request order. Each fan-out wave gets
// perLookup, so later locations keep the same budget as a single lookup.
func (h *Handler) PostBatch(perLookup time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var locs []service.NamedCoordinate
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err := dec.Decode(&locs); err != nil {
			writeError(w, http.StatusBadRequest, "request body must be a JSON array of locations")
			return
		}
		if len(locs) == 0 || len(locs) > MaxBatchSize {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("batch must contain between 1 and %d locations", MaxBatchSize))
			return
		}
		for i, loc := range locs {
			if err := h.validate.Struct(loc); err != nil {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid location at index %d", i))
				return
			}
		}

		ctx := r.Context()
		if timeout := BatchTimeout(perLookup, len(locs), h.weather.Concurrency()); timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		results := h.weather.Monitor(ctx, locs)
		out := make([]batchEntry, len(results))
		for i, mr := range results {
			res := mr.Lookup.Result
			h.recordOutcome(res.Success, mr.Name)
			out[i] = batchEntry{
				Name:           mr.Name,
				Success:        res.Success,
				Source:         mr.Lookup.Source,
				ResponseTimeMs: mr.Lookup.ResponseTime.Milliseconds(),
				Data:           res.Data,
				Summary:        res.Summary,
				Error:          res.Error,
			}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": out})
	}
}

// GetStats handles GET /api/stats.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    h.weather.Stats(r.Context()),
	})
}

// NotFound is the router's fallback for unknown routes.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "Not found")
}

// MethodNotAllowed is the router's fallback for known paths with the wrong method.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
}

func (h *Handler) lookup(ctx context.Context, c models.Coordinate, name string) service.Lookup {
	l := h.weather.GetWeather(ctx, c, service.Options{})
	h.recordOutcome(l.Result.Success, name)
	return l
}

func (h *Handler) recordOutcome(success bool, name string) {
	if h.traffic != nil {
		if success {
			h.traffic.Record(traffic.Success)
		} else {
			h.traffic.Record(traffic.Error)
		}
	}
	if h.metrics != nil {
		h.metrics.RecordWeatherQuery(name)
	}
}

// locationName returns the validated city param, else the nearest known city within
// NearestCityKm, else DefaultLocationName.
func (h *Handler) locationName(param string, c models.Coordinate) (string, error) {
	if strings.TrimSpace(param) != "" {
		return validation.ValidateCityName(param, maxCityNameLen)
	}
	if city, _, ok := cities.Nearest(c, NearestCityKm); ok {
		return city.Name, nil
	}
	return DefaultLocationName, nil
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /api/health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"weatherApi": "healthy"}
	if result.status == "degraded" {
		checks["weatherApi"] = "unhealthy"
	}
	if h.health.CachePing != nil {
		checks["cache"] = "healthy"
		if err := h.health.CachePing(r.Context()); err != nil {
			checks["cache"] = "unhealthy"
		}
	}
	writeJSON(w, result.statusCode, map[string]interface{}{
		"success":   result.statusCode == http.StatusOK,
		"message":   "Weather API is running",
		"status":    result.status,
		"checks":    checks,
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > overloaded > degraded > idle > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if h.lifecycle != nil && h.lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.traffic == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	cfg := h.health

	if cfg.OverloadWindow > 0 && cfg.RateLimitRPS > 0 && cfg.OverloadThresholdPct > 0 {
		threshold := float64(cfg.RateLimitRPS) * cfg.OverloadWindow.Seconds() * float64(cfg.OverloadThresholdPct) / 100
		if float64(h.traffic.RequestCount(cfg.OverloadWindow)) > threshold {
			return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}
		}
	}
	if cfg.DegradedWindow > 0 && cfg.DegradedErrorPct > 0 {
		errs, total := h.traffic.ErrorRate(cfg.DegradedWindow)
		if total > 0 && float64(errs)*100/float64(total) >= float64(cfg.DegradedErrorPct) {
			return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
		}
	}
	if cfg.IdleWindow > 0 && cfg.MinimumLifespan > 0 && h.lifecycle != nil && h.lifecycle.Uptime() >= cfg.MinimumLifespan {
		if h.traffic.ServedCount(cfg.IdleWindow) < cfg.IdleThresholdReqPerMin {
			return healthResult{"idle", http.StatusOK, "low_traffic"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the standard {success:false, error} body.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

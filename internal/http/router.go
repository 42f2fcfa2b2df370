package http

import (
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/forecast-alert-service/internal/observability"
	"github.com/kjstillabower/forecast-alert-service/internal/traffic"
)

// RouterConfig carries the shared infrastructure for NewRouter.
type RouterConfig struct {
	Logger   *zap.Logger
	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer
	InFlight *InFlightTracker
	Limiter  *rate.Limiter
	Tracker  *traffic.Tracker
	// RequestTimeout bounds a single weather lookup and each wave of a batch; zero
	// disables it.
	RequestTimeout time.Duration
	// AllowedOrigins for CORS; empty means "*".
	AllowedOrigins []string
}

// NewRouter builds the service's route table wrapped in CORS handling.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(h.NotFound)
	router.MethodNotAllowedHandler = http.HandlerFunc(h.MethodNotAllowed)
	if cfg.InFlight != nil {
		router.Use(cfg.InFlight.Middleware)
	}
	router.Use(CorrelationIDMiddleware(logger))
	if cfg.Metrics != nil {
		router.Use(MetricsMiddleware(cfg.Metrics))
	}
	if cfg.Gatherer != nil {
		router.Handle("/metrics", observability.MetricsHandler(cfg.Gatherer)).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	api.HandleFunc("/stats", h.GetStats).Methods(http.MethodGet)
	api.HandleFunc("/cities/search", h.SearchCities).Methods(http.MethodGet)

	weather := api.PathPrefix("/weather").Subrouter()
	weather.Use(RateLimitMiddleware(cfg.Limiter, cfg.Tracker, cfg.Metrics))
	timeout := TimeoutMiddleware(cfg.RequestTimeout)
	weather.Handle("", timeout(http.HandlerFunc(h.GetWeather))).Methods(http.MethodGet)
	weather.Handle("/report", timeout(http.HandlerFunc(h.GetReport))).Methods(http.MethodGet)
	weather.Handle("/batch", h.PostBatch(cfg.RequestTimeout)).Methods(http.MethodPost)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", CorrelationIDHeader}),
		handlers.ExposedHeaders([]string{CorrelationIDHeader, "X-Data-Source"}),
	)(router)
}

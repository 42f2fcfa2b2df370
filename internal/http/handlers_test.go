package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/forecast-alert-service/internal/cache"
	"github.com/kjstillabower/forecast-alert-service/internal/client"
	"github.com/kjstillabower/forecast-alert-service/internal/lifecycle"
	"github.com/kjstillabower/forecast-alert-service/internal/models"
	"github.com/kjstillabower/forecast-alert-service/internal/observability"
	"github.com/kjstillabower/forecast-alert-service/internal/service"
	"github.com/kjstillabower/forecast-alert-service/internal/traffic"
)

// fakeFetcher serves sampleRaw for every coordinate except those in fail. It records
// the time left on each call's deadline.
type fakeFetcher struct {
	mu        sync.Mutex
	fail      map[float64]error
	calls     int
	remaining []time.Duration
}

func (f *fakeFetcher) Fetch(ctx context.Context, q client.Query) (client.RawResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if d, ok := ctx.Deadline(); ok {
		f.remaining = append(f.remaining, time.Until(d))
	}
	if err := f.fail[q.Coordinate.Latitude]; err != nil {
		return client.RawResponse{}, err
	}
	return sampleRaw(), nil
}

func sampleRaw() client.RawResponse {
	return client.RawResponse{
		Timezone: "Europe/Madrid",
		CurrentWeather: &client.RawCurrent{
			Time:        "2024-01-15T12:00",
			Temperature: models.Float(20.5),
			WindSpeed:   models.Float(15),
			WeatherCode: models.Int(1),
		},
		Daily: &client.RawDaily{
			Time:             []string{"2024-01-16"},
			TemperatureMax:   []*float64{models.Float(22)},
			TemperatureMin:   []*float64{models.Float(9)},
			PrecipitationSum: []*float64{models.Float(0)},
			WeatherCode:      []*int{models.Int(3)},
		},
		Hourly: &client.RawHourly{
			Time:             []string{"2024-01-15T12:00", "2024-01-15T13:00"},
			RelativeHumidity: []*float64{models.Float(55), models.Float(60)},
		},
	}
}

type testEnv struct {
	router    http.Handler
	handler   *Handler
	fetcher   *fakeFetcher
	tracker   *traffic.Tracker
	lifecycle *lifecycle.State
	metrics   *observability.Metrics
}

type envOption func(*RouterConfig, *HealthConfig)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	fetcher := &fakeFetcher{fail: map[float64]error{}}
	pipeline := service.NewPipeline(fetcher, "https://example.test/v1/forecast", models.DefaultThresholds(), nil, metrics)
	ws := service.NewWeatherService(pipeline, cache.NewInMemoryCache(time.Minute), nil, metrics, 4)
	tracker := traffic.NewTracker(traffic.DefaultRetention)
	state := lifecycle.New()

	rc := RouterConfig{Metrics: metrics, Gatherer: reg, InFlight: &InFlightTracker{}, Tracker: tracker, RequestTimeout: 5 * time.Second}
	hc := HealthConfig{}
	for _, o := range opts {
		o(&rc, &hc)
	}
	h := NewHandler(ws, tracker, state, hc, nil, metrics)
	return &testEnv{
		router:    NewRouter(h, rc),
		handler:   h,
		fetcher:   fetcher,
		tracker:   tracker,
		lifecycle: state,
		metrics:   metrics,
	}
}

func (e *testEnv) do(t *testing.T, method, target, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var out map[string]interface{}
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode body %q: %v", w.Body.String(), err)
		}
	}
	return w, out
}

func TestGetWeather_Success(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodGet, "/api/weather?lat=40.4168&lon=-3.7038", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if body["success"] != true {
		t.Errorf("success = %v, want true", body["success"])
	}
	data := body["data"].(map[string]interface{})
	if data["cityName"] != "Madrid" {
		t.Errorf("cityName = %v, want Madrid (nearest city)", data["cityName"])
	}
	current := data["current"].(map[string]interface{})
	if current["temperature"] != 20.5 {
		t.Errorf("current.temperature = %v, want 20.5", current["temperature"])
	}
	for _, field := range []string{"forecast", "hourly", "alerts"} {
		if _, ok := data[field].([]interface{}); !ok {
			t.Errorf("data.%s = %T, want array", field, data[field])
		}
	}
	if s, _ := body["summary"].(string); !strings.HasPrefix(s, "Current temperature: 20.5°C") {
		t.Errorf("summary = %q", s)
	}
	if got := w.Header().Get("X-Data-Source"); got != service.SourceAPI {
		t.Errorf("X-Data-Source = %q, want %q", got, service.SourceAPI)
	}
	if w.Header().Get(CorrelationIDHeader) == "" {
		t.Error("correlation ID header missing")
	}

	w, _ = env.do(t, http.MethodGet, "/api/weather?lat=40.4168&lon=-3.7038", "")
	if got := w.Header().Get("X-Data-Source"); got != service.SourceCache {
		t.Errorf("second X-Data-Source = %q, want %q", got, service.SourceCache)
	}
	if env.tracker.ServedCount(time.Minute) != 2 {
		t.Errorf("served count = %d, want 2", env.tracker.ServedCount(time.Minute))
	}
}

func TestGetWeather_CityName(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name   string
		target string
		want   string
	}{
		{"explicit city", "/api/weather?lat=40.4168&lon=-3.7038&city=Home", "Home"},
		{"trimmed city", "/api/weather?lat=40.4168&lon=-3.7038&city=%20Bilbao%20", "Bilbao"},
		{"no nearby city", "/api/weather?lat=0&lon=0", DefaultLocationName},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w, body := env.do(t, http.MethodGet, tc.target, "")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
			}
			if got := body["data"].(map[string]interface{})["cityName"]; got != tc.want {
				t.Errorf("cityName = %v, want %q", got, tc.want)
			}
		})
	}
}

func TestGetWeather_BadRequest(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name    string
		target  string
		wantMsg string
	}{
		{"missing both", "/api/weather", "required"},
		{"missing lon", "/api/weather?lat=40", "required"},
		{"not a number", "/api/weather?lat=abc&lon=1", "numbers"},
		{"latitude out of range", "/api/weather?lat=100&lon=0", "out of range"},
		{"longitude out of range", "/api/weather?lat=0&lon=-181", "out of range"},
		{"bad city", "/api/weather?lat=40&lon=-3&city=%3Cscript%3E", "invalid characters"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w, body := env.do(t, http.MethodGet, tc.target, "")
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			if body["success"] != false {
				t.Errorf("success = %v, want false", body["success"])
			}
			if msg, _ := body["error"].(string); !strings.Contains(msg, tc.wantMsg) {
				t.Errorf("error = %q, want it to contain %q", msg, tc.wantMsg)
			}
		})
	}
	if env.fetcher.calls != 0 {
		t.Errorf("provider called %d times for bad requests, want 0", env.fetcher.calls)
	}
}

func TestGetWeather_PipelineFailure(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.fail[40.4168] = errors.New("Network Error")

	w, body := env.do(t, http.MethodGet, "/api/weather?lat=40.4168&lon=-3.7038", "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if body["error"] != "Network Error" || body["success"] != false {
		t.Errorf("body = %v", body)
	}
	if errs, _ := env.tracker.ErrorRate(time.Minute); errs != 1 {
		t.Errorf("recorded errors = %d, want 1", errs)
	}
}

func TestGetReport(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodGet, "/api/weather/report?lat=41.3851&lon=2.1734", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if body["cityName"] != "Barcelona" {
		t.Errorf("cityName = %v, want Barcelona", body["cityName"])
	}
	data := body["data"].(map[string]interface{})
	header := data["summary"].(map[string]interface{})
	if header["description"] != "Mainly clear" {
		t.Errorf("description = %v, want Mainly clear", header["description"])
	}
	if _, ok := data["recommendations"].([]interface{}); !ok {
		t.Errorf("recommendations = %T, want array", data["recommendations"])
	}

	w, _ = env.do(t, http.MethodGet, "/api/weather/report?lat=91&lon=0", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("out of range status = %d, want 400", w.Code)
	}
}

func TestPostBatch(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.fail[41.3851] = errors.New("API Error: 503 Service Unavailable")

	payload := `[{"name":"Madrid","latitude":40.4168,"longitude":-3.7038},
		{"name":"Barcelona","latitude":41.3851,"longitude":2.1734},
		{"name":"Lima","latitude":-12.0464,"longitude":-77.0428}]`
	w, body := env.do(t, http.MethodPost, "/api/weather/batch", payload)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	results := body["data"].([]interface{})
	if len(results) != 3 {
		t.Fatalf("len(data) = %d, want 3", len(results))
	}
	wantNames := []string{"Madrid", "Barcelona", "Lima"}
	wantOK := []bool{true, false, true}
	for i, r := range results {
		entry := r.(map[string]interface{})
		if entry["name"] != wantNames[i] || entry["success"] != wantOK[i] {
			t.Errorf("data[%d] = name %v success %v, want %s %v", i, entry["name"], entry["success"], wantNames[i], wantOK[i])
		}
	}
	if msg := results[1].(map[string]interface{})["error"]; msg != "API Error: 503 Service Unavailable" {
		t.Errorf("failure error = %v", msg)
	}
}

func TestPostBatch_DeadlinePerWave(t *testing.T) {
	env := newTestEnv(t)

	// 9 locations at concurrency 4 run in 3 waves of the 5s lookup budget.
	var locs []string
	for i := 0; i < 9; i++ {
		locs = append(locs, fmt.Sprintf(`{"name":"p%d","latitude":%d,"longitude":10}`, i, i+1))
	}
	w, _ := env.do(t, http.MethodPost, "/api/weather/batch", "["+strings.Join(locs, ",")+"]")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if len(env.fetcher.remaining) != 9 {
		t.Fatalf("fetches with deadline = %d, want 9", len(env.fetcher.remaining))
	}
	for i, d := range env.fetcher.remaining {
		if d <= 10*time.Second || d > 15*time.Second {
			t.Errorf("fetch %d deadline in %v, want within (10s, 15s]", i, d)
		}
	}

	env.fetcher.remaining = nil
	if w, _ := env.do(t, http.MethodGet, "/api/weather?lat=60&lon=10", ""); w.Code != http.StatusOK {
		t.Fatalf("single lookup status = %d", w.Code)
	}
	if len(env.fetcher.remaining) != 1 || env.fetcher.remaining[0] > 5*time.Second {
		t.Errorf("single lookup deadlines = %v, want one within 5s", env.fetcher.remaining)
	}
}

func TestBatchTimeout(t *testing.T) {
	tests := []struct {
		name        string
		per         time.Duration
		n, parallel int
		want        time.Duration
	}{
		{"one wave", 5 * time.Second, 4, 4, 5 * time.Second},
		{"partial wave", 5 * time.Second, 5, 4, 10 * time.Second},
		{"max batch", time.Second, MaxBatchSize, 4, 7 * time.Second},
		{"zero concurrency", time.Second, 3, 0, 3 * time.Second},
		{"disabled", 0, 10, 2, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := BatchTimeout(tc.per, tc.n, tc.parallel); got != tc.want {
				t.Errorf("BatchTimeout(%v, %d, %d) = %v, want %v", tc.per, tc.n, tc.parallel, got, tc.want)
			}
		})
	}
}

func TestPostBatch_BadRequest(t *testing.T) {
	env := newTestEnv(t)
	many := "[" + strings.TrimSuffix(strings.Repeat(`{"name":"x","latitude":1,"longitude":1},`, MaxBatchSize+1), ",") + "]"
	tests := []struct {
		name string
		body string
	}{
		{"not json", "{"},
		{"object instead of array", `{"name":"x"}`},
		{"empty", "[]"},
		{"too many", many},
		{"missing name", `[{"latitude":1,"longitude":1}]`},
		{"bad latitude", `[{"name":"x","latitude":95,"longitude":1}]`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w, body := env.do(t, http.MethodPost, "/api/weather/batch", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400 (body %s)", w.Code, w.Body.String())
			}
			if body["success"] != false {
				t.Errorf("success = %v, want false", body["success"])
			}
		})
	}
}

func TestSearchCities(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name      string
		target    string
		wantCode  int
		wantCount int
	}{
		{"match", "/api/cities/search?q=mad", http.StatusOK, 1},
		{"case insensitive", "/api/cities/search?q=MADRID", http.StatusOK, 1},
		{"empty query", "/api/cities/search?q=", http.StatusOK, 0},
		{"limit", "/api/cities/search?q=a&limit=2", http.StatusOK, 2},
		{"bad limit", "/api/cities/search?q=a&limit=zero", http.StatusBadRequest, -1},
		{"limit too high", "/api/cities/search?q=a&limit=500", http.StatusBadRequest, -1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w, body := env.do(t, http.MethodGet, tc.target, "")
			if w.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tc.wantCode)
			}
			if tc.wantCount < 0 {
				return
			}
			data, ok := body["data"].([]interface{})
			if !ok {
				t.Fatalf("data = %T, want array", body["data"])
			}
			if len(data) != tc.wantCount {
				t.Errorf("len(data) = %d, want %d", len(data), tc.wantCount)
			}
		})
	}
}

func TestGetStats(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/api/weather?lat=40.4168&lon=-3.7038", "")

	w, body := env.do(t, http.MethodGet, "/api/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	data := body["data"].(map[string]interface{})
	if data["totalRequests"] != 1.0 || data["successRate"] != 100.0 {
		t.Errorf("stats = %v", data)
	}
	if c := data["cache"].(map[string]interface{}); c["size"] != 1.0 || c["ttl"] != 60.0 {
		t.Errorf("cache stats = %v", c)
	}
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t)
	w, body := env.do(t, http.MethodGet, "/api/nope", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if body["success"] != false || body["error"] != "Not found" {
		t.Errorf("body = %v", body)
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/weather", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(rc *RouterConfig, _ *HealthConfig) {
		rc.Limiter = rate.NewLimiter(rate.Limit(0.001), 1)
	})

	if w, _ := env.do(t, http.MethodGet, "/api/weather?lat=40.4168&lon=-3.7038", ""); w.Code != http.StatusOK {
		t.Fatalf("first status = %d, want 200", w.Code)
	}
	w, body := env.do(t, http.MethodGet, "/api/weather?lat=40.4168&lon=-3.7038", "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", w.Code)
	}
	if body["error"] != "Too many requests" {
		t.Errorf("error = %v", body["error"])
	}
	if got := env.tracker.DenialCount(time.Minute); got != 1 {
		t.Errorf("denials = %d, want 1", got)
	}
	// Non-weather routes are not limited.
	if w, _ := env.do(t, http.MethodGet, "/api/health", ""); w.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/api/weather?lat=40.4168&lon=-3.7038", "")

	w, _ := env.do(t, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	text := w.Body.String()
	for _, want := range []string{"httpRequestsTotal", `route="/api/weather"`, "pipelineResultsTotal"} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}

package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/forecast-alert-service/internal/circuitbreaker"
	"github.com/kjstillabower/forecast-alert-service/internal/models"
	"github.com/kjstillabower/forecast-alert-service/internal/observability"
)

const forecastBody = `{
	"timezone": "Europe/Madrid",
	"current_weather": {"time": "2024-01-15T12:00", "temperature": 18.5, "windspeed": 12.3, "winddirection": 270, "weathercode": 1},
	"daily": {
		"time": ["2024-01-15", "2024-01-16"],
		"temperature_2m_max": [20.1, 22.4],
		"temperature_2m_min": [8.2, 9.0],
		"precipitation_sum": [0, 3.5],
		"weathercode": [1, 61]
	},
	"hourly": {
		"time": ["2024-01-15T12:00", "2024-01-15T13:00"],
		"precipitation": [0, 0.1],
		"windspeed_10m": [12.3, 14],
		"relativehumidity_2m": [55, 58],
		"temperature_2m": [18.5, 18.9],
		"weathercode": [1, 2]
	}
}`

func newTestClient(t *testing.T, cfg Config, breaker *circuitbreaker.Breaker) (*OpenMeteoClient, *observer.ObservedLogs, *observability.Metrics) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = time.Millisecond
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	return NewOpenMeteoClient(cfg, zap.New(core), metrics, breaker), logs, metrics
}

func mustQuery(t *testing.T, baseURL string) Query {
	t.Helper()
	q, err := BuildQuery(baseURL, models.Coordinate{Latitude: 40.4168, Longitude: -3.7038}, nil)
	if err != nil {
		t.Fatalf("BuildQuery() error = %v", err)
	}
	return q
}

func TestOpenMeteoClient_Fetch_Success(t *testing.T) {
	var gotUA, gotCorrID, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		gotUA = r.Header.Get("User-Agent")
		gotCorrID = r.Header.Get("X-Correlation-ID")
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(forecastBody))
	}))
	defer server.Close()

	c, _, metrics := newTestClient(t, Config{}, nil)
	ctx := observability.WithCorrelationID(context.Background(), "corr-1")

	raw, err := c.Fetch(ctx, mustQuery(t, server.URL))
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if raw.CurrentWeather == nil || *raw.CurrentWeather.Temperature != 18.5 {
		t.Errorf("CurrentWeather = %+v, want temperature 18.5", raw.CurrentWeather)
	}
	if raw.Daily == nil || len(raw.Daily.Time) != 2 {
		t.Errorf("Daily = %+v, want 2 days", raw.Daily)
	}
	if gotUA != DefaultUserAgent {
		t.Errorf("User-Agent = %q, want %q", gotUA, DefaultUserAgent)
	}
	if gotCorrID != "corr-1" {
		t.Errorf("X-Correlation-ID = %q, want corr-1", gotCorrID)
	}
	if !strings.Contains(gotQuery, "current_weather=true") {
		t.Errorf("query = %q, want current_weather=true", gotQuery)
	}
	if got := testutil.ToFloat64(metrics.ProviderCallsTotal.WithLabelValues("success")); got != 1 {
		t.Errorf("providerCallsTotal{success} = %v, want 1", got)
	}
}

// TestOpenMeteoClient_Fetch_TimeoutExhaustsRetries verifies that a provider that never
// answers within the attempt timeout is tried exactly three times and the last timeout
// error comes back with its original message.
func TestOpenMeteoClient_Fetch_TimeoutExhaustsRetries(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	c, logs, metrics := newTestClient(t, Config{Timeout: 30 * time.Millisecond}, nil)

	_, err := c.Fetch(context.Background(), mustQuery(t, server.URL))
	if err == nil {
		t.Fatal("Fetch() expected error, got nil")
	}
	if n := atomic.LoadInt32(&attempts); n != 3 {
		t.Errorf("attempts = %d, want 3", n)
	}
	if KindOf(err) != KindTransientNetwork {
		t.Errorf("KindOf() = %q, want %q", KindOf(err), KindTransientNetwork)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want wrapped context.DeadlineExceeded", err)
	}
	var tErr *TransientNetworkError
	if !errors.As(err, &tErr) {
		t.Fatalf("error = %T, want *TransientNetworkError", err)
	}
	if err.Error() != tErr.Err.Error() {
		t.Errorf("error message = %q, want cause message %q", err.Error(), tErr.Err.Error())
	}
	if tErr.Reason != "timeout" {
		t.Errorf("Reason = %q, want timeout", tErr.Reason)
	}

	warns := logs.FilterMessage("retrying weather fetch").All()
	if len(warns) != 2 {
		t.Fatalf("retry warnings = %d, want 2", len(warns))
	}
	for i, entry := range warns {
		if entry.Level != zapcore.WarnLevel {
			t.Errorf("warning %d level = %v, want warn", i, entry.Level)
		}
		fields := entry.ContextMap()
		if fields["retry"] != int64(i+1) || fields["max_retries"] != int64(2) {
			t.Errorf("warning %d fields = %v, want retry=%d max_retries=2", i, fields, i+1)
		}
	}
	if got := testutil.ToFloat64(metrics.ProviderRetriesTotal); got != 2 {
		t.Errorf("providerRetriesTotal = %v, want 2", got)
	}
}

func TestOpenMeteoClient_Fetch_ConnectionRefusedRetried(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c, logs, _ := newTestClient(t, Config{}, nil)

	_, err := c.Fetch(context.Background(), mustQuery(t, url))
	if err == nil {
		t.Fatal("Fetch() expected error, got nil")
	}
	var tErr *TransientNetworkError
	if !errors.As(err, &tErr) || tErr.Reason != "connection_refused" {
		t.Errorf("error = %v, want connection_refused TransientNetworkError", err)
	}
	if n := logs.FilterMessage("retrying weather fetch").Len(); n != 2 {
		t.Errorf("retry warnings = %d, want 2", n)
	}
}

func TestOpenMeteoClient_Fetch_NoRetryOnNonRetryableError(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind ErrorKind
		wantMsg  string
	}{
		{"service unavailable", http.StatusServiceUnavailable, "", KindProviderHTTP, "API Error: 503 Service Unavailable"},
		{"bad request", http.StatusBadRequest, `{"error":true}`, KindProviderHTTP, "API Error: 400 Bad Request"},
		{"missing current_weather", http.StatusOK, `{"timezone":"UTC","daily":{"time":[]}}`, KindIncompleteResponse, "incomplete response: missing current_weather"},
		{"invalid JSON", http.StatusOK, `{not json`, KindParsing, "parse response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&attempts, 1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c, logs, _ := newTestClient(t, Config{}, nil)
			_, err := c.Fetch(context.Background(), mustQuery(t, server.URL))
			if err == nil {
				t.Fatal("Fetch() expected error, got nil")
			}
			if n := atomic.LoadInt32(&attempts); n != 1 {
				t.Errorf("attempts = %d, want 1 (no retry)", n)
			}
			if KindOf(err) != tt.wantKind {
				t.Errorf("KindOf() = %q, want %q", KindOf(err), tt.wantKind)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error = %q, want it to contain %q", err.Error(), tt.wantMsg)
			}
			if logs.FilterMessage("retrying weather fetch").Len() != 0 {
				t.Error("no retry warning expected")
			}
		})
	}
}

func TestOpenMeteoClient_Fetch_ContextCanceledDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c, _, _ := newTestClient(t, Config{BackoffBase: time.Hour}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Fetch(ctx, mustQuery(t, url))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Fetch() error = %v, want context.DeadlineExceeded", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("Fetch() should stop waiting when ctx ends")
	}
}

func TestOpenMeteoClient_Fetch_CanceledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(forecastBody))
	}))
	defer server.Close()

	c, _, _ := newTestClient(t, Config{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Fetch(ctx, mustQuery(t, server.URL))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Fetch() error = %v, want context.Canceled", err)
	}
	if KindOf(err) != KindCanceled {
		t.Errorf("KindOf() = %q, want canceled", KindOf(err))
	}
}

func TestOpenMeteoClient_Fetch_BreakerOpens(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	breaker := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: 1,
		Timeout:          time.Hour,
		Component:        "provider",
		IsFailure:        IsBreakerFailure,
	})
	c, _, _ := newTestClient(t, Config{}, breaker)
	q := mustQuery(t, server.URL)

	if _, err := c.Fetch(context.Background(), q); KindOf(err) != KindProviderHTTP {
		t.Fatalf("first Fetch() kind = %q, want provider_http", KindOf(err))
	}
	_, err := c.Fetch(context.Background(), q)
	if !errors.Is(err, circuitbreaker.ErrOpen) {
		t.Errorf("second Fetch() error = %v, want ErrOpen", err)
	}
	if KindOf(err) != KindCircuitOpen {
		t.Errorf("KindOf() = %q, want circuit_open", KindOf(err))
	}
	if n := atomic.LoadInt32(&attempts); n != 1 {
		t.Errorf("attempts = %d, want 1", n)
	}
}

func TestOpenMeteoClient_backoff(t *testing.T) {
	c := NewOpenMeteoClient(Config{}, nil, nil, nil)
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	for retry, w := range want {
		if got := c.backoff(retry); got != w {
			t.Errorf("backoff(%d) = %v, want %v", retry, got, w)
		}
	}
}

func TestNewOpenMeteoClient_Defaults(t *testing.T) {
	c := NewOpenMeteoClient(Config{MaxRetries: -1}, nil, nil, nil)
	if c.timeout != DefaultTimeout {
		t.Errorf("timeout = %v, want %v", c.timeout, DefaultTimeout)
	}
	if c.maxRetries != 0 {
		t.Errorf("maxRetries = %d, want 0", c.maxRetries)
	}
	if c.userAgent != DefaultUserAgent {
		t.Errorf("userAgent = %q, want default", c.userAgent)
	}
}

func TestStatusLabel(t *testing.T) {
	tests := map[int]string{200: "success", 204: "success", 429: "rate_limited", 404: "client_error", 503: "server_error", 302: "error"}
	for code, want := range tests {
		if got := statusLabel(code); got != want {
			t.Errorf("statusLabel(%d) = %q, want %q", code, got, want)
		}
	}
}

func TestOpenMeteoClient_Fetch_NilMetrics(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(forecastBody))
	}))
	defer server.Close()

	c := NewOpenMeteoClient(Config{MaxRetries: 1, BackoffBase: time.Millisecond}, nil, nil, nil)
	raw, err := c.Fetch(context.Background(), mustQuery(t, server.URL))
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if raw.CurrentWeather == nil {
		t.Fatal("CurrentWeather = nil")
	}

	// A refused connection walks the retry and final-error paths.
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	downURL := down.URL
	down.Close()
	if _, err := c.Fetch(context.Background(), mustQuery(t, downURL)); KindOf(err) != KindTransientNetwork {
		t.Errorf("Fetch() error = %v (kind %q), want transient_network", err, KindOf(err))
	}
}

// Package testhelpers provides a stand-in Open-Meteo server for tests that exercise
// the real HTTP client.
package testhelpers

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
)

// ForecastJSON is a complete Open-Meteo forecast body: 21.5°C with 62 km/h wind now,
// and a first forecast day with 12.4 mm of rain.
const ForecastJSON = `{
  "timezone": "Europe/Madrid",
  "current_weather": {"time": "2024-01-15T12:00", "temperature": 21.5, "windspeed": 62, "winddirection": 180, "weathercode": 3},
  "daily": {
    "time": ["2024-01-16", "2024-01-17"],
    "temperature_2m_max": [24.1, 19],
    "temperature_2m_min": [12.3, 10.2],
    "precipitation_sum": [12.4, 0],
    "weathercode": [61, 1]
  },
  "hourly": {
    "time": ["2024-01-15T12:00", "2024-01-15T13:00"],
    "precipitation": [0, 0.4],
    "windspeed_10m": [62, 58],
    "relativehumidity_2m": [55, 60],
    "temperature_2m": [21.5, 21],
    "weathercode": [3, 61]
  }
}`

// Response is one canned reply. Status 0 means 200.
type Response struct {
	Status int
	Body   string
}

// OpenMeteoServer replays Responses in order, repeating the last one once exhausted.
type OpenMeteoServer struct {
	*httptest.Server

	hits atomic.Int32

	mu        sync.Mutex
	responses []Response
	queries   []string
}

// NewOpenMeteoServer starts a server closed at test cleanup. With no responses it
// always answers ForecastJSON.
func NewOpenMeteoServer(t *testing.T, responses ...Response) *OpenMeteoServer {
	t.Helper()
	if len(responses) == 0 {
		responses = []Response{{Body: ForecastJSON}}
	}
	s := &OpenMeteoServer{responses: responses}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// URL of the forecast endpoint, suitable as a provider base URL.
func (s *OpenMeteoServer) ForecastURL() string {
	return s.Server.URL + "/v1/forecast"
}

// Hits is the number of requests served.
func (s *OpenMeteoServer) Hits() int {
	return int(s.hits.Load())
}

// Queries returns the raw query strings received, in order.
func (s *OpenMeteoServer) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

func (s *OpenMeteoServer) serve(w http.ResponseWriter, r *http.Request) {
	n := int(s.hits.Add(1)) - 1

	s.mu.Lock()
	s.queries = append(s.queries, r.URL.RawQuery)
	resp := s.responses[min(n, len(s.responses)-1)]
	s.mu.Unlock()

	if resp.Status == 0 {
		resp.Status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	_, _ = w.Write([]byte(resp.Body))
}

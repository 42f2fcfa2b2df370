package client

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/kjstillabower/forecast-alert-service/internal/models"
	"github.com/kjstillabower/forecast-alert-service/internal/validation"
)

// DefaultBaseURL is the Open-Meteo forecast endpoint.
const DefaultBaseURL = "https://api.open-meteo.com/v1/forecast"

// ForecastHours bounds the hourly block to the next day.
const ForecastHours = 24

// DailyMetrics lists the supported daily metrics in request order. All are enabled by default.
var DailyMetrics = []string{"temperature_2m_max", "temperature_2m_min", "precipitation_sum", "weathercode"}

// HourlyMetrics lists the supported hourly metrics in request order. All are enabled by default.
var HourlyMetrics = []string{"precipitation", "windspeed_10m", "relativehumidity_2m", "temperature_2m", "weathercode"}

// Query is an immutable description of one forecast request.
type Query struct {
	URL        string
	Coordinate models.Coordinate
	Daily      []string
	Hourly     []string
}

// BuildQuery validates c and builds the request URL. A nil selection, or a nil map
// inside it, enables every metric of that block; metrics set to false are skipped and
// a block with nothing enabled is left out of the request.
func BuildQuery(baseURL string, c models.Coordinate, sel *models.MetricSelection) (Query, error) {
	if err := validation.ValidateCoordinate(c); err != nil {
		return Query{}, err
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	var dailySel, hourlySel map[string]bool
	if sel != nil {
		dailySel, hourlySel = sel.Daily, sel.Hourly
	}
	daily, err := enabledMetrics("daily", DailyMetrics, dailySel)
	if err != nil {
		return Query{}, err
	}
	hourly, err := enabledMetrics("hourly", HourlyMetrics, hourlySel)
	if err != nil {
		return Query{}, err
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return Query{}, fmt.Errorf("invalid provider URL: %w", err)
	}
	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(c.Latitude, 'f', -1, 64))
	params.Set("longitude", strconv.FormatFloat(c.Longitude, 'f', -1, 64))
	params.Set("current_weather", "true")
	params.Set("timezone", "auto")
	if len(daily) > 0 {
		params.Set("daily", strings.Join(daily, ","))
	}
	if len(hourly) > 0 {
		params.Set("hourly", strings.Join(hourly, ","))
		params.Set("forecast_hours", strconv.Itoa(ForecastHours))
	}
	u.RawQuery = params.Encode()

	return Query{URL: u.String(), Coordinate: c, Daily: daily, Hourly: hourly}, nil
}

func enabledMetrics(block string, known []string, sel map[string]bool) ([]string, error) {
	if sel == nil {
		return append([]string(nil), known...), nil
	}
	for name := range sel {
		if !contains(known, name) {
			return nil, validation.InvalidMetric(block, name)
		}
	}
	var out []string
	for _, name := range known {
		if sel[name] {
			out = append(out, name)
		}
	}
	return out, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

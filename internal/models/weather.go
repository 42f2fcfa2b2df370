package models

import (
	"strconv"
)

// Coordinate is a geographic point in decimal degrees. Use validation.NewCoordinate
// to construct one from untrusted input.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Key renders the coordinate as an exact-match cache key. Coordinates differing
// by any amount produce different keys.
func (c Coordinate) Key() string {
	return "weather_" + strconv.FormatFloat(c.Latitude, 'f', -1, 64) + "_" + strconv.FormatFloat(c.Longitude, 'f', -1, 64)
}

// MetricSelection enables provider metrics by name. A nil map means "use defaults";
// a non-nil empty map disables that block entirely.
type MetricSelection struct {
	Daily  map[string]bool `json:"daily,omitempty"`
	Hourly map[string]bool `json:"hourly,omitempty"`
}

// CurrentConditions holds the provider's current_weather block. Missing numeric
// fields stay nil and are omitted from JSON.
type CurrentConditions struct {
	Timestamp     string   `json:"timestamp,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	WindSpeed     *float64 `json:"windSpeed,omitempty"`
	WindDirection *float64 `json:"windDirection,omitempty"`
	WeatherCode   *int     `json:"weatherCode,omitempty"`
	Timezone      string   `json:"timezone,omitempty"`
}

// DayForecast is one entry of the daily block.
type DayForecast struct {
	Date          string   `json:"date"`
	TempMax       *float64 `json:"tempMax,omitempty"`
	TempMin       *float64 `json:"tempMin,omitempty"`
	Precipitation *float64 `json:"precipitation,omitempty"`
	WeatherCode   *int     `json:"weatherCode,omitempty"`
}

// HourPoint is one entry of the hourly block.
type HourPoint struct {
	Timestamp     string   `json:"timestamp"`
	Precipitation *float64 `json:"precipitation,omitempty"`
	WindSpeed     *float64 `json:"windSpeed,omitempty"`
	Humidity      *float64 `json:"humidity,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	WeatherCode   *int     `json:"weatherCode,omitempty"`
}

// NormalizedWeather is the stable internal weather record. Forecast and Hourly
// are never nil after normalization.
type NormalizedWeather struct {
	Current  CurrentConditions `json:"current"`
	Forecast []DayForecast     `json:"forecast"`
	Hourly   []HourPoint       `json:"hourly"`
}

// WeatherReport is normalized weather plus derived alerts. It is the value held
// by caches and returned as the data field of a successful Result.
type WeatherReport struct {
	NormalizedWeather
	Alerts   []Alert `json:"alerts"`
	CityName string  `json:"cityName,omitempty"`
}

// Result is the discriminated outcome of a pipeline run. On failure Data is nil
// and Error carries the original error message.
type Result struct {
	Success bool           `json:"success"`
	Data    *WeatherReport `json:"data"`
	Summary string         `json:"summary,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Float returns a pointer to v. Handy for building fixtures and overrides.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

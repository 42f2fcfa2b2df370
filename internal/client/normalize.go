package client

import "github.com/kjstillabower/forecast-alert-service/internal/models"

// RawResponse is the subset of the Open-Meteo forecast response the service reads.
// Daily and hourly values are parallel arrays keyed by the block's time axis; any of
// them may be missing or shorter than the axis, and any element may be null.
type RawResponse struct {
	Timezone       string      `json:"timezone"`
	CurrentWeather *RawCurrent `json:"current_weather"`
	Daily          *RawDaily   `json:"daily"`
	Hourly         *RawHourly  `json:"hourly"`
}

type RawCurrent struct {
	Time          string   `json:"time"`
	Temperature   *float64 `json:"temperature"`
	WindSpeed     *float64 `json:"windspeed"`
	WindDirection *float64 `json:"winddirection"`
	WeatherCode   *int     `json:"weathercode"`
}

type RawDaily struct {
	Time             []string   `json:"time"`
	TemperatureMax   []*float64 `json:"temperature_2m_max"`
	TemperatureMin   []*float64 `json:"temperature_2m_min"`
	PrecipitationSum []*float64 `json:"precipitation_sum"`
	WeatherCode      []*int     `json:"weathercode"`
}

type RawHourly struct {
	Time             []string   `json:"time"`
	Precipitation    []*float64 `json:"precipitation"`
	WindSpeed        []*float64 `json:"windspeed_10m"`
	RelativeHumidity []*float64 `json:"relativehumidity_2m"`
	Temperature      []*float64 `json:"temperature_2m"`
	WeatherCode      []*int     `json:"weathercode"`
}

// Normalize maps a provider response into NormalizedWeather. It never fails: absent
// blocks become empty sequences and absent values stay nil. Forecast and Hourly
// follow the provider's time axis in order.
func Normalize(raw RawResponse) models.NormalizedWeather {
	out := models.NormalizedWeather{
		Current:  models.CurrentConditions{Timezone: raw.Timezone},
		Forecast: []models.DayForecast{},
		Hourly:   []models.HourPoint{},
	}
	if c := raw.CurrentWeather; c != nil {
		out.Current.Timestamp = c.Time
		out.Current.Temperature = c.Temperature
		out.Current.WindSpeed = c.WindSpeed
		out.Current.WindDirection = c.WindDirection
		out.Current.WeatherCode = c.WeatherCode
	}

	if d := raw.Daily; d != nil {
		out.Forecast = make([]models.DayForecast, 0, len(d.Time))
		for i, date := range d.Time {
			out.Forecast = append(out.Forecast, models.DayForecast{
				Date:          date,
				TempMax:       at(d.TemperatureMax, i),
				TempMin:       at(d.TemperatureMin, i),
				Precipitation: at(d.PrecipitationSum, i),
				WeatherCode:   at(d.WeatherCode, i),
			})
		}
	}

	if h := raw.Hourly; h != nil {
		out.Hourly = make([]models.HourPoint, 0, len(h.Time))
		for i, ts := range h.Time {
			out.Hourly = append(out.Hourly, models.HourPoint{
				Timestamp:     ts,
				Precipitation: at(h.Precipitation, i),
				WindSpeed:     at(h.WindSpeed, i),
				Humidity:      at(h.RelativeHumidity, i),
				Temperature:   at(h.Temperature, i),
				WeatherCode:   at(h.WeatherCode, i),
			})
		}
	}
	return out
}

// at returns s[i], or nil when i is out of range.
func at[T any](s []*T, i int) *T {
	if i < 0 || i >= len(s) {
		return nil
	}
	return s[i]
}

package report

import "github.com/kjstillabower/forecast-alert-service/internal/models"

const (
	defaultHumidity = 50.0
	maxForecastDays = 5
)

// Recommendation texts.
const (
	RecommendOutdoor  = "Great conditions for outdoor activities"
	RecommendIce      = "Ice risk: drive carefully"
	RecommendWind     = "Very strong wind: avoid going out"
	RecommendUmbrella = "Heavy rain expected: take an umbrella"
)

// DetailedReport is the data field of GET /api/weather/report.
type DetailedReport struct {
	Summary         ReportHeader    `json:"summary"`
	Current         DetailedCurrent `json:"current"`
	Forecast        []ForecastLine  `json:"forecast"`
	Recommendations []string        `json:"recommendations"`
}

// ReportHeader describes the observation time and current sky.
type ReportHeader struct {
	Timestamp   string `json:"timestamp,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
	Description string `json:"description"`
}

// DetailedCurrent is current conditions with derived comfort values.
type DetailedCurrent struct {
	Temperature *float64  `json:"temperature,omitempty"`
	FeelsLike   FeelsLike `json:"feelsLike"`
	Wind        Wind      `json:"wind"`
	Humidity    *float64  `json:"humidity,omitempty"`
	AirQuality  int       `json:"airQuality"`
}

// FeelsLike holds the wind chill and heat index, each rounded to 0.1°C.
type FeelsLike struct {
	WindChill *float64 `json:"windChill,omitempty"`
	HeatIndex *float64 `json:"heatIndex,omitempty"`
}

// Wind is current wind speed (km/h) and direction (degrees).
type Wind struct {
	Speed     *float64 `json:"speed,omitempty"`
	Direction *float64 `json:"direction,omitempty"`
}

// ForecastLine is one formatted forecast day.
type ForecastLine struct {
	Date          string `json:"date"`
	TempRange     string `json:"tempRange"`
	Precipitation string `json:"precipitation"`
	Description   string `json:"description"`
}

// Recommendations returns activity advice for current conditions and the next day.
func Recommendations(w models.NormalizedWeather) []string {
	out := []string{}
	temp, wind := w.Current.Temperature, w.Current.WindSpeed

	if temp != nil && wind != nil && *temp > 15 && *temp < 25 && *wind < 30 {
		out = append(out, RecommendOutdoor)
	}
	if temp != nil && *temp < 0 {
		out = append(out, RecommendIce)
	}
	if wind != nil && *wind > 50 {
		out = append(out, RecommendWind)
	}
	if len(w.Forecast) > 0 {
		if p := w.Forecast[0].Precipitation; p != nil && *p > 10 {
			out = append(out, RecommendUmbrella)
		}
	}
	return out
}

// Detailed builds the extended report: comfort indices, wind, humidity from the first
// hourly point, up to five forecast days and recommendations.
func Detailed(w models.NormalizedWeather) DetailedReport {
	cur := w.Current

	var humidity, precipitation *float64
	if len(w.Hourly) > 0 {
		humidity = w.Hourly[0].Humidity
		precipitation = w.Hourly[0].Precipitation
	}

	r := DetailedReport{
		Summary: ReportHeader{
			Timestamp:   cur.Timestamp,
			Timezone:    cur.Timezone,
			Description: Describe(cur.WeatherCode),
		},
		Current: DetailedCurrent{
			Temperature: cur.Temperature,
			Wind:        Wind{Speed: cur.WindSpeed, Direction: cur.WindDirection},
			Humidity:    humidity,
			AirQuality:  AirQuality(valueOr(humidity, defaultHumidity), valueOr(precipitation, 0), valueOr(cur.WindSpeed, 0)),
		},
		Forecast:        []ForecastLine{},
		Recommendations: Recommendations(w),
	}

	if cur.Temperature != nil {
		hi := HeatIndex(*cur.Temperature, valueOr(humidity, defaultHumidity))
		r.Current.FeelsLike.HeatIndex = &hi
		if cur.WindSpeed != nil {
			wc := WindChill(*cur.Temperature, *cur.WindSpeed)
			r.Current.FeelsLike.WindChill = &wc
		}
	}

	for i, day := range w.Forecast {
		if i == maxForecastDays {
			break
		}
		r.Forecast = append(r.Forecast, ForecastLine{
			Date:          day.Date,
			TempRange:     fmtValue(day.TempMin) + "°C - " + fmtValue(day.TempMax) + "°C",
			Precipitation: fmtValue(day.Precipitation) + "mm",
			Description:   Describe(day.WeatherCode),
		})
	}
	return r
}

func valueOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

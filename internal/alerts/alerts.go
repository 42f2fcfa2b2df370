package alerts

import (
	"fmt"
	"strconv"

	"github.com/kjstillabower/forecast-alert-service/internal/models"
)

// Evaluate applies the alert rules to w in a fixed order: high wind, extreme cold and
// extreme heat on current conditions, then heavy rain for each forecast day in order.
// Rules are independent; a nil input never triggers its rule. The result is never nil.
func Evaluate(w models.NormalizedWeather, t models.Thresholds) []models.Alert {
	out := []models.Alert{}
	cur := w.Current

	if cur.WindSpeed != nil && *cur.WindSpeed > t.MaxWind {
		out = append(out, models.Alert{
			Type:     models.AlertHighWind,
			Severity: models.SeverityWarning,
			Message:  fmt.Sprintf("High wind: %s km/h (threshold: %s)", num(*cur.WindSpeed), num(t.MaxWind)),
			Value:    *cur.WindSpeed,
		})
	}
	if cur.Temperature != nil && *cur.Temperature < t.MinTemperature {
		out = append(out, models.Alert{
			Type:     models.AlertExtremeCold,
			Severity: models.SeverityCritical,
			Message:  fmt.Sprintf("Very low temperature: %s°C", num(*cur.Temperature)),
			Value:    *cur.Temperature,
		})
	}
	if cur.Temperature != nil && *cur.Temperature > t.MaxTemperature {
		out = append(out, models.Alert{
			Type:     models.AlertExtremeHeat,
			Severity: models.SeverityCritical,
			Message:  fmt.Sprintf("Very high temperature: %s°C", num(*cur.Temperature)),
			Value:    *cur.Temperature,
		})
	}
	for _, day := range w.Forecast {
		if day.Precipitation != nil && *day.Precipitation > t.MinPrecipitation {
			out = append(out, models.Alert{
				Type:     models.AlertHeavyRain,
				Severity: models.SeverityWarning,
				Message:  fmt.Sprintf("Heavy rain expected: %s mm", num(*day.Precipitation)),
				Value:    *day.Precipitation,
				Date:     day.Date,
			})
		}
	}
	return out
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

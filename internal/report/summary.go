// Package report turns normalized weather into human-facing text and derived indices.
package report

import (
	"strconv"
	"strings"

	"github.com/kjstillabower/forecast-alert-service/internal/models"
)

// Summarize renders a one-line digest of current conditions and, when a forecast day
// exists, the next day's range and precipitation. Missing values render as "n/a".
func Summarize(w models.NormalizedWeather) string {
	var b strings.Builder
	b.WriteString("Current temperature: ")
	b.WriteString(fmtValue(w.Current.Temperature))
	b.WriteString("°C, Wind: ")
	b.WriteString(fmtValue(w.Current.WindSpeed))
	b.WriteString(" km/h.")

	if len(w.Forecast) > 0 {
		day := w.Forecast[0]
		b.WriteString(" Tomorrow: max ")
		b.WriteString(fmtValue(day.TempMax))
		b.WriteString("°C, min ")
		b.WriteString(fmtValue(day.TempMin))
		b.WriteString("°C.")
		if day.Precipitation != nil && *day.Precipitation > 0 {
			b.WriteString(" Expected precipitation: ")
			b.WriteString(fmtFloat(*day.Precipitation))
			b.WriteString(" mm.")
		}
	}
	return b.String()
}

func fmtValue(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmtFloat(*v)
}

func fmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

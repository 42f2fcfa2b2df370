package report

import "math"

// HeatIndex returns the apparent temperature in °C using the Rothfusz regression.
// Below 68°F (20°C) the regression does not apply and tempC is returned as is.
func HeatIndex(tempC, humidity float64) float64 {
	f := tempC*9/5 + 32
	if f < 68 {
		return tempC
	}
	const (
		c1 = -42.379
		c2 = 2.04901523
		c3 = 10.14333127
		c4 = -0.22475541
		c5 = -0.00683783
		c6 = -0.05481717
		c7 = 0.00122874
		c8 = 0.00085282
		c9 = -0.00000199
	)
	h := humidity
	hi := c1 + c2*f + c3*h + c4*f*h + c5*f*f + c6*h*h + c7*f*f*h + c8*f*h*h + c9*f*f*h*h
	return round1((hi - 32) * 5 / 9)
}

// WindChill returns the wind chill in °C (Environment Canada formula). Above 10°C
// it returns tempC.
func WindChill(tempC, windKmh float64) float64 {
	if tempC > 10 {
		return tempC
	}
	v := math.Pow(windKmh, 0.16)
	return round1(13.12 + 0.6215*tempC - 11.37*v + 0.3965*tempC*v)
}

// AirQuality is a rough 0-100 dispersion score. Open-Meteo forecasts carry no AQI,
// so it is estimated from humidity, precipitation and wind.
func AirQuality(humidity, precipitation, windSpeed float64) int {
	score := 100
	if humidity > 80 && precipitation == 0 {
		score -= 20
	}
	if windSpeed < 5 {
		score -= 15
	}
	if precipitation > 0 {
		score += 10
	}
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// round1 rounds to one decimal with halves going toward +Inf.
func round1(v float64) float64 {
	return math.Floor(v*10+0.5) / 10
}

// Package cities holds the static city table used for search and for naming coordinates.
package cities

import (
	"strings"

	"github.com/umahmood/haversine"

	"github.com/kjstillabower/forecast-alert-service/internal/models"
)

// DefaultSearchLimit caps Search results when no limit is given.
const DefaultSearchLimit = 10

// City is a named location.
type City struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Country   string  `json:"country"`
}

// Coordinate returns the city's coordinate.
func (c City) Coordinate() models.Coordinate {
	return models.Coordinate{Latitude: c.Latitude, Longitude: c.Longitude}
}

var all = []City{
	{"Madrid", 40.4168, -3.7038, "ES"},
	{"Barcelona", 41.3851, 2.1734, "ES"},
	{"Valencia", 39.4699, -0.376, "ES"},
	{"Seville", 37.3886, -5.9823, "ES"},
	{"Bilbao", 43.2627, -2.9355, "ES"},
	{"Málaga", 36.7213, -4.4214, "ES"},
	{"Palma", 39.5696, 2.6502, "ES"},
	{"Alicante", 38.3452, -0.481, "ES"},
	{"Córdoba", 37.8882, -4.7794, "ES"},
	{"Murcia", 37.9922, -1.1307, "ES"},
	{"New York", 40.7128, -74.006, "US"},
	{"London", 51.5074, -0.1278, "GB"},
	{"Paris", 48.8566, 2.3522, "FR"},
	{"Berlin", 52.52, 13.405, "DE"},
	{"Amsterdam", 52.3676, 4.9041, "NL"},
	{"Rome", 41.9028, 12.4964, "IT"},
	{"Vienna", 48.2082, 16.3738, "AT"},
	{"Prague", 50.0755, 14.4378, "CZ"},
	{"Istanbul", 41.0082, 28.9784, "TR"},
	{"Moscow", 55.7558, 37.6173, "RU"},
	{"Mexico City", 19.4326, -99.1332, "MX"},
	{"Buenos Aires", -34.6037, -58.3816, "AR"},
	{"São Paulo", -23.5505, -46.6333, "BR"},
	{"Bogotá", 4.711, -74.0721, "CO"},
	{"Lima", -12.0464, -77.0428, "PE"},
}

// All returns a copy of the city table.
func All() []City {
	return append([]City(nil), all...)
}

// Lookup finds a city by name, ignoring case and surrounding space.
func Lookup(name string) (City, bool) {
	name = strings.TrimSpace(name)
	for _, c := range all {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return City{}, false
}

// Search returns up to limit cities whose name contains query, ignoring case.
// An empty query matches nothing. limit <= 0 means DefaultSearchLimit.
func Search(query string, limit int) []City {
	out := []City{}
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return out
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	for _, c := range all {
		if strings.Contains(strings.ToLower(c.Name), q) {
			out = append(out, c)
			if len(out) == limit {
				break
			}
		}
	}
	return out
}

// Nearest returns the closest city to c and its distance in km. ok is false when the
// closest city is farther than maxKm.
func Nearest(c models.Coordinate, maxKm float64) (City, float64, bool) {
	from := haversine.Coord{Lat: c.Latitude, Lon: c.Longitude}
	best, bestKm := City{}, -1.0
	for _, city := range all {
		_, km := haversine.Distance(from, haversine.Coord{Lat: city.Latitude, Lon: city.Longitude})
		if bestKm < 0 || km < bestKm {
			best, bestKm = city, km
		}
	}
	if bestKm < 0 || bestKm > maxKm {
		return City{}, bestKm, false
	}
	return best, bestKm, true
}

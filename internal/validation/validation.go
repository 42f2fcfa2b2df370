package validation

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/kjstillabower/forecast-alert-service/internal/models"
)

// ErrInvalidCoordinate is matched by every coordinate ValidationError.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// ErrInvalidMetric is matched by ValidationErrors for unknown metric names.
var ErrInvalidMetric = errors.New("invalid metric")

// ValidationError reports bad caller input. It is never retried and surfaces
// before any network call.
type ValidationError struct {
	Field   string
	Message string
	kind    error
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Unwrap lets errors.Is match ErrInvalidCoordinate / ErrInvalidMetric.
func (e *ValidationError) Unwrap() error {
	return e.kind
}

// ValidateCoordinate checks that both values are finite numbers with
// |latitude| <= 90 and |longitude| <= 180.
func ValidateCoordinate(c models.Coordinate) error {
	if !isNumber(c.Latitude) || !isNumber(c.Longitude) {
		return &ValidationError{Field: "coordinate", Message: "latitude and longitude must be numbers", kind: ErrInvalidCoordinate}
	}
	if math.Abs(c.Latitude) > 90 || math.Abs(c.Longitude) > 180 {
		return &ValidationError{
			Field:   "coordinate",
			Message: fmt.Sprintf("coordinates out of range: latitude %g, longitude %g", c.Latitude, c.Longitude),
			kind:    ErrInvalidCoordinate,
		}
	}
	return nil
}

// NewCoordinate builds a Coordinate, failing with a ValidationError on bad input.
func NewCoordinate(latitude, longitude float64) (models.Coordinate, error) {
	c := models.Coordinate{Latitude: latitude, Longitude: longitude}
	if err := ValidateCoordinate(c); err != nil {
		return models.Coordinate{}, err
	}
	return c, nil
}

// InvalidMetric returns a ValidationError for an unknown metric name in block.
func InvalidMetric(block, name string) error {
	return &ValidationError{
		Field:   block,
		Message: fmt.Sprintf("unknown %s metric %q", block, name),
		kind:    ErrInvalidMetric,
	}
}

func isNumber(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// ErrCityEmpty is returned when a city name is empty or whitespace-only after trim.
var ErrCityEmpty = errors.New("city name is required")

// ErrCityTooLong is returned when a city name exceeds the maximum length.
var ErrCityTooLong = errors.New("city name too long")

// ErrCityInvalidChars is returned when a city name contains disallowed characters.
var ErrCityInvalidChars = errors.New("city name contains invalid characters")

// ValidateCityName trims the input, enforces maxLen (in runes, 0 = unlimited) and
// restricts to letters (Unicode), digits, space, comma, hyphen, apostrophe and period.
func ValidateCityName(input string, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	if len(r) == 0 {
		return "", ErrCityEmpty
	}
	if maxLen > 0 && len(r) > maxLen {
		return "", ErrCityTooLong
	}
	for _, c := range r {
		if !isAllowedCityRune(c) {
			return "", ErrCityInvalidChars
		}
	}
	return s, nil
}

func isAllowedCityRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.Is(unicode.Mn, r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '\'', '.':
		return true
	}
	return false
}

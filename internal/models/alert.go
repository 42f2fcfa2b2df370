package models

// AlertType identifies the rule that produced an alert.
type AlertType string

const (
	AlertHighWind    AlertType = "HIGH_WIND"
	AlertExtremeCold AlertType = "EXTREME_COLD"
	AlertExtremeHeat AlertType = "EXTREME_HEAT"
	AlertHeavyRain   AlertType = "HEAVY_RAIN"
)

// Severity of an alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is a single threshold breach.
type Alert struct {
	Type     AlertType `json:"type"`
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
	Value    float64   `json:"value"`
	Date     string    `json:"date,omitempty"`
}

// Default alert thresholds (km/h, °C, °C, mm).
const (
	DefaultMaxWind          = 50.0
	DefaultMinTemperature   = -10.0
	DefaultMaxTemperature   = 40.0
	DefaultMinPrecipitation = 10.0
)

// Thresholds configures the alert rules.
type Thresholds struct {
	MaxWind          float64 `json:"maxWind" yaml:"max_wind"`
	MinTemperature   float64 `json:"minTemperature" yaml:"min_temperature"`
	MaxTemperature   float64 `json:"maxTemperature" yaml:"max_temperature"`
	MinPrecipitation float64 `json:"minPrecipitation" yaml:"min_precipitation"`
}

// DefaultThresholds returns the documented defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxWind:          DefaultMaxWind,
		MinTemperature:   DefaultMinTemperature,
		MaxTemperature:   DefaultMaxTemperature,
		MinPrecipitation: DefaultMinPrecipitation,
	}
}

// ThresholdOverrides is a partial Thresholds; nil fields keep the default.
type ThresholdOverrides struct {
	MaxWind          *float64 `json:"maxWind,omitempty" yaml:"max_wind"`
	MinTemperature   *float64 `json:"minTemperature,omitempty" yaml:"min_temperature"`
	MaxTemperature   *float64 `json:"maxTemperature,omitempty" yaml:"max_temperature"`
	MinPrecipitation *float64 `json:"minPrecipitation,omitempty" yaml:"min_precipitation"`
}

// Resolve applies the overrides field by field on top of DefaultThresholds.
func (o ThresholdOverrides) Resolve() Thresholds {
	return o.Apply(DefaultThresholds())
}

// Apply returns base with every non-nil override substituted.
func (o ThresholdOverrides) Apply(base Thresholds) Thresholds {
	t := base
	if o.MaxWind != nil {
		t.MaxWind = *o.MaxWind
	}
	if o.MinTemperature != nil {
		t.MinTemperature = *o.MinTemperature
	}
	if o.MaxTemperature != nil {
		t.MaxTemperature = *o.MaxTemperature
	}
	if o.MinPrecipitation != nil {
		t.MinPrecipitation = *o.MinPrecipitation
	}
	return t
}

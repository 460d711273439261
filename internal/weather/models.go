package weather

import (
	"github.com/i474232898/weather-course/internal/trace"
)

// SkyCategory is the normalized sky bucket used for ranking.
type SkyCategory string

const (
	SkySunny  SkyCategory = "sunny"
	SkyCloudy SkyCategory = "cloudy"
	SkyRain   SkyCategory = "rain"
	SkySnow   SkyCategory = "snow"
	SkyOther  SkyCategory = "other"
)

// Defaults used when nothing usable came back from upstream.
const (
	DefaultSkyLabel    = "맑음"
	DefaultTemperature = 20
)

// Summary is the per-request weather view. Immutable once built.
type Summary struct {
	SkyCategory        SkyCategory `json:"skyCategory"`
	SkyLabel           string      `json:"skyLabel"`
	TemperatureCelsius int         `json:"temperatureCelsius"`
	Message            string      `json:"message"`

	degraded bool
}

// Degraded reports whether the summary is the fallback default.
func (s Summary) Degraded() bool {
	return s.degraded
}

// Report describes how a Summary was obtained.
type Report struct {
	Trace trace.Trace

	// Reached is true when at least one attempt got an HTTP response.
	Reached bool
}

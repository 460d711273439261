package course

import "github.com/i474232898/weather-course/internal/common"

// Content type ids used by the tourism catalog.
const (
	ContentAttraction = "12"
	ContentCulture    = "14"
	ContentLodging    = "32"
)

// DefaultContentPriority is the order content types are tried in.
var DefaultContentPriority = []string{ContentAttraction, ContentLodging, ContentCulture}

// RawRecord is an untrusted catalog item. Missing fields are expected.
type RawRecord = common.Fields

// Course is the only course shape exposed to callers.
type Course struct {
	ID          string `json:"id"`
	AreaLabel   string `json:"areaLabel"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ImageURL    string `json:"imageUrl"`

	ObservedSkyLabel    string `json:"observedSkyLabel"`
	ObservedTemperature int    `json:"observedTemperature"`
}

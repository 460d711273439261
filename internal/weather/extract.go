package weather

import (
	"fmt"
	"math"
	"strings"

	"github.com/i474232898/weather-course/internal/common"
)

// Candidate field names, in priority order.
var (
	skyFields  = []string{"sky", "SKY", "skyCode", "skyState", "wf", "wfKor"}
	ptyFields  = []string{"pty", "PTY"}
	tempFields = []string{"th3", "t1h", "T1H", "tmp", "TMP", "ta", "temp"}
	maxFields  = []string{"maxTa", "tmx", "TMX"}
	minFields  = []string{"minTa", "tmn", "TMN"}
)

var skyCodeLabels = map[string]string{
	"1": "맑음",
	"3": "구름많음",
	"4": "흐림",
}

var ptyLabels = map[string]string{
	"1": "비",
	"2": "비/눈",
	"3": "눈",
	"4": "소나기",
	"5": "빗방울",
	"6": "빗방울눈날림",
	"7": "눈날림",
}

// Classify maps a sky label or numeric code to a SkyCategory. Numeric codes
// win over text matching.
func Classify(labelOrCode string) SkyCategory {
	v := strings.TrimSpace(labelOrCode)
	switch v {
	case "1":
		return SkySunny
	case "3", "4":
		return SkyCloudy
	case "":
		return SkyOther
	}

	lower := common.Fold(v)
	switch {
	case common.HasAny(lower, "비", "rain", "소나기", "shower", "drizzle", "빗방울"):
		return SkyRain
	case common.HasAny(lower, "눈", "snow", "sleet"):
		return SkySnow
	case common.HasAny(lower, "맑", "sunny", "clear"):
		return SkySunny
	case common.HasAny(lower, "구름", "흐림", "흐리", "cloud", "overcast"):
		return SkyCloudy
	default:
		return SkyOther
	}
}

type reading struct {
	label string
	temp  int
	ok    bool
}

// extract pulls a sky label and temperature out of the first item that has
// either. Temperature falls back to the max/min midpoint, then the default.
func extract(items []common.Fields) reading {
	for _, item := range items {
		label, hasSky := skyLabel(item)
		temp, hasTemp := temperature(item)
		if !hasSky && !hasTemp {
			continue
		}
		if !hasSky {
			label = DefaultSkyLabel
		}
		if !hasTemp {
			temp = DefaultTemperature
		}
		return reading{label: label, temp: temp, ok: true}
	}
	return reading{}
}

func skyLabel(item common.Fields) (string, bool) {
	if pty := normalizeCode(item.FirstString(ptyFields...)); pty != "" && pty != "0" {
		if l, ok := ptyLabels[pty]; ok {
			return l, true
		}
	}

	raw := item.FirstString(skyFields...)
	if raw == "" {
		return "", false
	}
	if l, ok := skyCodeLabels[normalizeCode(raw)]; ok {
		return l, true
	}
	return raw, true
}

func temperature(item common.Fields) (int, bool) {
	if t, _, ok := item.FirstNumber(tempFields...); ok {
		return int(math.Round(t)), true
	}
	hi, _, okHi := item.FirstNumber(maxFields...)
	lo, _, okLo := item.FirstNumber(minFields...)
	if okHi && okLo {
		return int(math.Round((hi + lo) / 2)), true
	}
	return 0, false
}

// normalizeCode turns "1.0" or " 1 " into "1".
func normalizeCode(s string) string {
	s = strings.TrimSpace(s)
	if n, ok := common.ToFloat(s); ok && n == math.Trunc(n) {
		return fmt.Sprintf("%d", int(n))
	}
	return s
}

// newSummary builds the summary shown to callers.
func newSummary(areaLabel, label string, temp int, degraded bool) Summary {
	return Summary{
		SkyCategory:        Classify(label),
		SkyLabel:           label,
		TemperatureCelsius: temp,
		Message:            fmt.Sprintf("%s 현재 %s, %d°C", areaLabel, label, temp),
		degraded:           degraded,
	}
}

// DefaultSummary is the degraded summary used when nothing could be fetched.
func DefaultSummary(areaLabel string) Summary {
	return newSummary(areaLabel, DefaultSkyLabel, DefaultTemperature, true)
}

package course

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/i474232898/weather-course/internal/common"
	"github.com/i474232898/weather-course/internal/weather"
)

// Candidate field names, in priority order.
var (
	idFields    = []string{"contentid", "contentId", "id"}
	titleFields = []string{"title", "name", "courseName"}
	descFields  = []string{"overview", "description", "summary"}
	imageFields = []string{"firstimage", "firstimage2", "image", "imageUrl", "originimgurl"}
	addrFields  = []string{"addr1", "address"}
)

// Keyword lexicons, already folded.
var (
	routeKeywords = newLexicon(
		"코스", "둘레길", "트레킹", "산책로", "올레", "자락길", "탐방로",
		"trail", "route", "course", "trek",
	)
	outdoorKeywords = newLexicon(
		"해변", "해수욕장", "공원", "숲", "계곡", "폭포", "수목원", "등산", "산책", "캠핑", "전망대", "호수",
		"beach", "park", "forest", "mountain", "lake", "garden", "camping",
	)
	indoorKeywords = newLexicon(
		"박물관", "미술관", "전시", "아쿠아리움", "수족관", "갤러리", "쇼핑몰", "백화점", "과학관", "실내", "기념관", "공연장",
		"museum", "gallery", "aquarium", "mall", "indoor", "exhibition", "theater",
	)
)

// lexicon matches Hangul terms as substrings, since Korean place names are
// compounds (한강공원), and Latin terms as whole words with an optional
// plural s.
type lexicon struct {
	hangul []string
	latin  *regexp.Regexp
}

func newLexicon(terms ...string) lexicon {
	var l lexicon
	var latin []string
	for _, term := range terms {
		if isASCII(term) {
			latin = append(latin, regexp.QuoteMeta(term))
			continue
		}
		l.hangul = append(l.hangul, term)
	}
	if len(latin) > 0 {
		l.latin = regexp.MustCompile(`\b(?:` + strings.Join(latin, "|") + `)s?\b`)
	}
	return l
}

func (l lexicon) match(text string) bool {
	if common.HasAny(text, l.hangul...) {
		return true
	}
	return l.latin != nil && l.latin.MatchString(text)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

type outdoorIndoorBonus struct {
	outdoor, indoor int
}

var weatherBonus = map[weather.SkyCategory]outdoorIndoorBonus{
	weather.SkySunny:  {outdoor: 8, indoor: 2},
	weather.SkyCloudy: {outdoor: 5, indoor: 5},
	weather.SkyRain:   {outdoor: 1, indoor: 8},
	weather.SkySnow:   {outdoor: 1, indoor: 8},
}

// unclassifiedBonus applies when the sky bucket is unknown.
const unclassifiedBonus = 3

// Normalize converts a raw record into a Course. index is the record's
// position upstream and seeds the generated id when the record has none.
func Normalize(rec RawRecord, areaLabel string, index int) Course {
	name := rec.FirstString(titleFields...)
	desc := cleanText(rec.FirstString(descFields...))
	addr := strings.TrimSpace(rec.FirstString(addrFields...) + " " + rec.FirstString("addr2"))
	if desc == "" {
		desc = addr
	}

	id := rec.FirstString(idFields...)
	if id == "" {
		id = generatedID(index, name, addr)
	}

	return Course{
		ID:          id,
		AreaLabel:   areaLabel,
		Name:        name,
		Description: desc,
		ImageURL:    rec.FirstString(imageFields...),
	}
}

// generatedID is stable for the same record at the same position.
func generatedID(index int, name, addr string) string {
	seed := fmt.Sprintf("%d|%s|%s", index, name, addr)
	return "gen-" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String()
}

func cleanText(s string) string {
	s = tagPattern.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

// Score rates a course for the given sky category.
func Score(c Course, sky weather.SkyCategory) int {
	text := common.Fold(c.Name + " " + c.Description)

	score := 0
	if routeKeywords.match(text) {
		score += 3
	}

	if bonus, ok := weatherBonus[sky]; ok {
		if outdoorKeywords.match(text) {
			score += bonus.outdoor
		}
		if indoorKeywords.match(text) {
			score += bonus.indoor
		}
	} else {
		score += unclassifiedBonus
	}

	if c.ImageURL != "" {
		score++
	}
	return score
}

type scored struct {
	course Course
	score  int
}

// Rank normalizes, de-duplicates, scores and sorts records for the observed
// weather and returns at most limit courses. It performs no I/O and is
// deterministic for the same input.
func Rank(records []RawRecord, summary weather.Summary, areaLabel string, limit int) []Course {
	if limit < 0 {
		limit = 0
	}

	seen := make(map[string]bool, len(records))
	candidates := make([]scored, 0, len(records))
	for i, rec := range records {
		if rec == nil {
			continue
		}
		c := Normalize(rec, areaLabel, i)
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true

		c.ObservedSkyLabel = summary.SkyLabel
		c.ObservedTemperature = summary.TemperatureCelsius
		candidates = append(candidates, scored{course: c, score: Score(c, summary.SkyCategory)})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]Course, 0, len(candidates))
	for _, s := range candidates {
		out = append(out, s.course)
	}
	return out
}

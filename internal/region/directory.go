package region

import (
	"sort"
	"strings"
)

// DefaultKey is used whenever a requested region is not in the directory.
const DefaultKey = "seoul"

// Center is a representative coordinate for a region.
type Center struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
}

// Entry maps a canonical region key to the identifiers both upstreams need.
type Entry struct {
	Key   string `json:"key"`
	Label string `json:"label"`

	// AreaCode is the tourism catalog's top-level administrative area code.
	AreaCode int `json:"areaCode"`

	// CatalogID is the tourism-course id the meteorological source forecasts for.
	CatalogID int `json:"catalogId"`

	Center Center `json:"center"`
}

var entries = map[string]Entry{
	"seoul":     {Key: "seoul", Label: "서울", AreaCode: 1, CatalogID: 1, Center: Center{Longitude: 126.9780, Latitude: 37.5665}},
	"incheon":   {Key: "incheon", Label: "인천", AreaCode: 2, CatalogID: 11, Center: Center{Longitude: 126.7052, Latitude: 37.4563}},
	"daejeon":   {Key: "daejeon", Label: "대전", AreaCode: 3, CatalogID: 81, Center: Center{Longitude: 127.3845, Latitude: 36.3504}},
	"daegu":     {Key: "daegu", Label: "대구", AreaCode: 4, CatalogID: 131, Center: Center{Longitude: 128.6014, Latitude: 35.8714}},
	"gwangju":   {Key: "gwangju", Label: "광주", AreaCode: 5, CatalogID: 181, Center: Center{Longitude: 126.8526, Latitude: 35.1595}},
	"busan":     {Key: "busan", Label: "부산", AreaCode: 6, CatalogID: 231, Center: Center{Longitude: 129.0756, Latitude: 35.1796}},
	"ulsan":     {Key: "ulsan", Label: "울산", AreaCode: 7, CatalogID: 261, Center: Center{Longitude: 129.3114, Latitude: 35.5384}},
	"sejong":    {Key: "sejong", Label: "세종", AreaCode: 8, CatalogID: 91, Center: Center{Longitude: 127.2890, Latitude: 36.4800}},
	"gyeonggi":  {Key: "gyeonggi", Label: "경기", AreaCode: 31, CatalogID: 21, Center: Center{Longitude: 127.0286, Latitude: 37.2636}},
	"gangwon":   {Key: "gangwon", Label: "강원", AreaCode: 32, CatalogID: 41, Center: Center{Longitude: 128.2093, Latitude: 37.5558}},
	"chungbuk":  {Key: "chungbuk", Label: "충북", AreaCode: 33, CatalogID: 101, Center: Center{Longitude: 127.4914, Latitude: 36.6357}},
	"chungnam":  {Key: "chungnam", Label: "충남", AreaCode: 34, CatalogID: 111, Center: Center{Longitude: 126.8000, Latitude: 36.5184}},
	"gyeongbuk": {Key: "gyeongbuk", Label: "경북", AreaCode: 35, CatalogID: 151, Center: Center{Longitude: 128.8889, Latitude: 36.4919}},
	"gyeongnam": {Key: "gyeongnam", Label: "경남", AreaCode: 36, CatalogID: 201, Center: Center{Longitude: 128.6811, Latitude: 35.2383}},
	"jeonbuk":   {Key: "jeonbuk", Label: "전북", AreaCode: 37, CatalogID: 161, Center: Center{Longitude: 127.1480, Latitude: 35.8242}},
	"jeonnam":   {Key: "jeonnam", Label: "전남", AreaCode: 38, CatalogID: 191, Center: Center{Longitude: 126.4630, Latitude: 34.8161}},
	"jeju":      {Key: "jeju", Label: "제주", AreaCode: 39, CatalogID: 281, Center: Center{Longitude: 126.5312, Latitude: 33.4996}},
}

// Lookup returns the entry for key, matched case-insensitively.
func Lookup(key string) (Entry, bool) {
	e, ok := entries[strings.ToLower(strings.TrimSpace(key))]
	return e, ok
}

// Resolve returns the entry for key, or the default region when key is unknown.
func Resolve(key string) Entry {
	if e, ok := Lookup(key); ok {
		return e
	}
	return entries[DefaultKey]
}

// Keys returns every known region key in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

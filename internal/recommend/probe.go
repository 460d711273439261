package recommend

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/i474232898/weather-course/internal/portal"
	"github.com/i474232898/weather-course/internal/region"
	"github.com/i474232898/weather-course/internal/transport"
)

// Upstream names used as probe keys.
const (
	UpstreamWeather = "weather"
	UpstreamCatalog = "catalog"
)

// failStreakWarn is the streak length from which each failed probe is logged
// as a warning.
const failStreakWarn = 3

// Upstreams lists every probed upstream.
var Upstreams = []string{UpstreamWeather, UpstreamCatalog}

// ProbeResult is one health observation of an upstream.
type ProbeResult struct {
	Upstream   string    `json:"upstream"`
	Region     string    `json:"region"`
	Timestamp  time.Time `json:"timestamp"`
	OK         bool      `json:"ok"`
	Variant    string    `json:"variant,omitempty"`
	HTTPStatus int       `json:"httpStatus,omitempty"`
	ResultCode string    `json:"resultCode,omitempty"`
	Count      int       `json:"count"`
	LatencyMs  int64     `json:"latencyMs"`
	Detail     string    `json:"detail,omitempty"`

	// Set by the store when the result is recorded.
	FailStreak int        `json:"failStreak"`
	LastOKAt   *time.Time `json:"lastOkAt,omitempty"`
}

// Store keeps probe results. Record returns the result as stored, with the
// upstream's failure streak filled in.
type Store interface {
	Record(result ProbeResult) ProbeResult
	GetLatest(upstream string) (ProbeResult, error)
	GetRange(upstream string, from, to time.Time) ([]ProbeResult, error)
}

// ProbeUpstreams makes one call to each configured upstream for regionKey
// and stores the outcome. Probe history is never used to answer requests.
func (s *Service) ProbeUpstreams(ctx context.Context, regionKey string) []ProbeResult {
	reg := region.Resolve(regionKey)

	var results []ProbeResult
	if s.cfg.WeatherKey != "" {
		results = append(results, s.probe(ctx, UpstreamWeather, reg, func(ctx context.Context) (transport.Response, error) {
			return s.weather.Raw(ctx, reg)
		}))
	}
	if s.cfg.CatalogKey != "" {
		results = append(results, s.probe(ctx, UpstreamCatalog, reg, func(ctx context.Context) (transport.Response, error) {
			return s.catalog.Raw(ctx, "sigungu", reg, "", s.cfg.RadiusMeters)
		}))
	}

	if len(results) == 0 {
		log.Printf("WARN: upstream probe skipped, no service keys configured")
	}
	for i, r := range results {
		results[i] = s.store.Record(r)
		if results[i].FailStreak >= failStreakWarn {
			log.Printf("WARN: upstream %s failed %d probes in a row", r.Upstream, results[i].FailStreak)
		}
	}
	return results
}

func (s *Service) probe(ctx context.Context, upstream string, reg region.Entry, call func(context.Context) (transport.Response, error)) ProbeResult {
	start := time.Now()
	resp, err := call(ctx)

	result := ProbeResult{
		Upstream:   upstream,
		Region:     reg.Key,
		Timestamp:  start.UTC(),
		Variant:    string(resp.Variant),
		HTTPStatus: resp.Status,
		LatencyMs:  time.Since(start).Milliseconds(),
	}
	if err != nil {
		result.Detail = transport.Describe(err)
		log.Printf("WARN: probe %s failed: %s", upstream, result.Detail)
		return result
	}
	if resp.Status != http.StatusOK {
		result.Detail = "unexpected status"
		return result
	}

	env, err := portal.Parse(resp.Body)
	if err != nil {
		result.Detail = "malformed payload"
		return result
	}
	result.ResultCode = env.ResultCode
	result.Count = len(env.Items)
	result.OK = env.ResultCode == "" || env.ResultCode == "00" || env.ResultCode == "0000"
	if !result.OK {
		result.Detail = env.ResultMsg
	}
	return result
}

// GetLatestProbe returns the most recent probe result for an upstream.
func (s *Service) GetLatestProbe(upstream string) (ProbeResult, error) {
	return s.store.GetLatest(upstream)
}

// GetProbeRange returns probe results for an upstream between from and to.
func (s *Service) GetProbeRange(upstream string, from, to time.Time) ([]ProbeResult, error) {
	return s.store.GetRange(upstream, from, to)
}

package recommend

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"

	"github.com/i474232898/weather-course/internal/course"
	"github.com/i474232898/weather-course/internal/region"
	"github.com/i474232898/weather-course/internal/trace"
	"github.com/i474232898/weather-course/internal/transport"
	"github.com/i474232898/weather-course/internal/weather"
)

var (
	// ErrMissingCredential is returned before any network call when a
	// required upstream service key is not configured.
	ErrMissingCredential = errors.New("missing upstream service key")

	// ErrWeatherUnavailable is returned when no weather attempt got an HTTP
	// response at all.
	ErrWeatherUnavailable = errors.New("weather source unreachable")
)

// emptyNote accompanies a successful response with no courses.
const emptyNote = "현재 조건에 맞는 코스를 찾지 못했습니다. 잠시 후 다시 시도해 주세요."

// UnavailableError carries the weather trace of a failed fetch.
type UnavailableError struct {
	Trace trace.Trace
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s after %d attempts", ErrWeatherUnavailable, len(e.Trace))
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrWeatherUnavailable
}

// WeatherSource fetches weather for a region.
type WeatherSource interface {
	Fetch(ctx context.Context, reg region.Entry) (weather.Summary, weather.Report)
	Raw(ctx context.Context, reg region.Entry) (transport.Response, error)
}

// CandidateCollector gathers raw course records for one content type.
type CandidateCollector interface {
	Collect(ctx context.Context, reg region.Entry, contentType string) ([]course.RawRecord, trace.Trace)
}

// CatalogProbe performs pass-through catalog calls.
type CatalogProbe interface {
	Raw(ctx context.Context, mode string, reg region.Entry, contentType string, radius int) (transport.Response, error)
}

// Config holds orchestrator settings.
type Config struct {
	WeatherKey string
	CatalogKey string

	// ContentPriority is tried in order until one content type yields records.
	ContentPriority []string

	DefaultLimit int
	MaxLimit     int
	RadiusMeters int
}

// Query is one recommendation request.
type Query struct {
	Region string
	Limit  int
}

// UpstreamHint explains an empty result.
type UpstreamHint struct {
	Trace             trace.Trace `json:"trace"`
	TriedContentTypes []string    `json:"triedContentTypes"`
}

// Result is the response of Recommend.
type Result struct {
	Weather      weather.Summary `json:"weatherSummary"`
	List         []course.Course `json:"list"`
	Note         string          `json:"note,omitempty"`
	UpstreamHint *UpstreamHint   `json:"upstreamHint,omitempty"`
}

// Service composes the weather fetcher, the collector and the ranking.
type Service struct {
	weather   WeatherSource
	collector CandidateCollector
	catalog   CatalogProbe
	store     Store
	cfg       Config
}

// NewService creates a new Service.
func NewService(cfg Config, ws WeatherSource, collector CandidateCollector, catalog CatalogProbe, store Store) *Service {
	if len(cfg.ContentPriority) == 0 {
		cfg.ContentPriority = course.DefaultContentPriority
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 6
	}
	if cfg.MaxLimit < cfg.DefaultLimit {
		cfg.MaxLimit = cfg.DefaultLimit
	}
	if cfg.RadiusMeters <= 0 {
		cfg.RadiusMeters = course.DefaultCollectorConfig().RadiusMeters
	}
	return &Service{
		weather:   ws,
		collector: collector,
		catalog:   catalog,
		store:     store,
		cfg:       cfg,
	}
}

// Recommend resolves the region, fetches weather, collects candidates by
// content type priority and ranks them. Apart from missing credentials and
// an unreachable weather source it always returns a Result.
func (s *Service) Recommend(ctx context.Context, q Query) (res Result, err error) {
	if err := s.requireKeys(true, true); err != nil {
		return Result{}, err
	}

	reg := region.Resolve(q.Region)
	limit := s.Limit(q.Limit)

	var (
		tr      trace.Trace
		tried   []string
		summary = weather.DefaultSummary(reg.Label)
	)

	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: recommend panic for %s: %v\n%s", reg.Key, r, debug.Stack())
			tr.Add(trace.Entry{Stage: "recommend", Status: trace.StatusPanic, Detail: fmt.Sprint(r)})
			res = emptyResult(summary, tr, tried)
			err = nil
		}
	}()

	var report weather.Report
	summary, report = s.weather.Fetch(ctx, reg)
	tr = append(tr, report.Trace...)
	if !report.Reached {
		log.Printf("ERROR: weather source unreachable for %s", reg.Key)
		return Result{}, &UnavailableError{Trace: report.Trace}
	}

	for _, contentType := range s.cfg.ContentPriority {
		tried = append(tried, contentType)

		records, ctr := s.collector.Collect(ctx, reg, contentType)
		tr = append(tr, ctr.Tagged(contentType)...)
		if len(records) == 0 {
			if ctx.Err() != nil {
				break
			}
			continue
		}

		list := course.Rank(records, summary, reg.Label, limit)
		log.Printf("INFO: %d courses for %s (content type %s, %d candidates)", len(list), reg.Key, contentType, len(records))
		return Result{Weather: summary, List: list}, nil
	}

	log.Printf("INFO: no courses for %s after content types %v", reg.Key, tried)
	return emptyResult(summary, tr, tried), nil
}

// Weather returns the weather summary for a region.
func (s *Service) Weather(ctx context.Context, regionKey string) (weather.Summary, error) {
	if err := s.requireKeys(true, false); err != nil {
		return weather.Summary{}, err
	}

	summary, report := s.weather.Fetch(ctx, region.Resolve(regionKey))
	if !report.Reached {
		return weather.Summary{}, &UnavailableError{Trace: report.Trace}
	}
	return summary, nil
}

// DebugWeather performs one raw weather call.
func (s *Service) DebugWeather(ctx context.Context, regionKey string) (transport.Response, error) {
	if err := s.requireKeys(true, false); err != nil {
		return transport.Response{}, err
	}
	return s.weather.Raw(ctx, region.Resolve(regionKey))
}

// DebugCatalog performs one raw catalog call in the given mode.
func (s *Service) DebugCatalog(ctx context.Context, regionKey, mode, contentType string) (transport.Response, error) {
	if err := s.requireKeys(false, true); err != nil {
		return transport.Response{}, err
	}
	return s.catalog.Raw(ctx, mode, region.Resolve(regionKey), contentType, s.cfg.RadiusMeters)
}

// Limit clamps a requested list size. Zero or negative selects the default.
func (s *Service) Limit(n int) int {
	switch {
	case n <= 0:
		return s.cfg.DefaultLimit
	case n > s.cfg.MaxLimit:
		return s.cfg.MaxLimit
	default:
		return n
	}
}

// MaxLimit is the largest list size Recommend returns.
func (s *Service) MaxLimit() int {
	return s.cfg.MaxLimit
}

func (s *Service) requireKeys(weatherKey, catalogKey bool) error {
	if weatherKey && s.cfg.WeatherKey == "" {
		return fmt.Errorf("%w: KMA_SERVICE_KEY is not set", ErrMissingCredential)
	}
	if catalogKey && s.cfg.CatalogKey == "" {
		return fmt.Errorf("%w: TOUR_SERVICE_KEY is not set", ErrMissingCredential)
	}
	return nil
}

func emptyResult(summary weather.Summary, tr trace.Trace, tried []string) Result {
	if tr == nil {
		tr = trace.Trace{}
	}
	if tried == nil {
		tried = []string{}
	}
	return Result{
		Weather:      summary,
		List:         []course.Course{},
		Note:         emptyNote,
		UpstreamHint: &UpstreamHint{Trace: tr, TriedContentTypes: tried},
	}
}

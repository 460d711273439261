package course

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/i474232898/weather-course/internal/region"
	"github.com/i474232898/weather-course/internal/trace"
	"github.com/i474232898/weather-course/internal/transport"
)

// Stage names as they appear in traces.
const (
	StageArea       = "area"
	StageSweep      = "sigungu-sweep"
	StageGeo        = "geo"
	StageAreaAnyCat = "area-any"
	StageGeoAnyCat  = "geo-any"
)

// Source is the catalog surface the collector depends on.
type Source interface {
	AreaBased(ctx context.Context, areaCode, sigungu int, contentType string) (Page, error)
	LocationBased(ctx context.Context, center region.Center, radius int, contentType string) (Page, error)
	SubRegions(ctx context.Context, areaCode int) ([]int, Page, error)
}

// CollectorConfig bounds a collection attempt.
type CollectorConfig struct {
	// Budget is the shared deadline for all stages of one content type.
	Budget time.Duration
	// SweepConcurrency caps the parallel sub-region fan-out.
	SweepConcurrency int
	RadiusMeters     int
}

// DefaultCollectorConfig returns the standard limits.
func DefaultCollectorConfig() CollectorConfig {
	return CollectorConfig{
		Budget:           8 * time.Second,
		SweepConcurrency: 12,
		RadiusMeters:     15000,
	}
}

// Collector gathers raw candidates through a staged fallback chain.
type Collector struct {
	source Source
	cfg    CollectorConfig
	now    func() time.Time
}

// NewCollector creates a Collector. Zero config fields take the defaults.
func NewCollector(source Source, cfg CollectorConfig) *Collector {
	def := DefaultCollectorConfig()
	if cfg.Budget <= 0 {
		cfg.Budget = def.Budget
	}
	if cfg.SweepConcurrency <= 0 {
		cfg.SweepConcurrency = def.SweepConcurrency
	}
	if cfg.RadiusMeters <= 0 {
		cfg.RadiusMeters = def.RadiusMeters
	}
	return &Collector{source: source, cfg: cfg, now: time.Now}
}

type collectRequest struct {
	region      region.Entry
	contentType string
	deadline    time.Time
}

// stage is one step of the fallback chain. Every stage has the same shape so
// the chain is a plain list.
type stage struct {
	name string
	run  func(ctx context.Context, req collectRequest) ([]RawRecord, trace.Entry)
}

func (c *Collector) stages(contentType string) []stage {
	st := []stage{
		{name: StageArea, run: c.areaStage(StageArea, true)},
		{name: StageSweep, run: c.sweepStage},
		{name: StageGeo, run: c.geoStage(StageGeo, true)},
	}
	if contentType != "" {
		st = append(st,
			stage{name: StageAreaAnyCat, run: c.areaStage(StageAreaAnyCat, false)},
			stage{name: StageGeoAnyCat, run: c.geoStage(StageGeoAnyCat, false)},
		)
	}
	return st
}

// Collect runs the stages in order and returns the first non-empty result.
// Once the budget is spent, or the caller gives up, the remaining stages are
// skipped.
func (c *Collector) Collect(ctx context.Context, reg region.Entry, contentType string) ([]RawRecord, trace.Trace) {
	req := collectRequest{
		region:      reg,
		contentType: contentType,
		deadline:    c.now().Add(c.cfg.Budget),
	}

	tracer := otel.Tracer("course-collector")
	var tr trace.Trace

	for _, st := range c.stages(contentType) {
		if err := ctx.Err(); err != nil {
			tr.Add(trace.Entry{Stage: st.name, Status: trace.StatusFailed, Detail: "request " + err.Error()})
			log.Printf("INFO: collection for %s/%s stopped before %s: %v", reg.Key, contentType, st.name, err)
			return nil, tr
		}
		if !c.now().Before(req.deadline) {
			tr.Add(trace.Entry{Stage: st.name, Status: trace.StatusBudget, Detail: "collection budget exhausted"})
			log.Printf("INFO: collector budget exhausted before %s for %s/%s", st.name, reg.Key, contentType)
			return nil, tr
		}

		sctx, span := tracer.Start(ctx, "collect."+st.name)
		span.SetAttributes(
			attribute.String("region", reg.Key),
			attribute.String("content_type", contentType),
		)

		items, entry := st.run(sctx, req)
		entry.Stage = st.name
		tr.Add(entry)

		span.SetAttributes(
			attribute.String("status", entry.Status),
			attribute.Int("count", len(items)),
		)
		if entry.Status == trace.StatusFailed {
			span.SetStatus(codes.Error, entry.Detail)
		}
		span.End()

		if len(items) > 0 {
			return items, tr
		}
	}
	return nil, tr
}

func (c *Collector) areaStage(name string, withCategory bool) func(context.Context, collectRequest) ([]RawRecord, trace.Entry) {
	return func(ctx context.Context, req collectRequest) ([]RawRecord, trace.Entry) {
		page, err := c.source.AreaBased(ctx, req.region.AreaCode, 0, categoryFor(req, withCategory))
		return pageResult(name, page, err)
	}
}

func (c *Collector) geoStage(name string, withCategory bool) func(context.Context, collectRequest) ([]RawRecord, trace.Entry) {
	return func(ctx context.Context, req collectRequest) ([]RawRecord, trace.Entry) {
		page, err := c.source.LocationBased(ctx, req.region.Center, c.cfg.RadiusMeters, categoryFor(req, withCategory))
		return pageResult(name, page, err)
	}
}

func categoryFor(req collectRequest, withCategory bool) string {
	if withCategory {
		return req.contentType
	}
	return ""
}

type sweepResult struct {
	sigungu int
	page    Page
	err     error
}

// sweepStage fetches the sub-region list, then queries up to
// SweepConcurrency sub-regions at once and takes the first non-empty answer.
// The rest are canceled.
func (c *Collector) sweepStage(ctx context.Context, req collectRequest) ([]RawRecord, trace.Entry) {
	sctx, cancel := context.WithDeadline(ctx, req.deadline)
	defer cancel()

	sigungus, listPage, err := c.source.SubRegions(sctx, req.region.AreaCode)
	if err != nil {
		entry := entryFor(listPage)
		entry.Status = trace.StatusFailed
		entry.Detail = "sub-region list: " + transport.Describe(err)
		return nil, entry
	}
	if len(sigungus) == 0 {
		entry := entryFor(listPage)
		entry.Status = trace.StatusEmpty
		entry.Detail = "no sub-regions"
		return nil, entry
	}
	if len(sigungus) > c.cfg.SweepConcurrency {
		sigungus = sigungus[:c.cfg.SweepConcurrency]
	}

	results := make(chan sweepResult, len(sigungus))
	for _, sigungu := range sigungus {
		go func(sigungu int) {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("ERROR: catalog sweep for sigungu %d panicked: %v", sigungu, r)
					results <- sweepResult{sigungu: sigungu, err: fmt.Errorf("panic: %v", r)}
				}
			}()
			page, err := c.source.AreaBased(sctx, req.region.AreaCode, sigungu, req.contentType)
			results <- sweepResult{sigungu: sigungu, page: page, err: err}
		}(sigungu)
	}

	var failed, empty int
	var last Page
	for received := 0; received < len(sigungus); received++ {
		select {
		case r := <-results:
			if r.err != nil {
				failed++
				if r.page.Status != 0 {
					last = r.page
				}
				continue
			}
			last = r.page
			if len(r.page.Items) > 0 {
				cancel()
				entry := entryFor(r.page)
				entry.Status = trace.StatusOK
				entry.Count = len(r.page.Items)
				entry.Detail = fmt.Sprintf("sigungu=%d launched=%d", r.sigungu, len(sigungus))
				return r.page.Items, entry
			}
			empty++
		case <-sctx.Done():
			entry := entryFor(last)
			if err := ctx.Err(); err != nil {
				entry.Status = trace.StatusFailed
				entry.Detail = fmt.Sprintf("request %v: launched=%d answered=%d", err, len(sigungus), received)
				return nil, entry
			}
			entry.Status = trace.StatusBudget
			entry.Detail = fmt.Sprintf("launched=%d answered=%d before deadline", len(sigungus), received)
			return nil, entry
		}
	}

	entry := entryFor(last)
	entry.Status = trace.StatusEmpty
	if failed == len(sigungus) {
		entry.Status = trace.StatusFailed
	}
	entry.Detail = fmt.Sprintf("launched=%d empty=%d failed=%d", len(sigungus), empty, failed)
	return nil, entry
}

func pageResult(name string, page Page, err error) ([]RawRecord, trace.Entry) {
	entry := entryFor(page)
	entry.Stage = name
	entry.Count = len(page.Items)

	switch {
	case err != nil:
		entry.Status = trace.StatusFailed
		entry.Detail = transport.Describe(err)
		if page.Status != 0 {
			entry.Detail = err.Error()
		}
		log.Printf("WARN: catalog stage %s failed: %s", name, entry.Detail)
		return nil, entry
	case len(page.Items) == 0:
		entry.Status = trace.StatusEmpty
		return nil, entry
	default:
		entry.Status = trace.StatusOK
		return page.Items, entry
	}
}

func entryFor(page Page) trace.Entry {
	return trace.Entry{
		Variant:    string(page.Variant),
		HTTPStatus: page.Status,
		ResultCode: page.ResultCode,
		Total:      page.Total,
	}
}

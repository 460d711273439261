package course

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/i474232898/weather-course/internal/region"
	"github.com/i474232898/weather-course/internal/trace"
	"github.com/i474232898/weather-course/internal/transport"
)

type fakeSource struct {
	area     func(ctx context.Context, sigungu int, contentType string) (Page, error)
	geo      func(ctx context.Context, contentType string) (Page, error)
	sub      func(ctx context.Context) ([]int, Page, error)
	areaHits int32
	geoHits  int32
	subHits  int32
}

func (f *fakeSource) AreaBased(ctx context.Context, areaCode, sigungu int, contentType string) (Page, error) {
	atomic.AddInt32(&f.areaHits, 1)
	if f.area == nil {
		return Page{}, nil
	}
	return f.area(ctx, sigungu, contentType)
}

func (f *fakeSource) LocationBased(ctx context.Context, center region.Center, radius int, contentType string) (Page, error) {
	atomic.AddInt32(&f.geoHits, 1)
	if f.geo == nil {
		return Page{}, nil
	}
	return f.geo(ctx, contentType)
}

func (f *fakeSource) SubRegions(ctx context.Context, areaCode int) ([]int, Page, error) {
	atomic.AddInt32(&f.subHits, 1)
	if f.sub == nil {
		return nil, Page{}, nil
	}
	return f.sub(ctx)
}

func items(titles ...string) []RawRecord {
	out := make([]RawRecord, 0, len(titles))
	for _, t := range titles {
		out = append(out, RawRecord{"title": t})
	}
	return out
}

func stageNames(tr trace.Trace) []string {
	names := make([]string, 0, len(tr))
	for _, e := range tr {
		names = append(names, e.Stage)
	}
	return names
}

func TestCollectReturnsFirstStageWithData(t *testing.T) {
	src := &fakeSource{
		area: func(ctx context.Context, sigungu int, contentType string) (Page, error) {
			return Page{Items: items("경복궁"), ResultCode: "0000", Variant: transport.VariantSecure}, nil
		},
	}

	c := NewCollector(src, CollectorConfig{})
	got, tr := c.Collect(context.Background(), region.Resolve("seoul"), ContentAttraction)

	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
	if len(tr) != 1 || tr[0].Stage != StageArea || tr[0].Status != trace.StatusOK {
		t.Errorf("unexpected trace %+v", tr)
	}
	if tr[0].Variant != "https" || tr[0].ResultCode != "0000" {
		t.Errorf("expected upstream metadata in trace, got %+v", tr[0])
	}
	if src.subHits != 0 || src.geoHits != 0 {
		t.Errorf("later stages should not run")
	}
}

func TestCollectSubRegionListFailureFallsThroughToGeo(t *testing.T) {
	src := &fakeSource{
		sub: func(ctx context.Context) ([]int, Page, error) {
			return nil, Page{Variant: transport.VariantSecure}, &transport.TransientNetworkFailure{
				Attempts: []transport.Attempt{
					{Variant: transport.VariantSecure, Code: "ETIMEDOUT"},
					{Variant: transport.VariantSecure, Code: "ETIMEDOUT"},
					{Variant: transport.VariantSecure, Code: "ETIMEDOUT"},
				},
				Err: context.DeadlineExceeded,
			}
		},
		geo: func(ctx context.Context, contentType string) (Page, error) {
			return Page{Items: items("남산타워")}, nil
		},
	}

	c := NewCollector(src, CollectorConfig{})
	got, tr := c.Collect(context.Background(), region.Resolve("seoul"), ContentAttraction)

	if len(got) != 1 {
		t.Fatalf("expected geo results, got %d", len(got))
	}

	want := []string{StageArea, StageSweep, StageGeo}
	if names := stageNames(tr); len(names) != len(want) {
		t.Fatalf("expected stages %v, got %v", want, names)
	}
	for i, name := range want {
		if tr[i].Stage != name {
			t.Errorf("stage %d: expected %s, got %s", i, name, tr[i].Stage)
		}
	}
	if tr[1].Status != trace.StatusFailed {
		t.Errorf("expected sweep marked failed, got %+v", tr[1])
	}
	if tr[1].Detail != "sub-region list: ETIMEDOUT after 3 attempts" {
		t.Errorf("unexpected sweep detail %q", tr[1].Detail)
	}
}

func TestCollectSweepTakesFirstNonEmptyAndCapsFanOut(t *testing.T) {
	var mu sync.Mutex
	launched := map[int]bool{}

	src := &fakeSource{
		sub: func(ctx context.Context) ([]int, Page, error) {
			sigungus := make([]int, 25)
			for i := range sigungus {
				sigungus[i] = i + 1
			}
			return sigungus, Page{}, nil
		},
		area: func(ctx context.Context, sigungu int, contentType string) (Page, error) {
			if sigungu == 0 {
				return Page{}, nil
			}
			mu.Lock()
			launched[sigungu] = true
			mu.Unlock()

			if sigungu == 7 {
				return Page{Items: items("a", "b")}, nil
			}
			<-ctx.Done()
			return Page{}, ctx.Err()
		},
	}

	c := NewCollector(src, CollectorConfig{})
	got, tr := c.Collect(context.Background(), region.Resolve("busan"), ContentAttraction)

	if len(got) != 2 {
		t.Fatalf("expected 2 records from sub-region 7, got %d", len(got))
	}
	last, _ := tr.Last()
	if last.Stage != StageSweep || last.Status != trace.StatusOK {
		t.Errorf("unexpected final trace entry %+v", last)
	}

	mu.Lock()
	defer mu.Unlock()
	for sigungu := range launched {
		if sigungu > 12 {
			t.Errorf("sub-region %d launched beyond the fan-out cap", sigungu)
		}
	}
}

func TestCollectSweepAllEmptyYieldsToNextStage(t *testing.T) {
	src := &fakeSource{
		sub: func(ctx context.Context) ([]int, Page, error) {
			return []int{1, 2, 3}, Page{}, nil
		},
		geo: func(ctx context.Context, contentType string) (Page, error) {
			return Page{Items: items("x")}, nil
		},
	}

	c := NewCollector(src, CollectorConfig{})
	_, tr := c.Collect(context.Background(), region.Resolve("daegu"), ContentAttraction)

	if tr[1].Stage != StageSweep || tr[1].Status != trace.StatusEmpty {
		t.Errorf("expected empty sweep entry, got %+v", tr[1])
	}
	if atomic.LoadInt32(&src.areaHits) != 4 {
		t.Errorf("expected 1 direct + 3 sweep area calls, got %d", src.areaHits)
	}
}

func TestCollectCategoryAgnosticRetry(t *testing.T) {
	src := &fakeSource{
		area: func(ctx context.Context, sigungu int, contentType string) (Page, error) {
			if contentType == "" && sigungu == 0 {
				return Page{Items: items("any")}, nil
			}
			return Page{}, nil
		},
	}

	c := NewCollector(src, CollectorConfig{})
	got, tr := c.Collect(context.Background(), region.Resolve("ulsan"), ContentLodging)

	if len(got) != 1 {
		t.Fatalf("expected category-agnostic result, got %d", len(got))
	}
	last, _ := tr.Last()
	if last.Stage != StageAreaAnyCat {
		t.Errorf("expected %s to produce the result, got %s", StageAreaAnyCat, last.Stage)
	}
}

func TestCollectWithoutCategorySkipsAgnosticStages(t *testing.T) {
	src := &fakeSource{}

	c := NewCollector(src, CollectorConfig{})
	got, tr := c.Collect(context.Background(), region.Resolve("ulsan"), "")

	if got != nil {
		t.Errorf("expected no records, got %v", got)
	}
	if len(tr) != 3 {
		t.Errorf("expected 3 stages, got %v", stageNames(tr))
	}
}

func TestCollectBudgetExhaustedSkipsRemainingStages(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var clock atomic.Int64

	src := &fakeSource{
		area: func(ctx context.Context, sigungu int, contentType string) (Page, error) {
			clock.Store(int64(9 * time.Second))
			return Page{}, errors.New("slow")
		},
	}

	c := NewCollector(src, CollectorConfig{})
	c.now = func() time.Time { return start.Add(time.Duration(clock.Load())) }

	got, tr := c.Collect(context.Background(), region.Resolve("seoul"), ContentAttraction)
	if got != nil {
		t.Errorf("expected no records, got %v", got)
	}
	if len(tr) != 2 {
		t.Fatalf("expected area + budget entries, got %v", stageNames(tr))
	}
	if tr[1].Stage != StageSweep || tr[1].Status != trace.StatusBudget {
		t.Errorf("expected budget entry for sweep, got %+v", tr[1])
	}
	if src.subHits != 0 || src.geoHits != 0 {
		t.Errorf("expected zero network calls after budget, got sub=%d geo=%d", src.subHits, src.geoHits)
	}
}

func TestCollectSweepSurvivesPanickingSource(t *testing.T) {
	src := &fakeSource{
		sub: func(ctx context.Context) ([]int, Page, error) {
			return []int{1, 2}, Page{}, nil
		},
		area: func(ctx context.Context, sigungu int, contentType string) (Page, error) {
			if sigungu > 0 {
				panic("malformed catalog page")
			}
			return Page{}, nil
		},
		geo: func(ctx context.Context, contentType string) (Page, error) {
			return Page{Items: items("해운대")}, nil
		},
	}

	c := NewCollector(src, CollectorConfig{})
	got, tr := c.Collect(context.Background(), region.Resolve("busan"), ContentAttraction)

	if len(got) != 1 {
		t.Fatalf("expected geo results after the sweep, got %d", len(got))
	}
	if tr[1].Stage != StageSweep || tr[1].Status != trace.StatusFailed {
		t.Errorf("expected failed sweep entry, got %+v", tr[1])
	}
	if tr[1].Detail != "launched=2 empty=0 failed=2" {
		t.Errorf("unexpected sweep detail %q", tr[1].Detail)
	}
}

func TestCollectCallerCancelIsNotBudget(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &fakeSource{
		sub: func(ctx context.Context) ([]int, Page, error) {
			return []int{1, 2, 3}, Page{}, nil
		},
		area: func(ctx context.Context, sigungu int, contentType string) (Page, error) {
			if sigungu == 0 {
				return Page{}, nil
			}
			if sigungu == 1 {
				cancel()
			}
			<-ctx.Done()
			return Page{}, ctx.Err()
		},
	}

	c := NewCollector(src, CollectorConfig{})
	got, tr := c.Collect(ctx, region.Resolve("busan"), ContentAttraction)

	if got != nil {
		t.Errorf("expected no records, got %v", got)
	}
	if len(tr) != 3 {
		t.Fatalf("expected area, sweep and stop entries, got %v", stageNames(tr))
	}
	for _, e := range tr[1:] {
		if e.Status == trace.StatusBudget {
			t.Errorf("caller cancellation reported as budget: %+v", e)
		}
	}
	if tr[1].Stage != StageSweep || tr[1].Status != trace.StatusFailed {
		t.Errorf("expected failed sweep entry, got %+v", tr[1])
	}
	if tr[2].Stage != StageGeo || tr[2].Detail != "request context canceled" {
		t.Errorf("expected geo to stop on the canceled request, got %+v", tr[2])
	}
	if atomic.LoadInt32(&src.geoHits) != 0 {
		t.Errorf("expected no geo call after cancellation, got %d", src.geoHits)
	}
}

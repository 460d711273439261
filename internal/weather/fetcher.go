package weather

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/i474232898/weather-course/internal/portal"
	"github.com/i474232898/weather-course/internal/region"
	"github.com/i474232898/weather-course/internal/trace"
	"github.com/i474232898/weather-course/internal/transport"
)

// DefaultBaseURL is the tourism-course forecast endpoint.
const DefaultBaseURL = "https://apis.data.go.kr/1360000/TourStnInfoService1/getTourStnVilageFcst1"

// forecastWindowHours is the HOUR parameter: how far ahead the forecast covers.
const forecastWindowHours = 24

var kst = time.FixedZone("KST", 9*60*60)

// HTTPDoer is the subset of transport.Client the fetcher needs.
type HTTPDoer interface {
	Do(ctx context.Context, req transport.Request) (transport.Response, error)
}

// Fetcher obtains a weather Summary for a region from the meteorological source.
type Fetcher struct {
	client  HTTPDoer
	baseURL string
	key     string
	now     func() time.Time
}

// NewFetcher creates a Fetcher. An empty baseURL selects DefaultBaseURL.
func NewFetcher(client HTTPDoer, baseURL, serviceKey string) *Fetcher {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Fetcher{
		client:  client,
		baseURL: baseURL,
		key:     serviceKey,
		now:     time.Now,
	}
}

// Fetch never fails: when nothing usable comes back it returns the default
// summary. Report.Reached tells whether the upstream answered at all.
func (f *Fetcher) Fetch(ctx context.Context, reg region.Entry) (Summary, Report) {
	var report Report

	for _, stamp := range f.timestamps() {
		for _, enc := range transport.DistinctEncodings(f.key) {
			if ctx.Err() != nil {
				report.Trace.Add(trace.Entry{Stage: "weather", Status: trace.StatusFailed, Detail: "context: " + ctx.Err().Error()})
				return DefaultSummary(reg.Label), report
			}

			stage := fmt.Sprintf("weather:%s:%s", stamp, enc)
			resp, err := f.client.Do(ctx, f.request(reg, stamp, enc))
			entry := trace.Entry{Stage: stage, Variant: string(resp.Variant), HTTPStatus: resp.Status}

			if err != nil {
				entry.Status = trace.StatusFailed
				entry.Detail = transport.Describe(err)
				report.Trace.Add(entry)
				continue
			}
			report.Reached = true

			if resp.Status != http.StatusOK {
				entry.Status = trace.StatusFailed
				entry.Detail = "unexpected status"
				report.Trace.Add(entry)
				continue
			}

			env, err := portal.Parse(resp.Body)
			entry.ResultCode = env.ResultCode
			entry.Total = env.TotalCount
			if err != nil {
				log.Printf("WARN: weather payload for %s unreadable: %v", reg.Key, err)
				entry.Status = trace.StatusFailed
				entry.Detail = "malformed payload"
				report.Trace.Add(entry)
				continue
			}

			entry.Count = len(env.Items)
			if len(env.Items) == 0 {
				entry.Status = trace.StatusEmpty
				entry.Detail = env.ResultMsg
				report.Trace.Add(entry)
				continue
			}

			r := extract(env.Items)
			if !r.ok {
				entry.Status = trace.StatusEmpty
				entry.Detail = "no sky or temperature field"
				report.Trace.Add(entry)
				continue
			}

			entry.Status = trace.StatusOK
			report.Trace.Add(entry)
			return newSummary(reg.Label, r.label, r.temp, false), report
		}
	}

	log.Printf("INFO: weather for %s degraded to default after %d attempts", reg.Key, len(report.Trace))
	return DefaultSummary(reg.Label), report
}

// Raw performs a single request for the current timestamp with the raw key,
// for diagnostics.
func (f *Fetcher) Raw(ctx context.Context, reg region.Entry) (transport.Response, error) {
	return f.client.Do(ctx, f.request(reg, f.timestamps()[0], transport.KeyRaw))
}

// timestamps returns "now" and "one hour ago" in the upstream's format,
// covering forecast publication lag.
func (f *Fetcher) timestamps() []string {
	now := f.now().In(kst)
	return []string{
		now.Format("2006010215"),
		now.Add(-time.Hour).Format("2006010215"),
	}
}

func (f *Fetcher) request(reg region.Entry, stamp string, enc transport.KeyEncoding) transport.Request {
	q := url.Values{}
	q.Set("pageNo", "1")
	q.Set("numOfRows", "10")
	q.Set("dataType", "JSON")
	q.Set("CURRENT_DATE", stamp)
	q.Set("HOUR", strconv.Itoa(forecastWindowHours))
	q.Set("COURSE_ID", strconv.Itoa(reg.CatalogID))

	return transport.WithServiceKey(transport.Request{URL: f.baseURL, Query: q}, "serviceKey", f.key, enc)
}

package course

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"

	"github.com/i474232898/weather-course/internal/portal"
	"github.com/i474232898/weather-course/internal/region"
	"github.com/i474232898/weather-course/internal/transport"
)

// DefaultCatalogURL is the tourism catalog service root.
const DefaultCatalogURL = "https://apis.data.go.kr/B551011/KorService1"

const (
	pathAreaCode      = "/areaCode1"
	pathAreaBased     = "/areaBasedList1"
	pathLocationBased = "/locationBasedList1"

	resultOK = "0000"
)

// ErrUpstreamAnomaly marks a response that arrived but could not be used.
var ErrUpstreamAnomaly = errors.New("upstream data anomaly")

// HTTPDoer is the subset of transport.Client the catalog needs.
type HTTPDoer interface {
	Do(ctx context.Context, req transport.Request) (transport.Response, error)
}

// Page is one catalog response with the metadata kept for tracing.
type Page struct {
	Items      []RawRecord
	Status     int
	Variant    transport.Variant
	ResultCode string
	ResultMsg  string
	Total      int
}

// Catalog is a client for the tourism catalog's list endpoints.
type Catalog struct {
	client   HTTPDoer
	baseURL  string
	key      string
	pageSize int
	appName  string
}

// NewCatalog creates a Catalog. An empty baseURL selects DefaultCatalogURL.
func NewCatalog(client HTTPDoer, baseURL, serviceKey string, pageSize int) *Catalog {
	if baseURL == "" {
		baseURL = DefaultCatalogURL
	}
	if pageSize <= 0 {
		pageSize = 15
	}
	return &Catalog{
		client:   client,
		baseURL:  baseURL,
		key:      serviceKey,
		pageSize: pageSize,
		appName:  "WeatherCourse",
	}
}

// AreaBased lists items for an area, optionally narrowed to a sub-region
// (sigungu > 0) and a content type (non-empty).
func (c *Catalog) AreaBased(ctx context.Context, areaCode, sigungu int, contentType string) (Page, error) {
	q := url.Values{}
	q.Set("areaCode", strconv.Itoa(areaCode))
	if sigungu > 0 {
		q.Set("sigunguCode", strconv.Itoa(sigungu))
	}
	if contentType != "" {
		q.Set("contentTypeId", contentType)
	}
	q.Set("numOfRows", strconv.Itoa(c.pageSize))
	q.Set("arrange", "Q")
	return c.get(ctx, pathAreaBased, q)
}

// LocationBased lists items within radius meters of center.
func (c *Catalog) LocationBased(ctx context.Context, center region.Center, radius int, contentType string) (Page, error) {
	q := url.Values{}
	q.Set("mapX", strconv.FormatFloat(center.Longitude, 'f', 6, 64))
	q.Set("mapY", strconv.FormatFloat(center.Latitude, 'f', 6, 64))
	q.Set("radius", strconv.Itoa(radius))
	if contentType != "" {
		q.Set("contentTypeId", contentType)
	}
	q.Set("numOfRows", strconv.Itoa(c.pageSize))
	q.Set("arrange", "Q")
	return c.get(ctx, pathLocationBased, q)
}

// SubRegions returns the sigungu codes of an area, in upstream order.
func (c *Catalog) SubRegions(ctx context.Context, areaCode int) ([]int, Page, error) {
	q := url.Values{}
	q.Set("areaCode", strconv.Itoa(areaCode))
	q.Set("numOfRows", "50")

	page, err := c.get(ctx, pathAreaCode, q)
	if err != nil {
		return nil, page, err
	}

	codes := make([]int, 0, len(page.Items))
	for _, item := range page.Items {
		if n, _, ok := item.FirstNumber("code", "sigunguCode"); ok && n > 0 {
			codes = append(codes, int(n))
		}
	}
	return codes, page, nil
}

// Raw performs a single pass-through call for diagnostics. mode is one of
// "area", "sigungu" or "geo".
func (c *Catalog) Raw(ctx context.Context, mode string, reg region.Entry, contentType string, radius int) (transport.Response, error) {
	q := url.Values{}
	path := pathAreaBased
	switch mode {
	case "sigungu":
		path = pathAreaCode
		q.Set("areaCode", strconv.Itoa(reg.AreaCode))
	case "geo":
		path = pathLocationBased
		q.Set("mapX", strconv.FormatFloat(reg.Center.Longitude, 'f', 6, 64))
		q.Set("mapY", strconv.FormatFloat(reg.Center.Latitude, 'f', 6, 64))
		q.Set("radius", strconv.Itoa(radius))
	default:
		q.Set("areaCode", strconv.Itoa(reg.AreaCode))
	}
	if contentType != "" && mode != "sigungu" {
		q.Set("contentTypeId", contentType)
	}
	q.Set("numOfRows", strconv.Itoa(c.pageSize))
	return c.client.Do(ctx, transport.WithServiceKey(c.request(path, q), "serviceKey", c.key, transport.KeyRaw))
}

// get calls path with the raw key, retrying once with the decoded key when
// the upstream rejects the key.
func (c *Catalog) get(ctx context.Context, path string, q url.Values) (Page, error) {
	encodings := transport.DistinctEncodings(c.key)

	var (
		page Page
		err  error
	)
	for i, enc := range encodings {
		var authRejected bool
		page, authRejected, err = c.getOnce(ctx, path, q, enc)
		if !authRejected || i == len(encodings)-1 {
			return page, err
		}
		log.Printf("WARN: catalog rejected %s key on %s (code %s), retrying with next encoding", enc, path, page.ResultCode)
	}
	return page, err
}

func (c *Catalog) getOnce(ctx context.Context, path string, q url.Values, enc transport.KeyEncoding) (Page, bool, error) {
	resp, err := c.client.Do(ctx, transport.WithServiceKey(c.request(path, q), "serviceKey", c.key, enc))
	page := Page{Status: resp.Status, Variant: resp.Variant}
	if err != nil {
		return page, false, err
	}

	if resp.Status == http.StatusUnauthorized || resp.Status == http.StatusForbidden {
		return page, true, fmt.Errorf("%w: status %d", ErrUpstreamAnomaly, resp.Status)
	}
	if resp.Status != http.StatusOK {
		return page, false, fmt.Errorf("%w: status %d", ErrUpstreamAnomaly, resp.Status)
	}

	env, err := portal.Parse(resp.Body)
	page.ResultCode = env.ResultCode
	page.ResultMsg = env.ResultMsg
	page.Total = env.TotalCount
	if err != nil {
		return page, false, fmt.Errorf("%w: %v", ErrUpstreamAnomaly, err)
	}
	if env.AuthFailure() {
		return page, true, fmt.Errorf("%w: result code %s %s", ErrUpstreamAnomaly, env.ResultCode, env.ResultMsg)
	}
	if env.ResultCode != "" && env.ResultCode != resultOK {
		return page, false, fmt.Errorf("%w: result code %s %s", ErrUpstreamAnomaly, env.ResultCode, env.ResultMsg)
	}

	page.Items = env.Items
	return page, false, nil
}

func (c *Catalog) request(path string, q url.Values) transport.Request {
	q.Set("MobileOS", "ETC")
	q.Set("MobileApp", c.appName)
	q.Set("_type", "json")
	return transport.Request{URL: c.baseURL + path, Query: q}
}

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weather-course/internal/recommend"
	"github.com/i474232898/weather-course/internal/region"
	"github.com/i474232898/weather-course/internal/store"
	"github.com/i474232898/weather-course/internal/transport"
	"github.com/i474232898/weather-course/internal/weather"
)

var validate = validator.New()

// Service is what the handlers need from the recommendation service.
type Service interface {
	Recommend(ctx context.Context, q recommend.Query) (recommend.Result, error)
	Weather(ctx context.Context, regionKey string) (weather.Summary, error)
	DebugWeather(ctx context.Context, regionKey string) (transport.Response, error)
	DebugCatalog(ctx context.Context, regionKey, mode, contentType string) (transport.Response, error)
	GetLatestProbe(upstream string) (recommend.ProbeResult, error)
	GetProbeRange(upstream string, from, to time.Time) ([]recommend.ProbeResult, error)
	MaxLimit() int
}

// RegisterRoutes wires the HTTP handlers into the Fiber app. requestTimeout
// bounds every upstream-facing handler.
func RegisterRoutes(app *fiber.App, service Service, requestTimeout time.Duration) {
	withTimeout := func(c *fiber.Ctx) (context.Context, context.CancelFunc) {
		if requestTimeout <= 0 {
			return context.WithCancel(c.UserContext())
		}
		return context.WithTimeout(c.UserContext(), requestTimeout)
	}

	app.Get("/weather-course", func(c *fiber.Ctx) error {
		var req courseQuery
		if err := req.bind(c, service.MaxLimit()); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		ctx, cancel := withTimeout(c)
		defer cancel()

		res, err := service.Recommend(ctx, recommend.Query{Region: req.Region, Limit: req.Limit})
		if err != nil {
			return upstreamError(c, err)
		}
		return c.JSON(res)
	})

	app.Get("/weather", func(c *fiber.Ctx) error {
		var req regionQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		ctx, cancel := withTimeout(c)
		defer cancel()

		summary, err := service.Weather(ctx, req.Region)
		if err != nil {
			return upstreamError(c, err)
		}
		return c.JSON(fiber.Map{"weatherSummary": summary})
	})

	debug := app.Group("/debug")

	debug.Get("/weather", func(c *fiber.Ctx) error {
		var req regionQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		ctx, cancel := withTimeout(c)
		defer cancel()

		resp, err := service.DebugWeather(ctx, req.Region)
		return rawResponse(c, req.Region, resp, err)
	})

	debug.Get("/tour", func(c *fiber.Ctx) error {
		var req tourProbeQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		ctx, cancel := withTimeout(c)
		defer cancel()

		resp, err := service.DebugCatalog(ctx, req.Region, req.Mode, req.ContentTypeID)
		return rawResponse(c, req.Region, resp, err)
	})

	health := app.Group("/health/upstreams")

	health.Get("/", func(c *fiber.Ctx) error {
		latest := fiber.Map{}
		for _, upstream := range recommend.Upstreams {
			r, err := service.GetLatestProbe(upstream)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					latest[upstream] = nil
					continue
				}
				return fiber.NewError(fiber.StatusInternalServerError, "failed to read probe results")
			}
			latest[upstream] = r
		}
		return c.JSON(latest)
	})

	health.Get("/history", func(c *fiber.Ctx) error {
		var req historyQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		results, err := service.GetProbeRange(req.Upstream, req.From, req.To)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no probe history for requested range")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch probe history")
		}

		return c.JSON(fiber.Map{
			"upstream": req.Upstream,
			"from":     req.From,
			"to":       req.To,
			"results":  results,
		})
	})
}

// ErrorHandler renders errors as {"error": true, "message": ...}.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": err.Error(),
	})
}

// upstreamError maps service errors to responses. An unreachable weather
// source is answered with its trace so callers can diagnose it.
func upstreamError(c *fiber.Ctx, err error) error {
	var unavailable *recommend.UnavailableError
	switch {
	case errors.Is(err, recommend.ErrMissingCredential):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.As(err, &unavailable):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":        true,
			"message":      err.Error(),
			"upstreamHint": fiber.Map{"trace": unavailable.Trace},
		})
	default:
		return fiber.NewError(fiber.StatusInternalServerError, "failed to build recommendation")
	}
}

// rawResponse passes an upstream response through for diagnostics.
func rawResponse(c *fiber.Ctx, regionKey string, resp transport.Response, err error) error {
	if errors.Is(err, recommend.ErrMissingCredential) {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	out := fiber.Map{
		"region":  region.Resolve(regionKey).Key,
		"variant": resp.Variant,
		"status":  resp.Status,
	}
	if err != nil {
		out["error"] = transport.Describe(err)
		return c.Status(fiber.StatusBadGateway).JSON(out)
	}
	if json.Valid(resp.Body) {
		out["body"] = json.RawMessage(resp.Body)
	} else {
		out["body"] = string(resp.Body)
	}
	return c.JSON(out)
}

// regionQuery holds the region parameter. Unknown keys resolve to the
// default region later, so only the shape is checked here.
type regionQuery struct {
	Region string `validate:"max=32"`
}

func (r *regionQuery) bind(c *fiber.Ctx) error {
	r.Region = c.Query("region")
	return validate.Struct(r)
}

// courseQuery holds query parameters for the recommendation endpoint.
type courseQuery struct {
	regionQuery
	Limit int
}

func (q *courseQuery) bind(c *fiber.Ctx, maxLimit int) error {
	if err := q.regionQuery.bind(c); err != nil {
		return err
	}

	limitStr := c.Query("limit")
	if limitStr == "" {
		return nil
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		return errors.New("limit must be an integer")
	}
	if err := validate.Var(limit, "min=1,max="+strconv.Itoa(maxLimit)); err != nil {
		return errors.New("limit must be between 1 and " + strconv.Itoa(maxLimit))
	}
	q.Limit = limit
	return nil
}

// tourProbeQuery holds query parameters for the catalog probe.
type tourProbeQuery struct {
	regionQuery
	Mode          string `validate:"oneof=area sigungu geo"`
	ContentTypeID string `validate:"omitempty,numeric"`
}

func (q *tourProbeQuery) bind(c *fiber.Ctx) error {
	q.Region = c.Query("region")
	q.Mode = c.Query("mode", "area")
	q.ContentTypeID = c.Query("contentTypeId")
	return validate.Struct(q)
}

// historyQuery holds query parameters for the probe history endpoint.
type historyQuery struct {
	Upstream string    `validate:"required,oneof=weather catalog"`
	From     time.Time `validate:"required"`
	To       time.Time `validate:"required,gtefield=From"`
}

func (h *historyQuery) bind(c *fiber.Ctx) error {
	h.Upstream = c.Query("upstream")

	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}

	from, err := parseTime(fromStr)
	if err != nil {
		return err
	}
	to, err := parseTime(toStr)
	if err != nil {
		return err
	}

	h.From = from
	h.To = to
	return nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}

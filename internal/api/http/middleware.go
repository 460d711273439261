package httpapi

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// NoStore disables intermediary caching on every response.
func NoStore() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderCacheControl, "no-store, no-cache, must-revalidate")
		c.Set("Pragma", "no-cache")
		c.Set("Expires", "0")
		return c.Next()
	}
}

// RequestTracing starts a server span per request and makes it the
// request's user context.
func RequestTracing() fiber.Handler {
	tracer := otel.Tracer("http")

	return func(c *fiber.Ctx) error {
		start := time.Now()

		ctx, span := tracer.Start(c.UserContext(), "http.request", oteltrace.WithSpanKind(oteltrace.SpanKindServer))
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", c.Method()),
			attribute.String("http.target", c.Path()),
			attribute.String("http.user_agent", c.Get(fiber.HeaderUserAgent)),
			attribute.String("http.client_ip", c.IP()),
		)
		if region := c.Query("region"); region != "" {
			span.SetAttributes(attribute.String("course.region", region))
		}

		c.SetUserContext(ctx)
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			}
			span.RecordError(err)
		}

		span.SetAttributes(
			attribute.String("http.route", c.Route().Path),
			attribute.Int("http.status_code", status),
			attribute.Int64("http.duration_ms", time.Since(start).Milliseconds()),
		)
		if status >= 400 {
			span.SetStatus(codes.Error, "HTTP request failed")
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return err
	}
}

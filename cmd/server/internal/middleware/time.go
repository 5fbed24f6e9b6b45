package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Time records, in UTC, when the request was received.
func Time(key string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			_, span := tracer.Start(c.Request().Context(), "Time", trace.WithAttributes(
				attribute.String("key", key),
			))
			defer span.End()

			t := time.Now().UTC()
			c.Set(key, t)

			span.AddEvent("set_time", trace.WithAttributes(
				attribute.String("time", t.Format(time.RFC3339Nano)),
			))

			span.RecordError(nil)
			span.SetStatus(codes.Ok, "set time")
			return next(c)
		}
	}
}

// RequestTime reads the value stored by Time, falling back to now when the
// middleware did not run.
func RequestTime(c echo.Context, key string) time.Time {
	if t, ok := c.Get(key).(time.Time); ok {
		return t
	}
	return time.Now().UTC()
}

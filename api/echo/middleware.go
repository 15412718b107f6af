package echo

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/pilab-dev/storefront/auth"
	"github.com/pilab-dev/storefront/log"
)

// RequireSession rejects requests while no session is active.
func RequireSession(m *auth.Manager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !m.State().IsLoggedIn {
				return c.JSON(http.StatusUnauthorized, errorBody("not logged in"))
			}
			return next(c)
		}
	}
}

// SecurityHeaders adds common security headers to responses.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Cache-Control", "no-store")
			return next(c)
		}
	}
}

// RequestLogger logs one line per request.
func RequestLogger(logger log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			logger.Debug(c.Request().Context(), "Gateway request", map[string]interface{}{
				"method":   c.Request().Method,
				"path":     c.Path(),
				"status":   c.Response().Status,
				"duration": time.Since(start).String(),
			})
			return nil
		}
	}
}

// RequestMetrics records request counts and durations on the global OpenTelemetry
// meter provider. Instruments are no-ops until a provider is installed.
func RequestMetrics() echo.MiddlewareFunc {
	meter := otel.Meter("github.com/pilab-dev/storefront/api/echo")
	requests, _ := meter.Int64Counter("storefront.gateway.requests",
		metric.WithDescription("Gateway requests by route and status."))
	duration, _ := meter.Float64Histogram("storefront.gateway.request.duration",
		metric.WithDescription("Gateway request latency."),
		metric.WithUnit("s"))

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}

			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("route", c.Path()),
				attribute.Int("status", c.Response().Status),
			)
			ctx := c.Request().Context()
			requests.Add(ctx, 1, attrs)
			duration.Record(ctx, time.Since(start).Seconds(), attrs)
			return nil
		}
	}
}

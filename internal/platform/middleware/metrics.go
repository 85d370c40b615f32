package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ohcnetwork/care-sub000/internal/platform/apperr"
	"github.com/ohcnetwork/care-sub000/internal/platform/metrics"
)

// Metrics records request counts and latency labelled by route pattern so
// the path label has bounded cardinality.
func Metrics() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Path() == "/metrics" {
				return next(c)
			}
			start := time.Now()
			metrics.HTTPStarted()
			defer metrics.HTTPFinished()

			err := next(c)

			status := c.Response().Status
			if err != nil {
				status, _ = apperr.Status(err)
			}
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			metrics.ObserveHTTP(c.Request().Method, path, status, time.Since(start))
			return err
		}
	}
}

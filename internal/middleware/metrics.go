package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/eno-chat/internal/metrics"
)

// Metrics records Prometheus request counters and latencies.  Labels use
// the route pattern (c.Path()) rather than the raw URL to bound cardinality.
func Metrics() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			metrics.HTTPRequestsTotal.WithLabelValues(
				method, route, strconv.Itoa(c.Response().Status),
			).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(method, route).
				Observe(time.Since(start).Seconds())
			return nil
		}
	}
}

package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/nutrigraph/internal/logger"
	"github.com/tphakala/nutrigraph/internal/observability/metrics"
)

// NewRequestID tags every request with an X-Request-ID, keeping one the
// client sent. The id is also stored on the request context so loggers
// built with WithContext carry it as trace_id.
func NewRequestID() echo.MiddlewareFunc {
	return middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string {
			return uuid.NewString()
		},
		RequestIDHandler: func(c echo.Context, id string) {
			req := c.Request()
			c.SetRequest(req.WithContext(logger.WithTraceID(req.Context(), id)))
		},
	})
}

// NewMetrics records request counts and latency by route template. A nil
// m disables recording.
func NewMetrics(m *metrics.HTTPMetrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}

			m.RequestStarted()
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil && !c.Response().Committed {
				// the error handler has not written the response yet
				status = http.StatusInternalServerError
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			m.RecordRequest(c.Request().Method, path, status, time.Since(start))
			return err
		}
	}
}

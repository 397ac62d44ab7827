package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	"QuantSim/pkg/logger"
)

// RequestLogging logs every request at debug level, 5xx at error and slow
// requests at warn.
func RequestLogging(l *logger.Logger, slow time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			res := c.Response()
			elapsed := time.Since(start)
			fields := []logger.Field{
				logger.String("method", c.Request().Method),
				logger.String("route", routeOf(c)),
				logger.Int("status", res.Status),
				logger.Duration("duration_ms", elapsed),
				logger.Int64("bytes", res.Size),
			}
			switch {
			case res.Status >= 500:
				l.Error("http request failed", fields...)
			case slow > 0 && elapsed >= slow:
				l.Warn("http request slow", fields...)
			default:
				l.Debug("http request", fields...)
			}
			return nil
		}
	}
}

func routeOf(c echo.Context) string {
	if p := c.Path(); p != "" {
		return p
	}
	return "unmatched"
}

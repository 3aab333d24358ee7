// Package middleware provides Echo middleware for logging, metrics and
// header hygiene.
package middleware

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"holdproxy/internal/model"
)

// RequestLogger returns an Echo middleware that logs each request with slog.
// Proxied requests carry the attempt count and outcome recorded by the proxy
// handler, so the line doubles as the terminal-outcome record.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			attrs := []any{
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
			}

			if n, ok := c.Get(model.ContextKeyAttempts).(int); ok {
				attrs = append(attrs, "attempts", n)
				outcome, _ := c.Get(model.ContextKeyOutcome).(string)
				attrs = append(attrs, "outcome", outcome)
				if outcome == "succeeded" && n > 1 {
					attrs = append(attrs, "note", "recovered after "+strconv.Itoa(n)+" attempts")
				}
			}

			logger.Info("request", attrs...)

			return err
		}
	}
}

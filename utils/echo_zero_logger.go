package utils

import (
	"time"

	"github.com/labstack/echo"
	"github.com/rs/zerolog"
)

// ZeroLogger writes one zerolog event per request. Health checks are logged at trace level so
// probes don't flood the debug output.
func ZeroLogger(log *zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			if err := next(c); err != nil {
				c.Error(err)
			}

			req := c.Request()
			res := c.Response()

			id := req.Header.Get(echo.HeaderXRequestID)
			if id == "" {
				id = res.Header().Get(echo.HeaderXRequestID)
			}

			event := log.WithLevel(requestLevel(c.Path(), res.Status)).
				Int("status", res.Status).
				Dur("latency", time.Since(start)).
				Str("id", id).
				Str("method", req.Method).
				Str("uri", req.RequestURI).
				Str("remote_ip", c.RealIP())

			if address := c.Param("address"); address != "" {
				event = event.Str("address", address)
			}

			event.Msg("request")

			return nil
		}
	}
}

func requestLevel(path string, status int) zerolog.Level {
	switch {
	case status >= 500:
		return zerolog.ErrorLevel
	case status == 429:
		// upstream quota, not a client mistake
		return zerolog.WarnLevel
	case status >= 400:
		return zerolog.InfoLevel
	case path == "/_ping" || path == "/metrics":
		return zerolog.TraceLevel
	default:
		return zerolog.DebugLevel
	}
}

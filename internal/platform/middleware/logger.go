package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/hl7ingest/internal/platform/auth"
)

// Logger writes one structured line per request. Probe endpoints log at
// debug, client errors at warn and server errors at error.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				// render now so the logged status is the one the client sees
				c.Error(err)
			}

			req := c.Request()
			status := c.Response().Status
			evt := levelFor(logger, req.URL.Path, status)
			if err != nil {
				evt = evt.Err(err)
			}
			rid, _ := c.Get("request_id").(string)
			evt = evt.
				Str("request_id", rid).
				Str("method", req.Method).
				Str("route", c.Path()).
				Str("path", req.URL.Path).
				Int("status", status).
				Int64("bytes_in", req.ContentLength).
				Int64("bytes_out", c.Response().Size).
				Dur("latency", time.Since(start))
			if sub := auth.SubjectFromContext(req.Context()); sub != "" {
				evt = evt.Str("subject", sub)
			}
			if d := c.QueryParam("dialect"); d != "" {
				evt = evt.Str("dialect", d)
			}
			evt.Msg("request")

			return err
		}
	}
}

func levelFor(logger zerolog.Logger, path string, status int) *zerolog.Event {
	switch {
	case status >= http.StatusInternalServerError:
		return logger.Error()
	case status >= http.StatusBadRequest:
		return logger.Warn()
	case auth.IsPublicPath(path):
		return logger.Debug()
	}
	return logger.Info()
}

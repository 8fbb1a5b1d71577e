package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// EnvelopePath accepts whole XML envelopes and gets the larger limit.
const EnvelopePath = "/api/v1/hl7v2/envelope"

const defaultLimit = 1 << 20

// BodyLimit caps request bodies at defaultSize, or envelopeSize for
// POST EnvelopePath. Sizes are strings such as "512K", "1M" or "2G"; a bare
// number is bytes.
//
// A declared Content-Length over the limit is answered with 413 before the
// handler runs. Bodies without a usable Content-Length are wrapped in
// http.MaxBytesReader, so the handler sees *http.MaxBytesError on overrun.
func BodyLimit(defaultSize, envelopeSize string) echo.MiddlewareFunc {
	single, envelope := parseLimit(defaultSize), parseLimit(envelopeSize)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}

			limit := single
			if req.Method == http.MethodPost && strings.TrimSuffix(req.URL.Path, "/") == EnvelopePath {
				limit = envelope
			}
			if req.ContentLength > limit {
				return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{
					"error": fmt.Sprintf("request body exceeds %d bytes", limit),
				})
			}

			req.Body = http.MaxBytesReader(c.Response(), req.Body, limit)
			return next(c)
		}
	}
}

var sizeSuffixes = []struct {
	suffix string
	mult   int64
}{
	{"GB", 1 << 30}, {"G", 1 << 30},
	{"MB", 1 << 20}, {"M", 1 << 20},
	{"KB", 1 << 10}, {"K", 1 << 10},
}

// parseLimit converts a size string to bytes. Blank, unparsable or
// non-positive input yields 1 MB.
func parseLimit(s string) int64 {
	s = strings.ToUpper(strings.TrimSpace(s))
	mult := int64(1)
	for _, sf := range sizeSuffixes {
		if strings.HasSuffix(s, sf.suffix) {
			s, mult = strings.TrimSuffix(s, sf.suffix), sf.mult
			break
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return defaultLimit
	}
	return n * mult
}

package labreport

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ehr/hl7ingest/internal/platform/envelope"
	"github.com/ehr/hl7ingest/internal/platform/hl7v2"
)

// defaultMaxBody bounds request bodies for both endpoints. Envelopes carrying
// many messages are larger than a single message, hence the generous limit.
const defaultMaxBody = 16 << 20

// Handler serves the parser over HTTP.
type Handler struct {
	extractor *envelope.Extractor
	opts      []Option
	maxBody   int64
}

// NewHandler returns a Handler. opts are the defaults for every request;
// query parameters may override the dialect and inline setting.
func NewHandler(extractor *envelope.Extractor, opts ...Option) *Handler {
	if extractor == nil {
		extractor = envelope.New(envelope.DefaultElement, envelope.DefaultIDAttr)
	}
	return &Handler{extractor: extractor, opts: opts, maxBody: defaultMaxBody}
}

// RegisterRoutes registers the report endpoints on the provided group.
//
//	POST /api/v1/hl7v2/parse    - Parse one raw message into a report
//	POST /api/v1/hl7v2/envelope - Parse every message in an XML envelope
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/hl7v2/parse", h.Parse)
	g.POST("/hl7v2/envelope", h.Envelope)
}

// requestOptions layers ?dialect= and ?inline= over the handler defaults.
func (h *Handler) requestOptions(c echo.Context) ([]Option, error) {
	opts := append([]Option(nil), h.opts...)
	if v := c.QueryParam("dialect"); v != "" {
		d, ok := ParseDialect(v)
		if !ok {
			return nil, errors.New("unknown dialect " + strconv.Quote(v))
		}
		opts = append(opts, WithDialect(d))
	}
	if v := c.QueryParam("inline"); v != "" {
		inline, err := strconv.ParseBool(v)
		if err != nil {
			return nil, errors.New("inline must be a boolean")
		}
		opts = append(opts, WithInlineDocuments(inline))
	}
	return opts, nil
}

// readBody returns the request body, or the status and error to answer with.
// A body longer than the limit is refused rather than truncated.
func (h *Handler) readBody(c echo.Context) ([]byte, int, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, h.maxBody+1))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, http.StatusRequestEntityTooLarge, errors.New("request body too large")
		}
		return nil, http.StatusBadRequest, errors.New("failed to read request body")
	}
	if int64(len(body)) > h.maxBody {
		return nil, http.StatusRequestEntityTooLarge, errors.New("request body too large")
	}
	if len(body) == 0 {
		return nil, http.StatusBadRequest, errors.New("request body is empty")
	}
	return body, http.StatusOK, nil
}

// Parse handles POST /api/v1/hl7v2/parse. The body is one raw message in
// the character set its MSH-18 declares.
func (h *Handler) Parse(c echo.Context) error {
	opts, err := h.requestOptions(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	body, status, err := h.readBody(c)
	if err != nil {
		return c.JSON(status, map[string]string{"error": err.Error()})
	}

	report, err := ParseBytes(body, opts...)
	if err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, hl7v2.ErrUnsupportedCharset) {
			code = http.StatusUnprocessableEntity
		}
		return c.JSON(code, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, report)
}

// Envelope handles POST /api/v1/hl7v2/envelope. A malformed envelope fails
// the request; a message that does not parse only fails its own entry.
func (h *Handler) Envelope(c echo.Context) error {
	opts, err := h.requestOptions(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	body, status, err := h.readBody(c)
	if err != nil {
		return c.JSON(status, map[string]string{"error": err.Error()})
	}

	results, err := ParseEnvelope(c.Request().Context(), h.extractor, body, opts...)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, results)
}

package hl7v2

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
)

// maxTokenizeBody bounds the request body read by Tokenize.
const maxTokenizeBody = 1 << 20

// Handler exposes the tokenizer over HTTP so integrators can see how a
// message is split before it is mapped into a report.
type Handler struct{}

// NewHandler creates a new HL7v2 handler.
func NewHandler() *Handler {
	return &Handler{}
}

// RegisterRoutes registers HL7v2 endpoints on the provided route group.
//
//	POST /api/v1/hl7v2/tokenize - Split a raw message into segments and fields
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/hl7v2/tokenize", h.Tokenize)
}

type segmentJSON struct {
	Name   string      `json:"name"`
	Fields []fieldJSON `json:"fields"`
}

type fieldJSON struct {
	Position int        `json:"position"`
	Value    string     `json:"value"`
	Repeats  [][]string `json:"repeats,omitempty"`
}

// Tokenize handles POST /api/v1/hl7v2/tokenize. The body is raw HL7v2 text
// in any character set MSH-18 declares.
func (h *Handler) Tokenize(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxTokenizeBody))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "failed to read request body",
		})
	}
	if len(body) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "request body is empty",
		})
	}

	text, err := Decode(body)
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{
			"error": err.Error(),
		})
	}
	msg, err := ParseString(text)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "failed to parse HL7v2 message: " + err.Error(),
		})
	}

	segments := make([]segmentJSON, len(msg.Segments))
	for i, seg := range msg.Segments {
		fields := make([]fieldJSON, 0, len(seg.Fields))
		for j, f := range seg.Fields {
			if f.Value == "" {
				continue
			}
			fj := fieldJSON{Position: j + 1, Value: f.Value}
			if len(f.Repeats) > 1 || len(f.Repeats[0].Components) > 1 {
				for _, r := range f.Repeats {
					comps := make([]string, len(r.Components))
					for k, comp := range r.Components {
						comps[k] = comp.Value
					}
					fj.Repeats = append(fj.Repeats, comps)
				}
			}
			fields = append(fields, fj)
		}
		segments[i] = segmentJSON{Name: seg.Name, Fields: fields}
	}

	result := map[string]interface{}{
		"type":         msg.Type,
		"controlId":    msg.ControlID,
		"version":      msg.Version,
		"sendingApp":   msg.SendingApp,
		"sendingFac":   msg.SendingFac,
		"receivingApp": msg.ReceivingApp,
		"receivingFac": msg.ReceivingFac,
		"delimiters":   string(msg.Delimiters.Field) + msg.Delimiters.Encoding(),
		"segments":     segments,
	}
	if !msg.Timestamp.IsZero() {
		result["timestamp"] = msg.Timestamp.Format("2006-01-02T15:04:05Z")
	}

	return c.JSON(http.StatusOK, result)
}

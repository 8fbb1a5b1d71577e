// Package envelope pulls individual raw HL7 messages out of the XML
// container documents lab vendors deliver them in.
package envelope

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/ianaindex"
)

// ErrMalformed is returned when the container is not well-formed XML.
var ErrMalformed = errors.New("envelope: malformed XML")

// Defaults for the message element and its identifying attribute.
const (
	DefaultElement = "Message"
	DefaultIDAttr  = "id"
)

// Message is one embedded raw message. ID is empty when the element carries
// no identifying attribute.
type Message struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// Extractor finds message elements by local name, ignoring namespaces.
type Extractor struct {
	Element string
	IDAttr  string
}

// New returns an Extractor, substituting defaults for empty names.
func New(element, idAttr string) *Extractor {
	if element == "" {
		element = DefaultElement
	}
	if idAttr == "" {
		idAttr = DefaultIDAttr
	}
	return &Extractor{Element: element, IDAttr: idAttr}
}

// Extract is shorthand for New(DefaultElement, DefaultIDAttr).Extract.
func Extract(doc []byte) ([]Message, error) {
	return New(DefaultElement, DefaultIDAttr).Extract(doc)
}

// Extract returns the embedded messages in document order. The whole
// document must be well-formed; no partial result is returned on error.
func (x *Extractor) Extract(doc []byte) ([]Message, error) {
	if len(bytes.TrimSpace(doc)) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrMalformed)
	}

	d := xml.NewDecoder(bytes.NewReader(doc))
	d.CharsetReader = charsetReader

	var (
		out     []Message
		sawRoot bool
	)
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		sawRoot = true
		if start.Name.Local != x.Element {
			continue
		}

		var body struct {
			Text string `xml:",chardata"`
		}
		if err := d.DecodeElement(&body, &start); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		out = append(out, Message{
			ID:      attr(start, x.IDAttr),
			Content: strings.TrimSpace(body.Text),
		})
	}

	if !sawRoot {
		return nil, fmt.Errorf("%w: no root element", ErrMalformed)
	}
	return out, nil
}

func attr(el xml.StartElement, name string) string {
	for _, a := range el.Attr {
		if a.Name.Local == name {
			return strings.TrimSpace(a.Value)
		}
	}
	return ""
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := ianaindex.IANA.Encoding(label)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("unsupported charset %q", label)
	}
	return enc.NewDecoder().Reader(input), nil
}

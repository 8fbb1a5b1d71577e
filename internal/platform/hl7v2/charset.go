package hl7v2

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
)

// ErrUnsupportedCharset is returned by Decode for an MSH-18 value it cannot map.
var ErrUnsupportedCharset = errors.New("hl7v2: unsupported character set")

// hl7Charsets maps HL7 table 0211 names to encodings. A nil entry means the
// bytes are already UTF-8 compatible.
var hl7Charsets = map[string]encoding.Encoding{
	"":              nil,
	"ASCII":         nil,
	"UNICODE":       nil,
	"UNICODE UTF-8": nil,
	"UTF-8":         nil,
	"8859/1":        charmap.ISO8859_1,
	"8859/2":        charmap.ISO8859_2,
	"8859/5":        charmap.ISO8859_5,
	"8859/7":        charmap.ISO8859_7,
	"8859/9":        charmap.ISO8859_9,
	"8859/15":       charmap.ISO8859_15,
	"CP1252":        charmap.Windows1252,
	"WINDOWS-1252":  charmap.Windows1252,
}

// Decode converts raw message bytes to a UTF-8 string using the character
// set declared in MSH-18. Input without a declaration that is not valid UTF-8
// is read as windows-1252, which is what most lab feeds send in practice.
func Decode(raw []byte) (string, error) {
	raw = bytes.TrimPrefix(raw, []byte(byteOrderMark))
	name := strings.ToUpper(strings.TrimSpace(declaredCharset(raw)))

	enc, known := hl7Charsets[name]
	if !known {
		var err error
		enc, err = ianaindex.IANA.Encoding(name)
		if err != nil || enc == nil {
			return "", fmt.Errorf("%w: %q", ErrUnsupportedCharset, name)
		}
	}
	if enc == nil {
		if name == "" && !utf8.Valid(raw) {
			enc = charmap.Windows1252
		} else {
			return string(raw), nil
		}
	}

	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("hl7v2: decode %s: %w", name, err)
	}
	return string(out), nil
}

// declaredCharset pulls the first repetition of MSH-18 out of the raw bytes
// without a full parse; the header is plain ASCII in every supported set.
func declaredCharset(raw []byte) string {
	text := string(raw)
	start := strings.Index(text, "MSH")
	if start < 0 || len(text) < start+4 {
		return ""
	}
	text = text[start:]
	if end := strings.IndexAny(text, "\r\n"); end >= 0 {
		text = text[:end]
	}
	delims, err := readDelimiters(text)
	if err != nil {
		return ""
	}
	seg := parseSegment(text, 0, delims)
	return seg.First(18).Value
}

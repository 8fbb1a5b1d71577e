package hl7v2

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
)

var (
	// ErrEmpty is returned for blank input.
	ErrEmpty = errors.New("hl7v2: message is empty")
	// ErrNoHeader is returned when no MSH segment is present, so the
	// delimiter characters cannot be established.
	ErrNoHeader = errors.New("hl7v2: no MSH segment found")
	// ErrBadDelimiters is returned when MSH-1/MSH-2 do not declare a usable
	// delimiter set.
	ErrBadDelimiters = errors.New("hl7v2: undecodable delimiter characters")
)

// ParseError describes why a raw message could not be tokenized.
type ParseError struct {
	Line   int // 1-based line of the offending segment, 0 when not line-specific
	Detail string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%v (line %d): %s", e.Err, e.Line, e.Detail)
	}
	if e.Detail != "" {
		return fmt.Sprintf("%v: %s", e.Err, e.Detail)
	}
	return e.Err.Error()
}

func (e *ParseError) Unwrap() error { return e.Err }

// Delimiters holds the separator characters a message declares in MSH-1 and
// MSH-2.
type Delimiters struct {
	Field        byte
	Component    byte
	Repetition   byte
	Escape       byte
	SubComponent byte
}

// DefaultDelimiters are used for any position MSH-1/MSH-2 leave out.
var DefaultDelimiters = Delimiters{
	Field:        '|',
	Component:    '^',
	Repetition:   '~',
	Escape:       '\\',
	SubComponent: '&',
}

// Encoding returns the MSH-2 representation of the delimiters.
func (d Delimiters) Encoding() string {
	return string([]byte{d.Component, d.Repetition, d.Escape, d.SubComponent})
}

// Message represents a tokenized HL7v2 message.
type Message struct {
	Delimiters   Delimiters
	Type         string    // MSH-9 message type (e.g. "ORU^R01")
	ControlID    string    // MSH-10
	Version      string    // MSH-12 (e.g. "2.5.1")
	Timestamp    time.Time // MSH-7
	SendingApp   string    // MSH-3
	SendingFac   string    // MSH-4
	ReceivingApp string    // MSH-5
	ReceivingFac string    // MSH-6
	Segments     []Segment
}

// Segment represents a single HL7v2 segment.
type Segment struct {
	Name   string // e.g. "MSH", "PID", "OBR", "OBX"
	Index  int    // 0-based position in the source message
	Fields []Field
}

// Field is one positional field. Repeats always holds at least one
// repetition, so repeatable fields have the same shape whether the source
// repeated them or not.
type Field struct {
	Value   string
	Repeats []Repeat
}

// Repeat is one repetition of a field, split into components.
type Repeat struct {
	Value      string
	Components []Component
}

// Component is one component of a repetition, split into sub-components.
type Component struct {
	Value         string
	SubComponents []string
}

// byteOrderMark is stripped from the start of input; payloads lifted out of
// XML or files saved by Windows tools often carry one.
const byteOrderMark = "\ufeff"

// Parse tokenizes a raw HL7v2 message. Segments may be separated by \r, \n
// or \r\n. The delimiters are taken from the first MSH segment.
func Parse(raw []byte) (*Message, error) {
	return ParseString(string(raw))
}

// ParseString is Parse for string input.
func ParseString(text string) (*Message, error) {
	text = strings.TrimPrefix(text, byteOrderMark)
	if strings.TrimSpace(text) == "" {
		return nil, &ParseError{Err: ErrEmpty}
	}

	text = strings.ReplaceAll(text, "\r\n", "\r")
	text = strings.ReplaceAll(text, "\n", "\r")

	type line struct {
		no   int
		text string
	}
	var lines []line
	for i, l := range strings.Split(text, "\r") {
		l = strings.TrimSpace(l)
		if l != "" {
			lines = append(lines, line{no: i + 1, text: l})
		}
	}

	header := -1
	for i, l := range lines {
		if isHeaderLine(l.text) {
			header = i
			break
		}
	}
	if header < 0 {
		return nil, &ParseError{Err: ErrNoHeader}
	}

	delims, err := readDelimiters(lines[header].text)
	if err != nil {
		return nil, &ParseError{Line: lines[header].no, Detail: err.Error(), Err: ErrBadDelimiters}
	}

	msg := &Message{Delimiters: delims, Segments: make([]Segment, 0, len(lines))}
	for i, l := range lines {
		msg.Segments = append(msg.Segments, parseSegment(l.text, i, delims))
	}
	msg.extractMSHFields()

	return msg, nil
}

func isHeaderLine(line string) bool {
	if !strings.HasPrefix(line, "MSH") {
		return false
	}
	if len(line) == 3 {
		return true
	}
	c := rune(line[3])
	return !unicode.IsLetter(c) && !unicode.IsDigit(c)
}

// readDelimiters decodes MSH-1 and MSH-2, filling missing positions from
// DefaultDelimiters.
func readDelimiters(msh string) (Delimiters, error) {
	d := DefaultDelimiters
	if len(msh) < 4 {
		return d, nil
	}
	d.Field = msh[3]
	if !usableDelimiter(d.Field) {
		return d, fmt.Errorf("field separator %q", d.Field)
	}

	enc := msh[4:]
	if i := strings.IndexByte(enc, d.Field); i >= 0 {
		enc = enc[:i]
	}
	slots := []*byte{&d.Component, &d.Repetition, &d.Escape, &d.SubComponent}
	for i := 0; i < len(enc) && i < len(slots); i++ {
		if !usableDelimiter(enc[i]) {
			return d, fmt.Errorf("encoding character %q", enc[i])
		}
		*slots[i] = enc[i]
	}

	seen := map[byte]bool{d.Field: true}
	for _, s := range slots {
		if seen[*s] {
			return d, fmt.Errorf("encoding characters %q repeat a delimiter", d.Encoding())
		}
		seen[*s] = true
	}
	return d, nil
}

func usableDelimiter(c byte) bool {
	r := rune(c)
	return r < unicode.MaxASCII && !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r)
}

// parseSegment parses a single segment line into a Segment struct.
func parseSegment(line string, index int, d Delimiters) Segment {
	fs := string(d.Field)
	seg := Segment{Index: index}

	// MSH is special: the field separator is MSH-1 itself and MSH-2 is never
	// split into components.
	if isHeaderLine(line) {
		seg.Name = "MSH"
		seg.Fields = append(seg.Fields, literalField(fs))
		if len(line) < 4 {
			seg.Fields = append(seg.Fields, literalField(d.Encoding()))
			return seg
		}
		parts := strings.Split(line[4:], fs)
		seg.Fields = append(seg.Fields, literalField(parts[0]))
		for _, part := range parts[1:] {
			seg.Fields = append(seg.Fields, parseField(part, d))
		}
		return seg
	}

	parts := strings.Split(line, fs)
	seg.Name = strings.TrimSpace(parts[0])
	for _, part := range parts[1:] {
		seg.Fields = append(seg.Fields, parseField(part, d))
	}
	return seg
}

func literalField(v string) Field {
	return Field{
		Value:   v,
		Repeats: []Repeat{{Value: v, Components: []Component{{Value: v, SubComponents: []string{v}}}}},
	}
}

// parseField parses a single field, handling repetitions, components and
// sub-components. Escape sequences are kept as-is.
func parseField(raw string, d Delimiters) Field {
	f := Field{Value: raw}
	for _, rep := range strings.Split(raw, string(d.Repetition)) {
		r := Repeat{Value: rep}
		for _, comp := range strings.Split(rep, string(d.Component)) {
			r.Components = append(r.Components, Component{
				Value:         comp,
				SubComponents: strings.Split(comp, string(d.SubComponent)),
			})
		}
		f.Repeats = append(f.Repeats, r)
	}
	return f
}

// extractMSHFields copies commonly used MSH fields into the Message struct.
func (m *Message) extractMSHFields() {
	msh := m.Segment("MSH")
	if msh == nil {
		return
	}
	m.SendingApp = msh.Value(3)
	m.SendingFac = msh.Value(4)
	m.ReceivingApp = msh.Value(5)
	m.ReceivingFac = msh.Value(6)
	if t, err := ParseTimestamp(msh.Value(7)); err == nil {
		m.Timestamp = t
	}
	m.Type = msh.Value(9)
	m.ControlID = msh.Value(10)
	m.Version = msh.Value(12)
}

// ParseTimestamp parses an HL7v2 timestamp (YYYYMMDD[HH[MM[SS]]]).
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	switch {
	case len(s) >= 14:
		return time.Parse("20060102150405", s[:14])
	case len(s) >= 12:
		return time.Parse("200601021504", s[:12])
	case len(s) >= 10:
		return time.Parse("2006010215", s[:10])
	case len(s) >= 8:
		return time.Parse("20060102", s[:8])
	default:
		return time.Time{}, fmt.Errorf("hl7v2: unrecognized timestamp format: %q", s)
	}
}

// Segment returns the first segment with the given name, or nil if not found.
func (m *Message) Segment(name string) *Segment {
	for i := range m.Segments {
		if m.Segments[i].Name == name {
			return &m.Segments[i]
		}
	}
	return nil
}

// SegmentsNamed returns all segments with the given name in source order.
func (m *Message) SegmentsNamed(name string) []Segment {
	var result []Segment
	for _, seg := range m.Segments {
		if seg.Name == name {
			result = append(result, seg)
		}
	}
	return result
}

// Field returns the field at the 1-based HL7 position, or nil. For MSH,
// Field(1) is the field separator and Field(2) the encoding characters.
func (s *Segment) Field(n int) *Field {
	idx := n - 1
	if idx < 0 || idx >= len(s.Fields) {
		return nil
	}
	return &s.Fields[idx]
}

// Value returns the raw text of field n.
func (s *Segment) Value(n int) string {
	if f := s.Field(n); f != nil {
		return f.Value
	}
	return ""
}

// Repeats returns every repetition of field n. An absent field yields nil; a
// present field always yields at least one repetition.
func (s *Segment) Repeats(n int) []Repeat {
	if f := s.Field(n); f != nil {
		return f.Repeats
	}
	return nil
}

// First returns the first repetition of field n (zero value when absent).
func (s *Segment) First(n int) Repeat {
	if reps := s.Repeats(n); len(reps) > 0 {
		return reps[0]
	}
	return Repeat{}
}

// Component returns component c of the first repetition of field n.
func (s *Segment) Component(n, c int) string {
	r := s.First(n)
	return r.Component(c)
}

// SubComponent returns sub-component sc of component c of the first
// repetition of field n.
func (s *Segment) SubComponent(n, c, sc int) string {
	r := s.First(n)
	return r.SubComponent(c, sc)
}

// Component returns the 1-based component c.
func (r Repeat) Component(c int) string {
	idx := c - 1
	if idx < 0 || idx >= len(r.Components) {
		return ""
	}
	return r.Components[idx].Value
}

// SubComponent returns the 1-based sub-component sc of component c.
func (r Repeat) SubComponent(c, sc int) string {
	idx := c - 1
	if idx < 0 || idx >= len(r.Components) {
		return ""
	}
	subs := r.Components[idx].SubComponents
	if sc-1 < 0 || sc-1 >= len(subs) {
		return ""
	}
	return subs[sc-1]
}

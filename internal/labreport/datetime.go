package labreport

import "strings"

// NormalizeDate converts an HL7 date/time (YYYY[MM[DD[HH[MM[SS]]]]], with an
// optional fractional second or zone offset that is dropped) into
// YYYY-MM-DDTHH:MM:SS. Missing month/day default to 01 and missing time parts
// to 00. Empty input yields an empty string; input that does not start with
// at least four digits is returned unchanged.
func NormalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	digits := leadingDigits(s)
	if len(digits) < 4 {
		return s
	}
	if len(digits) > 14 {
		digits = digits[:14]
	}
	// odd trailing digit cannot form a part
	if len(digits)%2 == 1 {
		digits = digits[:len(digits)-1]
	}

	part := func(from, to int, def string) string {
		if len(digits) >= to {
			return digits[from:to]
		}
		return def
	}

	var b strings.Builder
	b.Grow(19)
	b.WriteString(digits[0:4])
	b.WriteByte('-')
	b.WriteString(part(4, 6, "01"))
	b.WriteByte('-')
	b.WriteString(part(6, 8, "01"))
	b.WriteByte('T')
	b.WriteString(part(8, 10, "00"))
	b.WriteByte(':')
	b.WriteString(part(10, 12, "00"))
	b.WriteByte(':')
	b.WriteString(part(12, 14, "00"))
	return b.String()
}

func leadingDigits(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return s[:i]
		}
	}
	return s
}

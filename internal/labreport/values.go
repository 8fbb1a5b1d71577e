package labreport

import (
	"regexp"
	"strings"

	"github.com/ehr/hl7ingest/internal/platform/hl7v2"
)

// lineBreak is the HL7 formatted-text line break escape.
const lineBreak = `\.br\`

// StripLineBreaks removes inline line-break escapes from text content.
func StripLineBreaks(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, lineBreak, ""))
}

// scalar reads the first sub-component of component c of field n.
func scalar(seg *hl7v2.Segment, n, c int) string {
	return seg.SubComponent(n, c, 1)
}

// comp reads the first sub-component of component c.
func comp(r hl7v2.Repeat, c int) string {
	return r.SubComponent(c, 1)
}

func codedElement(r hl7v2.Repeat) *CodedElement {
	return &CodedElement{
		Code:                  comp(r, 1),
		Text:                  comp(r, 2),
		CodingSystem:          comp(r, 3),
		AlternateCode:         comp(r, 4),
		AlternateText:         comp(r, 5),
		AlternateCodingSystem: comp(r, 6),
	}
}

func provider(r hl7v2.Repeat) *Provider {
	return &Provider{
		ID:                 comp(r, 1),
		Family:             r.SubComponent(2, 1),
		Given:              comp(r, 3),
		Middle:             comp(r, 4),
		Suffix:             comp(r, 5),
		Prefix:             comp(r, 6),
		Degree:             comp(r, 7),
		AssigningAuthority: r.SubComponent(9, 1),
		IdentifierType:     comp(r, 13),
	}
}

func providers(reps []hl7v2.Repeat) []*Provider {
	out := make([]*Provider, 0, len(reps))
	for _, r := range reps {
		out = append(out, provider(r))
	}
	return out
}

func personName(r hl7v2.Repeat) *Name {
	return &Name{
		Family:   r.SubComponent(1, 1),
		Given:    comp(r, 2),
		Middle:   comp(r, 3),
		Suffix:   comp(r, 4),
		Prefix:   comp(r, 5),
		NameType: comp(r, 7),
	}
}

func address(r hl7v2.Repeat) *Address {
	return &Address{
		Street:           r.SubComponent(1, 1),
		OtherDesignation: comp(r, 2),
		City:             comp(r, 3),
		Province:         comp(r, 4),
		PostalCode:       comp(r, 5),
		Country:          comp(r, 6),
		AddressType:      comp(r, 7),
	}
}

func identifier(r hl7v2.Repeat, p *profile) *Identifier {
	id := &Identifier{
		ID: comp(r, 1),
		AssigningAuthority: &AssigningAuthority{
			NamespaceID:     r.SubComponent(4, 1),
			UniversalID:     r.SubComponent(4, 2),
			UniversalIDType: r.SubComponent(4, 3),
		},
		IdentifierType:    comp(r, 5),
		AssigningFacility: r.SubComponent(6, 1),
	}
	if p.healthCardVersion {
		id.VersionCode = comp(r, 2)
	} else {
		id.CheckDigit = comp(r, 2)
	}
	return id
}

func phone(r hl7v2.Repeat, full bool) *Phone {
	ph := &Phone{Number: comp(r, 1)}
	if !full {
		return ph
	}
	ph.UseCode = comp(r, 2)
	ph.EquipmentType = comp(r, 3)
	ph.Email = comp(r, 4)
	ph.CountryCode = comp(r, 5)
	ph.AreaCode = comp(r, 6)
	ph.LocalNumber = comp(r, 7)
	ph.Extension = comp(r, 8)
	return ph
}

// firstValue flattens a compound value to its first non-empty component.
func firstValue(r hl7v2.Repeat) string {
	for _, c := range r.Components {
		if c.Value != "" {
			return c.Value
		}
	}
	return ""
}

// observationValues normalizes OBX-5 into a flat list of scalars, one per
// repetition. Encapsulated data keeps its data component (ED.5).
func observationValues(reps []hl7v2.Repeat, valueType string) []string {
	out := make([]string, 0, len(reps))
	for _, r := range reps {
		v := firstValue(r)
		if strings.EqualFold(valueType, encapsulatedData) && len(r.Components) >= 5 {
			v = r.Component(5) // ED data is kept whole
		}
		out = append(out, StripLineBreaks(v))
	}
	return out
}

var (
	rangeBetween = regexp.MustCompile(`^\s*([-+]?\d*\.?\d+)\s*(?:-|to)\s*([-+]?\d*\.?\d+)\s*$`)
	rangeBelow   = regexp.MustCompile(`^\s*<=?\s*([-+]?\d*\.?\d+)\s*$`)
	rangeAbove   = regexp.MustCompile(`^\s*>=?\s*([-+]?\d*\.?\d+)\s*$`)
)

// referenceRange keeps OBX-7 both as its raw lines and, when one of the
// common shapes is recognized, as low/high bounds. Explicit components
// (low^high) win over text patterns.
func referenceRange(r hl7v2.Repeat) *ReferenceRange {
	rr := &ReferenceRange{}
	for _, line := range strings.Split(r.Value, lineBreak) {
		if line = strings.TrimSpace(line); line != "" {
			rr.Lines = append(rr.Lines, line)
		}
	}

	if len(r.Components) > 1 {
		rr.Low = strings.TrimSpace(comp(r, 1))
		rr.High = strings.TrimSpace(comp(r, 2))
		return rr
	}
	if len(rr.Lines) != 1 {
		return rr
	}
	line := rr.Lines[0]
	switch {
	case rangeBetween.MatchString(line):
		m := rangeBetween.FindStringSubmatch(line)
		rr.Low, rr.High = m[1], m[2]
	case rangeBelow.MatchString(line):
		rr.High = rangeBelow.FindStringSubmatch(line)[1]
	case rangeAbove.MatchString(line):
		rr.Low = rangeAbove.FindStringSubmatch(line)[1]
	}
	return rr
}

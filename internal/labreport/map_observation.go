package labreport

import (
	"github.com/ehr/hl7ingest/internal/platform/hl7v2"
)

// mapObservation translates OBX. When the message was classified as a
// document report the value is replaced by DocumentPlaceholder unless the
// caller asked for inline content.
func mapObservation(seg *hl7v2.Segment, p *profile, placeholder bool) *Observation {
	valueType := scalar(seg, 2, 1)
	o := &Observation{
		SetID:        seg.Value(1),
		ValueType:    valueType,
		Identifier:   codedElement(seg.First(3)),
		SubID:        seg.Value(4),
		Units:        firstValue(seg.First(6)),
		AbnormalFlag: scalar(seg, 8, 1),
		ResultStatus: scalar(seg, 11, 1),
	}
	if placeholder {
		o.Values = []string{DocumentPlaceholder}
	} else {
		o.Values = observationValues(seg.Repeats(5), valueType)
	}
	if rr := seg.First(7); rr.Value != "" {
		o.ReferenceRange = referenceRange(rr)
	}
	for _, n := range p.observedAtFields {
		if ts := scalar(seg, n, 1); ts != "" {
			o.ObservedAt = NormalizeDate(ts)
			break
		}
	}
	return o
}

// mapNote translates NTE. NTE-3 may repeat; the first two repetitions are
// kept as the comment and its continuation.
func mapNote(seg *hl7v2.Segment, p *profile) *Note {
	n := &Note{
		SetID:  seg.Value(1),
		Source: scalar(seg, 2, 1),
	}
	reps := seg.Repeats(3)
	if len(reps) > 0 {
		n.Comment = StripLineBreaks(reps[0].Value)
	}
	if len(reps) > 1 {
		n.AdditionalComment = StripLineBreaks(reps[1].Value)
	}
	if p.noteCommentType {
		n.CommentType = scalar(seg, 4, 1)
	}
	return n
}

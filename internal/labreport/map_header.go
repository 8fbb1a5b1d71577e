package labreport

import (
	"github.com/ehr/hl7ingest/internal/platform/hl7v2"
)

const defaultProcessingID = "P"

// mapHeader translates MSH. The EMR profile sends bare names in MSH-3..6;
// the generic profile sends hierarchic designators whose universal ID is kept
// for the sending facility.
func mapHeader(seg *hl7v2.Segment, p *profile) *Header {
	h := &Header{
		FieldSeparator:     orDefault(seg.Value(1), string(hl7v2.DefaultDelimiters.Field)),
		EncodingCharacters: orDefault(seg.Value(2), hl7v2.DefaultDelimiters.Encoding()),
		MessageTimestamp:   NormalizeDate(scalar(seg, 7, 1)),
		MessageType: &MessageType{
			Code:         scalar(seg, 9, 1),
			TriggerEvent: scalar(seg, 9, 2),
			Structure:    scalar(seg, 9, 3),
		},
		ControlID:    seg.Value(10),
		ProcessingID: orDefault(scalar(seg, 11, 1), defaultProcessingID),
		VersionID:    orDefault(scalar(seg, 12, 1), p.defaultVersion),
		CharacterSet: seg.First(18).Value,
	}

	if p.plainHeaderIDs {
		h.SendingApplication = scalar(seg, 3, 1)
		h.SendingFacility = scalar(seg, 4, 1)
		h.ReceivingApplication = scalar(seg, 5, 1)
		h.ReceivingFacility = scalar(seg, 6, 1)
		return h
	}

	h.SendingApplication = firstValue(seg.First(3))
	h.SendingFacility = scalar(seg, 4, 1)
	h.SendingFacilityID = scalar(seg, 4, 2)
	h.ReceivingApplication = firstValue(seg.First(5))
	h.ReceivingFacility = firstValue(seg.First(6))
	return h
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

package labreport

import (
	"github.com/ehr/hl7ingest/internal/platform/hl7v2"
)

// mapOrder translates ORC.
func mapOrder(seg *hl7v2.Segment, p *profile) *Order {
	o := &Order{
		OrderControl:      scalar(seg, 1, 1),
		PlacerOrderNumber: scalar(seg, 2, 1),
		FillerOrderNumber: scalar(seg, 3, 1),
		OrderStatus:       scalar(seg, 5, 1),
		TransactionAt:     NormalizeDate(scalar(seg, 9, 1)),
	}
	if doc := seg.First(12); doc.Value != "" {
		o.OrderingProvider = provider(doc)
	}
	if p.orderAddress {
		if addr := seg.First(24); addr.Value != "" {
			o.OrderingPhysicianAddress = address(addr)
		}
	}
	return o
}

// mapResult translates OBR.
func mapResult(seg *hl7v2.Segment, p *profile) *LabResult {
	code := scalar(seg, 24, 1)
	r := &LabResult{
		SetID:             seg.Value(1),
		PlacerOrderNumber: scalar(seg, 2, 1),
		FillerOrderNumber: scalar(seg, 3, 1),
		Service:           codedElement(seg.First(4)),
		RequestedAt:       NormalizeDate(scalar(seg, 6, 1)),
		CollectedAt:       NormalizeDate(scalar(seg, 7, 1)),
		CollectionEndAt:   NormalizeDate(scalar(seg, 8, 1)),
		ReceivedAt:        NormalizeDate(scalar(seg, 14, 1)),
		ReportedAt:        NormalizeDate(scalar(seg, 22, 1)),
		DiagnosticService: code,
		ResultStatus:      scalar(seg, 25, 1),
		CopyTo:            providers(seg.Repeats(28)),
	}
	if code != "" {
		r.ReportType = ReportTypeFor(code)
	}
	if p.specimenSource {
		r.SpecimenSource = firstValue(seg.First(15))
	}
	if doc := seg.First(16); doc.Value != "" {
		r.OrderingPhysician = provider(doc)
	}
	return r
}

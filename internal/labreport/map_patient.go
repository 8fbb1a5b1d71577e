package labreport

import (
	"github.com/ehr/hl7ingest/internal/platform/hl7v2"
)

// mapPatient translates PID. Identifiers, names, addresses and phones are
// repeatable and always come back as lists.
func mapPatient(seg *hl7v2.Segment, p *profile) *Patient {
	pt := &Patient{
		SetID:       seg.Value(1),
		AlternateID: scalar(seg, 4, 1),
		DateOfBirth: NormalizeDate(scalar(seg, 7, 1)),
		Sex:         scalar(seg, 8, 1),
	}
	if ext := seg.First(2); ext.Value != "" {
		pt.ExternalID = identifier(ext, p)
	}
	for _, r := range seg.Repeats(3) {
		pt.Identifiers = append(pt.Identifiers, identifier(r, p))
	}
	for _, r := range seg.Repeats(5) {
		pt.Names = append(pt.Names, personName(r))
	}
	for _, r := range seg.Repeats(11) {
		pt.Addresses = append(pt.Addresses, address(r))
	}
	for _, n := range []int{13, 14} {
		for _, r := range seg.Repeats(n) {
			pt.Phones = append(pt.Phones, phone(r, p.fullPhones))
		}
	}
	return pt
}

// mapVisit translates PV1 (EMR dialect only).
func mapVisit(seg *hl7v2.Segment) *Visit {
	loc := seg.First(3)
	v := &Visit{
		PatientClass: scalar(seg, 2, 1),
		Location: &Location{
			PointOfCare: comp(loc, 1),
			Room:        comp(loc, 2),
			Bed:         comp(loc, 3),
			Facility:    loc.SubComponent(4, 1),
			Building:    comp(loc, 7),
			Floor:       comp(loc, 8),
		},
		VisitNumber:        scalar(seg, 19, 1),
		AdmitTimestamp:     NormalizeDate(scalar(seg, 44, 1)),
		DischargeTimestamp: NormalizeDate(scalar(seg, 45, 1)),
	}
	if doc := seg.First(7); doc.Value != "" {
		v.AttendingDoctor = provider(doc)
	}
	return v
}

package labreport

import (
	"github.com/ehr/hl7ingest/internal/platform/hl7v2"
)

// Extension segments understood by the generic dialect.
const (
	segInsurance     = "IN1"
	segToxicology    = "ZTX"
	segClinicalTrial = "ZCT"
	segCytology      = "ZCY"
	segException     = "ZEX"
	segRouting       = "ZDR"
)

// extensionMappers append one typed record to the matching list.
var extensionMappers = map[string]func(seg *hl7v2.Segment, ext *Extensions){
	segInsurance: func(seg *hl7v2.Segment, ext *Extensions) {
		ext.Insurance = append(ext.Insurance, mapInsurance(seg))
	},
	segToxicology: func(seg *hl7v2.Segment, ext *Extensions) {
		ext.Toxicology = append(ext.Toxicology, &Toxicology{
			SetID:            seg.Value(1),
			ChainOfCustodyID: scalar(seg, 2, 1),
			SpecimenValidity: codedElement(seg.First(3)),
			CollectionSite:   firstValue(seg.First(4)),
			ReasonForTest:    scalar(seg, 5, 1),
			CollectedAt:      NormalizeDate(scalar(seg, 6, 1)),
		})
	},
	segClinicalTrial: func(seg *hl7v2.Segment, ext *Extensions) {
		ext.ClinicalTrial = append(ext.ClinicalTrial, &ClinicalTrial{
			SetID:      seg.Value(1),
			Sponsor:    firstValue(seg.First(2)),
			ProtocolID: scalar(seg, 3, 1),
			SubjectID:  scalar(seg, 4, 1),
			VisitCode:  scalar(seg, 5, 1),
			SiteID:     scalar(seg, 6, 1),
		})
	},
	segCytology: func(seg *hl7v2.Segment, ext *Extensions) {
		c := &Cytology{
			SetID:               seg.Value(1),
			SpecimenSource:      firstValue(seg.First(2)),
			LastMenstrualPeriod: NormalizeDate(scalar(seg, 3, 1)),
			ClinicalHistory:     StripLineBreaks(seg.Value(5)),
		}
		for _, r := range seg.Repeats(4) {
			c.PreviousTreatment = append(c.PreviousTreatment, firstValue(r))
		}
		ext.Cytology = append(ext.Cytology, c)
	},
	segException: func(seg *hl7v2.Segment, ext *Extensions) {
		ext.Exception = append(ext.Exception, &Exception{
			SetID:       seg.Value(1),
			Code:        codedElement(seg.First(2)),
			Description: StripLineBreaks(seg.Value(3)),
			Severity:    scalar(seg, 4, 1),
			RaisedAt:    NormalizeDate(scalar(seg, 5, 1)),
		})
	},
	segRouting: func(seg *hl7v2.Segment, ext *Extensions) {
		ext.Routing = append(ext.Routing, &Routing{
			SetID:          seg.Value(1),
			Destination:    scalar(seg, 2, 1),
			DestinationID:  scalar(seg, 2, 2),
			RoutingCode:    scalar(seg, 3, 1),
			DeliveryMethod: scalar(seg, 4, 1),
		})
	},
}

func mapInsurance(seg *hl7v2.Segment) *Insurance {
	in := &Insurance{
		SetID:           seg.Value(1),
		PlanID:          codedElement(seg.First(2)),
		CompanyID:       scalar(seg, 3, 1),
		CompanyName:     firstValue(seg.First(4)),
		GroupNumber:     seg.Value(8),
		InsuredRelation: scalar(seg, 17, 1),
		PlanEffectiveAt: NormalizeDate(scalar(seg, 12, 1)),
		PlanExpiresAt:   NormalizeDate(scalar(seg, 13, 1)),
		PolicyNumber:    seg.Value(36),
	}
	if addr := seg.First(5); addr.Value != "" {
		in.CompanyAddress = address(addr)
	}
	if name := seg.First(16); name.Value != "" {
		in.InsuredName = personName(name)
	}
	return in
}

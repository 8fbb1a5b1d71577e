package labreport

import (
	"github.com/ehr/hl7ingest/internal/platform/hl7v2"
)

// segmentHandler applies one segment to the graph being built.
type segmentHandler func(a *assembly, seg *hl7v2.Segment)

// assembly is the accumulator threaded through the single forward pass over
// the segments. patient/order/result point at the most recently opened node
// of each level; notes points at whichever note list was opened last.
type assembly struct {
	profile *profile
	class   classification
	inline  bool

	report     *Report
	headerSeen bool
	pidSeen    bool
	patient    *Patient
	order      *Order
	result     *LabResult
	notes      *[]*Note
}

// handlersFor builds the segment dispatch table of a dialect.
func handlersFor(p *profile) map[string]segmentHandler {
	h := map[string]segmentHandler{
		"MSH": (*assembly).onHeader,
		"PID": (*assembly).onPatient,
		"ORC": (*assembly).onOrder,
		"OBR": (*assembly).onResult,
		"OBX": (*assembly).onObservation,
		"NTE": (*assembly).onNote,
	}
	if p.dialect == DialectEMR {
		h["PV1"] = (*assembly).onVisit
		return h
	}
	for name := range extensionMappers {
		h[name] = (*assembly).onExtension
	}
	return h
}

// assemble folds the segments, in source order, into a Report.
func assemble(msg *hl7v2.Message, p *profile, class classification, inline bool) *Report {
	a := &assembly{
		profile: p,
		class:   class,
		inline:  inline,
		report:  &Report{},
	}
	for i := range msg.Segments {
		seg := &msg.Segments[i]
		if handle, ok := p.handlers[seg.Name]; ok {
			handle(a, seg)
		}
	}
	return a.report
}

func (a *assembly) onHeader(seg *hl7v2.Segment) {
	if a.headerSeen {
		return
	}
	a.headerSeen = true
	a.report.MessageHeader = mapHeader(seg, a.profile)
}

func (a *assembly) onPatient(seg *hl7v2.Segment) {
	if a.profile.singlePatient && a.pidSeen {
		// the segment is ignored but still closes the open order and result
		a.order = nil
		a.result = nil
		a.notes = &a.patient.Notes
		return
	}
	a.pidSeen = true
	a.openPatient(mapPatient(seg, a.profile))
}

func (a *assembly) openPatient(pt *Patient) {
	a.report.Patients = append(a.report.Patients, pt)
	a.patient = pt
	a.order = nil
	a.result = nil
	a.notes = &pt.Notes
}

// ensurePatient opens an anonymous patient for orders that arrive before any
// PID.
func (a *assembly) ensurePatient() {
	if a.patient == nil {
		a.openPatient(&Patient{})
		a.notes = nil
	}
}

func (a *assembly) onVisit(seg *hl7v2.Segment) {
	if a.patient == nil {
		return
	}
	a.patient.Visit = mapVisit(seg)
}

func (a *assembly) onOrder(seg *hl7v2.Segment) {
	a.ensurePatient()
	o := mapOrder(seg, a.profile)
	a.patient.Orders = append(a.patient.Orders, o)
	a.order = o
	a.result = nil
	a.notes = nil
}

func (a *assembly) onResult(seg *hl7v2.Segment) {
	a.ensurePatient()
	if a.order == nil {
		a.order = &Order{}
		a.patient.Orders = append(a.patient.Orders, a.order)
	}
	r := mapResult(seg, a.profile)
	a.order.Results = append(a.order.Results, r)
	a.result = r
	a.notes = &r.Notes
}

func (a *assembly) onObservation(seg *hl7v2.Segment) {
	if a.result == nil {
		return
	}
	o := mapObservation(seg, a.profile, a.class.isDocument() && !a.inline)
	a.result.Observations = append(a.result.Observations, o)
	a.notes = &o.Notes
}

func (a *assembly) onNote(seg *hl7v2.Segment) {
	if a.notes == nil {
		return
	}
	*a.notes = append(*a.notes, mapNote(seg, a.profile))
}

func (a *assembly) onExtension(seg *hl7v2.Segment) {
	if a.patient == nil {
		return
	}
	if a.patient.Extensions == nil {
		a.patient.Extensions = &Extensions{}
	}
	extensionMappers[seg.Name](seg, a.patient.Extensions)
}

package labreport

import (
	"strings"

	"github.com/ehr/hl7ingest/internal/platform/hl7v2"
)

// Dialect selects one of the two supported field layouts.
type Dialect int

const (
	// DialectAuto detects the dialect from MSH-12.
	DialectAuto Dialect = iota
	// DialectGeneric is the provincial lab profile.
	DialectGeneric
	// DialectEMR is the EMR interface ("Ontario format") profile.
	DialectEMR
)

func (d Dialect) String() string {
	switch d {
	case DialectGeneric:
		return "generic"
	case DialectEMR:
		return "emr"
	default:
		return "auto"
	}
}

// ParseDialect maps "generic"/"emr"/"auto" (or "") to a Dialect.
func ParseDialect(s string) (Dialect, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return DialectAuto, true
	case "generic":
		return DialectGeneric, true
	case "emr", "ontario":
		return DialectEMR, true
	}
	return DialectAuto, false
}

// emrVersionMarker identifies the EMR profile inside MSH-12 (e.g. "2.3-ON").
const emrVersionMarker = "-ON"

// Report type names keyed by OBR-24 diagnostic service section.
const (
	ReportTypeLaboratory       = "Laboratory"
	ReportTypeMicrobiology     = "Microbiology"
	ReportTypeChemistry        = "Chemistry"
	ReportTypeHematology       = "Hematology"
	ReportTypePathology        = "Pathology"
	ReportTypeRadiology        = "Radiology"
	ReportTypeNuclearMedicine  = "Nuclear Medicine"
	ReportTypeCardiology       = "Cardiology"
	ReportTypeTranscription    = "Transcription"
	ReportTypeImaging          = "Diagnostic Imaging"
	ReportTypeClinicalDocument = "Clinical Documents"
	ReportTypeNotification     = "Notifications"
	ReportTypeOther            = "Other"
)

var reportTypes = map[string]string{
	"LAB": ReportTypeLaboratory,
	"MB":  ReportTypeMicrobiology,
	"CH":  ReportTypeChemistry,
	"HM":  ReportTypeHematology,
	"PAT": ReportTypePathology,
	"RAD": ReportTypeRadiology,
	"NM":  ReportTypeNuclearMedicine,
	"ECG": ReportTypeCardiology,
	"TRN": ReportTypeTranscription,
	"DG":  ReportTypeImaging,
	"CD":  ReportTypeClinicalDocument,
	"EN":  ReportTypeNotification,
}

// ReportTypeFor maps a diagnostic service code to its report type name.
// Unmapped codes yield "Other".
func ReportTypeFor(code string) string {
	if name, ok := reportTypes[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return name
	}
	return ReportTypeOther
}

// Document kinds for messages carrying a single encapsulated payload.
const (
	DocumentRTF = "RTF"
	DocumentPDF = "PDF"
)

// DocumentPlaceholder replaces the value of a document observation unless
// inline content was requested.
const DocumentPlaceholder = "content available, not inlined"

// encapsulatedData is the OBX-2 value type for embedded documents.
const encapsulatedData = "ED"

var rtfMarkers = []string{`{\rtf`, `{\E\rtf`}

// profile captures where the two dialects diverge. One instance per dialect
// is built at init and selected when the header is read.
type profile struct {
	dialect        Dialect
	defaultVersion string

	// plainHeaderIDs reads MSH-3..6 as a bare first component instead of a
	// hierarchic designator.
	plainHeaderIDs bool
	// healthCardVersion reads PID-2.2 as a health card version code rather
	// than a check digit.
	healthCardVersion bool
	// fullPhones keeps every XTN component of PID-13/14.
	fullPhones bool
	// singlePatient ignores PID segments after the first.
	singlePatient bool
	// orderAddress maps ORC-24.
	orderAddress bool
	// specimenSource maps OBR-15.
	specimenSource bool
	// observedAtFields lists OBX fields tried in order for the observation time.
	observedAtFields []int
	// noteCommentType maps NTE-4.
	noteCommentType bool

	handlers map[string]segmentHandler
}

var (
	genericProfile = &profile{
		dialect:          DialectGeneric,
		defaultVersion:   "2.5.1",
		fullPhones:       true,
		orderAddress:     true,
		specimenSource:   true,
		observedAtFields: []int{19, 14},
	}
	emrProfile = &profile{
		dialect:           DialectEMR,
		defaultVersion:    "2.3" + emrVersionMarker,
		plainHeaderIDs:    true,
		healthCardVersion: true,
		singlePatient:     true,
		observedAtFields:  []int{14},
		noteCommentType:   true,
	}
)

func init() {
	genericProfile.handlers = handlersFor(genericProfile)
	emrProfile.handlers = handlersFor(emrProfile)
}

func profileFor(d Dialect) *profile {
	if d == DialectEMR {
		return emrProfile
	}
	return genericProfile
}

// DetectDialect reads MSH-12 of the first header.
func DetectDialect(msg *hl7v2.Message) Dialect {
	msh := msg.Segment("MSH")
	if msh == nil {
		return DialectGeneric
	}
	if strings.Contains(strings.ToUpper(scalar(msh, 12, 1)), emrVersionMarker) {
		return DialectEMR
	}
	return DialectGeneric
}

// classification is the report-shape verdict computed before assembly.
type classification struct {
	reportType   string
	documentType string
}

func (c classification) isDocument() bool { return c.documentType != "" }

// classify looks up the first OBR's diagnostic service and decides whether
// the message is a single-document report.
func classify(msg *hl7v2.Message) classification {
	c := classification{reportType: ReportTypeOther}
	if obr := msg.Segment("OBR"); obr != nil {
		c.reportType = ReportTypeFor(scalar(obr, 24, 1))
	}

	obxs := msg.SegmentsNamed("OBX")
	if len(obxs) != 1 || !strings.EqualFold(obxs[0].Value(2), encapsulatedData) {
		return c
	}
	payload := obxs[0].Value(5)
	for _, m := range rtfMarkers {
		if strings.Contains(payload, m) {
			c.documentType = DocumentRTF
			return c
		}
	}
	if c.reportType == ReportTypeTranscription || c.reportType == ReportTypeCardiology {
		c.documentType = DocumentPDF
	}
	return c
}

package labreport

// Report is the structured form of one HL7 message. The dialect flags are
// only set for EMR-dialect messages.
type Report struct {
	MessageHeader    *Header    `json:"messageHeader,omitempty"`
	Patients         []*Patient `json:"patients,omitempty"`
	IsOntarioFormat  *bool      `json:"isOntarioFormat,omitempty"`
	IsDocumentReport *bool      `json:"isDocumentReport,omitempty"`
	ReportType       string     `json:"reportType,omitempty"`
	DocumentType     string     `json:"documentType,omitempty"`
}

// Header is the MSH segment.
type Header struct {
	FieldSeparator       string       `json:"fieldSeparator,omitempty"`
	EncodingCharacters   string       `json:"encodingCharacters,omitempty"`
	SendingApplication   string       `json:"sendingApplication,omitempty"`
	SendingFacility      string       `json:"sendingFacility,omitempty"`
	SendingFacilityID    string       `json:"sendingFacilityId,omitempty"`
	ReceivingApplication string       `json:"receivingApplication,omitempty"`
	ReceivingFacility    string       `json:"receivingFacility,omitempty"`
	MessageTimestamp     string       `json:"messageTimestamp,omitempty"`
	MessageType          *MessageType `json:"messageType,omitempty"`
	ControlID            string       `json:"controlId,omitempty"`
	ProcessingID         string       `json:"processingId,omitempty"`
	VersionID            string       `json:"versionId,omitempty"`
	CharacterSet         string       `json:"characterSet,omitempty"`
}

// MessageType is MSH-9.
type MessageType struct {
	Code         string `json:"code,omitempty"`
	TriggerEvent string `json:"triggerEvent,omitempty"`
	Structure    string `json:"structure,omitempty"`
}

// Patient is a PID segment and everything attached beneath it.
type Patient struct {
	SetID       string        `json:"setId,omitempty"`
	ExternalID  *Identifier   `json:"externalId,omitempty"`
	Identifiers []*Identifier `json:"identifiers,omitempty"`
	AlternateID string        `json:"alternateId,omitempty"`
	Names       []*Name       `json:"names,omitempty"`
	DateOfBirth string        `json:"dateOfBirth,omitempty"`
	Sex         string        `json:"sex,omitempty"`
	Addresses   []*Address    `json:"addresses,omitempty"`
	Phones      []*Phone      `json:"phones,omitempty"`
	Visit       *Visit        `json:"visit,omitempty"`
	Notes       []*Note       `json:"notes,omitempty"`
	Orders      []*Order      `json:"orders,omitempty"`
	Extensions  *Extensions   `json:"extensions,omitempty"`
}

// Identifier is an extended composite ID (CX).
type Identifier struct {
	ID                 string              `json:"id,omitempty"`
	CheckDigit         string              `json:"checkDigit,omitempty"`
	VersionCode        string              `json:"versionCode,omitempty"`
	AssigningAuthority *AssigningAuthority `json:"assigningAuthority,omitempty"`
	IdentifierType     string              `json:"identifierType,omitempty"`
	AssigningFacility  string              `json:"assigningFacility,omitempty"`
}

// AssigningAuthority is a hierarchic designator (HD).
type AssigningAuthority struct {
	NamespaceID     string `json:"namespaceId,omitempty"`
	UniversalID     string `json:"universalId,omitempty"`
	UniversalIDType string `json:"universalIdType,omitempty"`
}

// Name is an extended person name (XPN).
type Name struct {
	Family   string `json:"family,omitempty"`
	Given    string `json:"given,omitempty"`
	Middle   string `json:"middle,omitempty"`
	Suffix   string `json:"suffix,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
	NameType string `json:"nameType,omitempty"`
}

// Address is an extended address (XAD).
type Address struct {
	Street           string `json:"street,omitempty"`
	OtherDesignation string `json:"otherDesignation,omitempty"`
	City             string `json:"city,omitempty"`
	Province         string `json:"province,omitempty"`
	PostalCode       string `json:"postalCode,omitempty"`
	Country          string `json:"country,omitempty"`
	AddressType      string `json:"addressType,omitempty"`
}

// Phone is an extended telecommunication number (XTN).
type Phone struct {
	Number        string `json:"number,omitempty"`
	UseCode       string `json:"useCode,omitempty"`
	EquipmentType string `json:"equipmentType,omitempty"`
	Email         string `json:"email,omitempty"`
	CountryCode   string `json:"countryCode,omitempty"`
	AreaCode      string `json:"areaCode,omitempty"`
	LocalNumber   string `json:"localNumber,omitempty"`
	Extension     string `json:"extension,omitempty"`
}

// Visit is the EMR-dialect PV1 segment.
type Visit struct {
	PatientClass       string    `json:"patientClass,omitempty"`
	Location           *Location `json:"location,omitempty"`
	AttendingDoctor    *Provider `json:"attendingDoctor,omitempty"`
	VisitNumber        string    `json:"visitNumber,omitempty"`
	AdmitTimestamp     string    `json:"admitTimestamp,omitempty"`
	DischargeTimestamp string    `json:"dischargeTimestamp,omitempty"`
}

// Location is a person location (PL).
type Location struct {
	PointOfCare string `json:"pointOfCare,omitempty"`
	Room        string `json:"room,omitempty"`
	Bed         string `json:"bed,omitempty"`
	Facility    string `json:"facility,omitempty"`
	Building    string `json:"building,omitempty"`
	Floor       string `json:"floor,omitempty"`
}

// Provider is an extended composite ID and name for persons (XCN).
type Provider struct {
	ID                 string `json:"id,omitempty"`
	Family             string `json:"family,omitempty"`
	Given              string `json:"given,omitempty"`
	Middle             string `json:"middle,omitempty"`
	Suffix             string `json:"suffix,omitempty"`
	Prefix             string `json:"prefix,omitempty"`
	Degree             string `json:"degree,omitempty"`
	AssigningAuthority string `json:"assigningAuthority,omitempty"`
	IdentifierType     string `json:"identifierType,omitempty"`
}

// CodedElement is a CE/CWE value.
type CodedElement struct {
	Code                  string `json:"code,omitempty"`
	Text                  string `json:"text,omitempty"`
	CodingSystem          string `json:"codingSystem,omitempty"`
	AlternateCode         string `json:"alternateCode,omitempty"`
	AlternateText         string `json:"alternateText,omitempty"`
	AlternateCodingSystem string `json:"alternateCodingSystem,omitempty"`
}

// Order is an ORC segment.
type Order struct {
	OrderControl             string       `json:"orderControl,omitempty"`
	PlacerOrderNumber        string       `json:"placerOrderNumber,omitempty"`
	FillerOrderNumber        string       `json:"fillerOrderNumber,omitempty"`
	OrderStatus              string       `json:"orderStatus,omitempty"`
	TransactionAt            string       `json:"transactionAt,omitempty"`
	OrderingProvider         *Provider    `json:"orderingProvider,omitempty"`
	OrderingPhysicianAddress *Address     `json:"orderingPhysicianAddress,omitempty"`
	Results                  []*LabResult `json:"results,omitempty"`
}

// LabResult is an OBR segment with its observations.
type LabResult struct {
	SetID             string         `json:"setId,omitempty"`
	PlacerOrderNumber string         `json:"placerOrderNumber,omitempty"`
	FillerOrderNumber string         `json:"fillerOrderNumber,omitempty"`
	Service           *CodedElement  `json:"service,omitempty"`
	RequestedAt       string         `json:"requestedAt,omitempty"`
	CollectedAt       string         `json:"collectedAt,omitempty"`
	CollectionEndAt   string         `json:"collectionEndAt,omitempty"`
	ReceivedAt        string         `json:"receivedAt,omitempty"`
	ReportedAt        string         `json:"reportedAt,omitempty"`
	SpecimenSource    string         `json:"specimenSource,omitempty"`
	OrderingPhysician *Provider      `json:"orderingPhysician,omitempty"`
	DiagnosticService string         `json:"diagnosticService,omitempty"`
	ReportType        string         `json:"reportType,omitempty"`
	ResultStatus      string         `json:"resultStatus,omitempty"`
	CopyTo            []*Provider    `json:"copyTo,omitempty"`
	Observations      []*Observation `json:"observations,omitempty"`
	Notes             []*Note        `json:"notes,omitempty"`
}

// Observation is an OBX segment.
type Observation struct {
	SetID          string          `json:"setId,omitempty"`
	ValueType      string          `json:"valueType,omitempty"`
	Identifier     *CodedElement   `json:"identifier,omitempty"`
	SubID          string          `json:"subId,omitempty"`
	Values         []string        `json:"values,omitempty"`
	Units          string          `json:"units,omitempty"`
	ReferenceRange *ReferenceRange `json:"referenceRange,omitempty"`
	AbnormalFlag   string          `json:"abnormalFlag,omitempty"`
	ResultStatus   string          `json:"resultStatus,omitempty"`
	ObservedAt     string          `json:"observedAt,omitempty"`
	Notes          []*Note         `json:"notes,omitempty"`
}

// ReferenceRange keeps both the raw line list and best-effort bounds; feeds
// are inconsistent about which one they populate.
type ReferenceRange struct {
	Lines []string `json:"lines,omitempty"`
	Low   string   `json:"low,omitempty"`
	High  string   `json:"high,omitempty"`
}

// Note is an NTE segment.
type Note struct {
	SetID             string `json:"setId,omitempty"`
	Source            string `json:"source,omitempty"`
	Comment           string `json:"comment,omitempty"`
	AdditionalComment string `json:"additionalComment,omitempty"`
	CommentType       string `json:"commentType,omitempty"`
}

// Extensions holds the generic dialect's extension segments, keyed by
// segment type.
type Extensions struct {
	Insurance     []*Insurance     `json:"IN1,omitempty"`
	Toxicology    []*Toxicology    `json:"ZTX,omitempty"`
	ClinicalTrial []*ClinicalTrial `json:"ZCT,omitempty"`
	Cytology      []*Cytology      `json:"ZCY,omitempty"`
	Exception     []*Exception     `json:"ZEX,omitempty"`
	Routing       []*Routing       `json:"ZDR,omitempty"`
}

// Insurance is an IN1 segment.
type Insurance struct {
	SetID           string        `json:"setId,omitempty"`
	PlanID          *CodedElement `json:"planId,omitempty"`
	CompanyID       string        `json:"companyId,omitempty"`
	CompanyName     string        `json:"companyName,omitempty"`
	CompanyAddress  *Address      `json:"companyAddress,omitempty"`
	GroupNumber     string        `json:"groupNumber,omitempty"`
	InsuredName     *Name         `json:"insuredName,omitempty"`
	InsuredRelation string        `json:"insuredRelationship,omitempty"`
	PlanEffectiveAt string        `json:"planEffectiveAt,omitempty"`
	PlanExpiresAt   string        `json:"planExpiresAt,omitempty"`
	PolicyNumber    string        `json:"policyNumber,omitempty"`
}

// Toxicology is a ZTX segment (chain-of-custody drug screen details).
type Toxicology struct {
	SetID            string        `json:"setId,omitempty"`
	ChainOfCustodyID string        `json:"chainOfCustodyId,omitempty"`
	SpecimenValidity *CodedElement `json:"specimenValidity,omitempty"`
	CollectionSite   string        `json:"collectionSite,omitempty"`
	ReasonForTest    string        `json:"reasonForTest,omitempty"`
	CollectedAt      string        `json:"collectedAt,omitempty"`
}

// ClinicalTrial is a ZCT segment.
type ClinicalTrial struct {
	SetID      string `json:"setId,omitempty"`
	Sponsor    string `json:"sponsor,omitempty"`
	ProtocolID string `json:"protocolId,omitempty"`
	SubjectID  string `json:"subjectId,omitempty"`
	VisitCode  string `json:"visitCode,omitempty"`
	SiteID     string `json:"siteId,omitempty"`
}

// Cytology is a ZCY segment (gynecologic cytology history).
type Cytology struct {
	SetID               string   `json:"setId,omitempty"`
	SpecimenSource      string   `json:"specimenSource,omitempty"`
	LastMenstrualPeriod string   `json:"lastMenstrualPeriod,omitempty"`
	PreviousTreatment   []string `json:"previousTreatment,omitempty"`
	ClinicalHistory     string   `json:"clinicalHistory,omitempty"`
}

// Exception is a ZEX segment reporting a processing exception for the
// patient's specimens.
type Exception struct {
	SetID       string        `json:"setId,omitempty"`
	Code        *CodedElement `json:"code,omitempty"`
	Description string        `json:"description,omitempty"`
	Severity    string        `json:"severity,omitempty"`
	RaisedAt    string        `json:"raisedAt,omitempty"`
}

// Routing is a ZDR segment carrying demographic routing instructions.
type Routing struct {
	SetID          string `json:"setId,omitempty"`
	Destination    string `json:"destination,omitempty"`
	DestinationID  string `json:"destinationId,omitempty"`
	RoutingCode    string `json:"routingCode,omitempty"`
	DeliveryMethod string `json:"deliveryMethod,omitempty"`
}

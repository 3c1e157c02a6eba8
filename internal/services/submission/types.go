package submission

// DHIS2 tracker payload shapes, field names matching the remote API.

// TrackedEntityAttribute is one attribute value on a TEI payload.
type TrackedEntityAttribute struct {
	Attribute string `json:"attribute"`
	Value     string `json:"value"`
}

// TrackedEntityInstance is the TEI creation payload.
type TrackedEntityInstance struct {
	TrackedEntityType string                   `json:"trackedEntityType"`
	OrgUnit           string                   `json:"orgUnit"`
	Attributes        []TrackedEntityAttribute `json:"attributes"`
}

// Enrollment enrolls a TEI into a program.
type Enrollment struct {
	TrackedEntityInstance string `json:"trackedEntityInstance"`
	Program               string `json:"program"`
	OrgUnit               string `json:"orgUnit"`
	EnrollmentDate        string `json:"enrollmentDate"`
	IncidentDate          string `json:"incidentDate"`
	Status                string `json:"status"`
}

// EventDataValue is one data element value on an event.
type EventDataValue struct {
	DataElement string `json:"dataElement"`
	Value       string `json:"value"`
}

// Event is one program-stage event payload.
type Event struct {
	Program               string           `json:"program"`
	ProgramStage          string           `json:"programStage,omitempty"`
	OrgUnit               string           `json:"orgUnit"`
	TrackedEntityInstance string           `json:"trackedEntityInstance"`
	EventDate             string           `json:"eventDate"`
	Status                string           `json:"status"`
	DataValues            []EventDataValue `json:"dataValues"`
}

// teiImportResponse is the import-summary envelope DHIS2 returns for TEI
// creation; the reference is the new TEI uid.
type teiImportResponse struct {
	Response struct {
		ImportSummaries []struct {
			Reference string `json:"reference"`
			Status    string `json:"status"`
		} `json:"importSummaries"`
	} `json:"response"`
}

// teiQueryResponse is the shape of a trackedEntityInstances attribute query.
type teiQueryResponse struct {
	TrackedEntityInstances []struct {
		TrackedEntityInstance string `json:"trackedEntityInstance"`
	} `json:"trackedEntityInstances"`
}

// payloadBundle is what gets serialized into the submission log: everything
// one attempt sent (or intended to send) to DHIS2.
type payloadBundle struct {
	TrackedEntityInstance *TrackedEntityInstance `json:"trackedEntityInstance,omitempty"`
	Enrollment            *Enrollment            `json:"enrollment,omitempty"`
	Events                []Event                `json:"events,omitempty"`
}

// Result is the outcome of one submission attempt.
type Result struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	TeiUID  string `json:"tei_uid,omitempty"`
}

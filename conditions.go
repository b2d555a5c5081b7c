package main

type Condition struct {
	ResourceType       string            `json:"resourceType"`
	Id                 string            `json:"id"`
	ClinicalStatus     CodeableConcept   `json:"clinicalStatus"`
	VerificationStatus CodeableConcept   `json:"verificationStatus"`
	Code               CodeableConcept   `json:"code"`
	Subject            ResourceReference `json:"subject"`
	OnsetDateTime      Date              `json:"onsetDateTime"`
	RecordedDate       Date              `json:"recordedDate"`
}

// isRecordedInError covers conditions that should never count for anything.
func (c Condition) isRecordedInError() bool {
	return c.VerificationStatus.HasCode("entered-in-error", "refuted")
}

// isActive follows the FHIR clinical-status codes that mean the condition
// currently applies.
func (c Condition) isActive() bool {
	if c.isRecordedInError() {
		return false
	}
	if c.ClinicalStatus.HasCode("active", "recurrence", "relapse") {
		return true
	}
	return c.ClinicalStatus.Text == "Active"
}

// dedupeKey identifies a condition record for distinct-match counting.
func (c Condition) dedupeKey() string {
	if c.Id != "" {
		return c.Id
	}
	key := ""
	for _, code := range c.Code.Codes() {
		key += normalizeCode(code) + ","
	}
	return key + "@" + c.OnsetDateTime.Raw
}

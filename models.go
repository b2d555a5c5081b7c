package main

import (
	"encoding/json"
	"strings"
	"time"
)

/**************************
 ****** CDS Services ******
 **************************/
type ServiceResponse struct {
	Services []Service `json:"services"`
}

type Service struct {
	Hook              string            `json:"hook"`
	Title             string            `json:"title"`
	Description       string            `json:"description"`
	Id                string            `json:"id"`
	Prefetch          map[string]string `json:"prefetch"`
	UsageRequirements string            `json:"usageRequirements,omitempty"`
}

/**************************
 ****** Hook Message ******
 **************************/
type HookRequest struct {
	Hook         string `json:"hook"`
	HookInstance string `json:"hookInstance"`
	FHIRServer   string `json:"fhirServer"`
	Context      struct {
		PatientId string `json:"patientId"`
		UserId    string `json:"userId"`
	} `json:"context"`
}

/****************************************
 ****** FHIR Foundation ******
 ****************************************/

type Link struct {
	Label string `json:"label,omitempty"`
	URL   string `json:"url"`
	Type  string `json:"type,omitempty"`
}

type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code"`
	Display string `json:"display,omitempty"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding"`
	Text   string   `json:"text,omitempty"`
}

// Codes returns every non-empty code in the concept.
func (cc CodeableConcept) Codes() []string {
	var codes []string
	for _, coding := range cc.Coding {
		if code := strings.TrimSpace(coding.Code); code != "" {
			codes = append(codes, code)
		}
	}
	return codes
}

// HasCode reports whether any coding carries one of the given codes.
func (cc CodeableConcept) HasCode(codes ...string) bool {
	for _, coding := range cc.Coding {
		for _, code := range codes {
			if strings.EqualFold(coding.Code, code) {
				return true
			}
		}
	}
	return false
}

type ResourceReference struct {
	ResourceType string `json:"-"`
	Reference    string `json:"reference"`
	Type         string `json:"type,omitempty"`
	Display      string `json:"display,omitempty"`
}

/*********************************
 ****** FHIR Nested Structs ******
 *********************************/

type Period struct {
	Start Date `json:"start"`
	End   Date `json:"end"`
}

// Date keeps the raw FHIR date string next to the parsed time. A value that
// does not parse leaves Time zero and Raw populated, so a single bad date never
// fails the surrounding resource.
type Date struct {
	time.Time
	Raw string
}

// Valid reports whether the raw value parsed into a time.
func (d Date) Valid() bool {
	return !d.Time.IsZero()
}

type HumanName struct {
	Use    string   `json:"use"`
	Family string   `json:"family"`
	Given  []string `json:"given"`
	Text   string   `json:"text"`
}

type Identifier struct {
	System string `json:"system"`
	Value  string `json:"value"`
	Use    string `json:"use"`
}

/*******************************
 ***** Unmarshal Functions *****
 *******************************/

// Custom UnmarshalJSON for ResourceReference type
func (r *ResourceReference) UnmarshalJSON(data []byte) error {

	// Create a temporary struct to hold raw data
	var temp struct {
		Reference string `json:"reference"`
		Type      string `json:"type"`
		Display   string `json:"display"`
	}

	// Unmarshal into the temporary struct
	if err := json.Unmarshal(data, &temp); err != nil {
		return err
	}

	// Parse resource and ID from "ResourceType/ID"
	if parts := strings.SplitN(temp.Reference, "/", 2); len(parts) == 2 {
		r.ResourceType = parts[0]
		r.Reference = parts[1]
	} else {
		r.Reference = temp.Reference
	}

	// Build other fields
	r.Type = temp.Type
	r.Display = temp.Display

	return nil
}

// Custom UnmarshalJSON for Date type
func (d *Date) UnmarshalJSON(data []byte) error {

	// Null or non-string values are treated as missing
	var dateStr string
	if err := json.Unmarshal(data, &dateStr); err != nil {
		*d = Date{}
		return nil
	}

	d.Raw = dateStr
	d.Time = time.Time{}

	// Parse string. Failures are kept as a raw value and skipped by consumers
	if parsedTime, err := parseDate(dateStr); err == nil {
		d.Time = parsedTime
	}

	return nil
}

// MarshalJSON writes the raw value back out.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.Raw == "" && d.Valid() {
		return json.Marshal(d.Time.Format(time.RFC3339))
	}
	return json.Marshal(d.Raw)
}

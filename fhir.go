package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Simple struct to identify resourceType
type Resource struct {
	ResourceType string `json:"resourceType"`
}

type Bundle struct {
	ResourceType string `json:"resourceType"`
	Total        int    `json:"total"`
	Link         []struct {
		Relation string `json:"relation"`
		URL      string `json:"url"`
	} `json:"link"`
	Entry []struct {
		FullUrl  string          `json:"fullUrl"`
		Resource json.RawMessage `json:"resource"`
	} `json:"entry"`
}

// nextLink returns the opaque continuation URL, or "" on the last page.
func (b *Bundle) nextLink() string {
	for _, link := range b.Link {
		if link.Relation == "next" {
			return link.URL
		}
	}
	return ""
}

// searchResult holds the typed resources decoded from one response.
type searchResult struct {
	Patients   []Patient
	Conditions []Condition
	Claims     []Claim
	Next       string
	Skipped    int
}

func processFHIRResponse(ctx context.Context, data []byte) (*searchResult, error) {
	// Unmarshal data into struct
	var resource Resource
	if err := json.Unmarshal(data, &resource); err != nil {
		return nil, fmt.Errorf("failed to decode resourceType: %w", err)
	}

	sr := &searchResult{}

	// Check if it's a Bundle or a single resource
	switch resource.ResourceType {
	case "Bundle":
		if err := sr.parseBundle(ctx, data); err != nil {
			return nil, err
		}

	default:
		// Assume a single resource
		if err := sr.parseResource(data); err != nil {
			return nil, err
		}
	}

	return sr, nil
}

func (sr *searchResult) parseBundle(ctx context.Context, data []byte) error {

	// Unmarshal top-level response information
	var bundle Bundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return fmt.Errorf("error unmarshalling bundle: %s", err)
	}

	sr.Next = bundle.nextLink()

	// Send individual entries to parse individually. A bad entry is skipped
	for _, entry := range bundle.Entry {
		if err := sr.parseResource(entry.Resource); err != nil {
			if errors.Is(err, ErrMalformedRecord) {
				sr.Skipped++
				logger(ctx, fmt.Errorf("skipping bundle entry %s: %w", entry.FullUrl, err))
				continue
			}
			return err
		}
	}

	return nil
}

func (sr *searchResult) parseResource(data []byte) error {

	// Unmarshal data into struct
	var resource Resource
	if err := json.Unmarshal(data, &resource); err != nil {
		return fmt.Errorf("%w: failed to decode resourceType: %v", ErrMalformedRecord, err)
	}

	// Unmarshal based on resource type
	switch resource.ResourceType {
	case "Patient":
		var patient Patient
		if err := json.Unmarshal(data, &patient); err != nil {
			return fmt.Errorf("%w: error unmarshalling Patient: %v", ErrMalformedRecord, err)
		}
		if patient.Id == "" {
			return fmt.Errorf("%w: Patient without id", ErrMalformedRecord)
		}
		sr.Patients = append(sr.Patients, patient)

	case "Condition":
		var condition Condition
		if err := json.Unmarshal(data, &condition); err != nil {
			return fmt.Errorf("%w: error unmarshalling Condition: %v", ErrMalformedRecord, err)
		}
		sr.Conditions = append(sr.Conditions, condition)

	case "Claim":
		var claim Claim
		if err := json.Unmarshal(data, &claim); err != nil {
			return fmt.Errorf("%w: error unmarshalling Claim: %v", ErrMalformedRecord, err)
		}
		if claim.Id == "" {
			return fmt.Errorf("%w: Claim without id", ErrMalformedRecord)
		}
		sr.Claims = append(sr.Claims, claim)

	case "OperationOutcome":
		// Search warnings travel alongside the results
	}
	return nil
}

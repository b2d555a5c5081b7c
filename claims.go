package main

type Claim struct {
	ResourceType   string            `json:"resourceType"`
	Id             string            `json:"id"`
	Status         string            `json:"status"`
	Created        Date              `json:"created"`
	BillablePeriod Period            `json:"billablePeriod"`
	Patient        ResourceReference `json:"patient"`
	Item           []ClaimItem       `json:"item"`
}

type ClaimItem struct {
	Sequence         int             `json:"sequence"`
	ProductOrService CodeableConcept `json:"productOrService"`
	ServicedDate     Date            `json:"servicedDate"`
	ServicedPeriod   Period          `json:"servicedPeriod"`
}

// countable drops claims that were voided or recorded by mistake.
func (c Claim) countable() bool {
	switch c.Status {
	case "cancelled", "entered-in-error":
		return false
	}
	return true
}

// effectiveDate picks the first date present on the line or the claim: the
// line's service date or period, then the billable period, then the created
// date. A present but unparseable value is returned as is (and is invalid);
// it does not fall through to the next candidate.
func (c Claim) effectiveDate(item ClaimItem) Date {
	candidates := []Date{
		item.ServicedDate,
		item.ServicedPeriod.Start,
		c.BillablePeriod.Start,
		c.Created,
	}
	for _, d := range candidates {
		if d.Raw != "" {
			return d
		}
	}
	return Date{}
}

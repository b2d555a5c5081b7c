package main

import (
	"strings"
)

type Patient struct {
	ResourceType     string       `json:"resourceType"`
	Id               string       `json:"id"`
	Identifier       []Identifier `json:"identifier"`
	Gender           string       `json:"gender"`
	BirthDate        Date         `json:"birthDate"`
	Name             []HumanName  `json:"name"`
	DeceasedDateTime string       `json:"deceasedDateTime"`
}

// displayName renders "<first given> <family>", falling back to the name text.
func (p Patient) displayName() string {
	if len(p.Name) == 0 {
		return ""
	}

	// Prefer the official name when there are several
	name := p.Name[0]
	for _, n := range p.Name {
		if n.Use == "official" {
			name = n
			break
		}
	}

	given := ""
	if len(name.Given) > 0 {
		given = name.Given[0]
	}
	full := strings.TrimSpace(given + " " + name.Family)
	if full == "" {
		return name.Text
	}
	return full
}

// Member is the read-only snapshot of one patient the evaluator classifies.
// Conditions and Claims are filled in lazily as the evaluation needs them.
type Member struct {
	ID         string
	Name       string
	Gender     string
	BirthDate  Date
	Conditions []Condition
	Claims     []Claim
}

func newMember(p Patient) *Member {
	return &Member{
		ID:        p.Id,
		Name:      p.displayName(),
		Gender:    strings.ToLower(strings.TrimSpace(p.Gender)),
		BirthDate: p.BirthDate,
	}
}

func (m *Member) reference() string {
	return "Patient/" + m.ID
}

// stripPatientPrefix accepts either "Patient/<id>" or a bare id.
func stripPatientPrefix(id string) string {
	return strings.TrimPrefix(strings.TrimSpace(id), "Patient/")
}

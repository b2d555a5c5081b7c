package main

import (
	"fmt"
	"strings"
	"time"
)

type MatchMode int

const (
	// MatchExact requires the recorded code to equal a listed code.
	MatchExact MatchMode = iota
	// MatchPrefix also accepts recorded codes that start with a listed code,
	// so a code family like E11 covers E11.9.
	MatchPrefix
)

// CodeSet is a list of codes and how recorded codes are compared to them.
// Comparison ignores case and the ICD-10 dot, so Z90.13 and Z9013 are equal.
type CodeSet struct {
	Codes []string
	Mode  MatchMode
}

func (cs CodeSet) empty() bool {
	return len(cs.Codes) == 0
}

func (cs CodeSet) matches(code string) bool {
	recorded := normalizeCode(code)
	if recorded == "" {
		return false
	}
	for _, listed := range cs.Codes {
		want := normalizeCode(listed)
		if recorded == want {
			return true
		}
		if cs.Mode == MatchPrefix && strings.HasPrefix(recorded, want) {
			return true
		}
	}
	return false
}

// matchesAny returns the first code in the concept that belongs to the set.
func (cs CodeSet) matchesAny(cc CodeableConcept) (string, bool) {
	for _, code := range cc.Codes() {
		if cs.matches(code) {
			return code, true
		}
	}
	return "", false
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(code), ".", ""))
}

// ExclusionRule removes a member from the denominator on recorded diagnoses.
// One active condition in Full excludes; Partial needs PartialThreshold
// distinct active conditions (two unilateral procedures count as one
// bilateral).
type ExclusionRule struct {
	Full             CodeSet
	Partial          CodeSet
	PartialThreshold int
}

func (er ExclusionRule) empty() bool {
	return er.Full.empty() && er.Partial.empty()
}

// EvidenceSet is one kind of qualifying service with its own lookback.
type EvidenceSet struct {
	Label    string
	Codes    CodeSet
	Lookback Lookback
}

// MeasureDefinition is the whole of a measure's logic as data.
type MeasureDefinition struct {
	Code       string
	Name       string
	SummaryKey string
	MinAge     int
	MaxAge     int
	// Sex is the required FHIR administrative gender, empty for any.
	Sex           string
	Diagnosis     CodeSet
	Exclusions    ExclusionRule
	Evidence      []EvidenceSet
	PopulationCap int
	Note          string
}

// needsConditions reports whether evaluating this measure reads diagnoses.
func (md *MeasureDefinition) needsConditions() bool {
	return !md.Diagnosis.empty() || !md.Exclusions.empty()
}

func (md *MeasureDefinition) memberCriteria(end time.Time) MemberCriteria {
	after, onOrBefore := birthDateWindow(md.MinAge, md.MaxAge, end)
	return MemberCriteria{
		Gender:         md.Sex,
		BornAfter:      after,
		BornOnOrBefore: onOrBefore,
	}
}

// evidenceWindow is the accepted date range for one evidence set. The end
// date is a whole calendar day, so services later that day still count.
func (md *MeasureDefinition) evidenceWindow(set EvidenceSet, end time.Time) window {
	return window{Start: set.Lookback.startFrom(end), End: endOfDay(end)}
}

// measurementPeriod spans the longest lookback of the measure.
func (md *MeasureDefinition) measurementPeriod(end time.Time) window {
	period := window{Start: end, End: end}
	for _, set := range md.Evidence {
		if start := set.Lookback.startFrom(end); start.Before(period.Start) {
			period.Start = start
		}
	}
	return period
}

var (
	// Mammography CPT codes
	mammographyCodes = []string{"77065", "77066", "77067", "77063", "77061", "77062"}

	colonoscopyCodes = []string{
		"45378", "45379", "45380", "45381", "45382", "45384", "45385", "45386",
		"45388", "45389", "45390", "45391", "45392", "45393", "45398",
	}
	fitDNACodes            = []string{"81528"}
	fecalOccultBloodCodes  = []string{"82270", "82274"}
	colorectalCancerCodes  = []string{"C18", "C19", "C20", "C21.2", "C21.8", "C78.5", "Z85.038", "Z85.048"}
	hba1cCodes             = []string{"83036", "83037"}
	diabetesCodes          = []string{"E10", "E11", "E13"}
	officeVisitCodes       = []string{"99201", "99202", "99203", "99204", "99205", "99211", "99212", "99213", "99214", "99215"}
	hypertensionCodes      = []string{"I10", "I11", "I12", "I13", "I15"}
	bilateralMastectomy    = []string{"Z90.13"}
	unilateralMastectomies = []string{"Z90.11", "Z90.12"}
)

const defaultPopulationCap = 2000

var measureCatalog = map[string]*MeasureDefinition{
	"BCS": {
		Code:       "BCS",
		Name:       "HEDIS Breast Cancer Screening (BCS)",
		SummaryKey: "breast_cancer_screening",
		MinAge:     50,
		MaxAge:     74,
		Sex:        "female",
		Exclusions: ExclusionRule{
			Full:             CodeSet{Codes: bilateralMastectomy},
			Partial:          CodeSet{Codes: unilateralMastectomies},
			PartialThreshold: 2,
		},
		Evidence: []EvidenceSet{
			{Label: "Mammography", Codes: CodeSet{Codes: mammographyCodes}, Lookback: Lookback{Months: 27}},
		},
		PopulationCap: defaultPopulationCap,
	},
	"COL": {
		Code:       "COL",
		Name:       "HEDIS Colorectal Cancer Screening (COL)",
		SummaryKey: "colorectal_cancer_screening",
		MinAge:     45,
		MaxAge:     75,
		Exclusions: ExclusionRule{
			Full: CodeSet{Codes: colorectalCancerCodes, Mode: MatchPrefix},
		},
		Evidence: []EvidenceSet{
			{Label: "Colonoscopy", Codes: CodeSet{Codes: colonoscopyCodes}, Lookback: Lookback{Years: 10}},
			{Label: "FIT-DNA", Codes: CodeSet{Codes: fitDNACodes}, Lookback: Lookback{Years: 1}},
			{Label: "FIT", Codes: CodeSet{Codes: fecalOccultBloodCodes}, Lookback: Lookback{Years: 1}},
		},
		PopulationCap: defaultPopulationCap,
	},
	"CDC": {
		Code:       "CDC",
		Name:       "HEDIS Comprehensive Diabetes Care - HbA1c Testing (CDC)",
		SummaryKey: "diabetes_care",
		MinAge:     18,
		MaxAge:     75,
		Diagnosis:  CodeSet{Codes: diabetesCodes, Mode: MatchPrefix},
		Evidence: []EvidenceSet{
			{Label: "HbA1c", Codes: CodeSet{Codes: hba1cCodes}, Lookback: Lookback{Years: 1}},
		},
		PopulationCap: defaultPopulationCap,
	},
	"CBP": {
		Code:       "CBP",
		Name:       "HEDIS Controlling High Blood Pressure (CBP)",
		SummaryKey: "blood_pressure_control",
		MinAge:     18,
		MaxAge:     85,
		Diagnosis:  CodeSet{Codes: hypertensionCodes, Mode: MatchPrefix},
		// An office visit in the year stands in for a controlled reading. A
		// faithful CBP needs the latest blood-pressure Observation below 140/90.
		Evidence: []EvidenceSet{
			{Label: "Office Visit", Codes: CodeSet{Codes: officeVisitCodes}, Lookback: Lookback{Years: 1}},
		},
		PopulationCap: defaultPopulationCap,
		Note:          "Simplified implementation based on office visit presence; blood pressure readings are not checked",
	},
}

// measureCodes is the catalog in presentation order.
var measureCodes = []string{"BCS", "COL", "CDC", "CBP"}

func lookupMeasure(code string) (*MeasureDefinition, error) {
	def, ok := measureCatalog[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return nil, fmt.Errorf("%w: %q (supported: %s)", ErrUnknownMeasure, code, strings.Join(measureCodes, ", "))
	}
	return def, nil
}

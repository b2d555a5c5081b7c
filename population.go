package main

import (
	"time"
)

// meetsDemographics checks the age and sex constraints. It needs nothing but
// the patient resource, so the evaluator runs it before any per-member fetch.
func meetsDemographics(m *Member, def *MeasureDefinition, end time.Time) bool {
	// Unknown or unparseable birth dates never qualify
	age, ok := ageAt(m.BirthDate, end)
	if !ok {
		return false
	}
	if age < def.MinAge || age > def.MaxAge {
		return false
	}

	if def.Sex != "" && m.Gender != def.Sex {
		return false
	}

	return true
}

// hasRequiredDiagnosis checks the diagnosis-presence constraint against every
// recorded condition, whatever its clinical status.
func hasRequiredDiagnosis(m *Member, def *MeasureDefinition) bool {
	if def.Diagnosis.empty() {
		return true
	}

	for _, condition := range m.Conditions {
		if condition.isRecordedInError() {
			continue
		}
		if _, ok := def.Diagnosis.matchesAny(condition.Code); ok {
			return true
		}
	}
	return false
}

func isInInitialPopulation(m *Member, def *MeasureDefinition, end time.Time) bool {
	return meetsDemographics(m, def, end) && hasRequiredDiagnosis(m, def)
}

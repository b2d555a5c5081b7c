package main

import (
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

type MeasurementPeriod struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type LookbackWindow struct {
	Type  string `json:"type"`
	Start string `json:"start"`
	End   string `json:"end"`
}

type PatientSummary struct {
	Patient   string `json:"patient"`
	Name      string `json:"name"`
	BirthDate string `json:"birth_date"`
	Age       *int   `json:"age"`
}

type NumeratorPatient struct {
	PatientSummary
	QualifyingClaims []Evidence `json:"qualifying_claims"`
}

// EvaluationResult is the outcome of one measure run. A run that stopped early
// still returns one, with Error set and the counts gathered so far.
type EvaluationResult struct {
	MeasureCode       string             `json:"measure_code"`
	MeasureName       string             `json:"measure_name"`
	RunID             string             `json:"run_id"`
	MeasurementPeriod MeasurementPeriod  `json:"measurement_period"`
	LookbackWindows   []LookbackWindow   `json:"lookback_windows"`
	InitialPopulation int                `json:"initial_population"`
	Denominator       int                `json:"denominator"`
	Numerator         int                `json:"numerator"`
	Exclusions        int                `json:"exclusions"`
	Rate              float64            `json:"rate"`
	RateDisplay       string             `json:"rate_display"`
	NumeratorPatients []NumeratorPatient `json:"numerator_patients"`
	GapInCare         []PatientSummary   `json:"gap_in_care"`
	GapInCareCount    int                `json:"gap_in_care_count"`
	SampleSize        int                `json:"sample_size"`
	Dropped           int                `json:"dropped"`
	FetchErrors       int                `json:"fetch_errors"`
	Note              string             `json:"note,omitempty"`
	Error             string             `json:"error,omitempty"`
}

type memberState int

const (
	stateDropped memberState = iota
	stateExcluded
	stateNumerator
	stateGapInCare
)

func (s memberState) String() string {
	switch s {
	case stateDropped:
		return "dropped"
	case stateExcluded:
		return "excluded"
	case stateNumerator:
		return "numerator"
	case stateGapInCare:
		return "gap_in_care"
	}
	return "unknown"
}

// outcome is where one member landed.
type outcome struct {
	State    memberState
	Evidence []Evidence
}

// runAccumulator collects member outcomes for one run. Every record call moves
// one member into exactly one bucket under a single lock.
type runAccumulator struct {
	mu               sync.Mutex
	end              time.Time
	numeratorSamples int
	gapSamples       int

	dropped     int
	excluded    int
	numerator   int
	gap         int
	fetchErrors int

	numeratorPatients []NumeratorPatient
	gapInCare         []PatientSummary
}

func newRunAccumulator(end time.Time, numeratorSamples, gapSamples int) *runAccumulator {
	return &runAccumulator{
		end:               end,
		numeratorSamples:  numeratorSamples,
		gapSamples:        gapSamples,
		numeratorPatients: []NumeratorPatient{},
		gapInCare:         []PatientSummary{},
	}
}

func (ra *runAccumulator) record(m *Member, o outcome) {
	ra.mu.Lock()
	defer ra.mu.Unlock()

	switch o.State {
	case stateDropped:
		ra.dropped++
	case stateExcluded:
		ra.excluded++
	case stateNumerator:
		ra.numerator++
		if len(ra.numeratorPatients) < ra.numeratorSamples {
			ra.numeratorPatients = append(ra.numeratorPatients, NumeratorPatient{
				PatientSummary:   summarizePatient(m, ra.end),
				QualifyingClaims: o.Evidence,
			})
		}
	case stateGapInCare:
		ra.gap++
		if len(ra.gapInCare) < ra.gapSamples {
			ra.gapInCare = append(ra.gapInCare, summarizePatient(m, ra.end))
		}
	}
}

func (ra *runAccumulator) recordFetchError() {
	ra.mu.Lock()
	defer ra.mu.Unlock()
	ra.fetchErrors++
}

// fill copies the counts gathered so far into result and derives the rate.
func (ra *runAccumulator) fill(result *EvaluationResult) {
	ra.mu.Lock()
	defer ra.mu.Unlock()

	result.Exclusions = ra.excluded
	result.Numerator = ra.numerator
	result.GapInCareCount = ra.gap
	result.InitialPopulation = ra.excluded + ra.numerator + ra.gap
	result.Denominator = result.InitialPopulation - ra.excluded
	result.Dropped = ra.dropped
	result.FetchErrors = ra.fetchErrors
	result.SampleSize = ra.dropped + ra.fetchErrors + result.InitialPopulation

	result.Rate = computeRate(result.Numerator, result.Denominator)
	result.RateDisplay = rateDisplay(result.Rate)

	result.NumeratorPatients = append([]NumeratorPatient{}, ra.numeratorPatients...)
	result.GapInCare = append([]PatientSummary{}, ra.gapInCare...)
}

func summarizePatient(m *Member, end time.Time) PatientSummary {
	summary := PatientSummary{
		Patient:   m.reference(),
		Name:      m.Name,
		BirthDate: m.BirthDate.Raw,
	}
	if age, ok := ageAt(m.BirthDate, end); ok {
		summary.Age = &age
	}
	return summary
}

// computeRate is numerator/denominator as a percentage rounded to two places.
func computeRate(numerator, denominator int) float64 {
	if denominator <= 0 {
		return 0
	}
	rate := float64(numerator) / float64(denominator) * 100
	return math.Round(rate*100) / 100
}

// rateDisplay renders 89.6 as "89.6%" and 100 as "100.0%".
func rateDisplay(rate float64) string {
	s := strconv.FormatFloat(rate, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s + "%"
}

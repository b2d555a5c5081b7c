package main

import (
	"context"
	"fmt"
	"time"

	"go.elastic.co/apm"
	"golang.org/x/sync/errgroup"
)

// MemberMeasure is one measure's outcome for a single member.
type MemberMeasure struct {
	Definition *MeasureDefinition
	State      memberState
	Evidence   []Evidence
}

type MemberReport struct {
	Member   *Member
	End      time.Time
	Measures []MemberMeasure
}

// gaps returns the measures the member is eligible for but has not met.
func (mr *MemberReport) gaps() []MemberMeasure {
	var gaps []MemberMeasure
	for _, mm := range mr.Measures {
		if mm.State == stateGapInCare {
			gaps = append(gaps, mm)
		}
	}
	return gaps
}

// EvaluateMember loads one member once and classifies it against every measure.
func (e *Evaluator) EvaluateMember(ctx context.Context, memberID string, end time.Time) (*MemberReport, error) {
	// Create span
	span, ctx := apm.StartSpan(ctx, "Evaluate Member", "CDS")
	defer span.End()

	if end.IsZero() {
		end = e.now()
	}
	end = wallClock(end)

	ctx, cancel := context.WithTimeout(ctx, e.config.MemberTimeout)
	defer cancel()

	patient, err := e.repo.FetchPatient(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("fetching patient %s: %w", memberID, err)
	}
	m := newMember(*patient)

	// Conditions and claims are independent lookups
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		conditions, err := e.repo.FetchConditions(gctx, m.ID)
		if err != nil {
			return fmt.Errorf("fetching conditions for %s: %w", m.ID, err)
		}
		m.Conditions = conditions
		return nil
	})
	g.Go(func() error {
		claims, err := e.repo.FetchClaims(gctx, m.ID)
		if err != nil {
			return fmt.Errorf("fetching claims for %s: %w", m.ID, err)
		}
		m.Claims = claims
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &MemberReport{Member: m, End: end}
	for _, code := range measureCodes {
		def, err := lookupMeasure(code)
		if err != nil {
			return nil, err
		}
		o := classify(m, def, end)
		report.Measures = append(report.Measures, MemberMeasure{
			Definition: def,
			State:      o.State,
			Evidence:   o.Evidence,
		})
	}

	return report, nil
}

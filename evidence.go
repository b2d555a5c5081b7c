package main

import (
	"time"
)

// Evidence is one claim line that satisfies a measure's numerator.
type Evidence struct {
	ClaimID       string    `json:"claim_id"`
	Date          string    `json:"date"`
	Type          string    `json:"type"`
	Code          string    `json:"code"`
	EffectiveDate time.Time `json:"-"`
}

// findQualifyingEvidence returns every claim line whose code belongs to one of
// the measure's evidence sets and whose effective date falls inside that set's
// lookback window. Lines without a usable date are skipped. Matches come back
// newest first, one per claim and code.
func findQualifyingEvidence(m *Member, def *MeasureDefinition, end time.Time) (bool, []Evidence) {
	end = wallClock(end)

	// Precompute one window per evidence set
	windows := make([]window, len(def.Evidence))
	for i, set := range def.Evidence {
		windows[i] = def.evidenceWindow(set, end)
	}

	var matches []Evidence
	seen := map[string]bool{}

	for _, claim := range m.Claims {
		if !claim.countable() {
			continue
		}

		for _, item := range claim.Item {
			for _, code := range item.ProductOrService.Codes() {
				for i, set := range def.Evidence {
					if !set.Codes.matches(code) {
						continue
					}

					// Malformed or missing dates are not evidence
					date := claim.effectiveDate(item)
					if !date.Valid() {
						continue
					}

					effective := wallClock(date.Time)
					if !windows[i].contains(effective) {
						continue
					}

					key := claim.Id + "|" + normalizeCode(code)
					if seen[key] {
						continue
					}
					seen[key] = true

					matches = append(matches, Evidence{
						ClaimID:       claim.Id,
						Date:          date.Raw,
						Type:          set.Label,
						Code:          code,
						EffectiveDate: effective,
					})
				}
			}
		}
	}

	matches = sortEvents(matches, func(e Evidence) time.Time {
		return e.EffectiveDate
	}, false)

	return len(matches) > 0, matches
}
